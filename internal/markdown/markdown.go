// Package markdown parses and renders the per-entity markdown files:
// YAML frontmatter delimited by --- lines, a blank line, then the body.
// The writer emits frontmatter keys in a canonical order so repeated
// writes are textually stable.
package markdown

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sudocode-ai/sudocode/internal/types"
)

const delimiter = "---"

// Frontmatter holds the YAML header of an entity markdown file.
// Field order here is the canonical serialization order.
type Frontmatter struct {
	ID       string   `yaml:"id"`
	UUID     string   `yaml:"uuid"`
	Title    string   `yaml:"title"`
	Status   string   `yaml:"status,omitempty"`
	Priority *int     `yaml:"priority,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
}

// Document is a parsed markdown file: frontmatter plus body.
type Document struct {
	Frontmatter Frontmatter
	Body        string
}

// Parse splits raw file content into frontmatter and body. Files
// without an opening --- line have no frontmatter; the caller treats
// them as orphans.
func Parse(data []byte) (*Document, error) {
	text := string(data)
	if !strings.HasPrefix(text, delimiter+"\n") && text != delimiter {
		return &Document{Body: text}, nil
	}

	rest := strings.TrimPrefix(text, delimiter+"\n")
	end := strings.Index(rest, "\n"+delimiter)
	if end < 0 {
		return nil, fmt.Errorf("markdown: unterminated frontmatter")
	}
	header := rest[:end]
	body := rest[end+len("\n"+delimiter):]
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")

	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return nil, fmt.Errorf("markdown: parse frontmatter: %w", err)
	}
	return &Document{Frontmatter: fm, Body: body}, nil
}

// Render serializes a document: opening ---, canonical frontmatter,
// closing ---, blank line, body.
func Render(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc.Frontmatter); err != nil {
		return nil, fmt.Errorf("markdown: render frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("markdown: render frontmatter: %w", err)
	}

	buf.WriteString(delimiter + "\n\n")
	buf.WriteString(doc.Body)
	if !strings.HasSuffix(doc.Body, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// SpecDocument projects a spec into its markdown representation.
func SpecDocument(s *types.Spec, tags []string) *Document {
	p := s.Priority
	return &Document{
		Frontmatter: Frontmatter{
			ID:       s.ID,
			UUID:     s.UUID,
			Title:    s.Title,
			Priority: &p,
			Tags:     tags,
		},
		Body: s.Content,
	}
}

// IssueDocument projects an issue into its markdown representation.
func IssueDocument(i *types.Issue, tags []string) *Document {
	p := i.Priority
	return &Document{
		Frontmatter: Frontmatter{
			ID:       i.ID,
			UUID:     i.UUID,
			Title:    i.Title,
			Status:   string(i.Status),
			Priority: &p,
			Tags:     tags,
		},
		Body: i.Content,
	}
}

// SpecFromDocument reconstructs spec fields from a parsed document.
// Timestamps and archive state are store-owned and left zero.
func SpecFromDocument(doc *Document) *types.Spec {
	s := &types.Spec{
		ID:      doc.Frontmatter.ID,
		UUID:    doc.Frontmatter.UUID,
		Title:   doc.Frontmatter.Title,
		Content: doc.Body,
		Tags:    doc.Frontmatter.Tags,
	}
	if doc.Frontmatter.Priority != nil {
		s.Priority = *doc.Frontmatter.Priority
	}
	return s
}

// IssueFromDocument reconstructs issue fields from a parsed document.
func IssueFromDocument(doc *Document) *types.Issue {
	i := &types.Issue{
		ID:      doc.Frontmatter.ID,
		UUID:    doc.Frontmatter.UUID,
		Title:   doc.Frontmatter.Title,
		Status:  types.IssueStatus(doc.Frontmatter.Status),
		Content: doc.Body,
		Tags:    doc.Frontmatter.Tags,
	}
	if doc.Frontmatter.Priority != nil {
		i.Priority = *doc.Frontmatter.Priority
	}
	i.SetDefaults()
	return i
}
