package markdown

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// maxSlugLen caps generated slugs at a filesystem-friendly length.
const maxSlugLen = 50

// Slug derives a human-readable filename stem from a title: lowercase,
// runs of non-alphanumerics collapsed to single underscores, trimmed,
// truncated. A title with no alphanumerics falls back to the id.
func Slug(title, id string) string {
	var b strings.Builder
	lastUnderscore := true // suppress leading underscore
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	slug := strings.Trim(b.String(), "_")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(truncateRunes(slug, maxSlugLen), "_")
	}
	if slug == "" {
		slug = strings.ToLower(id)
	}
	return slug
}

// truncateRunes cuts s to at most max bytes without splitting a
// multibyte rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := 0
	for i := range s {
		if i > max {
			break
		}
		cut = i
	}
	return s[:cut]
}

// FilenameFor returns the markdown filename for an entity inside dir.
// It first searches for an existing file under any legacy convention
// (id-only, slug-only, slug+id) whose frontmatter already refers to
// this entity and keeps it; only when none matches does it generate a
// new name. A slug-only file owned by an unrelated entity forces the
// slug+id form.
func FilenameFor(dir, title, id string) string {
	slug := Slug(title, id)
	candidates := []string{
		id + ".md",
		slug + ".md",
		slug + "_" + id + ".md",
	}
	for _, name := range candidates {
		if ownsFile(filepath.Join(dir, name), id) {
			return name
		}
	}

	slugOnly := filepath.Join(dir, slug+".md")
	if _, err := os.Stat(slugOnly); err == nil {
		// Exists but belongs to someone else.
		return slug + "_" + id + ".md"
	}
	return slug + ".md"
}

// ownsFile reports whether the file at path exists and its frontmatter
// id matches the given entity id.
func ownsFile(path, id string) bool {
	data, err := os.ReadFile(path) // #nosec G304 -- path confined to the entity markdown tree
	if err != nil {
		return false
	}
	doc, err := Parse(data)
	if err != nil {
		return false
	}
	return doc.Frontmatter.ID == id
}
