package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueValidate(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name    string
		issue   Issue
		wantErr string
	}{
		{
			name:  "valid issue",
			issue: Issue{ID: "ISSUE-001", UUID: "u1", Title: "valid", Status: StatusOpen},
		},
		{
			name:    "missing title",
			issue:   Issue{ID: "ISSUE-001", UUID: "u1", Status: StatusOpen},
			wantErr: "title is required",
		},
		{
			name:    "missing uuid",
			issue:   Issue{ID: "ISSUE-001", Title: "t", Status: StatusOpen},
			wantErr: "uuid is required",
		},
		{
			name:    "priority out of range",
			issue:   Issue{ID: "ISSUE-001", UUID: "u1", Title: "t", Status: StatusOpen, Priority: 9},
			wantErr: "priority must be between 0 and 4",
		},
		{
			name:    "bogus status",
			issue:   Issue{ID: "ISSUE-001", UUID: "u1", Title: "t", Status: IssueStatus("bogus")},
			wantErr: "invalid status",
		},
		{
			name:    "closed without closed_at",
			issue:   Issue{ID: "ISSUE-001", UUID: "u1", Title: "t", Status: StatusClosed},
			wantErr: "closed issues must have closed_at",
		},
		{
			name:  "closed with closed_at",
			issue: Issue{ID: "ISSUE-001", UUID: "u1", Title: "t", Status: StatusClosed, ClosedAt: &now},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.issue.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestIssueSetDefaults(t *testing.T) {
	i := Issue{ID: "ISSUE-001", UUID: "u1", Title: "t"}
	i.SetDefaults()
	assert.Equal(t, StatusOpen, i.Status)

	i.Status = StatusBlocked
	i.SetDefaults()
	assert.Equal(t, StatusBlocked, i.Status, "defaults never overwrite an explicit status")
}

func TestSpecValidate(t *testing.T) {
	s := Spec{ID: "SPEC-001", UUID: "u1", Title: "t"}
	assert.NoError(t, s.Validate())

	s.Priority = 5
	require.Error(t, s.Validate())

	s.Priority = 0
	s.Title = ""
	require.Error(t, s.Validate())
}

func TestExecutionStatusTerminal(t *testing.T) {
	terminal := []ExecutionStatus{ExecCompleted, ExecFailed, ExecCancelled, ExecStopped}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
	for _, s := range []ExecutionStatus{ExecPreparing, ExecPending, ExecRunning, ExecPaused, ExecWaiting} {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
	assert.False(t, ExecutionStatus("bogus").IsValid())
}

func TestFeedbackLegacyFieldNames(t *testing.T) {
	// Older exporters wrote from_id / issue_id instead of the
	// canonical from_uuid / to_uuid.
	legacy := []byte(`{"id":"f1","from_id":"agent-7","issue_id":"u-target","feedback_type":"comment","content":"looks good"}`)
	var fb Feedback
	require.NoError(t, json.Unmarshal(legacy, &fb))
	require.NotNil(t, fb.FromUUID)
	assert.Equal(t, "agent-7", *fb.FromUUID)
	assert.Equal(t, "u-target", fb.ToUUID)

	canonical := []byte(`{"id":"f2","from_uuid":"agent-8","to_uuid":"u2","feedback_type":"comment","content":"x"}`)
	require.NoError(t, json.Unmarshal(canonical, &fb))
	assert.Equal(t, "agent-8", *fb.FromUUID)
	assert.Equal(t, "u2", fb.ToUUID)
}

func TestExternalLinksTriState(t *testing.T) {
	// Absent, null, and empty-list external_links are three distinct
	// states and must survive unmarshaling distinctly.
	var absent Issue
	require.NoError(t, json.Unmarshal([]byte(`{"id":"ISSUE-001","uuid":"u1","title":"t"}`), &absent))
	assert.Nil(t, absent.ExternalLinks)

	var empty Issue
	require.NoError(t, json.Unmarshal([]byte(`{"id":"ISSUE-001","uuid":"u1","title":"t","external_links":[]}`), &empty))
	require.NotNil(t, empty.ExternalLinks)
	assert.Empty(t, *empty.ExternalLinks)

	var populated Issue
	require.NoError(t, json.Unmarshal([]byte(`{"id":"ISSUE-001","uuid":"u1","title":"t","external_links":["https://example.com/1"]}`), &populated))
	require.NotNil(t, populated.ExternalLinks)
	assert.Len(t, *populated.ExternalLinks, 1)
}

func TestEntityTypeIsValid(t *testing.T) {
	assert.True(t, EntitySpec.IsValid())
	assert.True(t, EntityIssue.IsValid())
	assert.False(t, EntityType("widget").IsValid())
}
