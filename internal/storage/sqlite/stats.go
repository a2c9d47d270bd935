package sqlite

import (
	"context"
	"fmt"

	"github.com/sudocode-ai/sudocode/internal/types"
)

// Statistics computes aggregate counts for status reporting.
func (s *Store) Statistics(ctx context.Context) (*types.Statistics, error) {
	stats := &types.Statistics{}

	row := s.q.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM specs WHERE archived = 0),
		(SELECT COUNT(*) FROM specs WHERE archived = 1),
		(SELECT COUNT(*) FROM issues WHERE archived = 0),
		(SELECT COUNT(*) FROM issues WHERE archived = 1),
		(SELECT COUNT(*) FROM issues WHERE archived = 0 AND status = 'open'),
		(SELECT COUNT(*) FROM issues WHERE archived = 0 AND status = 'in_progress'),
		(SELECT COUNT(*) FROM issues WHERE archived = 0 AND status = 'blocked'),
		(SELECT COUNT(*) FROM issues WHERE archived = 0 AND status = 'needs_review'),
		(SELECT COUNT(*) FROM issues WHERE archived = 0 AND status = 'closed')`)
	err := row.Scan(&stats.TotalSpecs, &stats.ArchivedSpecs, &stats.TotalIssues,
		&stats.ArchivedIssues, &stats.OpenIssues, &stats.InProgressIssues,
		&stats.BlockedIssues, &stats.NeedsReview, &stats.ClosedIssues)
	if err != nil {
		return nil, fmt.Errorf("statistics: %w", err)
	}
	return stats, nil
}
