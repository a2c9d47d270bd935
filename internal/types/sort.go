package types

import "sort"

// SortSpecs orders specs by created_at ascending with id as the
// tiebreaker. This is the JSONL file order; it minimizes merge churn
// because new entities append at the tail.
func SortSpecs(specs []*Spec) {
	sort.SliceStable(specs, func(i, j int) bool {
		if !specs[i].CreatedAt.Equal(specs[j].CreatedAt) {
			return specs[i].CreatedAt.Before(specs[j].CreatedAt)
		}
		return specs[i].ID < specs[j].ID
	})
}

// SortIssues orders issues by created_at ascending, tiebreak by id.
func SortIssues(issues []*Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if !issues[i].CreatedAt.Equal(issues[j].CreatedAt) {
			return issues[i].CreatedAt.Before(issues[j].CreatedAt)
		}
		return issues[i].ID < issues[j].ID
	})
}
