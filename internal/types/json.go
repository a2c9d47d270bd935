package types

import "encoding/json"

// UnmarshalJSON accepts both canonical and legacy feedback field names
// (from_uuid/from_id, to_uuid/issue_id). MarshalJSON writes only the
// canonical form via the default struct tags.
func (f *Feedback) UnmarshalJSON(data []byte) error {
	var alias feedbackAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	f.normalizeFrom(alias)
	return nil
}
