package waf

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Rule is a declared firewall rule. Description is the identity key used to
// match it against remote rules.
type Rule struct {
	Description string `json:"description"`
	Expression  string `json:"expression"`
	Action      string `json:"action"`
	Enabled     bool   `json:"enabled"`
}

// Snapshot is the provider's full JSON object for an existing rule. Values
// are kept raw so fields this package does not manage round-trip unchanged.
type Snapshot map[string]json.RawMessage

// Match identifies exactly one remote rule found for a declared rule.
type Match struct {
	RulesetID string
	RuleID    string
	Snapshot  Snapshot
}

// managedFields returns the wire form of the fields a Rule owns.
func (r Rule) managedFields() (map[string]json.RawMessage, error) {
	fields := map[string]any{
		"description": r.Description,
		"expression":  r.Expression,
		"action":      r.Action,
		"enabled":     r.Enabled,
	}
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding rule field %q: %w", k, err)
		}
		out[k] = data
	}
	return out, nil
}

// MergeRule builds an update payload from a remote snapshot and a declared
// rule. Managed fields take the declared values; every other snapshot key is
// carried over as-is. The snapshot is not modified.
func MergeRule(snapshot Snapshot, rule Rule) (Snapshot, error) {
	managed, err := rule.managedFields()
	if err != nil {
		return nil, err
	}
	merged := make(Snapshot, len(snapshot)+len(managed))
	maps.Copy(merged, snapshot)
	maps.Copy(merged, managed)
	return merged, nil
}

// DuplicateDescriptions returns the descriptions declared more than once, in
// order of first repetition.
func DuplicateDescriptions(rules []Rule) []string {
	seen := make(map[string]int, len(rules))
	var dups []string
	for _, r := range rules {
		seen[r.Description]++
		if seen[r.Description] == 2 {
			dups = append(dups, r.Description)
		}
	}
	return dups
}
