// Package group clusters entries that share a group key into display rows.
package group

import "qtrack/internal/types"

// Group is one merged display row. SequenceNumber is taken from the first
// entry; every entry of a group in a quarter carries the same number.
type Group struct {
	Key            string         `json:"key"`
	SequenceNumber int            `json:"sequence_number"`
	Entries        []*types.Entry `json:"entries"`
}

// Build clusters entries by group key, in order of each key's first
// appearance. It does not sort; pass entries already ordered by sequence
// number.
func Build(entries []*types.Entry) []Group {
	groups := make([]Group, 0)
	index := make(map[string]int)

	for _, e := range entries {
		i, ok := index[e.GroupKey]
		if !ok {
			i = len(groups)
			index[e.GroupKey] = i
			groups = append(groups, Group{Key: e.GroupKey, SequenceNumber: e.SequenceNumber})
		}
		groups[i].Entries = append(groups[i].Entries, e)
	}

	return groups
}

// Lookup returns the group with the given key.
func Lookup(groups []Group, key string) (Group, bool) {
	for _, g := range groups {
		if g.Key == key {
			return g, true
		}
	}
	return Group{}, false
}

// Keys lists group keys in display order.
func Keys(groups []Group) []string {
	keys := make([]string, len(groups))
	for i, g := range groups {
		keys[i] = g.Key
	}
	return keys
}
