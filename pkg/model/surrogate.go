package model

import "sort"

// ElectSurrogatePrimaryKey implements the primary-key selection
// invariant: when a table declares no primary key, the engine elects the
// unique key with the lexicographically smallest name among those with no
// nullable column, because the algorithm needs a deterministic total order
// with `>` and `<=` semantics, which a nullable unique key cannot provide.
//
// candidates is the table's declared keys (excluding any primary key,
// since the caller only calls this when none exists). columnNullable
// reports whether the column at a given Columns offset is nullable.
// Returns false if no eligible key exists.
func ElectSurrogatePrimaryKey(candidates []Key, columnNullable func(colIndex int) bool) (Key, bool) {
	var eligible []Key
	for _, k := range candidates {
		if !k.Unique {
			continue
		}
		hasNullable := false
		for _, idx := range k.Columns {
			if columnNullable(idx) {
				hasNullable = true
				break
			}
		}
		if !hasNullable {
			eligible = append(eligible, k)
		}
	}
	if len(eligible) == 0 {
		return Key{}, false
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Name < eligible[j].Name })
	return eligible[0], true
}
