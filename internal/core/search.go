package core

import "strings"

// SearchFeatures filters features by a case-insensitive substring match over
// name, key, description and tags. A blank query matches everything.
func SearchFeatures(features []Feature, query string) []Feature {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]Feature, 0, len(features))
	for _, f := range features {
		if q == "" || strings.Contains(searchText(f), q) {
			out = append(out, f.Clone())
		}
	}
	return out
}

func searchText(f Feature) string {
	return strings.ToLower(strings.Join([]string{f.Name, f.Key, f.Description, strings.Join(f.Tags, " ")}, " "))
}

// NormalizeKey trims a flag key and collapses internal whitespace runs to a
// single underscore.
func NormalizeKey(key string) string {
	return strings.Join(strings.Fields(key), "_")
}
