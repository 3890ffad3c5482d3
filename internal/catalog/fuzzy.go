package catalog

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

// nameIndex exposes lower-cased game names to the fuzzy matcher.
type nameIndex []GameRecord

func (n nameIndex) String(i int) string { return strings.ToLower(n[i].GameName) }
func (n nameIndex) Len() int            { return len(n) }

// FuzzySearch ranks records whose game name fuzzily matches term, best
// match first. An empty term matches nothing.
func (c *Catalog) FuzzySearch(term string) []GameRecord {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil
	}
	matches := fuzzy.FindFrom(term, nameIndex(c.records))
	out := make([]GameRecord, 0, len(matches))
	for _, m := range matches {
		out = append(out, c.records[m.Index])
	}
	return out
}
