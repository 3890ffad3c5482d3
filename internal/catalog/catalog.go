package catalog

import (
	"slices"
	"strings"
	"time"
)

// Catalog is an immutable, indexed set of records. Build a new one to
// change it.
type Catalog struct {
	loadedAt  time.Time
	byRelease map[string]int
	blacklist Blacklist
	records   []GameRecord
}

// New indexes records. Later duplicates of a release name are dropped.
func New(records []GameRecord, blacklist Blacklist) *Catalog {
	c := &Catalog{
		loadedAt:  time.Now(),
		byRelease: make(map[string]int, len(records)),
		blacklist: blacklist,
	}
	for _, r := range records {
		if _, dup := c.byRelease[r.ReleaseName]; dup {
			continue
		}
		c.byRelease[r.ReleaseName] = len(c.records)
		c.records = append(c.records, r)
	}
	return c
}

// Len returns the number of records.
func (c *Catalog) Len() int { return len(c.records) }

// LoadedAt is when the catalog was built.
func (c *Catalog) LoadedAt() time.Time { return c.loadedAt }

// Records returns a copy of all records in file order.
func (c *Catalog) Records() []GameRecord { return slices.Clone(c.records) }

// Lookup finds a record by release name.
func (c *Catalog) Lookup(release string) (GameRecord, bool) {
	i, ok := c.byRelease[release]
	if !ok {
		return GameRecord{}, false
	}
	return c.records[i], true
}

// Search returns records whose game, release or package name contains
// term, case-insensitively. An empty term matches everything.
func (c *Catalog) Search(term string) []GameRecord {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return c.Records()
	}
	var out []GameRecord
	for _, r := range c.records {
		if strings.Contains(strings.ToLower(r.GameName), term) ||
			strings.Contains(strings.ToLower(r.ReleaseName), term) ||
			strings.Contains(strings.ToLower(r.PackageName), term) {
			out = append(out, r)
		}
	}
	return out
}

// Blacklisted reports whether the record's package is on the blacklist.
func (c *Catalog) Blacklisted(r GameRecord) bool {
	return c.blacklist.Contains(r.PackageName)
}

// WithBlacklist returns a copy of c using bl.
func (c *Catalog) WithBlacklist(bl Blacklist) *Catalog {
	out := *c
	out.blacklist = bl
	return &out
}
