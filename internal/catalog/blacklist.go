package catalog

import (
	"bufio"
	"bytes"
	"strings"
)

// Blacklist is the set of package names excluded from donation uploads.
type Blacklist map[string]struct{}

// ParseBlacklist reads newline-separated package names. Blank lines and
// lines starting with '#' are ignored.
func ParseBlacklist(data []byte) Blacklist {
	bl := make(Blacklist)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		bl[name] = struct{}{}
	}
	return bl
}

// Contains reports whether pkg is blacklisted. A nil Blacklist contains
// nothing.
func (b Blacklist) Contains(pkg string) bool {
	_, ok := b[pkg]
	return ok
}
