package config

import "fmt"

// PruningPolicy decides how many older downloaded versions of a game are
// kept after a new one lands.
type PruningPolicy string

const (
	KeepAll            PruningPolicy = "keep-all"
	DeleteAfterInstall PruningPolicy = "delete-after-install"
	KeepOne            PruningPolicy = "keep-1"
	KeepTwo            PruningPolicy = "keep-2"
)

// Valid reports whether p names a known policy.
func (p PruningPolicy) Valid() bool {
	switch p {
	case KeepAll, DeleteAfterInstall, KeepOne, KeepTwo:
		return true
	}
	return false
}

// KeepCount returns how many versions to retain, or 0 when the policy does
// not prune after download.
func (p PruningPolicy) KeepCount() int {
	switch p {
	case KeepOne:
		return 1
	case KeepTwo:
		return 2
	default:
		return 0
	}
}

func (p PruningPolicy) String() string { return string(p) }

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (p *PruningPolicy) UnmarshalText(text []byte) error {
	v := PruningPolicy(text)
	if !v.Valid() {
		return fmt.Errorf("unknown pruning policy %q", text)
	}
	*p = v
	return nil
}
