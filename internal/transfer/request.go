package transfer

// Op is an rclone subcommand the engine uses.
type Op string

const (
	OpCopy   Op = "copy"
	OpCopyTo Op = "copyto"
	OpSync   Op = "sync"
	OpSize   Op = "size"
)

func (o Op) String() string { return string(o) }

// moves reports whether the op transfers data, and so honors --bwlimit.
func (o Op) moves() bool {
	return o == OpCopy || o == OpCopyTo || o == OpSync
}

// Request describes one invocation of the transfer tool.
type Request struct {
	Source string
	Dest   string // empty for ops without a destination (size)
	Mirror string // mirror the source lives on; empty for local-only ops
	Op     Op
	Flags  []string

	// Progress exposes the rc status endpoint for the Stats Poller.
	Progress bool
}
