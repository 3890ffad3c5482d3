package transfer

import (
	"slices"
	"strings"
)

// Markers recognized in the transfer tool's combined output.
const (
	markerQuota           = "downloadQuotaExceeded"
	markerHWID            = "Failed to verify HWID"
	markerHostUnreachable = "no such host"
)

var markersNoSpace = []string{
	"no space left on device",
	"There is not enough space on the disk",
}

// operationalExitCodes are the exit statuses rclone uses for errors that
// originate at the remote or the destination rather than on the command line.
var operationalExitCodes = []int{1, 3, 4, 5, 6, 7, 8}

func isOperational(code int) bool {
	return slices.Contains(operationalExitCodes, code)
}

// rule maps an (exit code, output) pair to an outcome kind.
type rule struct {
	match func(exitCode int, output string) bool
	name  string
	kind  Kind
}

// rules is evaluated top to bottom; the first match wins. Cancellation is
// handled before classification and never reaches this table.
var rules = []rule{
	{
		name: "quota-exceeded",
		kind: QuotaExceeded,
		match: func(_ int, out string) bool {
			return strings.Contains(out, markerQuota)
		},
	},
	{
		name: "hwid-check",
		kind: HWIDCheckFailed,
		match: func(_ int, out string) bool {
			return strings.Contains(out, markerHWID)
		},
	},
	{
		name: "disk-space",
		kind: InsufficientSpace,
		match: func(code int, out string) bool {
			return isOperational(code) && slices.ContainsFunc(markersNoSpace, func(m string) bool {
				return strings.Contains(out, m)
			})
		},
	},
	{
		name: "operation-error",
		kind: OperationFailed,
		match: func(code int, out string) bool {
			return isOperational(code) && !strings.Contains(out, markerHostUnreachable)
		},
	},
	{
		name: "host-unreachable",
		kind: HostUnreachable,
		match: func(code int, _ string) bool {
			return isOperational(code)
		},
	},
	{
		name: "non-zero-exit",
		kind: UnknownFailure,
		match: func(code int, _ string) bool {
			return code != 0
		},
	},
}

// Classify returns the outcome kind for a finished invocation and the name
// of the rule that produced it ("" for Success).
func Classify(exitCode int, output string) (Kind, string) {
	for _, r := range rules {
		if r.match(exitCode, output) {
			return r.kind, r.name
		}
	}
	return Success, ""
}
