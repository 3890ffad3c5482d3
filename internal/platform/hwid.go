package platform

import (
	"encoding/hex"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

var machineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// HardwareID returns the hashed identifier mirrors use for their licensing
// check. The raw machine id never leaves the host.
func HardwareID() string {
	for _, p := range machineIDPaths {
		if raw, err := os.ReadFile(p); err == nil {
			if id := strings.TrimSpace(string(raw)); id != "" {
				return HashHardwareID(id)
			}
		}
	}
	host, _ := os.Hostname() //nolint:errcheck // empty hostname still hashes deterministically
	return HashHardwareID(host)
}

// HashHardwareID hashes a raw machine identifier with BLAKE3 and returns the
// upper-case hex of the first 16 bytes.
func HashHardwareID(raw string) string {
	sum := blake3.Sum256([]byte(raw))
	return strings.ToUpper(hex.EncodeToString(sum[:16]))
}
