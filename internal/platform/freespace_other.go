//go:build !unix

package platform

import "errors"

// FreeBytes is not implemented on this platform; callers skip the check.
func FreeBytes(_ string) (uint64, error) {
	return 0, errors.ErrUnsupported
}
