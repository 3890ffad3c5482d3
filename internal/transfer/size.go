package transfer

import (
	"encoding/json"
	"fmt"
)

// ParseSize extracts the byte count from `rclone size --json` output. A
// missing bytes field yields nil.
func ParseSize(stdout string) (*int64, error) {
	var payload struct {
		Bytes *int64 `json:"bytes"`
		Count *int64 `json:"count"`
	}
	if err := json.Unmarshal([]byte(stdout), &payload); err != nil {
		return nil, fmt.Errorf("decode size output: %w", err)
	}
	return payload.Bytes, nil
}
