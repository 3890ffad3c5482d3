// Package catalog models the game catalog published on every mirror.
package catalog

import "time"

// TimeLayout is the format of the LastUpdated column.
const TimeLayout = "2006-01-02 15:04 UTC"

// GameRecord is one release in the catalog. ReleaseName is the unique key.
type GameRecord struct {
	LastUpdated time.Time  `json:"last_updated"`
	GameName    string     `json:"game_name"`
	ReleaseName string     `json:"release_name"`
	PackageName string     `json:"package_name"`
	Notes       string     `json:"notes,omitempty"`
	Popularity  Popularity `json:"popularity"`
	VersionCode int64      `json:"version_code"`
	SizeMB      float64    `json:"size_mb"`
}

// SizeBytes is the declared size converted to bytes.
func (r GameRecord) SizeBytes() int64 {
	return int64(r.SizeMB * 1024 * 1024)
}

// Popularity holds 0-100 weights per time window.
type Popularity struct {
	Day   int `json:"1d"`
	Week  int `json:"7d"`
	Month int `json:"30d"`
}

// PopularityStat is one entry of the central API's popularity report.
type PopularityStat struct {
	PackageName string  `json:"package_name"`
	Day         float64 `json:"1D"`
	Week        float64 `json:"7D"`
	Month       float64 `json:"30D"`
}
