package download

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/bamsammich/mirrorgate/internal/catalog"
	"github.com/bamsammich/mirrorgate/internal/platform"
)

// SidecarName is the release metadata file written into every download.
const SidecarName = "release.json"

// WriteSidecar stores rec as JSON inside dir, atomically.
func WriteSidecar(fs afero.Fs, dir string, rec catalog.GameRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode release metadata: %w", err)
	}
	return platform.WriteFileAtomic(fs, filepath.Join(dir, SidecarName), data, 0o644)
}

// ReadSidecar loads the record written by WriteSidecar.
func ReadSidecar(fs afero.Fs, dir string) (catalog.GameRecord, error) {
	var rec catalog.GameRecord
	data, err := afero.ReadFile(fs, filepath.Join(dir, SidecarName))
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode release metadata: %w", err)
	}
	return rec, nil
}
