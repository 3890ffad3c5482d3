// Package platform holds the filesystem and host helpers shared by the
// syncers and the download orchestrator.
package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// TempPath returns a unique hidden sibling of path suitable for a
// write-then-rename.
func TempPath(path string) string {
	dir, base := filepath.Split(path)
	return filepath.Join(dir, fmt.Sprintf(".%s.%s.mg-tmp", base, uuid.New().String()[:8]))
}

// WriteFileAtomic writes data to a temp file next to path and renames it over
// path, so readers observe either the old or the new content.
func WriteFileAtomic(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir %s: %w", filepath.Dir(path), err)
	}

	tmp := TempPath(path)
	RegisterTmp(fs, tmp)
	defer func() {
		DeregisterTmp(tmp)
		_ = fs.Remove(tmp) // no-op if rename succeeded
	}()

	f, err := fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("create tmp %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write tmp %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync tmp %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close tmp %s: %w", tmp, err)
	}
	return ReplaceFile(fs, tmp, path)
}

// ReplaceFile moves a fully written temp file over dst.
func ReplaceFile(fs afero.Fs, tmp, dst string) error {
	if err := fs.Rename(tmp, dst); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmp, dst, err)
	}
	return nil
}

// tmpRegistry tracks in-progress temp files so an interrupted process can
// clean them up on shutdown.
var globalTmpRegistry = &tmpRegistry{}

type tmpRegistry struct {
	mu    sync.Mutex
	paths map[string]afero.Fs
}

// RegisterTmp records a temp file that must not outlive the process.
func RegisterTmp(fs afero.Fs, path string) {
	globalTmpRegistry.mu.Lock()
	defer globalTmpRegistry.mu.Unlock()
	if globalTmpRegistry.paths == nil {
		globalTmpRegistry.paths = make(map[string]afero.Fs)
	}
	globalTmpRegistry.paths[path] = fs
}

// DeregisterTmp forgets a temp file once it has been renamed or removed.
func DeregisterTmp(path string) {
	globalTmpRegistry.mu.Lock()
	defer globalTmpRegistry.mu.Unlock()
	delete(globalTmpRegistry.paths, path)
}

// CleanupTmpFiles removes every registered temp file.
func CleanupTmpFiles() {
	globalTmpRegistry.mu.Lock()
	paths := globalTmpRegistry.paths
	globalTmpRegistry.paths = nil
	globalTmpRegistry.mu.Unlock()

	for p, fs := range paths {
		_ = fs.Remove(p)
	}
}
