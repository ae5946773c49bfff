package persistence

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeFileAtomicDurable writes data to path by writing a sibling temp file,
// fsyncing it, renaming it over path, and fsyncing the parent directory.
// Grounded on the teacher's recovery/state.Store durability posture: a
// rename is atomic on the same filesystem, and the directory fsync ensures
// the rename itself survives a crash, not just the file's contents.
func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := ensureDirDurable(dir); err != nil {
		return fmt.Errorf("persistence: ensure dir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("persistence: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("persistence: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("persistence: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persistence: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("persistence: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("persistence: rename temp file into place: %w", err)
	}
	return fsyncDir(dir)
}

func ensureDirDurable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		// Some filesystems (notably certain overlay/tmpfs mounts) reject
		// fsync on directories; treat this as best-effort durability.
		if pathErr, ok := err.(*os.PathError); ok && pathErr.Err.Error() == "invalid argument" {
			return nil
		}
		return err
	}
	return nil
}
