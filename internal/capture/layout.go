package capture

import (
	"fmt"
	"os"
	"path/filepath"
)

// Watch-root subdirectory names. Files land in incoming/, move to
// processing/ once an entry exists, and end in processed/ or failed/.
const (
	DirIncoming   = "incoming"
	DirProcessing = "processing"
	DirProcessed  = "processed"
	DirFailed     = "failed"
)

// EnsureLayout creates the four lifecycle subdirectories under root.
func EnsureLayout(root string) error {
	for _, dir := range []string{DirIncoming, DirProcessing, DirProcessed, DirFailed} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return fmt.Errorf("create watch dir %s: %w", dir, err)
		}
	}
	return nil
}

// RollFile moves a file sitting in one lifecycle subdirectory into a sibling
// one and returns the destination path. The destination directory is created
// on demand so rolls survive a pruned watch root.
func RollFile(path, destDir string) (string, error) {
	root := filepath.Dir(filepath.Dir(path))
	target := filepath.Join(root, destDir, filepath.Base(path))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create %s dir: %w", destDir, err)
	}
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("move capture file: %w", err)
	}
	return target, nil
}
