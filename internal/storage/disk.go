package storage

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hyperjump/kura/internal/fileid"
)

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths are skipped (contribute 0); other errors are returned.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return 0, err
		}
	}
	return total, nil
}

// CountVectorFiles returns the number of vector files under dir.
func CountVectorFiles(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+fileid.VectorExt))
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}
