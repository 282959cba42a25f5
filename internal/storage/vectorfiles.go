package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hyperjump/kura/internal/fileid"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/pkg/utils"
)

// VectorFiles manages the per-entity vector files under one directory.
type VectorFiles struct {
	dir string
}

// NewVectorFiles returns a VectorFiles rooted at dir, creating it if needed.
func NewVectorFiles(dir string) (*VectorFiles, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create vector dir: %w", err)
	}
	return &VectorFiles{dir: dir}, nil
}

// Dir returns the directory holding the vector files.
func (v *VectorFiles) Dir() string { return v.dir }

// Path returns the vector file path for ident.
func (v *VectorFiles) Path(ident models.Identity) string {
	return filepath.Join(v.dir, fileid.VectorFileName(ident))
}

// Write stores vec for ident, replacing any previous file atomically.
func (v *VectorFiles) Write(ident models.Identity, vec []float32) error {
	return utils.WriteFileAtomic(v.Path(ident), func(w io.Writer) error {
		return WriteNPY(w, vec)
	})
}

// Read loads the vector for ident. A missing file yields an error satisfying os.IsNotExist.
func (v *VectorFiles) Read(ident models.Identity) ([]float32, error) {
	var vec []float32
	err := utils.ReadFile(v.Path(ident), func(r io.Reader) error {
		var err error
		vec, err = ReadNPY(r)
		return err
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("read vector file for %s: %w", ident, err)
	}
	return vec, nil
}

// Backup captures the current vector file for ident and returns a function
// that puts it back. When no file exists the returned function removes
// whatever was written since.
func (v *VectorFiles) Backup(ident models.Identity) (func() error, error) {
	path := v.Path(ident)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return func() error { return v.Remove(ident) }, nil
	}
	if err != nil {
		return nil, fmt.Errorf("back up vector file for %s: %w", ident, err)
	}
	return func() error {
		return utils.WriteFileAtomic(path, func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		})
	}, nil
}

// Exists reports whether a vector file exists for ident.
func (v *VectorFiles) Exists(ident models.Identity) bool {
	_, err := os.Stat(v.Path(ident))
	return err == nil
}

// Remove deletes the vector file for ident. A missing file is not an error.
func (v *VectorFiles) Remove(ident models.Identity) error {
	if err := os.Remove(v.Path(ident)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove vector file for %s: %w", ident, err)
	}
	return nil
}

// Missing returns the identities among idents that have no vector file, in order.
func (v *VectorFiles) Missing(idents []models.Identity) []models.Identity {
	var missing []models.Identity
	for _, ident := range idents {
		if !v.Exists(ident) {
			missing = append(missing, ident)
		}
	}
	return missing
}
