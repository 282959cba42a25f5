// Package fileid maps entity identities to file names and back.
//
// Vector files are named "<type>_<id>.npy" and feed files "<type>_<id>.json".
// Entity types never contain an underscore, so the first underscore always
// separates the type from the id.
package fileid

import (
	"path/filepath"
	"strings"

	"github.com/hyperjump/kura/internal/models"
)

const (
	// VectorExt is the extension of per-entity vector files.
	VectorExt = ".npy"
	// FeedExt is the extension of entity feed files.
	FeedExt = ".json"
)

// Stem returns "<type>_<id>" for ident.
func Stem(ident models.Identity) string {
	return string(ident.Type) + "_" + ident.ID
}

// VectorFileName returns the vector file name for ident.
func VectorFileName(ident models.Identity) string {
	return Stem(ident) + VectorExt
}

// ParseStem splits "<type>_<id>" back into an identity.
func ParseStem(stem string) (models.Identity, bool) {
	typ, id, ok := strings.Cut(stem, "_")
	if !ok {
		return models.Identity{}, false
	}
	ident := models.Identity{Type: models.EntityType(typ), ID: id}
	if ident.Validate() != nil {
		return models.Identity{}, false
	}
	return ident, true
}

// ParseFileName parses a vector or feed file path (directories are ignored) with the
// given extension. It reports false for names that do not follow the convention.
func ParseFileName(path, ext string) (models.Identity, bool) {
	base := filepath.Base(path)
	if !strings.EqualFold(filepath.Ext(base), ext) {
		return models.Identity{}, false
	}
	return ParseStem(strings.TrimSuffix(base, filepath.Ext(base)))
}
