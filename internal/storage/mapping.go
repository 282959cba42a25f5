package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/pkg/utils"
)

// SaveMapping writes records to path as a JSON array, atomically.
func SaveMapping(path string, records []models.EmbeddingRecord) error {
	if records == nil {
		records = []models.EmbeddingRecord{}
	}
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		if err := json.NewEncoder(w).Encode(records); err != nil {
			return fmt.Errorf("encode mapping: %w", err)
		}
		return nil
	})
}

// LoadMapping reads a mapping snapshot. ok is false when the file does not exist.
// Records with an invalid identity make the snapshot unreadable.
func LoadMapping(path string) (records []models.EmbeddingRecord, ok bool, err error) {
	err = utils.ReadFile(path, func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&records)
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("decode mapping %s: %w", path, err)
	}
	for i, rec := range records {
		if err := rec.Identity().Validate(); err != nil {
			return nil, false, fmt.Errorf("mapping row %d: %w", i, err)
		}
	}
	if records == nil {
		records = []models.EmbeddingRecord{}
	}
	return records, true, nil
}
