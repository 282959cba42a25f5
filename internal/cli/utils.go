// Package cli provides output helpers for the kura command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const previewLen = 200

// ParseOutputFormat maps a flag value to a format; anything but "json" is text.
func ParseOutputFormat(s string) OutputFormat {
	if s == string(OutputJSON) {
		return OutputJSON
	}
	return OutputText
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	mode := response.Mode
	if mode == "" {
		mode = models.SearchSemantic
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (%s)\n\n", response.Total, response.QueryTime, mode)
	for _, hit := range response.Hits {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		if mode == models.SearchKeyword {
			fmt.Fprintf(w, "Rank: %d | Score: %.4f | Row: %d\n", hit.Rank, hit.Score, hit.Row)
		} else {
			fmt.Fprintf(w, "Rank: %d | Distance: %.4f | Row: %d\n", hit.Rank, hit.Distance, hit.Row)
		}
		fmt.Fprintf(w, "Entity: %s\n", hit.Record.Identity())
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(hit.Record.Text, previewLen))
	}
	return nil
}

// WriteRecords writes a record listing to w.
func WriteRecords(w io.Writer, records []models.EmbeddingRecord, format OutputFormat) error {
	if format == OutputJSON {
		if records == nil {
			records = []models.EmbeddingRecord{}
		}
		return writeJSON(w, records)
	}
	for _, r := range records {
		fmt.Fprintf(w, "%-30s %s\n", r.Identity(), utils.Truncate(r.Text, 80))
	}
	fmt.Fprintf(w, "\n%d records\n", len(records))
	return nil
}

// WriteStatus writes a status map as JSON, or as sorted "key: value" lines.
func WriteStatus(w io.Writer, status map[string]interface{}, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %v\n", k, status[k])
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
