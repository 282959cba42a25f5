package models

import (
	kerr "github.com/hyperjump/kura/pkg/errors"
)

// SearchMode selects between vector and keyword search.
type SearchMode string

const (
	SearchSemantic SearchMode = "semantic"
	SearchKeyword  SearchMode = "keyword"
)

// SearchQuery is a search request. Semantic mode accepts either Query text, which
// is embedded, or a precomputed Vector.
type SearchQuery struct {
	Query  string     `json:"query,omitempty"`
	Vector []float32  `json:"vector,omitempty"`
	K      int        `json:"k,omitempty"`
	Mode   SearchMode `json:"mode,omitempty"`
}

// Validate ensures the query is usable and fills in defaults.
// K defaults to defaultK and is capped at maxK.
func (q *SearchQuery) Validate(defaultK, maxK int) error {
	if q.Mode == "" {
		q.Mode = SearchSemantic
	}
	switch q.Mode {
	case SearchSemantic:
		if q.Query == "" && len(q.Vector) == 0 {
			return kerr.New(kerr.CodeServerRequestInvalidInput, "query or vector is required")
		}
	case SearchKeyword:
		if q.Query == "" {
			return kerr.New(kerr.CodeServerRequestInvalidInput, "query cannot be empty")
		}
		if len(q.Vector) > 0 {
			return kerr.New(kerr.CodeServerRequestInvalidInput, "keyword search does not take a vector")
		}
	default:
		return kerr.New(kerr.CodeServerRequestInvalidInput, "unknown search mode",
			kerr.Field("mode", string(q.Mode)))
	}
	if q.K <= 0 {
		q.K = defaultK
	}
	if maxK > 0 && q.K > maxK {
		q.K = maxK
	}
	return nil
}
