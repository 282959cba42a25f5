package models

import (
	"testing"
)

func TestSearchQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *SearchQuery
		wantErr bool
		wantK   int
	}{
		{"empty query", &SearchQuery{Query: ""}, true, 0},
		{"valid query", &SearchQuery{Query: "hello"}, false, 5},
		{"vector only", &SearchQuery{Vector: []float32{1, 2}}, false, 5},
		{"caps k", &SearchQuery{Query: "x", K: 200}, false, 50},
		{"keeps k", &SearchQuery{Query: "x", K: 3}, false, 3},
		{"keyword needs text", &SearchQuery{Mode: SearchKeyword, Vector: []float32{1}}, true, 0},
		{"keyword with text", &SearchQuery{Mode: SearchKeyword, Query: "shoes"}, false, 5},
		{"unknown mode", &SearchQuery{Mode: "fuzzy", Query: "x"}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(5, 50)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.query.K != tt.wantK {
				t.Errorf("K = %d, want %d", tt.query.K, tt.wantK)
			}
			if tt.query.Mode == "" {
				t.Error("expected mode default to be set")
			}
		})
	}
}
