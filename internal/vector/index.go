// Package vector provides exact nearest-neighbour indexes over fixed-dimension vectors.
package vector

import "context"

// VectorIndex is an ordered sequence of vectors addressed by row position.
// Rows are only ever appended or replaced wholesale; there is no per-row removal.
type VectorIndex interface {
	// Append adds one vector as the last row.
	Append(ctx context.Context, vec []float32) error
	// RebuildFrom replaces all rows with vectors, in order.
	RebuildFrom(ctx context.Context, vectors [][]float32) error
	// Search returns up to k rows nearest to query by squared L2 distance,
	// ascending, ties broken by ascending row. An empty index yields no matches.
	Search(ctx context.Context, query []float32, k int) ([]Match, error)
	// Vector returns a copy of the vector stored at row.
	Vector(row int) ([]float32, error)
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Type() string
	Close() error
}

// Match is a single search hit.
type Match struct {
	Row      int
	Distance float32 // squared L2 distance to the query
}
