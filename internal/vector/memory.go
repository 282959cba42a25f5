package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/hyperjump/kura/pkg/utils"
)

const (
	snapshotMagic   uint32 = 0x5849564b // "KVIX"
	snapshotVersion uint32 = 1
	// Four header words plus the CRC32 trailer.
	snapshotOverhead = 16 + 4
)

// MemoryIndex is an exact, brute-force squared-L2 index held in memory.
// Suitable for the small corpora kura targets (thousands of rows).
type MemoryIndex struct {
	dimensions int
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewMemoryIndex creates an empty in-memory index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		vectors:    make([][]float32, 0),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Dimensions returns the fixed vector length.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Append adds vec as the last row.
func (m *MemoryIndex) Append(ctx context.Context, vec []float32) error {
	if err := checkDimensions(len(vec), m.dimensions); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors = append(m.vectors, cloneVector(vec))
	return nil
}

// RebuildFrom replaces the index contents. On a dimension error the index is unchanged.
func (m *MemoryIndex) RebuildFrom(ctx context.Context, vectors [][]float32) error {
	rows := make([][]float32, len(vectors))
	for i, vec := range vectors {
		if err := checkDimensions(len(vec), m.dimensions); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		rows[i] = cloneVector(vec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors = rows
	return nil
}

// Search returns the k nearest rows by squared L2 distance.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.vectors) == 0 {
		return []Match{}, nil
	}
	if err := checkDimensions(len(query), m.dimensions); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	type scored struct {
		row  int
		dist float64
	}
	scores := make([]scored, len(m.vectors))
	for i, vec := range m.vectors {
		scores[i] = scored{row: i, dist: SquaredL2(query, vec)}
	}
	// Stable on an ascending-row slice keeps the lower row first on equal distance.
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].dist < scores[j].dist })
	if k > len(scores) {
		k = len(scores)
	}
	result := make([]Match, k)
	for i := 0; i < k; i++ {
		result[i] = Match{Row: scores[i].row, Distance: float32(scores[i].dist)}
	}
	return result, nil
}

// Vector returns a copy of the vector at row.
func (m *MemoryIndex) Vector(row int) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if row < 0 || row >= len(m.vectors) {
		return nil, fmt.Errorf("row %d out of range [0, %d)", row, len(m.vectors))
	}
	return cloneVector(m.vectors[row]), nil
}

// Save writes the index to path atomically. Format (little endian): magic, version,
// dimension, row count (uint32 each), rows*dimension float32 values, CRC32 (IEEE) of
// everything before it.
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return nil
	}
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		crc := crc32.NewIEEE()
		mw := io.MultiWriter(w, crc)
		header := []uint32{snapshotMagic, snapshotVersion, uint32(m.dimensions), uint32(len(m.vectors))}
		if err := binary.Write(mw, binary.LittleEndian, header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for i, vec := range m.vectors {
			if _, err := mw.Write(float32SliceToBytes(vec)); err != nil {
				return fmt.Errorf("write row %d: %w", i, err)
			}
		}
		if err := binary.Write(w, binary.LittleEndian, crc.Sum32()); err != nil {
			return fmt.Errorf("write checksum: %w", err)
		}
		return nil
	})
}

// Load reads the index from path and replaces the in-memory contents. Dimensions must match.
// If the file does not exist, no error is returned and the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load index %s: %w", path, err)
	}
	var rows [][]float32
	err = utils.ReadFile(path, func(r io.Reader) error {
		var err error
		rows, err = m.readSnapshot(r, info.Size())
		return err
	})
	if err != nil {
		return fmt.Errorf("load index %s: %w", path, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors = rows
	return nil
}

// readSnapshot decodes a snapshot of size bytes. The row count is checked
// against size before anything is allocated for it.
func (m *MemoryIndex) readSnapshot(r io.Reader, size int64) ([][]float32, error) {
	crc := crc32.NewIEEE()
	tr := io.TeeReader(r, crc)
	var header [4]uint32
	if err := binary.Read(tr, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header[0] != snapshotMagic {
		return nil, fmt.Errorf("not an index snapshot (magic 0x%08x)", header[0])
	}
	if header[1] != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", header[1])
	}
	if int(header[2]) != m.dimensions {
		return nil, fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, header[2], m.dimensions)
	}
	n := int64(header[3])
	if want := snapshotOverhead + n*int64(m.dimensions)*4; want != size {
		return nil, fmt.Errorf("snapshot is %d bytes, %d rows need %d", size, n, want)
	}
	rows := make([][]float32, 0, n)
	buf := make([]byte, m.dimensions*4)
	for i := int64(0); i < n; i++ {
		if _, err := io.ReadFull(tr, buf); err != nil {
			return nil, fmt.Errorf("read row %d: %w", i, err)
		}
		rows = append(rows, bytesToFloat32Slice(buf))
	}
	var want uint32
	if err := binary.Read(r, binary.LittleEndian, &want); err != nil {
		return nil, fmt.Errorf("read checksum: %w", err)
	}
	if got := crc.Sum32(); got != want {
		return nil, fmt.Errorf("checksum mismatch: got 0x%08x, want 0x%08x", got, want)
	}
	return rows, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// Size returns the number of rows in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
