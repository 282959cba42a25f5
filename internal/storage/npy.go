package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
)

// Vector files use the NumPy .npy format (version 1.0, little-endian float32,
// one-dimensional) so they stay readable with numpy.load.

var npyMagic = []byte("\x93NUMPY")

const (
	// MaxNPYElements bounds the array length accepted from a file header.
	MaxNPYElements = 1 << 20

	maxNPYHeaderLen = 1 << 16
)

var (
	npyDescrRe = regexp.MustCompile(`'descr':\s*'([^']+)'`)
	npyOrderRe = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	npyShapeRe = regexp.MustCompile(`'shape':\s*\(\s*(\d+)\s*,?\s*\)`)
)

// WriteNPY encodes vec as a 1-D '<f4' array.
func WriteNPY(w io.Writer, vec []float32) error {
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d,), }", len(vec))
	// Magic(6) + version(2) + header length(2) + header, padded to a multiple of 64 ending in '\n'.
	total := len(npyMagic) + 4 + len(header) + 1
	if pad := total % 64; pad != 0 {
		header += string(bytes.Repeat([]byte{' '}, 64-pad))
	}
	header += "\n"

	if _, err := w.Write(npyMagic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	_, err := w.Write(buf)
	return err
}

// ReadNPY decodes a 1-D '<f4' or '<f8' array. Float64 data is narrowed to float32.
func ReadNPY(r io.Reader) ([]float32, error) {
	prefix := make([]byte, len(npyMagic)+2)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, fmt.Errorf("read npy preamble: %w", err)
	}
	if !bytes.Equal(prefix[:len(npyMagic)], npyMagic) {
		return nil, fmt.Errorf("not an npy file")
	}

	var headerLen int
	switch major := prefix[len(npyMagic)]; major {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("read npy header length: %w", err)
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("read npy header length: %w", err)
		}
		if n > maxNPYHeaderLen {
			return nil, fmt.Errorf("npy header length %d exceeds %d", n, maxNPYHeaderLen)
		}
		headerLen = int(n)
	default:
		return nil, fmt.Errorf("unsupported npy version %d", major)
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read npy header: %w", err)
	}

	descr := npyDescrRe.FindSubmatch(header)
	order := npyOrderRe.FindSubmatch(header)
	shape := npyShapeRe.FindSubmatch(header)
	if descr == nil || order == nil || shape == nil {
		return nil, fmt.Errorf("malformed npy header %q", bytes.TrimSpace(header))
	}
	if string(order[1]) != "False" {
		return nil, fmt.Errorf("fortran-ordered arrays are not supported")
	}
	n, err := strconv.Atoi(string(shape[1]))
	if err != nil {
		return nil, fmt.Errorf("npy shape: %w", err)
	}
	if n > MaxNPYElements {
		return nil, fmt.Errorf("npy shape %d exceeds %d elements", n, MaxNPYElements)
	}

	var size int
	switch string(descr[1]) {
	case "<f4":
		size = 4
	case "<f8":
		size = 8
	default:
		return nil, fmt.Errorf("unsupported npy dtype %s", descr[1])
	}
	buf, err := io.ReadAll(io.LimitReader(r, int64(n*size)))
	if err != nil {
		return nil, fmt.Errorf("read npy data: %w", err)
	}
	if len(buf) != n*size {
		return nil, fmt.Errorf("npy data truncated: %d of %d bytes", len(buf), n*size)
	}
	out := make([]float32, n)
	for i := range out {
		if size == 4 {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		} else {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:])))
		}
	}
	return out, nil
}
