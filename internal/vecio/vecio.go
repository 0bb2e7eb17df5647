// Package vecio reads and writes the two vector batch formats vexel ingests
// from disk: the ann-benchmarks ".fvecs" binary format and newline-delimited
// JSON float arrays (".jsonl"). Both are read incrementally so a multi-GB
// dataset never has to fit in memory at once.
package vecio

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// Format identifies which on-disk vector batch encoding a file uses.
type Format int

const (
	// FormatFvecs is the ann-benchmarks ".fvecs" layout: each vector is
	// prefixed by its own little-endian int32 dimension.
	FormatFvecs Format = iota
	// FormatJSONL is one JSON array of numbers per line.
	FormatJSONL
)

// DetectFormat chooses a Format from a file's extension, defaulting to
// FormatJSONL for anything not recognized as fvecs-family.
func DetectFormat(path string) Format {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".fvecs"), strings.HasSuffix(lower, ".bvecs"):
		return FormatFvecs
	default:
		return FormatJSONL
	}
}

// maxFvecsDim rejects dimension prefixes that can only come from a corrupt
// or misidentified file before they turn into a giant allocation.
const maxFvecsDim = 1 << 20

// Reader yields one vector at a time from a batch file.
type Reader struct {
	f      *os.File
	br     *bufio.Reader
	format Format
	dim    int // expected dimension once known; 0 until the first vector
}

// Open opens path for reading under format. dim, if > 0, is validated
// against every vector read; pass 0 to accept the file's own dimension.
func Open(path string, format Format, dim int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vecio: open %s: %w", path, err)
	}
	return &Reader{f: f, br: bufio.NewReaderSize(f, 1<<20), format: format, dim: dim}, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

// Next returns the next vector, or io.EOF when the file is exhausted.
func (r *Reader) Next() ([]float32, error) {
	switch r.format {
	case FormatFvecs:
		return r.nextFvecs()
	default:
		return r.nextJSONL()
	}
}

func (r *Reader) nextFvecs() ([]float32, error) {
	var dimBuf [4]byte
	if _, err := io.ReadFull(r.br, dimBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("vecio: truncated fvecs record")
		}
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(dimBuf[:]))
	if n <= 0 || n > maxFvecsDim {
		return nil, fmt.Errorf("vecio: implausible fvecs dimension %d", n)
	}
	if r.dim > 0 && n != r.dim {
		return nil, fmt.Errorf("vecio: fvecs record has dim %d, expected %d", n, r.dim)
	}
	raw := make([]byte, n*4)
	if _, err := io.ReadFull(r.br, raw); err != nil {
		return nil, fmt.Errorf("vecio: truncated fvecs vector: %w", err)
	}
	v := make([]float32, n)
	for i := range v {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		v[i] = math.Float32frombits(bits)
	}
	r.dim = n
	return v, nil
}

func (r *Reader) nextJSONL() ([]float32, error) {
	for {
		line, err := r.br.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(string(line))
		if trimmed == "" {
			if err != nil {
				return nil, err
			}
			continue
		}
		var v []float32
		if jerr := json.Unmarshal([]byte(trimmed), &v); jerr != nil {
			return nil, fmt.Errorf("vecio: parse jsonl line: %w", jerr)
		}
		if r.dim > 0 && len(v) != r.dim {
			return nil, fmt.Errorf("vecio: jsonl vector has dim %d, expected %d", len(v), r.dim)
		}
		r.dim = len(v)
		return v, nil
	}
}

// ReadAll drains r into a slice. Intended for small query batches, not full
// ingestion sets.
func ReadAll(r *Reader) ([][]float32, error) {
	var out [][]float32
	for {
		v, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

// Writer appends vectors to a batch file in either format. It is the
// counterpart of Reader for tooling that produces batches (fixture
// generation, format conversion).
type Writer struct {
	f      *os.File
	bw     *bufio.Writer
	format Format
}

// Create truncates (or creates) path and returns a Writer for format.
func Create(path string, format Format) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("vecio: create %s: %w", path, err)
	}
	return &Writer{f: f, bw: bufio.NewWriter(f), format: format}, nil
}

// Write appends one vector.
func (w *Writer) Write(v []float32) error {
	switch w.format {
	case FormatFvecs:
		return w.writeFvecs(v)
	default:
		return w.writeJSONL(v)
	}
}

func (w *Writer) writeFvecs(v []float32) error {
	var dimBuf [4]byte
	binary.LittleEndian.PutUint32(dimBuf[:], uint32(len(v)))
	if _, err := w.bw.Write(dimBuf[:]); err != nil {
		return err
	}
	var fbuf [4]byte
	for _, x := range v {
		binary.LittleEndian.PutUint32(fbuf[:], math.Float32bits(x))
		if _, err := w.bw.Write(fbuf[:]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeJSONL(v []float32) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.bw.Write(b); err != nil {
		return err
	}
	_, err = w.bw.Write([]byte{'\n'})
	return err
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
