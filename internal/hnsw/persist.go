package hnsw

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// magic identifies a vexel HNSW model file.
var magic = [4]byte{'V', 'X', 'L', '1'}

const formatVersion = uint32(1)

// headerSize is the fixed header length: the field table through
// level_offset (72 bytes) rounded up to the next 64-byte boundary.
const headerSize = 128

// header mirrors the on-disk layout field for field.
type header struct {
	Version        uint32
	Metric         uint32
	Dim            uint32
	NNodes         uint64
	M              uint32
	M0             uint32
	EfConstruction uint32
	MaxLevel       uint32
	EntryID        uint64
	DataOffset     uint64
	AdjOffset      uint64
	LevelOffset    uint64
}

func (h *header) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.Metric)
	binary.LittleEndian.PutUint32(buf[12:16], h.Dim)
	binary.LittleEndian.PutUint64(buf[16:24], h.NNodes)
	binary.LittleEndian.PutUint32(buf[24:28], h.M)
	binary.LittleEndian.PutUint32(buf[28:32], h.M0)
	binary.LittleEndian.PutUint32(buf[32:36], h.EfConstruction)
	binary.LittleEndian.PutUint32(buf[36:40], h.MaxLevel)
	binary.LittleEndian.PutUint64(buf[40:48], h.EntryID)
	binary.LittleEndian.PutUint64(buf[48:56], h.DataOffset)
	binary.LittleEndian.PutUint64(buf[56:64], h.AdjOffset)
	binary.LittleEndian.PutUint64(buf[64:72], h.LevelOffset)
	// buf[72:128] stays zero padding.
	return buf
}

func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < headerSize {
		return nil, newErr(ErrIncompatibleFormat, "truncated header")
	}
	var gotMagic [4]byte
	copy(gotMagic[:], buf[0:4])
	if gotMagic != magic {
		return nil, newErr(ErrIncompatibleFormat, "bad magic")
	}
	h := &header{
		Version:        binary.LittleEndian.Uint32(buf[4:8]),
		Metric:         binary.LittleEndian.Uint32(buf[8:12]),
		Dim:            binary.LittleEndian.Uint32(buf[12:16]),
		NNodes:         binary.LittleEndian.Uint64(buf[16:24]),
		M:              binary.LittleEndian.Uint32(buf[24:28]),
		M0:             binary.LittleEndian.Uint32(buf[28:32]),
		EfConstruction: binary.LittleEndian.Uint32(buf[32:36]),
		MaxLevel:       binary.LittleEndian.Uint32(buf[36:40]),
		EntryID:        binary.LittleEndian.Uint64(buf[40:48]),
		DataOffset:     binary.LittleEndian.Uint64(buf[48:56]),
		AdjOffset:      binary.LittleEndian.Uint64(buf[56:64]),
		LevelOffset:    binary.LittleEndian.Uint64(buf[64:72]),
	}
	if h.Version != formatVersion {
		return nil, newErr(ErrIncompatibleFormat, fmt.Sprintf("unsupported version %d (expected %d)", h.Version, formatVersion))
	}
	return h, nil
}

// nodeAdjByteLen returns the number of bytes node id's adjacency record
// occupies in the adj block: for each level, a u32 count plus count u32
// ids.
func nodeAdjByteLen(n *node) int {
	total := 0
	for _, layer := range n.neighbors {
		total += 4 + 4*len(layer)
	}
	return total
}

// Save serializes the sealed graph to path in the on-disk binary format.
// Requires a sealed index.
func (g *Graph) Save(path string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.state != StateSealed {
		return newErr(ErrInvalidState, "save: index is not sealed")
	}

	f, err := os.Create(path)
	if err != nil {
		return wrapErr(ErrIO, "save: create file", err)
	}
	defer f.Close()

	n := len(g.nodes)
	dataOffset := uint64(headerSize)
	levelOffset := dataOffset + uint64(n)*uint64(g.dim)*4
	// levels (u32 * n) followed by offsets (u64 * (n+1))
	adjOffset := levelOffset + uint64(n)*4 + uint64(n+1)*8

	maxLevel := 0
	for _, nd := range g.nodes {
		if int(nd.level) > maxLevel {
			maxLevel = int(nd.level)
		}
	}

	h := &header{
		Version:        formatVersion,
		Metric:         uint32(g.metric),
		Dim:            uint32(g.dim),
		NNodes:         uint64(n),
		M:              uint32(g.m),
		M0:             uint32(g.m0),
		EfConstruction: uint32(g.efConstruction),
		MaxLevel:       uint32(maxLevel),
		EntryID:        uint64(g.entryID),
		DataOffset:     dataOffset,
		AdjOffset:      adjOffset,
		LevelOffset:    levelOffset,
	}

	w := bufio.NewWriter(f)

	if _, err := w.Write(h.encode()); err != nil {
		return wrapErr(ErrIO, "save: write header", err)
	}

	// Data block: indexVector (normalized form if angular) per node.
	var fbuf [4]byte
	for _, nd := range g.nodes {
		for _, x := range nd.indexVector {
			binary.LittleEndian.PutUint32(fbuf[:], math.Float32bits(x))
			if _, err := w.Write(fbuf[:]); err != nil {
				return wrapErr(ErrIO, "save: write vector", err)
			}
		}
	}

	// Level table.
	var u32buf [4]byte
	for _, nd := range g.nodes {
		binary.LittleEndian.PutUint32(u32buf[:], uint32(nd.level))
		if _, err := w.Write(u32buf[:]); err != nil {
			return wrapErr(ErrIO, "save: write levels", err)
		}
	}

	// Offset table: cumulative byte offsets into the adjacency block.
	var u64buf [8]byte
	offset := uint64(0)
	binary.LittleEndian.PutUint64(u64buf[:], offset)
	if _, err := w.Write(u64buf[:]); err != nil {
		return wrapErr(ErrIO, "save: write offsets", err)
	}
	for _, nd := range g.nodes {
		offset += uint64(nodeAdjByteLen(nd))
		binary.LittleEndian.PutUint64(u64buf[:], offset)
		if _, err := w.Write(u64buf[:]); err != nil {
			return wrapErr(ErrIO, "save: write offsets", err)
		}
	}

	// Adjacency block.
	for _, nd := range g.nodes {
		for _, layer := range nd.neighbors {
			binary.LittleEndian.PutUint32(u32buf[:], uint32(len(layer)))
			if _, err := w.Write(u32buf[:]); err != nil {
				return wrapErr(ErrIO, "save: write adjacency", err)
			}
			for _, id := range layer {
				binary.LittleEndian.PutUint32(u32buf[:], id)
				if _, err := w.Write(u32buf[:]); err != nil {
					return wrapErr(ErrIO, "save: write adjacency", err)
				}
			}
		}
	}

	if err := w.Flush(); err != nil {
		return wrapErr(ErrIO, "save: flush", err)
	}
	if err := f.Sync(); err != nil {
		return wrapErr(ErrIO, "save: fsync", err)
	}
	return nil
}

// Load reconstructs a graph from a file previously written by Save. If
// useMmap is true the vector and adjacency blocks alias a read-only memory
// map of the file instead of being copied into owned buffers.
//
// On any error Load returns a nil *Graph; it never returns a partially
// constructed one.
func Load(path string, dim int, useMmap bool) (*Graph, error) {
	if useMmap {
		g, err := loadMmap(path, dim)
		if err == nil {
			return g, nil
		}
		// if a platform cannot satisfy [4-byte alignment], fall back
		// to full-copy load. Our layout is always 4-byte aligned by
		// construction (every field is a multiple of 4 bytes), so this
		// fallback is reachable only via mmap-specific failures (e.g. the
		// file is still being written, or the platform lacks mmap), not
		// misalignment — but the fallback is the same either way.
		if IsKind(err, ErrIO) {
			return loadFullCopy(path, dim)
		}
		return nil, err
	}
	return loadFullCopy(path, dim)
}

func readHeader(f *os.File) (*header, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, wrapErr(ErrIO, "load: read header", err)
	}
	return decodeHeader(buf)
}

func validateHeaderDim(h *header, dim int) error {
	if dim > 0 && int(h.Dim) != dim {
		return newErr(ErrDimensionMismatch, fmt.Sprintf("file dim %d does not match requested dim %d", h.Dim, dim))
	}
	return nil
}

func loadFullCopy(path string, dim int) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapErr(ErrIO, "load: open file", err)
	}
	defer f.Close()

	h, err := readHeader(f)
	if err != nil {
		return nil, err
	}
	if err := validateHeaderDim(h, dim); err != nil {
		return nil, err
	}

	n := int(h.NNodes)
	r := bufio.NewReader(f)
	if _, err := f.Seek(int64(h.DataOffset), io.SeekStart); err != nil {
		return nil, wrapErr(ErrIO, "load: seek data", err)
	}
	r.Reset(f)

	vecs := make([][]float32, n)
	var fbuf [4]byte
	for i := 0; i < n; i++ {
		v := make([]float32, h.Dim)
		for j := range v {
			if _, err := io.ReadFull(r, fbuf[:]); err != nil {
				return nil, wrapErr(ErrIO, "load: read vector", err)
			}
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(fbuf[:]))
		}
		vecs[i] = v
	}

	if _, err := f.Seek(int64(h.LevelOffset), io.SeekStart); err != nil {
		return nil, wrapErr(ErrIO, "load: seek levels", err)
	}
	r.Reset(f)

	levels := make([]int32, n)
	var u32buf [4]byte
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, u32buf[:]); err != nil {
			return nil, wrapErr(ErrIO, "load: read levels", err)
		}
		levels[i] = int32(binary.LittleEndian.Uint32(u32buf[:]))
	}

	offsets := make([]uint64, n+1)
	var u64buf [8]byte
	for i := 0; i <= n; i++ {
		if _, err := io.ReadFull(r, u64buf[:]); err != nil {
			return nil, wrapErr(ErrIO, "load: read offset table", err)
		}
		offsets[i] = binary.LittleEndian.Uint64(u64buf[:])
	}

	if _, err := f.Seek(int64(h.AdjOffset), io.SeekStart); err != nil {
		return nil, wrapErr(ErrIO, "load: seek adjacency", err)
	}
	r.Reset(f)

	nodes := make([]*node, n)
	for i := 0; i < n; i++ {
		neighbors := make([][]uint32, levels[i]+1)
		for l := range neighbors {
			if _, err := io.ReadFull(r, u32buf[:]); err != nil {
				return nil, wrapErr(ErrIO, "load: read adjacency count", err)
			}
			count := binary.LittleEndian.Uint32(u32buf[:])
			layer := make([]uint32, count)
			for j := range layer {
				if _, err := io.ReadFull(r, u32buf[:]); err != nil {
					return nil, wrapErr(ErrIO, "load: read adjacency id", err)
				}
				layer[j] = binary.LittleEndian.Uint32(u32buf[:])
			}
			neighbors[l] = layer
		}
		nodes[i] = &node{vector: vecs[i], indexVector: vecs[i], level: levels[i], neighbors: neighbors}
	}

	metric := Metric(h.Metric)
	g := &Graph{
		dim:            int(h.Dim),
		metric:         metric,
		distFn:         distanceFor(metric),
		state:          StateSealed,
		nodes:          nodes,
		entryID:        uint32(h.EntryID),
		entryLevel:     int32(h.MaxLevel),
		m:              int(h.M),
		m0:             int(h.M0),
		efConstruction: int(h.EfConstruction),
		efSearch:       DefaultEfSearch,
		visited:        newVisitedPool(),
	}
	return g, nil
}
