package hnsw

import (
	"encoding/binary"
	"os"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"
)

// mmapHandle owns a read-only memory map of a saved model file. Its Close
// unmaps the region; after Close the node slices it backs must not be
// touched again.
type mmapHandle struct {
	region mmap.MMap
	file   *os.File
}

func (h *mmapHandle) Close() error {
	var err error
	if h.region != nil {
		err = h.region.Unmap()
	}
	if h.file != nil {
		if cerr := h.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// float32View reinterprets a byte region as a []float32 without copying.
// This assumes a little-endian host, true of every platform this module
// targets (amd64, arm64) and consistent with the file format itself being
// little-endian.
func float32View(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// uint32View reinterprets a byte region as a []uint32 without copying.
func uint32View(b []byte) []uint32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// loadMmap memory-maps path read-only and builds node views that alias the
// mapped region directly: the data block becomes each node's indexVector
// with zero copies, and each node's adjacency is resolved with the offset
// table.
func loadMmap(path string, dim int) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapErr(ErrIO, "load: open file", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapErr(ErrIO, "load: stat file", err)
	}

	region, err := mmap.MapRegion(f, int(info.Size()), mmap.RDONLY, 0, 0)
	if err != nil {
		f.Close()
		return nil, wrapErr(ErrIO, "load: mmap file", err)
	}

	h, err := decodeHeader(region)
	if err != nil {
		region.Unmap()
		f.Close()
		return nil, err
	}
	if err := validateHeaderDim(h, dim); err != nil {
		region.Unmap()
		f.Close()
		return nil, err
	}

	n := int(h.NNodes)
	vecBytes := int(h.Dim) * 4

	levelBase := h.LevelOffset
	offsetBase := levelBase + uint64(n)*4

	levels := make([]int32, n)
	for i := 0; i < n; i++ {
		levels[i] = int32(binary.LittleEndian.Uint32(region[levelBase+uint64(i)*4 : levelBase+uint64(i)*4+4]))
	}

	offsets := make([]uint64, n+1)
	for i := 0; i <= n; i++ {
		off := offsetBase + uint64(i)*8
		offsets[i] = binary.LittleEndian.Uint64(region[off : off+8])
	}

	nodes := make([]*node, n)
	for i := 0; i < n; i++ {
		vecStart := h.DataOffset + uint64(i)*uint64(vecBytes)
		vec := float32View(region[vecStart : vecStart+uint64(vecBytes)])

		recStart := h.AdjOffset + offsets[i]
		recEnd := h.AdjOffset + offsets[i+1]
		rec := region[recStart:recEnd]

		neighbors := make([][]uint32, levels[i]+1)
		pos := 0
		for l := range neighbors {
			count := binary.LittleEndian.Uint32(rec[pos : pos+4])
			pos += 4
			neighbors[l] = uint32View(rec[pos : pos+int(count)*4])
			pos += int(count) * 4
		}

		nodes[i] = &node{vector: vec, indexVector: vec, level: levels[i], neighbors: neighbors}
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
		mmapData:       &mmapHandle{region: region, file: f},
	}
	return g, nil
}

// Close releases any memory-mapped resources backing a Load(..., true)'d
// graph. It is a no-op for a built or full-copy-loaded graph.
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mmapData == nil {
		return nil
	}
	err := g.mmapData.Close()
	g.mmapData = nil
	return err
}
