// Package pmtilestest builds small PMTiles archives and in-memory sources for
// tests.
package pmtilestest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/pmtiles"
	"github.com/terrycain/tiles-server/pkg/s"
)

type Tile struct {
	Z    uint8
	X, Y uint32
}

type Archive struct {
	Tiles    map[Tile][]byte
	Metadata string
	// Leaves puts every tile entry into one leaf directory so lookups go
	// through a second directory level.
	Leaves              bool
	InternalCompression pmtiles.Compression
	TileCompression     pmtiles.Compression
	TileType            pmtiles.TileType
	MinZoom, MaxZoom    uint8
}

// Build serializes the archive. Identical tile contents are stored once.
func Build(a Archive) ([]byte, error) {
	internal := a.InternalCompression
	if internal == pmtiles.CompressionUnknown {
		internal = pmtiles.CompressionGzip
	}
	tileCompression := a.TileCompression
	if tileCompression == pmtiles.CompressionUnknown {
		tileCompression = pmtiles.CompressionNone
	}
	tileType := a.TileType
	if tileType == pmtiles.TileTypeUnknown {
		tileType = pmtiles.TileTypeMvt
	}

	ids := make([]uint64, 0, len(a.Tiles))
	byID := make(map[uint64][]byte, len(a.Tiles))
	minZoom, maxZoom := a.MinZoom, a.MaxZoom
	for t, data := range a.Tiles {
		id, ok := pmtiles.ZxyToID(t.Z, t.X, t.Y)
		if !ok {
			return nil, fmt.Errorf("tile %d/%d/%d out of range", t.Z, t.X, t.Y)
		}
		compressed, err := pmtiles.Compress(data, tileCompression)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
		byID[id] = compressed
		if t.Z > maxZoom {
			maxZoom = t.Z
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var tileData []byte
	entries := make([]pmtiles.Entry, 0, len(ids))
	offsets := make(map[string]uint64)
	for _, id := range ids {
		data := byID[id]
		offset, seen := offsets[string(data)]
		if !seen {
			offset = uint64(len(tileData))
			offsets[string(data)] = offset
			tileData = append(tileData, data...)
		}
		last := len(entries) - 1
		if last >= 0 && entries[last].TileID+uint64(entries[last].RunLength) == id && entries[last].Offset == offset {
			entries[last].RunLength++
			continue
		}
		entries = append(entries, pmtiles.Entry{TileID: id, Offset: offset, Length: uint32(len(data)), RunLength: 1})
	}

	var root, leaves []byte
	var err error
	if a.Leaves && len(entries) > 0 {
		if leaves, err = pmtiles.Compress(pmtiles.SerializeEntries(entries), internal); err != nil {
			return nil, err
		}
		rootEntries := []pmtiles.Entry{{TileID: entries[0].TileID, Offset: 0, Length: uint32(len(leaves)), RunLength: 0}}
		root, err = pmtiles.Compress(pmtiles.SerializeEntries(rootEntries), internal)
	} else {
		root, err = pmtiles.Compress(pmtiles.SerializeEntries(entries), internal)
	}
	if err != nil {
		return nil, err
	}

	metadata := []byte(a.Metadata)
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	if metadata, err = pmtiles.Compress(metadata, internal); err != nil {
		return nil, err
	}

	h := pmtiles.Header{
		RootOffset:          pmtiles.HeaderLength,
		RootLength:          uint64(len(root)),
		InternalCompression: internal,
		TileCompression:     tileCompression,
		TileType:            tileType,
		MinZoom:             minZoom,
		MaxZoom:             maxZoom,
		AddressedTilesCount: uint64(len(ids)),
		TileEntriesCount:    uint64(len(entries)),
		TileContentsCount:   uint64(len(offsets)),
		Clustered:           true,
		MinLonE7:            -1800000000,
		MinLatE7:            -850000000,
		MaxLonE7:            1800000000,
		MaxLatE7:            850000000,
	}
	h.MetadataOffset = h.RootOffset + h.RootLength
	h.MetadataLength = uint64(len(metadata))
	h.LeafDirectoryOffset = h.MetadataOffset + h.MetadataLength
	h.LeafDirectoryLength = uint64(len(leaves))
	h.TileDataOffset = h.LeafDirectoryOffset + h.LeafDirectoryLength
	h.TileDataLength = uint64(len(tileData))

	out := h.Serialize()
	out = append(out, root...)
	out = append(out, metadata...)
	out = append(out, leaves...)
	out = append(out, tileData...)
	return out, nil
}

// MustBuild panics on error, for fixtures.
func MustBuild(a Archive) []byte {
	b, err := Build(a)
	if err != nil {
		panic(err)
	}
	return b
}

// Source serves an archive from memory and honours conditional reads.
type Source struct {
	mu      sync.Mutex
	key     string
	data    []byte
	etag    string
	version int
	calls   int
}

func NewSource(key string, data []byte) *Source {
	return &Source{key: key, data: data, etag: `"1"`}
}

func (m *Source) Key() string { return m.key }

// Replace swaps the archive contents and bumps the ETag.
func (m *Source) Replace(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.version++
	m.etag = fmt.Sprintf(`"%d"`, m.version+1)
}

func (m *Source) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Source) FetchRange(ctx context.Context, req s.RangeRequest) (s.RangeResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if err := ctx.Err(); err != nil {
		return s.RangeResponse{}, &e.TransportError{Key: m.key, Err: err}
	}
	if m.data == nil {
		return s.RangeResponse{}, fmt.Errorf("%s: %w", m.key, e.ErrArchiveUnavailable)
	}
	if req.IfMatchETag != "" && req.IfMatchETag != m.etag {
		return s.RangeResponse{}, fmt.Errorf("%s: %w", m.key, e.ErrEtagMismatch)
	}

	size := uint64(len(m.data))
	if req.Offset >= size {
		return s.RangeResponse{Data: []byte{}, ETag: m.etag}, nil
	}
	end := req.Offset + req.Length
	if end > size || end < req.Offset {
		end = size
	}
	out := make([]byte, end-req.Offset)
	copy(out, m.data[req.Offset:end])
	return s.RangeResponse{Data: out, ETag: m.etag}, nil
}
