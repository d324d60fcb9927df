// Package pmtiles reads PMTiles v3 archives through a range-addressable source.
package pmtiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/s"
	"github.com/terrycain/tiles-server/pkg/storage/source"
)

var (
	ErrInvalidArchive = errors.New("invalid pmtiles archive")
	ErrUnsupported    = errors.New("unsupported pmtiles feature")
)

const maxDirectoryDepth = 4

type dirKey struct {
	etag   string
	offset uint64
	length uint64
}

// snapshot is everything read from one version of the archive. It is dropped
// as a whole when the archive's ETag changes.
type snapshot struct {
	header Header
	etag   string
	root   []Entry

	metadataMu sync.Mutex
	metadata   json.RawMessage
}

type Reader struct {
	src source.Source

	mu      sync.Mutex
	current *snapshot

	leaves *ttlcache.Cache[dirKey, []Entry]

	maxDecompressed int64
}

type Option func(*Reader)

// WithLeafCacheSize bounds how many decoded leaf directories are kept.
func WithLeafCacheSize(n uint64) Option {
	return func(r *Reader) {
		r.leaves = ttlcache.New[dirKey, []Entry](ttlcache.WithCapacity[dirKey, []Entry](n))
	}
}

// WithMaxDecompressedSize caps how large any decompressed directory, metadata
// document or tile may get.
func WithMaxDecompressedSize(n int64) Option {
	return func(r *Reader) { r.maxDecompressed = n }
}

func NewReader(src source.Source, options ...Option) *Reader {
	r := &Reader{src: src}
	for _, o := range options {
		o(r)
	}
	if r.leaves == nil {
		WithLeafCacheSize(64)(r)
	}
	return r
}

func (r *Reader) Key() string { return r.src.Key() }

// Header returns the archive header along with the ETag it was read under.
func (r *Reader) Header(ctx context.Context) (Header, string, error) {
	var h Header
	var etag string
	err := r.withSnapshot(ctx, func(snap *snapshot) error {
		h, etag = snap.header, snap.etag
		return nil
	})
	return h, etag, err
}

// Metadata returns the decompressed metadata JSON document as stored.
func (r *Reader) Metadata(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := r.withSnapshot(ctx, func(snap *snapshot) error {
		snap.metadataMu.Lock()
		defer snap.metadataMu.Unlock()
		if snap.metadata == nil {
			metadata, err := r.readMetadata(ctx, snap)
			if err != nil {
				return err
			}
			snap.metadata = metadata
		}
		out = snap.metadata
		return nil
	})
	return out, err
}

// Tile returns the decompressed tile at z/x/y, or e.ErrTileNotFound.
func (r *Reader) Tile(ctx context.Context, z uint8, x, y uint32) ([]byte, error) {
	var out []byte
	err := r.withSnapshot(ctx, func(snap *snapshot) error {
		if z < snap.header.MinZoom || z > snap.header.MaxZoom {
			return e.ErrTileNotFound
		}
		id, ok := ZxyToID(z, x, y)
		if !ok {
			return e.ErrTileNotFound
		}
		data, err := r.findTile(ctx, snap, id)
		if err != nil {
			return err
		}
		out, err = Decompress(data, snap.header.TileCompression, r.maxDecompressed)
		return err
	})
	return out, err
}

// withSnapshot runs fn against the current snapshot. When the archive changed
// underneath us the snapshot is dropped, re-read once and fn retried once.
func (r *Reader) withSnapshot(ctx context.Context, fn func(*snapshot) error) error {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return err
	}
	err = fn(snap)
	if !errors.Is(err, e.ErrEtagMismatch) {
		return err
	}

	log.Info().Str("archive", r.src.Key()).Str("etag", snap.etag).Msg("Archive changed while reading, reloading header")
	r.invalidate(snap)
	if snap, err = r.snapshot(ctx); err != nil {
		return err
	}
	return fn(snap)
}

func (r *Reader) snapshot(ctx context.Context) (*snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return r.current, nil
	}

	resp, err := r.src.FetchRange(ctx, s.RangeRequest{Offset: 0, Length: InitialFetch})
	if err != nil {
		return nil, err
	}
	header, err := ParseHeader(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.src.Key(), err)
	}

	snap := &snapshot{header: header, etag: resp.ETag}

	end, err := addOffset(header.RootOffset, header.RootLength)
	if err != nil {
		return nil, fmt.Errorf("%s: root directory: %w", r.src.Key(), err)
	}
	var rootData []byte
	if end <= uint64(len(resp.Data)) {
		rootData = resp.Data[header.RootOffset:end]
	} else {
		if rootData, err = r.read(ctx, snap, header.RootOffset, header.RootLength); err != nil {
			return nil, err
		}
	}
	if snap.root, err = decodeDirectory(rootData, header.InternalCompression, r.maxDecompressed); err != nil {
		return nil, fmt.Errorf("%s: root directory: %w", r.src.Key(), err)
	}

	r.current = snap
	return snap, nil
}

func (r *Reader) invalidate(snap *snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == snap {
		r.current = nil
	}
	r.leaves.DeleteAll()
}

// read fetches exactly length bytes pinned to the snapshot's ETag.
func (r *Reader) read(ctx context.Context, snap *snapshot, offset, length uint64) ([]byte, error) {
	if length == 0 {
		return []byte{}, nil
	}
	if _, err := addOffset(offset, length); err != nil {
		return nil, err
	}
	resp, err := r.src.FetchRange(ctx, s.RangeRequest{Offset: offset, Length: length, IfMatchETag: snap.etag})
	if err != nil {
		return nil, err
	}
	if uint64(len(resp.Data)) != length {
		return nil, fmt.Errorf("%w: wanted %d bytes at %d, got %d", ErrInvalidArchive, length, offset, len(resp.Data))
	}
	return resp.Data, nil
}

func (r *Reader) readMetadata(ctx context.Context, snap *snapshot) (json.RawMessage, error) {
	if snap.header.MetadataLength == 0 {
		return json.RawMessage("{}"), nil
	}
	data, err := r.read(ctx, snap, snap.header.MetadataOffset, snap.header.MetadataLength)
	if err != nil {
		return nil, err
	}
	data, err = Decompress(data, snap.header.InternalCompression, r.maxDecompressed)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: metadata is not valid JSON", ErrInvalidArchive)
	}
	return json.RawMessage(data), nil
}

func (r *Reader) findTile(ctx context.Context, snap *snapshot, id uint64) ([]byte, error) {
	entries := snap.root
	for depth := 0; depth < maxDirectoryDepth; depth++ {
		entry, ok := FindTile(entries, id)
		if !ok {
			return nil, e.ErrTileNotFound
		}
		if entry.RunLength > 0 {
			offset, err := addOffset(snap.header.TileDataOffset, entry.Offset)
			if err != nil {
				return nil, err
			}
			return r.read(ctx, snap, offset, uint64(entry.Length))
		}

		offset, err := addOffset(snap.header.LeafDirectoryOffset, entry.Offset)
		if err != nil {
			return nil, err
		}
		entries, err = r.leaf(ctx, snap, offset, uint64(entry.Length))
		if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: directory nesting deeper than %d", ErrInvalidArchive, maxDirectoryDepth)
}

func (r *Reader) leaf(ctx context.Context, snap *snapshot, offset, length uint64) ([]Entry, error) {
	key := dirKey{etag: snap.etag, offset: offset, length: length}
	if item := r.leaves.Get(key); item != nil {
		return item.Value(), nil
	}

	data, err := r.read(ctx, snap, offset, length)
	if err != nil {
		return nil, err
	}
	entries, err := decodeDirectory(data, snap.header.InternalCompression, r.maxDecompressed)
	if err != nil {
		return nil, fmt.Errorf("%s: leaf directory at %d: %w", r.src.Key(), offset, err)
	}
	r.leaves.Set(key, entries, ttlcache.DefaultTTL)
	return entries, nil
}

func decodeDirectory(data []byte, compression Compression, limit int64) ([]Entry, error) {
	raw, err := Decompress(data, compression, limit)
	if err != nil {
		return nil, err
	}
	return DeserializeEntries(raw)
}

// addOffset adds two archive offsets, rejecting sums that wrap.
func addOffset(a, b uint64) (uint64, error) {
	if sum := a + b; sum >= a {
		return sum, nil
	}
	return 0, fmt.Errorf("%w: offset %d+%d overflows", ErrInvalidArchive, a, b)
}
