package pmtiles

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	HeaderLength = 127
	// InitialFetch covers the header and, for well-formed archives, the root
	// directory in a single read.
	InitialFetch = 16384
)

var magic = []byte("PMTiles")

type Compression uint8

const (
	CompressionUnknown Compression = iota
	CompressionNone
	CompressionGzip
	CompressionBrotli
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionBrotli:
		return "br"
	case CompressionZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

type TileType uint8

const (
	TileTypeUnknown TileType = iota
	TileTypeMvt
	TileTypePng
	TileTypeJpeg
	TileTypeWebp
	TileTypeAvif
)

// ContentType is the HTTP media type for tiles of this type.
func (t TileType) ContentType() string {
	switch t {
	case TileTypeMvt:
		return "application/vnd.mapbox-vector-tile"
	case TileTypePng:
		return "image/png"
	case TileTypeJpeg:
		return "image/jpeg"
	case TileTypeWebp:
		return "image/webp"
	case TileTypeAvif:
		return "image/avif"
	default:
		return "application/octet-stream"
	}
}

type Header struct {
	SpecVersion         uint8
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

func ParseHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderLength {
		return h, fmt.Errorf("%w: header is %d bytes", ErrInvalidArchive, len(b))
	}
	if !bytes.Equal(b[0:7], magic) {
		return h, fmt.Errorf("%w: bad magic number", ErrInvalidArchive)
	}
	h.SpecVersion = b[7]
	if h.SpecVersion != 3 {
		return h, fmt.Errorf("%w: unsupported spec version %d", ErrInvalidArchive, h.SpecVersion)
	}

	le := binary.LittleEndian
	h.RootOffset = le.Uint64(b[8:16])
	h.RootLength = le.Uint64(b[16:24])
	h.MetadataOffset = le.Uint64(b[24:32])
	h.MetadataLength = le.Uint64(b[32:40])
	h.LeafDirectoryOffset = le.Uint64(b[40:48])
	h.LeafDirectoryLength = le.Uint64(b[48:56])
	h.TileDataOffset = le.Uint64(b[56:64])
	h.TileDataLength = le.Uint64(b[64:72])
	h.AddressedTilesCount = le.Uint64(b[72:80])
	h.TileEntriesCount = le.Uint64(b[80:88])
	h.TileContentsCount = le.Uint64(b[88:96])
	h.Clustered = b[96] == 1
	h.InternalCompression = Compression(b[97])
	h.TileCompression = Compression(b[98])
	h.TileType = TileType(b[99])
	h.MinZoom = b[100]
	h.MaxZoom = b[101]
	h.MinLonE7 = int32(le.Uint32(b[102:106]))
	h.MinLatE7 = int32(le.Uint32(b[106:110]))
	h.MaxLonE7 = int32(le.Uint32(b[110:114]))
	h.MaxLatE7 = int32(le.Uint32(b[114:118]))
	h.CenterZoom = b[118]
	h.CenterLonE7 = int32(le.Uint32(b[119:123]))
	h.CenterLatE7 = int32(le.Uint32(b[123:127]))
	return h, nil
}

// Serialize is the inverse of ParseHeader.
func (h Header) Serialize() []byte {
	b := make([]byte, HeaderLength)
	copy(b[0:7], magic)
	b[7] = 3

	le := binary.LittleEndian
	le.PutUint64(b[8:16], h.RootOffset)
	le.PutUint64(b[16:24], h.RootLength)
	le.PutUint64(b[24:32], h.MetadataOffset)
	le.PutUint64(b[32:40], h.MetadataLength)
	le.PutUint64(b[40:48], h.LeafDirectoryOffset)
	le.PutUint64(b[48:56], h.LeafDirectoryLength)
	le.PutUint64(b[56:64], h.TileDataOffset)
	le.PutUint64(b[64:72], h.TileDataLength)
	le.PutUint64(b[72:80], h.AddressedTilesCount)
	le.PutUint64(b[80:88], h.TileEntriesCount)
	le.PutUint64(b[88:96], h.TileContentsCount)
	if h.Clustered {
		b[96] = 1
	}
	b[97] = uint8(h.InternalCompression)
	b[98] = uint8(h.TileCompression)
	b[99] = uint8(h.TileType)
	b[100] = h.MinZoom
	b[101] = h.MaxZoom
	le.PutUint32(b[102:106], uint32(h.MinLonE7))
	le.PutUint32(b[106:110], uint32(h.MinLatE7))
	le.PutUint32(b[110:114], uint32(h.MaxLonE7))
	le.PutUint32(b[114:118], uint32(h.MaxLatE7))
	b[118] = h.CenterZoom
	le.PutUint32(b[119:123], uint32(h.CenterLonE7))
	le.PutUint32(b[123:127], uint32(h.CenterLatE7))
	return b
}

// Bounds returns min lon, min lat, max lon, max lat in degrees.
func (h Header) Bounds() [4]float64 {
	return [4]float64{
		float64(h.MinLonE7) / 1e7,
		float64(h.MinLatE7) / 1e7,
		float64(h.MaxLonE7) / 1e7,
		float64(h.MaxLatE7) / 1e7,
	}
}

// Center returns lon, lat, zoom.
func (h Header) Center() [3]float64 {
	return [3]float64{
		float64(h.CenterLonE7) / 1e7,
		float64(h.CenterLatE7) / 1e7,
		float64(h.CenterZoom),
	}
}
