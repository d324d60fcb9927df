package s

import (
	"encoding/json"
	"strconv"
	"time"
)

type RangeRequest struct {
	Offset      uint64
	Length      uint64
	IfMatchETag string
}

// Header returns the inclusive HTTP range header value for the request.
func (r RangeRequest) Header() string {
	return "bytes=" + strconv.FormatUint(r.Offset, 10) + "-" + strconv.FormatUint(r.Offset+r.Length-1, 10)
}

type RangeResponse struct {
	Data         []byte
	ETag         string
	Expires      *time.Time
	CacheControl string
}

const (
	CredentialModeDirect  = "direct"
	CredentialModePresign = "presign"
)

// Credential is either a presigned URL or, when URL is empty, a marker that the
// object is read directly with the process' own identity.
type Credential struct {
	ArchiveID string
	Key       string
	URL       string
	IssuedAt  time.Time
	TTL       time.Duration
}

func (c Credential) Direct() bool { return c.URL == "" }

func (c Credential) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.TTL)
}

// Expired reports whether the credential is no longer usable at now. Direct
// credentials never expire.
func (c Credential) Expired(now time.Time) bool {
	if c.Direct() || c.TTL <= 0 {
		return false
	}
	return !now.Before(c.ExpiresAt())
}

type Kind int

const (
	KindListing Kind = iota
	KindPreview
	KindMetadata
	KindTileJSON
	KindTile
)

func (k Kind) String() string {
	switch k {
	case KindListing:
		return "listing"
	case KindPreview:
		return "preview"
	case KindMetadata:
		return "metadata"
	case KindTileJSON:
		return "tilejson"
	case KindTile:
		return "tile"
	default:
		return "unknown"
	}
}

// CacheEntry is a fully rendered response. Entries are replaced wholesale and
// only ever expire by TTL.
type CacheEntry struct {
	Key         string        `cbor:"1,keyasint" json:"key"`
	Kind        Kind          `cbor:"2,keyasint" json:"kind"`
	Status      int           `cbor:"3,keyasint" json:"status"`
	ContentType string        `cbor:"4,keyasint" json:"contentType"`
	ETag        string        `cbor:"5,keyasint,omitempty" json:"etag,omitempty"`
	Payload     []byte        `cbor:"6,keyasint" json:"payload"`
	StoredAt    time.Time     `cbor:"7,keyasint" json:"storedAt"`
	TTL         time.Duration `cbor:"8,keyasint" json:"ttl"`
}

func (c CacheEntry) ExpiresAt() time.Time {
	return c.StoredAt.Add(c.TTL)
}

func (c CacheEntry) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt())
}

type VectorLayer struct {
	ID          string            `json:"id"`
	Description string            `json:"description,omitempty"`
	MinZoom     int               `json:"minzoom"`
	MaxZoom     int               `json:"maxzoom"`
	Fields      map[string]string `json:"fields,omitempty"`
}

type TileStatsLayer struct {
	Layer    string `json:"layer"`
	Geometry string `json:"geometry"`
}

type TileStats struct {
	Layers []TileStatsLayer `json:"layers"`
}

// ArchiveMetadata is the subset of the archive's metadata document needed to
// build a preview style and a TileJSON document.
type ArchiveMetadata struct {
	Name         string        `json:"name,omitempty"`
	Attribution  string        `json:"attribution,omitempty"`
	VectorLayers []VectorLayer `json:"vector_layers"`
	TileStats    TileStats     `json:"tilestats"`
}

func ParseArchiveMetadata(raw json.RawMessage) (ArchiveMetadata, error) {
	var m ArchiveMetadata
	if len(raw) == 0 {
		return m, nil
	}
	err := json.Unmarshal(raw, &m)
	return m, err
}

// StorageConfig carries every object store setting; each backend reads the
// fields it needs.
type StorageConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	Prefix          string
	Extension       string

	AzureConnectionString string
	DiskPath              string
}
