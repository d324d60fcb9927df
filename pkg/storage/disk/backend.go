package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	p "path"
	"sort"
	"strings"
	"time"

	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/s"
	"github.com/terrycain/tiles-server/pkg/storage/source"
	"github.com/terrycain/tiles-server/pkg/utils"
)

// Backend serves archives from a local directory.
type Backend struct {
	BaseDir   string
	extension string
}

func New(config s.StorageConfig) (*Backend, error) {
	if config.DiskPath == "" {
		return nil, &e.ConfigurationError{Field: "disk path"}
	}
	if _, err := os.Stat(config.DiskPath); os.IsNotExist(err) {
		return nil, errors.New("path does not exist")
	}
	if config.Extension == "" {
		config.Extension = ".pmtiles"
	}

	backend := Backend{BaseDir: p.Clean(config.DiskPath), extension: config.Extension}
	return &backend, nil
}

func (b *Backend) Setup() error {
	return nil
}

func (b *Backend) Type() string {
	return "disk"
}

// CredentialModes is direct only, there is nothing to sign a local file with.
func (b *Backend) CredentialModes() []string {
	return []string{s.CredentialModeDirect}
}

func (b *Backend) ObjectKey(id string) string {
	return id + b.extension
}

func (b *Backend) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.BaseDir)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		keys = append(keys, entry.Name())
	}
	sort.Strings(keys)
	return utils.ArchiveIDs(keys, b.extension), nil
}

func (b *Backend) DirectSource(id string) (source.Source, error) {
	path, err := b.GetFilePath(b.ObjectKey(id))
	if err != nil {
		return nil, err
	}
	return &Source{path: path}, nil
}

func (b *Backend) Presign(ctx context.Context, id string, expiry time.Duration) (string, error) {
	return "", e.ErrNotImplemented
}

func (b *Backend) GetFilePath(key string) (string, error) {
	filePath := p.Clean(p.Join(b.BaseDir, key))
	if !strings.HasPrefix(filePath, b.BaseDir+"/") {
		return "", e.ErrNotFound
	}

	return filePath, nil
}

// Source opens the file for every read so it holds no descriptors between
// requests.
type Source struct {
	path string
}

func (src *Source) Key() string {
	return "file://" + src.path
}

func (src *Source) FetchRange(ctx context.Context, req s.RangeRequest) (s.RangeResponse, error) {
	if err := source.Validate(req); err != nil {
		return s.RangeResponse{}, err
	}
	if err := ctx.Err(); err != nil {
		return s.RangeResponse{}, &e.TransportError{Key: src.path, Err: err}
	}

	fp, err := os.Open(src.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.RangeResponse{}, fmt.Errorf("%s: %w", src.path, e.ErrArchiveUnavailable)
		}
		return s.RangeResponse{}, &e.TransportError{Key: src.path, Err: err}
	}
	defer fp.Close()

	info, err := fp.Stat()
	if err != nil {
		return s.RangeResponse{}, &e.TransportError{Key: src.path, Err: err}
	}
	etag := ETag(info)
	if req.IfMatchETag != "" && req.IfMatchETag != etag {
		return s.RangeResponse{}, fmt.Errorf("%s: %w", src.path, e.ErrEtagMismatch)
	}

	size := uint64(info.Size())
	if req.Offset >= size {
		return s.RangeResponse{Data: []byte{}, ETag: etag}, nil
	}
	length := req.Length
	if req.Offset+length > size {
		length = size - req.Offset
	}

	data := make([]byte, length)
	if _, err = fp.ReadAt(data, int64(req.Offset)); err != nil && !errors.Is(err, io.EOF) {
		return s.RangeResponse{}, &e.TransportError{Key: src.path, Err: err}
	}

	return s.RangeResponse{Data: data, ETag: etag}, nil
}

// ETag changes whenever the file is rewritten.
func ETag(info os.FileInfo) string {
	return fmt.Sprintf(`"%x-%x"`, info.ModTime().UnixNano(), info.Size())
}
