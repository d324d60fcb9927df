package pmtiles

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// DefaultMaxDecompressed bounds one decompressed directory, metadata document
// or tile when the reader is given no limit.
const DefaultMaxDecompressed = 64 << 20

var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(DefaultMaxDecompressed),
	)
	if err != nil {
		panic("pmtiles: zstd decoder initialization failed: " + err.Error())
	}
}

// Decompress inflates data, failing with ErrInvalidArchive once the output
// would exceed limit bytes. A limit of 0 means DefaultMaxDecompressed.
func Decompress(data []byte, compression Compression, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxDecompressed
	}

	var out []byte
	switch compression {
	case CompressionNone, CompressionUnknown:
		return data, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}
		defer zr.Close()
		if out, err = io.ReadAll(io.LimitReader(zr, limit+1)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}
	case CompressionZstd:
		var err error
		if out, err = zstdDecoder.DecodeAll(data, nil); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s compression", ErrUnsupported, compression)
	}

	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w: decompresses past %d bytes", ErrInvalidArchive, limit)
	}
	return out, nil
}

// Compress is used by tooling and tests that build archives.
func Compress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone, CompressionUnknown:
		return data, nil
	case CompressionGzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("%w: %s compression", ErrUnsupported, compression)
	}
}
