package savestate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// MaxBodySize bounds a decompressed body.
const MaxBodySize = 1 << 20

var ErrBodyTooLarge = errors.New("savestate: body exceeds MaxBodySize")

var (
	writers = sync.Pool{New: func() any { return lz4.NewWriter(nil) }}
	readers = sync.Pool{New: func() any { return lz4.NewReader(nil) }}
)

// Compress frames body as an LZ4 stream with a content checksum.
func Compress(body []byte) ([]byte, error) {
	zw := writers.Get().(*lz4.Writer)
	defer writers.Put(zw)

	out := bytes.NewBuffer(make([]byte, 0, len(body)/2+64))
	zw.Reset(out)
	if err := zw.Apply(lz4.ChecksumOption(true), lz4.CompressionLevelOption(lz4.Fast)); err != nil {
		return nil, fmt.Errorf("savestate: compress: %w", err)
	}
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("savestate: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("savestate: compress: %w", err)
	}
	return out.Bytes(), nil
}

// Decompress reverses Compress, refusing output above MaxBodySize.
func Decompress(stream []byte) ([]byte, error) {
	zr := readers.Get().(*lz4.Reader)
	defer readers.Put(zr)
	zr.Reset(bytes.NewReader(stream))

	body, err := io.ReadAll(io.LimitReader(zr, MaxBodySize+1))
	switch {
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	case len(body) > MaxBodySize:
		return nil, ErrBodyTooLarge
	}
	return body, nil
}
