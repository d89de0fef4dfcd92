// Package snapcodec compresses workspace snapshot payloads for in-memory storage.
//
// Snapshots are serialized editor state of up to two million characters per
// sprite. They compress extremely well (repetitive JSON), so the session layer
// stores them zstd-compressed and inflates on demand.
package snapcodec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Package-level encoder/decoder, safe for concurrent use.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("snapcodec: init zstd encoder: %v", err))
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("snapcodec: init zstd decoder: %v", err))
	}
}

// Compress compresses the given snapshot bytes using zstd.
func Compress(data []byte) []byte {
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

// Decompress inflates bytes previously produced by Compress.
func Decompress(data []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("snapcodec: decompress: %w", err)
	}
	return out, nil
}
