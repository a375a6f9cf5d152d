package datarequest

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Decompress returns the plain payload of an item.
// lz4 payloads are raw blocks, so DataLength must carry the plain size.
func Decompress(it Item, raw []byte) ([]byte, error) {
	switch strings.ToLower(it.Compression) {
	case "", CompressionLZ4:
		if it.DataLength <= 0 {
			return nil, fmt.Errorf("lz4 block: dataLength required")
		}
		out := make([]byte, it.DataLength)
		n, err := lz4.UncompressBlock(raw, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 block: %w", err)
		}
		return out[:n], nil
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		out, err := dec.DecodeAll(raw, make([]byte, 0, max(it.DataLength, 0)))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return out, nil
	case CompressionNone:
		return raw, nil
	default:
		return nil, errCompression(it.Compression)
	}
}
