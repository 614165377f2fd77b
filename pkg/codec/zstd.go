// Package codec is the on-disk format shared by the rolling store, snapshots and artifacts:
// JSON compressed with zstd.
package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Ext is the file extension of compressed documents.
const Ext = ".json.zst"

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// Marshal encodes v as compressed JSON. Output is deterministic for a given value.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/4+64)), nil
}

// Unmarshal decodes compressed JSON into v.
func Unmarshal(b []byte, v any) error {
	raw, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return fmt.Errorf("zstd: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

// NewStreamDecoder returns a JSON decoder reading through a zstd stream. close must be called
// when done.
func NewStreamDecoder(r io.Reader) (dec *json.Decoder, close func(), err error) {
	zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, nil, fmt.Errorf("zstd: %w", err)
	}
	return json.NewDecoder(zr), zr.Close, nil
}
