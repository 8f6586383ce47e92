package store

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Feed payloads are verbose XML that compresses roughly 10:1, so raw bodies
// are zstd-compressed at rest.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

type payloadCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newPayloadCodec() (*payloadCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &payloadCodec{enc: enc, dec: dec}, nil
}

func (c *payloadCodec) compress(p []byte) []byte {
	if len(p) == 0 {
		return nil
	}
	return c.enc.EncodeAll(p, make([]byte, 0, len(p)/2))
}

// decompress returns the stored bytes unchanged when they do not carry a
// zstd frame (rows written before compression, or a corrupt frame).
func (c *payloadCodec) decompress(p []byte) []byte {
	if !bytes.HasPrefix(p, zstdMagic) {
		return p
	}
	out, err := c.dec.DecodeAll(p, nil)
	if err != nil {
		return p
	}
	return out
}
