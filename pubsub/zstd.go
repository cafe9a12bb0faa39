package pubsub

import (
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/halvorsen/parlor/wire"
)

var _ wire.Codec = (*ZstdCodec)(nil)

// ZstdCodec compresses envelope bytes for the wire with zstd, satisfying
// wire.Codec. Encoder/decoder are reused across calls — both are safe for
// concurrent use per the klauspost/compress docs — since construction
// allocates a window buffer that is wasteful to redo per message.
type ZstdCodec struct {
	once    sync.Once
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	initErr error
}

func (z *ZstdCodec) init() {
	z.once.Do(func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			z.initErr = err
			return
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			z.initErr = err
			return
		}
		z.enc = enc
		z.dec = dec
	})
}

// Encode compresses data.
func (z *ZstdCodec) Encode(data []byte) ([]byte, error) {
	z.init()
	if z.initErr != nil {
		return nil, z.initErr
	}
	return z.enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

// Decode decompresses data previously produced by Encode.
func (z *ZstdCodec) Decode(data []byte) ([]byte, error) {
	z.init()
	if z.initErr != nil {
		return nil, z.initErr
	}
	return z.dec.DecodeAll(data, nil)
}
