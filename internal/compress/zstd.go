// Package compress provides optional zstd compression for oversized
// frame bodies: the transport prefixes every body with a two-byte tag
// and zstd-compresses those of at least Threshold bytes. Decode returns
// a body whose first byte is not the tag byte unchanged; an untagged
// body that starts with 0x00 is read as tagged.
package compress

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	flagNewFormat byte = 0x00
	compTypeRaw   byte = 0x00
	compTypeZstd  byte = 0x01
)

// Threshold is the body size above which the transport bothers
// compressing at all; below it the framing overhead of the tag bytes
// isn't worth paying for.
const Threshold = 512

// Pool provides goroutine-safe zstd compression/decompression reusing a
// single encoder/decoder pair.
type Pool struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewPool creates a compression pool with a reusable encoder/decoder.
func NewPool() (*Pool, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}

	return &Pool{encoder: enc, decoder: dec}, nil
}

// Compress returns [0x00][0x01][zstd payload] when data is at least
// Threshold bytes, and the untouched data otherwise (still tagged as
// raw so Decode doesn't need to guess).
func (p *Pool) Compress(data []byte) []byte {
	if len(data) < Threshold {
		out := make([]byte, 2+len(data))
		out[0] = flagNewFormat
		out[1] = compTypeRaw
		copy(out[2:], data)
		return out
	}

	compressed := p.encoder.EncodeAll(data, nil)
	out := make([]byte, 2+len(compressed))
	out[0] = flagNewFormat
	out[1] = compTypeZstd
	copy(out[2:], compressed)
	return out
}

// Decode detects the format and decompresses if needed.
//   - body[0] == 0x00 → tagged format: body[1] selects the codec
//   - otherwise       → pre-tagging body, returned as-is
func (p *Pool) Decode(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return body, nil
	}
	if body[0] != flagNewFormat || len(body) < 2 {
		return body, nil
	}

	switch body[1] {
	case compTypeRaw:
		return body[2:], nil
	case compTypeZstd:
		return p.decoder.DecodeAll(body[2:], nil)
	default:
		return body[2:], nil
	}
}

// Close releases the encoder and decoder. Do not call on SharedPool.
func (p *Pool) Close() {
	if p.encoder != nil {
		p.encoder.Close()
	}
	if p.decoder != nil {
		p.decoder.Close()
	}
}

var (
	sharedPool *Pool
	sharedOnce sync.Once
)

// SharedPool returns a process-wide singleton Pool. EncodeAll/DecodeAll
// are goroutine-safe, so one Pool is sufficient for every connection.
func SharedPool() *Pool {
	sharedOnce.Do(func() {
		p, err := NewPool()
		if err != nil {
			panic("compress: failed to initialize shared pool: " + err.Error())
		}
		sharedPool = p
	})
	return sharedPool
}
