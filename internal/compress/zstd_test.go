package compress

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressDecodeRoundTripSmall(t *testing.T) {
	p, err := NewPool()
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	data := []byte("short body")
	out, err := p.Decode(p.Compress(data))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("got %q, want %q", out, data)
	}
}

func TestCompressDecodeRoundTripLarge(t *testing.T) {
	p, err := NewPool()
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	data := []byte(strings.Repeat("System.Collections.Generic.List`1[[System.Int32]]", 50))
	compressed := p.Compress(data)
	if compressed[1] != compTypeZstd {
		t.Fatalf("expected zstd tag for large body, got %d", compressed[1])
	}
	if len(compressed) >= len(data) {
		t.Fatalf("expected compression to shrink repetitive data: %d >= %d", len(compressed), len(data))
	}

	out, err := p.Decode(compressed)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecodeUntaggedBodyPassesThrough(t *testing.T) {
	p := SharedPool()
	legacy := []byte{0x7f, 0x01, 0x02}
	out, err := p.Decode(legacy)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(out, legacy) {
		t.Fatalf("expected untagged body unchanged")
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	p := SharedPool()
	out, err := p.Decode(nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %v", out)
	}
}
