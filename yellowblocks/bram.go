package yellowblocks

import (
	"context"

	"github.com/casper-tapcp/tapcpctl/tapcp"
)

// BRAM is a plain block-RAM yellow block addressed by fixed-width words.
type BRAM struct {
	t         *tapcp.Transport
	name      string
	size      int // words
	wordBytes int
}

// NewBRAM builds a BRAM bound to device name on t. size is the word
// count, derived from the gateware's addr_width metadata as 1<<addrWidth;
// wordBytes is the byte width of one word.
func NewBRAM(t *tapcp.Transport, name string, size, wordBytes int) *BRAM {
	return &BRAM{t: t, name: name, size: size, wordBytes: wordBytes}
}

// Size returns the BRAM's capacity in words.
func (b *BRAM) Size() int { return b.size }

// ReadAddr reads the word at addr.
func (b *BRAM) ReadAddr(ctx context.Context, addr int) ([]byte, error) {
	if addr >= b.size {
		return nil, &OutOfBoundsError{Name: b.name, Addr: addr, Limit: b.size}
	}
	return b.t.ReadNBytes(ctx, b.name, addr*b.wordBytes, b.wordBytes)
}

// WriteAddr writes val at addr.
func (b *BRAM) WriteAddr(ctx context.Context, addr int, val []byte) error {
	if addr >= b.size {
		return &OutOfBoundsError{Name: b.name, Addr: addr, Limit: b.size}
	}
	if len(val) != b.wordBytes {
		return &BadSizeError{Name: b.name, Want: b.wordBytes, Got: len(val)}
	}
	return b.t.WriteBytes(ctx, b.name, addr*b.wordBytes, val)
}

// Read reads the entire BRAM as size*wordBytes bytes.
func (b *BRAM) Read(ctx context.Context) ([]byte, error) {
	return b.t.ReadNBytes(ctx, b.name, 0, b.size*b.wordBytes)
}

// Write writes the entire BRAM. It fails BadSizeError if len(data) does
// not equal size*wordBytes.
func (b *BRAM) Write(ctx context.Context, data []byte) error {
	total := b.size * b.wordBytes
	if len(data) != total {
		return &BadSizeError{Name: b.name, Want: total, Got: len(data)}
	}
	return b.t.WriteBytes(ctx, b.name, 0, data)
}
