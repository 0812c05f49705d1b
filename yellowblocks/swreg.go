package yellowblocks

import (
	"context"

	"github.com/casper-tapcp/tapcpctl/regval"
	"github.com/casper-tapcp/tapcpctl/tapcp"
)

// Direction is the IO direction of a software register, as named by the
// gateware's "io_dir" metadata.
type Direction int

const (
	// ToProcessor registers are written by the fabric and only readable
	// from the host.
	ToProcessor Direction = iota
	// FromProcessor registers are written by the host and read by the
	// fabric.
	FromProcessor
)

// Kind classifies a software register's value representation, selected
// by the gateware's "arith_types" metadata: 0 unsigned fixed, 1 signed
// fixed, 2 boolean.
type Kind int

const (
	KindFixedPoint Kind = iota
	KindBoolean
)

// SoftwareRegister is the unidirectional 32-bit "sw_reg" yellow block: a
// single word the fabric and the host pass values through, one direction
// at a time.
type SoftwareRegister struct {
	t         *tapcp.Transport
	name      string
	direction Direction
	width     uint
	kind      Kind
	fp        regval.FixedPoint
}

// NewSoftwareRegister builds a SoftwareRegister bound to device name on t.
// width is the register's bit width (1..=32); fp is only consulted when
// kind is KindFixedPoint.
func NewSoftwareRegister(t *tapcp.Transport, name string, direction Direction, width uint, kind Kind, fp regval.FixedPoint) *SoftwareRegister {
	return &SoftwareRegister{t: t, name: name, direction: direction, width: width, kind: kind, fp: fp}
}

// Name returns the device name this register is bound to.
func (r *SoftwareRegister) Name() string { return r.name }

// Direction reports whether the register is host-readable or
// host-writable.
func (r *SoftwareRegister) Direction() Direction { return r.direction }

// Read returns the register's current value: a 4-byte read at offset 0,
// decoded per r.kind.
func (r *SoftwareRegister) Read(ctx context.Context) (float64, error) {
	raw, err := r.t.ReadNBytes(ctx, r.name, 0, 4)
	if err != nil {
		return 0, err
	}
	if r.kind == KindBoolean {
		b, err := regval.ParseBool32(raw)
		if err != nil {
			return 0, err
		}
		if b {
			return 1, nil
		}
		return 0, nil
	}
	return r.fp.Unpack(raw)
}

// Write encodes v and writes it at offset 0. It fails ReadOnlyError if
// the register's direction is ToProcessor, and OverflowError if the
// fixed-point magnitude of v does not fit the register's width.
func (r *SoftwareRegister) Write(ctx context.Context, v float64) error {
	if r.direction == ToProcessor {
		return &ReadOnlyError{Name: r.name}
	}

	var raw [4]byte
	if r.kind == KindBoolean {
		raw = regval.Bool32(v != 0)
	} else {
		limit := r.fp.Range(r.width)
		if v < 0 {
			if -v > limit {
				return &OverflowError{Name: r.name, Value: v, Limit: limit}
			}
		} else if v > limit {
			return &OverflowError{Name: r.name, Value: v, Limit: limit}
		}
		b, err := r.fp.Pack(v)
		if err != nil {
			return &OverflowError{Name: r.name, Value: v, Limit: limit}
		}
		raw = b
	}
	return r.t.WriteBytes(ctx, r.name, 0, raw[:])
}
