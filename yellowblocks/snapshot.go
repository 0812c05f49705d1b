package yellowblocks

import (
	"context"
	"fmt"

	"github.com/casper-tapcp/tapcpctl/regval"
	"github.com/casper-tapcp/tapcpctl/tapcp"
)

// snapCtrl is the packed control word for a snapshot block's "<name>_ctrl"
// register: a 4-byte msb0 bit-struct carrying the arm, trigger-override,
// write-enable-override, and circular-capture flags.
type snapCtrl struct {
	Arm                bool
	TrigOverride       bool
	WriteEnableOverride bool
	CircularCapture    bool
}

func (c snapCtrl) pack() []byte {
	bb := regval.NewBitBuf(4)
	bb.SetBool(0, c.Arm)
	bb.SetBool(1, c.TrigOverride)
	bb.SetBool(2, c.WriteEnableOverride)
	bb.SetBool(3, c.CircularCapture)
	return bb.Bytes()
}

func unpackSnapCtrl(b []byte) (snapCtrl, error) {
	if len(b) != 4 {
		return snapCtrl{}, fmt.Errorf("yellowblocks: snapshot control: need 4 bytes, got %d", len(b))
	}
	bb := regval.BitBufFrom(b)
	return snapCtrl{
		Arm:                 bb.Bool(0),
		TrigOverride:        bb.Bool(1),
		WriteEnableOverride: bb.Bool(2),
		CircularCapture:     bb.Bool(3),
	}, nil
}

// SnapshotBlock is a one-shot capture buffer with three sibling registers
// (<name>_ctrl, <name>_status, <name>_bram) and an optional fourth
// (<name>_trig_offset).
type SnapshotBlock struct {
	t         *tapcp.Transport
	name      string
	hasOffset bool
	samplesN  uint32 // sample count = 2^samplesN

	// SampleWidthBits is the per-sample bit width declared by the
	// gateware's "data_width" metadata (8/16/32/64/128).
	SampleWidthBits int
}

// NewSnapshotBlock builds a SnapshotBlock bound to device name on t.
// sampleWidthBits is the per-sample bit width (8/16/32/64/128).
func NewSnapshotBlock(t *tapcp.Transport, name string, hasOffset bool, samplesN uint32, sampleWidthBits int) *SnapshotBlock {
	return &SnapshotBlock{t: t, name: name, hasOffset: hasOffset, samplesN: samplesN, SampleWidthBits: sampleWidthBits}
}

func (s *SnapshotBlock) ctrlReg() string   { return s.name + "_ctrl" }
func (s *SnapshotBlock) statusReg() string { return s.name + "_status" }
func (s *SnapshotBlock) bramReg() string   { return s.name + "_bram" }
func (s *SnapshotBlock) offsetReg() string { return s.name + "_trig_offset" }

// Arm writes a cleared control word followed by one with Arm set, so the
// next trigger begins a capture.
func (s *SnapshotBlock) Arm(ctx context.Context) error {
	if err := s.t.WriteBytes(ctx, s.ctrlReg(), 0, snapCtrl{}.pack()); err != nil {
		return err
	}
	return s.t.WriteBytes(ctx, s.ctrlReg(), 0, snapCtrl{Arm: true}.pack())
}

// Trigger reads the current control word, sets TrigOverride, and writes
// it back, forcing an immediate capture.
func (s *SnapshotBlock) Trigger(ctx context.Context) error {
	raw, err := s.t.ReadNBytes(ctx, s.ctrlReg(), 0, 4)
	if err != nil {
		return err
	}
	ctrl, err := unpackSnapCtrl(raw)
	if err != nil {
		return err
	}
	ctrl.TrigOverride = true
	return s.t.WriteBytes(ctx, s.ctrlReg(), 0, ctrl.pack())
}

// Read reads and discards the status word, then returns 2^samplesN bytes
// from the bram register.
func (s *SnapshotBlock) Read(ctx context.Context) ([]byte, error) {
	if _, err := s.t.ReadNBytes(ctx, s.statusReg(), 0, 4); err != nil {
		return nil, err
	}
	n := int(uint64(1) << s.samplesN)
	return s.t.ReadNBytes(ctx, s.bramReg(), 0, n)
}

// SetOffset writes n to the trigger-offset register. It fails
// NoOffsetsError if this block was built without one.
func (s *SnapshotBlock) SetOffset(ctx context.Context, n uint32) error {
	if !s.hasOffset {
		return &NoOffsetsError{Name: s.name}
	}
	b := regval.Uint32BE(n)
	return s.t.WriteBytes(ctx, s.offsetReg(), 0, b[:])
}
