package yellowblocks

import (
	"context"

	"github.com/casper-tapcp/tapcpctl/regval"
	"github.com/casper-tapcp/tapcpctl/tapcp"
)

// ADC16Controller drives up to eight HMCAD1511 chips over a bit-banged
// 3-wire bus exposed through two registers inside one gateware device,
// "<name>" at offset 0 (the 3-wire lines) and offset 4 (the control
// register).
//
// Every operation acts on whichever chips are currently selected; callers
// switch chips with SelectChips before calling a chip-level operation.
type ADC16Controller struct {
	t    *tapcp.Transport
	name string
	cs   ChipSelect
}

// NewADC16Controller builds an ADC16Controller bound to device name on t.
func NewADC16Controller(t *tapcp.Transport, name string) *ADC16Controller {
	return &ADC16Controller{t: t, name: name}
}

// ChipSelect is an 8-bit mask identifying which chips a 3-wire
// transaction, or a control-register bitslip pulse, addresses; bit i
// selects chip i.
type ChipSelect uint8

// ChipMask builds a ChipSelect with exactly the given chip numbers set.
func ChipMask(chips ...int) ChipSelect {
	var m ChipSelect
	for _, n := range chips {
		m |= 1 << uint(n)
	}
	return m
}

// AllChips selects all eight chip-select positions.
const AllChips ChipSelect = 0xFF

// SelectChips sets the mask subsequent 3-wire and control-register
// operations address.
func (c *ADC16Controller) SelectChips(mask ChipSelect) { c.cs = mask }

// ChipSelected returns the controller's current chip-select mask.
func (c *ADC16Controller) ChipSelected() ChipSelect { return c.cs }

// adc3Wire is the packed 3-wire register at offset 0: the live state of
// the bit-banged clock/data lines plus the chip-select mask.
type adc3Wire struct {
	Sclk  bool
	Sdata bool
	Cs    ChipSelect
}

func (w adc3Wire) pack() []byte {
	bb := regval.NewBitBuf(4)
	bb.SetBool(0, w.Sclk)
	bb.SetBool(1, w.Sdata)
	bb.SetUint(8, 8, uint64(w.Cs))
	return bb.Bytes()
}

func (c *ADC16Controller) write3Wire(ctx context.Context, w adc3Wire) error {
	return c.t.WriteBytes(ctx, c.name, 0, w.pack())
}

// idle returns the 3-wire idle word: sclk high, sdata low, chip-select
// set to the controller's current mask.
func (c *ADC16Controller) idle() adc3Wire {
	return adc3Wire{Sclk: true, Sdata: false, Cs: c.cs}
}

// sendBit clocks a single data bit out on sdata: writes sclk low with
// sdata set, then sclk high, each a separate register write, so the chip
// samples sdata on the rising edge.
func (c *ADC16Controller) sendBit(ctx context.Context, bit bool) error {
	if err := c.write3Wire(ctx, adc3Wire{Sclk: false, Sdata: bit, Cs: c.cs}); err != nil {
		return err
	}
	return c.write3Wire(ctx, adc3Wire{Sclk: true, Sdata: bit, Cs: c.cs})
}

// sendRaw bit-bangs one idle word, the 8-bit chip address MSB-first, the
// 16-bit data word MSB-first, then an idle word again.
func (c *ADC16Controller) sendRaw(ctx context.Context, addr uint8, data uint16) error {
	if err := c.write3Wire(ctx, c.idle()); err != nil {
		return err
	}
	for i := 7; i >= 0; i-- {
		if err := c.sendBit(ctx, (addr>>uint(i))&1 != 0); err != nil {
			return err
		}
	}
	for i := 15; i >= 0; i-- {
		if err := c.sendBit(ctx, (data>>uint(i))&1 != 0); err != nil {
			return err
		}
	}
	return c.write3Wire(ctx, c.idle())
}

// send writes reg to every chip currently selected.
func (c *ADC16Controller) send(ctx context.Context, reg chipRegister) error {
	return c.sendRaw(ctx, reg.chipAddr(), reg.chipData())
}

// adcControl is the packed control register at offset 4: the demux probe
// bit, demux mode, reset, snap request, and an 8-bit bitslip mask
// parallel to chip-select. DelayTaps is carried through read-modify-write
// sequences untouched; no public operation drives it.
type adcControl struct {
	DemuxWriteEnable bool
	DemuxMode        ChannelNum
	Reset            bool
	SnapRequest      bool
	Bitslip          ChipSelect
	DelayTaps        [5]uint8
}

func (r adcControl) pack() []byte {
	bb := regval.NewBitBuf(4)
	bb.SetBool(0, r.DemuxWriteEnable)
	bb.SetUint(1, 3, uint64(r.DemuxMode))
	bb.SetBool(4, r.Reset)
	bb.SetBool(5, r.SnapRequest)
	bb.SetUint(8, 8, uint64(r.Bitslip))
	for i, tap := range r.DelayTaps {
		bb.SetUint(16+3*i, 3, uint64(tap))
	}
	return bb.Bytes()
}

func unpackAdcControl(b []byte) adcControl {
	bb := regval.BitBufFrom(b)
	r := adcControl{
		DemuxWriteEnable: bb.Bool(0),
		DemuxMode:        ChannelNum(bb.Uint(1, 3)),
		Reset:            bb.Bool(4),
		SnapRequest:      bb.Bool(5),
		Bitslip:          ChipSelect(bb.Uint(8, 8)),
	}
	for i := range r.DelayTaps {
		r.DelayTaps[i] = uint8(bb.Uint(16+3*i, 3))
	}
	return r
}

func (c *ADC16Controller) readControl(ctx context.Context) (adcControl, error) {
	raw, err := c.t.ReadNBytes(ctx, c.name, 4, 4)
	if err != nil {
		return adcControl{}, err
	}
	return unpackAdcControl(raw), nil
}

func (c *ADC16Controller) writeControl(ctx context.Context, v adcControl) error {
	return c.t.WriteBytes(ctx, c.name, 4, v.pack())
}

// SupportsDemux sets the demux probe bit, reads it back, and reports
// whether the gateware supports demultiplexing: true iff the bit reads
// back zero. The probe bit is always left clear afterward.
func (c *ADC16Controller) SupportsDemux(ctx context.Context) (bool, error) {
	cur, err := c.readControl(ctx)
	if err != nil {
		return false, err
	}
	cur.DemuxWriteEnable = true
	if err := c.writeControl(ctx, cur); err != nil {
		return false, err
	}
	after, err := c.readControl(ctx)
	if err != nil {
		return false, err
	}
	supported := !after.DemuxWriteEnable
	after.DemuxWriteEnable = false
	if err := c.writeControl(ctx, after); err != nil {
		return false, err
	}
	return supported, nil
}

// SetDemux fails NotSupportedError if SupportsDemux reports false;
// otherwise read-modify-writes the control register's demux mode,
// preserving every other field.
func (c *ADC16Controller) SetDemux(ctx context.Context, mode ChannelNum) error {
	ok, err := c.SupportsDemux(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return &NotSupportedError{Reason: "gateware control register does not support demux"}
	}
	cur, err := c.readControl(ctx)
	if err != nil {
		return err
	}
	cur.DemuxMode = mode
	return c.writeControl(ctx, cur)
}

// Reset sends the HMCAD1511's own reset sub-register to the current
// chip-select.
func (c *ADC16Controller) Reset(ctx context.Context) error {
	return c.send(ctx, hmcadReset{Reset: true})
}

// PowerDown sends the sleep/power-down sub-register with PD asserted to
// the current chip-select.
func (c *ADC16Controller) PowerDown(ctx context.Context) error {
	return c.send(ctx, hmcadSleepPd{PD: true})
}

// PowerUp clears PD on the current chip-select.
func (c *ADC16Controller) PowerUp(ctx context.Context) error {
	return c.send(ctx, hmcadSleepPd{PD: false})
}

// PowerCycle powers every chip down, then powers each of the eight chips
// back up one at a time by rotating chip-select through positions 0..7,
// finally restoring the chip-select mask that was active on entry.
func (c *ADC16Controller) PowerCycle(ctx context.Context) error {
	prev := c.cs
	c.cs = AllChips
	if err := c.PowerDown(ctx); err != nil {
		c.cs = prev
		return err
	}
	for n := 0; n < 8; n++ {
		c.cs = ChipMask(n)
		if err := c.PowerUp(ctx); err != nil {
			c.cs = prev
			return err
		}
	}
	c.cs = prev
	return nil
}

// EnablePattern programs the current chip-select's test-pattern
// registers.
func (c *ADC16Controller) EnablePattern(ctx context.Context, p TestPattern) error {
	var bits uint8
	switch p {
	case PatternNone:
		bits = 0
	case PatternRamp:
		bits = 0b100
	case PatternDual:
		bits = 0b010
	case PatternCustom1, PatternCustom2:
		bits = 0b001
	case PatternDeskew, PatternSync:
		bits = 0
	}
	if err := c.send(ctx, hmcadPatternCtl{Pattern: bits}); err != nil {
		return err
	}
	switch p {
	case PatternDeskew:
		return c.send(ctx, hmcadDeskewSyncPattern{Mode: 1})
	case PatternSync:
		return c.send(ctx, hmcadDeskewSyncPattern{Mode: 2})
	default:
		return c.send(ctx, hmcadDeskewSyncPattern{Mode: 0})
	}
}

// SetCustomPattern1 programs the bit content of the chip's "custom 1"
// test pattern on the current chip-select; bits[0] is the pattern's most
// significant bit. Select the pattern itself with
// EnablePattern(PatternCustom1).
func (c *ADC16Controller) SetCustomPattern1(ctx context.Context, bits [8]bool) error {
	return c.send(ctx, hmcadCustomPattern1{Bits: packPatternBits(bits)})
}

// SetCustomPattern2 programs the bit content of the chip's "custom 2"
// test pattern on the current chip-select; bits[0] is the pattern's most
// significant bit.
func (c *ADC16Controller) SetCustomPattern2(ctx context.Context, bits [8]bool) error {
	return c.send(ctx, hmcadCustomPattern2{Bits: packPatternBits(bits)})
}

func packPatternBits(bits [8]bool) uint8 {
	var v uint8
	for i, b := range bits {
		if b {
			v |= 1 << uint(7-i)
		}
	}
	return v
}

// Bitslip pulses mask's bits in the control register's bitslip field:
// write default (mask cleared), write active (mask set), write default
// again.
func (c *ADC16Controller) Bitslip(ctx context.Context, mask ChipSelect) error {
	cur, err := c.readControl(ctx)
	if err != nil {
		return err
	}
	base := cur.Bitslip
	cur.Bitslip = base
	if err := c.writeControl(ctx, cur); err != nil {
		return err
	}
	cur.Bitslip = base | mask
	if err := c.writeControl(ctx, cur); err != nil {
		return err
	}
	cur.Bitslip = base
	return c.writeControl(ctx, cur)
}

// SnapReq pulses the control register's snap_request bit: write default,
// write active, write default.
func (c *ADC16Controller) SnapReq(ctx context.Context) error {
	cur, err := c.readControl(ctx)
	if err != nil {
		return err
	}
	cur.SnapRequest = false
	if err := c.writeControl(ctx, cur); err != nil {
		return err
	}
	cur.SnapRequest = true
	if err := c.writeControl(ctx, cur); err != nil {
		return err
	}
	cur.SnapRequest = false
	return c.writeControl(ctx, cur)
}

// lowClkThresholdMHz is the per-channel rate below which
// SetOperatingMode asserts the chip's low-clock-frequency flag, indexed
// by channel count.
var lowClkThresholdMHz = map[ChannelNum]float64{
	ChannelNumSingle: 240,
	ChannelNumDual:   120,
	ChannelNumQuad:   60,
}

// SetOperatingMode selects the chip's channel-interleave mode and clock
// divider (always 1) and sets the low-clock-frequency flag when the
// per-channel rate falls below the mode's threshold, applied to the
// current chip-select.
func (c *ADC16Controller) SetOperatingMode(ctx context.Context, mode ChannelNum, clockMHz float64) error {
	if err := c.send(ctx, hmcadChanNumClkDiv{Channels: mode}); err != nil {
		return err
	}
	low := clockMHz < lowClkThresholdMHz[mode]
	return c.send(ctx, hmcadLvdsOutputControl{LowClkFreq: low})
}

// Init resets, powers down, configures the operating mode, then powers
// back up, all against the current chip-select.
func (c *ADC16Controller) Init(ctx context.Context, mode ChannelNum, clockMHz float64) error {
	if err := c.Reset(ctx); err != nil {
		return err
	}
	if err := c.PowerDown(ctx); err != nil {
		return err
	}
	if err := c.SetOperatingMode(ctx, mode, clockMHz); err != nil {
		return err
	}
	return c.PowerUp(ctx)
}

// ChannelInput is the per-lane analog input assignment written by
// InputSelect; which fields apply depends on the mode it's interpreted
// under: Single applies one input to all 4 lanes, Dual pairs lanes {1,2}
// and {3,4}, Quad assigns independently.
type ChannelInput struct {
	Lane [4]InputSelect
}

// SingleInput builds a ChannelInput that applies src to all four lanes.
func SingleInput(src InputSelect) ChannelInput {
	return ChannelInput{Lane: [4]InputSelect{src, src, src, src}}
}

// DualInput builds a ChannelInput pairing lanes {1,2} on pair01 and
// lanes {3,4} on pair23.
func DualInput(pair01, pair23 InputSelect) ChannelInput {
	return ChannelInput{Lane: [4]InputSelect{pair01, pair01, pair23, pair23}}
}

// QuadInput builds a ChannelInput assigning all four lanes independently.
func QuadInput(a, b, c, d InputSelect) ChannelInput {
	return ChannelInput{Lane: [4]InputSelect{a, b, c, d}}
}

// InputSelect writes the chip's two crossbar registers per in.Lane,
// against the current chip-select.
func (c *ADC16Controller) InputSelect(ctx context.Context, in ChannelInput) error {
	if err := c.send(ctx, hmcadInputSelect12{Adc1: in.Lane[0], Adc2: in.Lane[1]}); err != nil {
		return err
	}
	return c.send(ctx, hmcadInputSelect34{Adc3: in.Lane[2], Adc4: in.Lane[3]})
}

// SetTerminations sets the LVDS termination impedance for lclk, frame,
// and data on the current chip-select.
func (c *ADC16Controller) SetTerminations(ctx context.Context, lclk, frame, data LvdsTermination) error {
	return c.send(ctx, hmcadLvdsTerminations{Enable: true, Lclk: lclk, Frame: frame, Data: data})
}

// DisableTermination turns off LVDS termination on the current
// chip-select.
func (c *ADC16Controller) DisableTermination(ctx context.Context) error {
	return c.send(ctx, hmcadLvdsTerminations{Enable: false})
}

// SetDriveStrength sets the LVDS output drive current for lclk, frame,
// and data on the current chip-select.
func (c *ADC16Controller) SetDriveStrength(ctx context.Context, lclk, frame, data LvdsDriveStrength) error {
	return c.send(ctx, hmcadLvdsDrives{Lclk: lclk, Frame: frame, Data: data})
}
