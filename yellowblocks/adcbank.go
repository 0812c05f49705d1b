package yellowblocks

import (
	"context"
	"fmt"

	"github.com/casper-tapcp/tapcpctl/tapcp"
)

// chipA, chipB, chipC are the three ADC16 chip-select positions on the
// SNAP platform's three-chip ADC bank; chip A sources the board's clock
// and is never re-terminated.
const (
	chipA = 0
	chipB = 1
	chipC = 2
)

// ADCBank is the SNAP platform's board-level ADC aggregate: a sample
// rate, operating mode, clock source, a clock switch, an optional
// internal synthesizer, the three-chip ADC16Controller, and the three
// per-chip BRAM capture buffers the controller's snapshot strobe fills.
type ADCBank struct {
	t    *tapcp.Transport
	name string

	SampleRateMHz float64
	Mode          ChannelNum
	Source        ClockSource

	Clock *ClockSwitch
	Synth Synthesizer
	Ctrl  *ADC16Controller

	rams [3]*BRAM
}

// NewADCBank builds an ADCBank bound to device name on t, with sibling
// registers "<name>_clksw" (clock switch) and "<name>_controller"
// (ADC16Controller) and three 1024-byte BRAMs "<name>_wb_ram0".."ram2",
// one per chip. synth may be nil, in which case NullSynthesizer is used.
func NewADCBank(t *tapcp.Transport, name string, synth Synthesizer) *ADCBank {
	if synth == nil {
		synth = NullSynthesizer{}
	}
	b := &ADCBank{
		t:     t,
		name:  name,
		Clock: NewClockSwitch(t, name+"_clksw"),
		Synth: synth,
		Ctrl:  NewADC16Controller(t, name+"_controller"),
	}
	for i := range b.rams {
		b.rams[i] = NewBRAM(t, fmt.Sprintf("%s_wb_ram%d", name, i), 1024, 1)
	}
	return b
}

// Initialize brings the bank to a known-good state:
// reset the controller; select all chips; set the clock switch; if the
// source is Internal, configure the synthesizer; init the controller
// with (mode, sampleRateMHz); select only chips B and C and terminate
// LCLK/frame at 94 ohms with 0.5 mA drive (chip A sources the clock and
// must not be re-terminated); select all chips again; configure the
// fabric-side demux to match mode.
func (b *ADCBank) Initialize(ctx context.Context, src ClockSource, mode ChannelNum, sampleRateMHz float64) error {
	b.Ctrl.SelectChips(AllChips)
	if err := b.Ctrl.Reset(ctx); err != nil {
		return err
	}

	if err := b.Clock.SetSource(ctx, src); err != nil {
		return err
	}
	if src == Internal {
		if err := b.Synth.Configure(ctx, sampleRateMHz); err != nil {
			return err
		}
	}

	b.Ctrl.SelectChips(AllChips)
	if err := b.Ctrl.Init(ctx, mode, sampleRateMHz); err != nil {
		return err
	}

	b.Ctrl.SelectChips(ChipMask(chipB, chipC))
	if err := b.Ctrl.SetTerminations(ctx, LvdsTermination94Ohm, LvdsTermination94Ohm, LvdsTermination94Ohm); err != nil {
		return err
	}
	if err := b.Ctrl.SetDriveStrength(ctx, LvdsDriveStrength0_5mA, LvdsDriveStrength0_5mA, LvdsDriveStrength0_5mA); err != nil {
		return err
	}

	b.Ctrl.SelectChips(AllChips)
	if err := b.Ctrl.SetDemux(ctx, mode); err != nil {
		return err
	}

	b.SampleRateMHz = sampleRateMHz
	b.Mode = mode
	b.Source = src
	return nil
}

// Snapshot pulses the controller's snapshot-request strobe and returns
// the captured samples for chip n.
func (b *ADCBank) Snapshot(ctx context.Context, n int) ([]byte, error) {
	if n < 0 || n >= len(b.rams) {
		return nil, &OutOfBoundsError{Name: b.name, Addr: n, Limit: len(b.rams)}
	}
	if err := b.Ctrl.SnapReq(ctx); err != nil {
		return nil, err
	}
	return b.rams[n].Read(ctx)
}

// shapeAgrees reports whether in's lane assignments are consistent with
// mode: Single requires all four lanes equal, Dual requires lanes {0,1}
// and {2,3} to each agree, Quad allows any assignment.
func shapeAgrees(mode ChannelNum, in ChannelInput) bool {
	switch mode {
	case ChannelNumSingle:
		return in.Lane[0] == in.Lane[1] && in.Lane[1] == in.Lane[2] && in.Lane[2] == in.Lane[3]
	case ChannelNumDual:
		return in.Lane[0] == in.Lane[1] && in.Lane[2] == in.Lane[3]
	case ChannelNumQuad:
		return true
	default:
		return false
	}
}

// SelectInputs validates in against the bank's current mode and
// forwards it to the controller for every chip.
func (b *ADCBank) SelectInputs(ctx context.Context, in ChannelInput) error {
	if !shapeAgrees(b.Mode, in) {
		return fmt.Errorf("yellowblocks: adc bank %q: input selection does not match mode %v", b.name, b.Mode)
	}
	b.Ctrl.SelectChips(AllChips)
	return b.Ctrl.InputSelect(ctx, in)
}
