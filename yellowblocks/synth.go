package yellowblocks

import "context"

// Synthesizer configures an ADC bank's internal clock synthesizer (the
// SNAP platform's LMX2581) when the bank's clock source is Internal. The
// concrete register program is datasheet-specific; callers with a real
// synthesizer driver supply it here, and ADCBank.Initialize calls it at
// the required point in the bring-up sequence without hard-coding one.
type Synthesizer interface {
	// Configure programs the synthesizer to produce freqMHz.
	Configure(ctx context.Context, freqMHz float64) error
}

// NullSynthesizer is a no-op Synthesizer, the default ADCBank uses when
// its caller has no board-specific synthesizer driver to supply.
type NullSynthesizer struct{}

// Configure does nothing and always succeeds.
func (NullSynthesizer) Configure(ctx context.Context, freqMHz float64) error { return nil }
