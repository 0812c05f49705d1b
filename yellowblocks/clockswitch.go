package yellowblocks

import (
	"context"
	"fmt"

	"github.com/casper-tapcp/tapcpctl/regval"
	"github.com/casper-tapcp/tapcpctl/tapcp"
)

// ClockSource selects where an ADC bank's sample clock comes from.
type ClockSource int

const (
	Internal ClockSource = iota
	External
)

// ClockSwitch is a single 32-bit register yellow block selecting between
// an internal synthesizer and an external reference.
type ClockSwitch struct {
	t    *tapcp.Transport
	name string
}

// NewClockSwitch builds a ClockSwitch bound to device name on t.
func NewClockSwitch(t *tapcp.Transport, name string) *ClockSwitch {
	return &ClockSwitch{t: t, name: name}
}

// SetSource writes 1 for Internal or 0 for External.
func (c *ClockSwitch) SetSource(ctx context.Context, src ClockSource) error {
	var v uint32
	if src == Internal {
		v = 1
	}
	b := regval.Uint32BE(v)
	return c.t.WriteBytes(ctx, c.name, 0, b[:])
}

// Source reads the current clock source.
func (c *ClockSwitch) Source(ctx context.Context) (ClockSource, error) {
	raw, err := c.t.ReadNBytes(ctx, c.name, 0, 4)
	if err != nil {
		return 0, err
	}
	v, err := regval.ParseUint32BE(raw)
	if err != nil {
		return 0, err
	}
	switch v {
	case 1:
		return Internal, nil
	case 0:
		return External, nil
	default:
		return 0, fmt.Errorf("yellowblocks: clock switch %q: unexpected raw value %d", c.name, v)
	}
}
