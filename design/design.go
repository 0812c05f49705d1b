// Package design implements the binder that turns a parsed bitstream
// descriptor and a live transport into a typed aggregate of peripheral
// objects, one per recognized device. The metadata keys it reads are the
// ones the gateware toolflow emits into each device's ?meta lines.
package design

import (
	"fmt"
	"strconv"

	"github.com/casper-tapcp/tapcpctl/bitstream"
	"github.com/casper-tapcp/tapcpctl/regval"
	"github.com/casper-tapcp/tapcpctl/tapcp"
	"github.com/casper-tapcp/tapcpctl/yellowblocks"
)

// Device kind strings the binder recognizes.
const (
	kindSoftwareRegister = "xps:sw_reg"
	kindBRAM             = "xps:bram"
	kindSnapshot         = "casper:snapshot"
	kindTenGbE           = "xps:ten_gbe"
	kindSnapADC          = "xps:snap_adc"
	kindXSG              = "xps:xsg"
)

// snapSiblingName is the fixed name of the xps:xsg device an ADC bank's
// clk_src metadata is read from; binding an ADC bank fails without it.
const snapSiblingName = "SNAP"

// Design is the typed aggregate a Bind call produces: one map per
// peripheral kind, keyed by device name. It owns no transport; the
// caller supplied it and remains responsible for closing it.
type Design struct {
	SoftwareRegisters map[string]*yellowblocks.SoftwareRegister
	BRAMs             map[string]*yellowblocks.BRAM
	Snapshots         map[string]*yellowblocks.SnapshotBlock
	TenGbEs           map[string]*yellowblocks.TenGbE
	ADCBanks          map[string]*yellowblocks.ADCBank
}

// bramWordBytes is the byte width of one BRAM word. The descriptor
// carries no metadata key for it, and TAPCP device memory is uniformly
// addressed in 4-byte words, so the binder fixes it at 4.
const bramWordBytes = 4

// Bind produces a Design from desc, binding every recognized device to a
// peripheral object sharing t. It runs once and is not re-entrant: it
// performs no transport I/O and does not program the board, which is
// assumed to already be running a gateware matching desc.
func Bind(desc *bitstream.Description, t *tapcp.Transport) (*Design, error) {
	d := &Design{
		SoftwareRegisters: make(map[string]*yellowblocks.SoftwareRegister),
		BRAMs:             make(map[string]*yellowblocks.BRAM),
		Snapshots:         make(map[string]*yellowblocks.SnapshotBlock),
		TenGbEs:           make(map[string]*yellowblocks.TenGbE),
		ADCBanks:          make(map[string]*yellowblocks.ADCBank),
	}

	for name, dev := range desc.Devices {
		if !isValidIdentifier(name) {
			continue
		}

		switch dev.Kind {
		case kindSoftwareRegister:
			reg, err := bindSoftwareRegister(t, name, dev)
			if err != nil {
				return nil, err
			}
			d.SoftwareRegisters[name] = reg

		case kindBRAM:
			b, err := bindBRAM(t, name, dev)
			if err != nil {
				return nil, err
			}
			d.BRAMs[name] = b

		case kindSnapshot:
			s, err := bindSnapshot(t, name, dev)
			if err != nil {
				return nil, err
			}
			d.Snapshots[name] = s

		case kindTenGbE:
			d.TenGbEs[name] = yellowblocks.NewTenGbE(t, name)

		case kindSnapADC:
			bank, err := bindADCBank(t, name, dev, desc)
			if err != nil {
				return nil, err
			}
			d.ADCBanks[name] = bank

		case kindXSG:
			// The SNAP sibling marker carries no peripheral of its own;
			// its metadata is consulted directly by bindADCBank.

		default:
			// Unrecognized kind: ignored.
		}
	}

	return d, nil
}

// isValidIdentifier reports whether name could be a Go identifier: a
// leading letter or underscore followed by letters, digits, or
// underscores. Devices with other names are skipped by Bind.
func isValidIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func metaField(dev *bitstream.Device, name, key string) (string, error) {
	v, ok := dev.Metadata[key]
	if !ok {
		return "", &yellowblocks.BadMetadataError{Device: name, Field: key, Reason: "missing"}
	}
	return v, nil
}

func metaUint(dev *bitstream.Device, name, key string) (uint64, error) {
	v, err := metaField(dev, name, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, &yellowblocks.BadMetadataError{Device: name, Field: key, Reason: err.Error()}
	}
	return n, nil
}

// bindSoftwareRegister reads io_dir, arith_types, bin_pts, and bitwidths.
// The io_dir values carry a literal backslash before the underscore
// ("To\_Processor"/"From\_Processor"), an artifact of the bitstream
// generator's field escaping matched here verbatim.
func bindSoftwareRegister(t *tapcp.Transport, name string, dev *bitstream.Device) (*yellowblocks.SoftwareRegister, error) {
	ioDir, err := metaField(dev, name, "io_dir")
	if err != nil {
		return nil, err
	}
	var direction yellowblocks.Direction
	switch ioDir {
	case `To\_Processor`:
		direction = yellowblocks.ToProcessor
	case `From\_Processor`:
		direction = yellowblocks.FromProcessor
	default:
		return nil, &yellowblocks.BadMetadataError{Device: name, Field: "io_dir", Reason: fmt.Sprintf("unrecognized value %q", ioDir)}
	}

	arithTypes, err := metaField(dev, name, "arith_types")
	if err != nil {
		return nil, err
	}

	width, err := metaUint(dev, name, "bitwidths")
	if err != nil {
		return nil, err
	}

	var kind yellowblocks.Kind
	var fp regval.FixedPoint
	switch arithTypes {
	case "0", "1":
		binPts, err := metaUint(dev, name, "bin_pts")
		if err != nil {
			return nil, err
		}
		kind = yellowblocks.KindFixedPoint
		fp = regval.FixedPoint{Signed: arithTypes == "1", FracBits: uint(binPts)}
	case "2":
		kind = yellowblocks.KindBoolean
	default:
		return nil, &yellowblocks.BadMetadataError{Device: name, Field: "arith_types", Reason: fmt.Sprintf("unrecognized value %q", arithTypes)}
	}

	return yellowblocks.NewSoftwareRegister(t, name, direction, uint(width), kind, fp), nil
}

// bindBRAM reads addr_width; the BRAM's word capacity is 1<<addr_width.
func bindBRAM(t *tapcp.Transport, name string, dev *bitstream.Device) (*yellowblocks.BRAM, error) {
	addrWidth, err := metaUint(dev, name, "addr_width")
	if err != nil {
		return nil, err
	}
	size := 1 << addrWidth
	return yellowblocks.NewBRAM(t, name, size, bramWordBytes), nil
}

// bindSnapshot reads nsamples, offset, and data_width; data_width must be
// one of 8/16/32/64/128 bits per sample.
func bindSnapshot(t *tapcp.Transport, name string, dev *bitstream.Device) (*yellowblocks.SnapshotBlock, error) {
	nsamples, err := metaUint(dev, name, "nsamples")
	if err != nil {
		return nil, err
	}

	offset, err := metaField(dev, name, "offset")
	if err != nil {
		return nil, err
	}
	var hasOffset bool
	switch offset {
	case "on":
		hasOffset = true
	case "off":
		hasOffset = false
	default:
		return nil, &yellowblocks.BadMetadataError{Device: name, Field: "offset", Reason: fmt.Sprintf("unrecognized value %q", offset)}
	}

	dataWidth, err := metaUint(dev, name, "data_width")
	if err != nil {
		return nil, err
	}
	switch dataWidth {
	case 8, 16, 32, 64, 128:
	default:
		return nil, &yellowblocks.BadMetadataError{Device: name, Field: "data_width", Reason: fmt.Sprintf("unsupported width %d", dataWidth)}
	}

	return yellowblocks.NewSnapshotBlock(t, name, hasOffset, uint32(nsamples), int(dataWidth)), nil
}

// bindADCBank reads adc_resolution, sample_rate, and snap_inputs off the
// device itself, plus clk_src off the required "SNAP" sibling.
func bindADCBank(t *tapcp.Transport, name string, dev *bitstream.Device, desc *bitstream.Description) (*yellowblocks.ADCBank, error) {
	resolution, err := metaField(dev, name, "adc_resolution")
	if err != nil {
		return nil, err
	}
	if resolution != "8" {
		return nil, &yellowblocks.BadMetadataError{Device: name, Field: "adc_resolution", Reason: fmt.Sprintf("unsupported resolution %q", resolution)}
	}

	sampleRate, err := metaField(dev, name, "sample_rate")
	if err != nil {
		return nil, err
	}
	rateMHz, perr := strconv.ParseFloat(sampleRate, 64)
	if perr != nil {
		return nil, &yellowblocks.BadMetadataError{Device: name, Field: "sample_rate", Reason: perr.Error()}
	}

	snapInputs, err := metaField(dev, name, "snap_inputs")
	if err != nil {
		return nil, err
	}
	var mode yellowblocks.ChannelNum
	switch snapInputs {
	case "12":
		mode = yellowblocks.ChannelNumQuad
	case "6":
		mode = yellowblocks.ChannelNumDual
	case "3":
		mode = yellowblocks.ChannelNumSingle
	default:
		return nil, &yellowblocks.BadMetadataError{Device: name, Field: "snap_inputs", Reason: fmt.Sprintf("unrecognized value %q", snapInputs)}
	}

	snap, ok := desc.Devices[snapSiblingName]
	if !ok {
		return nil, &yellowblocks.BadMetadataError{Device: name, Field: snapSiblingName, Reason: "required sibling device not present"}
	}
	clkSrc, err := metaField(snap, snapSiblingName, "clk_src")
	if err != nil {
		return nil, err
	}

	bank := yellowblocks.NewADCBank(t, name, yellowblocks.NullSynthesizer{})
	bank.Mode = mode
	bank.SampleRateMHz = rateMHz
	if clkSrc == "sys_clk" {
		bank.Source = yellowblocks.Internal
	} else {
		bank.Source = yellowblocks.External
	}
	return bank, nil
}
