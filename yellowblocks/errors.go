// Package yellowblocks implements the typed peripheral ("yellow block")
// objects a running gateware exposes: software registers, BRAMs, snapshot
// blocks, the 10-GbE core, and the SNAP board's HMCAD1511 ADC bank.
// Every peripheral holds its device name and a non-owning reference
// to a shared *tapcp.Transport; none of them own the socket, so closing
// the transport they were built against makes every subsequent call fail
// with whatever error the transport itself returns for use-after-close.
package yellowblocks

import "fmt"

// ReadOnlyError is returned when Write is called on a software register
// whose direction is ToProcessor.
type ReadOnlyError struct{ Name string }

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("yellowblocks: %q is read-only (direction=ToProcessor)", e.Name)
}

// OverflowError is returned when a value's magnitude exceeds what a
// register's width and fractional bits can represent.
type OverflowError struct {
	Name  string
	Value float64
	Limit float64
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("yellowblocks: %q: value %g exceeds representable magnitude %g", e.Name, e.Value, e.Limit)
}

// OutOfBoundsError is returned when a BRAM address is at or past the
// peripheral's word count.
type OutOfBoundsError struct {
	Name        string
	Addr, Limit int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("yellowblocks: %q: address %d out of bounds (size %d)", e.Name, e.Addr, e.Limit)
}

// BadSizeError is returned when a bulk BRAM write's byte length disagrees
// with the peripheral's total capacity.
type BadSizeError struct {
	Name      string
	Want, Got int
}

func (e *BadSizeError) Error() string {
	return fmt.Sprintf("yellowblocks: %q: expected %d bytes, got %d", e.Name, e.Want, e.Got)
}

// NoOffsetsError is returned by SnapshotBlock.SetOffset when the block was
// not built with a trigger-offset register.
type NoOffsetsError struct{ Name string }

func (e *NoOffsetsError) Error() string {
	return fmt.Sprintf("yellowblocks: %q does not support trigger offsets", e.Name)
}

// NotSupportedError is returned by a feature probe that came back
// negative, e.g. ADC16Controller.SetDemux against gateware that doesn't
// carry a demux-capable control register.
type NotSupportedError struct{ Reason string }

func (e *NotSupportedError) Error() string { return "yellowblocks: not supported: " + e.Reason }

// BadMetadataError is returned by a design binder constructor when a
// device's metadata cannot be parsed into the parameters the peripheral
// needs.
type BadMetadataError struct {
	Device, Field, Reason string
}

func (e *BadMetadataError) Error() string {
	return fmt.Sprintf("yellowblocks: device %q: metadata field %q: %s", e.Device, e.Field, e.Reason)
}
