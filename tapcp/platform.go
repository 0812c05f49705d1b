package tapcp

// FlashSectorSize is the erase/program granularity of the board's flash,
// in bytes: 64 KiB.
const FlashSectorSize = 0x10000

// Platform selects the board family, which in turn fixes the flash
// offsets the transport uses for metadata and program storage.
type Platform int

const (
	// SNAP is the original single-FPGA SNAP board.
	SNAP Platform = iota
	// SNAP2 is the newer two-FPGA SNAP2 board.
	SNAP2
)

func (p Platform) String() string {
	switch p {
	case SNAP:
		return "SNAP"
	case SNAP2:
		return "SNAP2"
	default:
		return "unknown platform"
	}
}

// FlashLocation returns the 32-bit flash byte offset where this
// platform's metadata sector begins.
func (p Platform) FlashLocation() uint32 {
	switch p {
	case SNAP:
		return 0x00800000
	case SNAP2:
		return 0x00C00000
	default:
		return 0x00800000
	}
}

// ProgramLocation returns the flash offset where the gateware program
// sectors begin: one sector past the metadata sector.
func (p Platform) ProgramLocation() uint32 {
	return p.FlashLocation() + FlashSectorSize
}

// ProgAddrShift reports whether progdev's address argument must be
// right-shifted by 8 bits before being sent, a hardware quirk that
// applies to SNAP but not SNAP2. No datasheet rationale for the
// asymmetry is known; the bootloaders simply expect it.
func (p Platform) ProgAddrShift() bool {
	return p == SNAP
}
