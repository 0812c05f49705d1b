package regval

import (
	"bytes"
	"math"
	"testing"
)

func TestUint32BERoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 0x2A, 0xDEADBEEF, math.MaxUint32} {
		b := Uint32BE(v)
		got, err := ParseUint32BE(b[:])
		if err != nil {
			t.Fatalf("ParseUint32BE(%#x): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %#x = %#x", v, got)
		}
	}
}

func TestUint32BEByteOrder(t *testing.T) {
	b := Uint32BE(0x01020304)
	if !bytes.Equal(b[:], []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("Uint32BE(0x01020304) = % x, want 01 02 03 04", b)
	}
}

func TestParseUint32BEShortBuffer(t *testing.T) {
	if _, err := ParseUint32BE([]byte{0x01, 0x02}); err == nil {
		t.Error("ParseUint32BE accepted a 2-byte buffer")
	}
}

func TestFloat32BERoundTrip(t *testing.T) {
	for _, v := range []float32{0, 1.5, -273.15, math.MaxFloat32} {
		b := Float32BE(v)
		got, err := ParseFloat32BE(b[:])
		if err != nil {
			t.Fatalf("ParseFloat32BE(%g): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %g = %g", v, got)
		}
	}
}

func TestFixedPointRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		fp   FixedPoint
		v    float64
	}{
		{"unsigned integer", FixedPoint{FracBits: 0}, 42},
		{"unsigned fractional", FixedPoint{FracBits: 16}, 1.5},
		{"signed negative", FixedPoint{Signed: true, FracBits: 8}, -3.25},
		{"signed zero", FixedPoint{Signed: true, FracBits: 17}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.fp.Pack(tt.v)
			if err != nil {
				t.Fatalf("Pack(%g): %v", tt.v, err)
			}
			got, err := tt.fp.Unpack(b[:])
			if err != nil {
				t.Fatalf("Unpack: %v", err)
			}
			if got != tt.v {
				t.Errorf("round trip %g = %g", tt.v, got)
			}
		})
	}
}

func TestFixedPointQuantizes(t *testing.T) {
	// 0.3 is not representable with 4 fractional bits; the nearest code is
	// 5/16 = 0.3125.
	fp := FixedPoint{FracBits: 4}
	b, err := fp.Pack(0.3)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, err := fp.Unpack(b[:])
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if got != 0.3125 {
		t.Errorf("quantized value = %g, want 0.3125", got)
	}
}

func TestFixedPointOverflow(t *testing.T) {
	tests := []struct {
		name string
		fp   FixedPoint
		v    float64
	}{
		{"unsigned negative", FixedPoint{FracBits: 0}, -1},
		{"unsigned too large", FixedPoint{FracBits: 0}, math.MaxUint32 + 1.0},
		{"signed too large", FixedPoint{Signed: true, FracBits: 0}, math.MaxInt32 + 1.0},
		{"signed too small", FixedPoint{Signed: true, FracBits: 0}, math.MinInt32 - 1.0},
		{"fractional scaling overflows", FixedPoint{FracBits: 31}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.fp.Pack(tt.v); err == nil {
				t.Errorf("Pack(%g) succeeded, want overflow", tt.v)
			}
		})
	}
}

func TestFixedPointRange(t *testing.T) {
	fp := FixedPoint{FracBits: 17}
	if got := fp.Range(32); got != math.Pow(2, 15) {
		t.Errorf("Range(32) with 17 frac bits = %g, want 2^15", got)
	}
}

func TestBool32(t *testing.T) {
	b := Bool32(true)
	if !bytes.Equal(b[:], []byte{0, 0, 0, 1}) {
		t.Errorf("Bool32(true) = % x, want 00 00 00 01", b)
	}
	got, err := ParseBool32([]byte{0, 0, 1, 0})
	if err != nil {
		t.Fatalf("ParseBool32: %v", err)
	}
	if !got {
		t.Error("ParseBool32 of a nonzero word = false, want true")
	}
}

func TestBitBufMsb0Numbering(t *testing.T) {
	// Bit 0 is the most significant bit of byte 0.
	bb := NewBitBuf(4)
	bb.SetBool(0, true)
	if bb.Bytes()[0] != 0x80 {
		t.Errorf("SetBool(0) produced byte 0 = %#x, want 0x80", bb.Bytes()[0])
	}
	bb.SetBool(31, true)
	if bb.Bytes()[3] != 0x01 {
		t.Errorf("SetBool(31) produced byte 3 = %#x, want 0x01", bb.Bytes()[3])
	}
}

func TestBitBufUintCrossesByteBoundary(t *testing.T) {
	bb := NewBitBuf(4)
	bb.SetUint(4, 12, 0xABC)
	if got := bb.Uint(4, 12); got != 0xABC {
		t.Errorf("Uint(4, 12) = %#x, want 0xABC", got)
	}
	if !bytes.Equal(bb.Bytes(), []byte{0x0A, 0xBC, 0x00, 0x00}) {
		t.Errorf("buffer = % x, want 0a bc 00 00", bb.Bytes())
	}
}

func TestBitBufSetUintClearsStaleBits(t *testing.T) {
	bb := NewBitBuf(2)
	bb.SetUint(0, 8, 0xFF)
	bb.SetUint(0, 8, 0x55)
	if got := bb.Uint(0, 8); got != 0x55 {
		t.Errorf("Uint after overwrite = %#x, want 0x55", got)
	}
}

func TestBitBufBoolArrayRoundTrip(t *testing.T) {
	vals := []bool{true, false, true, true, false, false, true, false}
	bb := NewBitBuf(2)
	bb.SetBoolArray(3, 8, vals)
	got := bb.BoolArray(3, 8)
	for i := range vals {
		if got[i] != vals[i] {
			t.Fatalf("BoolArray[%d] = %v, want %v", i, got[i], vals[i])
		}
	}
}

func TestBitBufBytesLE(t *testing.T) {
	bb := NewBitBuf(8)
	mac := []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x2A}
	bb.SetBytesLE(2, mac)
	if !bytes.Equal(bb.BytesLE(2, 6), mac) {
		t.Errorf("BytesLE round trip = % x, want % x", bb.BytesLE(2, 6), mac)
	}
	// The first field byte lands at the highest address of the slot.
	if bb.Bytes()[7] != 0x02 {
		t.Errorf("byte 7 = %#x, want 0x02", bb.Bytes()[7])
	}
}

func TestBitBufBytesBE(t *testing.T) {
	bb := NewBitBuf(4)
	bb.SetBytesBE(1, []byte{0xAA, 0xBB})
	if !bytes.Equal(bb.Bytes(), []byte{0x00, 0xAA, 0xBB, 0x00}) {
		t.Errorf("buffer = % x, want 00 aa bb 00", bb.Bytes())
	}
	if !bytes.Equal(bb.BytesBE(1, 2), []byte{0xAA, 0xBB}) {
		t.Errorf("BytesBE(1, 2) = % x", bb.BytesBE(1, 2))
	}
}

// demuxMode stands in for any primitive-enum-typed bit-struct field.
type demuxMode uint8

const (
	demuxSingle demuxMode = 1
	demuxDual   demuxMode = 2
	demuxQuad   demuxMode = 4
)

func TestEnumValid(t *testing.T) {
	if err := EnumValid("demuxMode", demuxDual, demuxSingle, demuxDual, demuxQuad); err != nil {
		t.Errorf("EnumValid rejected a member: %v", err)
	}
	if err := EnumValid("demuxMode", demuxMode(7), demuxSingle, demuxDual, demuxQuad); err == nil {
		t.Error("EnumValid accepted a non-member discriminant")
	}
}

// packedStatus is a representative packed bit-struct: a probe flag, a
// 3-bit enum field, an 8-bit mask, and a boolean array, all msb0.
type packedStatus struct {
	Probe bool
	Mode  demuxMode
	Mask  uint8
	Taps  []bool
}

func (p packedStatus) pack() []byte {
	bb := NewBitBuf(4)
	bb.SetBool(0, p.Probe)
	bb.SetUint(1, 3, uint64(p.Mode))
	bb.SetUint(8, 8, uint64(p.Mask))
	bb.SetBoolArray(16, 5, p.Taps)
	return bb.Bytes()
}

func unpackPackedStatus(b []byte) packedStatus {
	bb := BitBufFrom(b)
	return packedStatus{
		Probe: bb.Bool(0),
		Mode:  demuxMode(bb.Uint(1, 3)),
		Mask:  uint8(bb.Uint(8, 8)),
		Taps:  bb.BoolArray(16, 5),
	}
}

func TestBitStructPackUnpackRoundTrip(t *testing.T) {
	want := packedStatus{
		Probe: true,
		Mode:  demuxQuad,
		Mask:  0xA5,
		Taps:  []bool{true, false, true, false, true},
	}
	got := unpackPackedStatus(want.pack())
	if got.Probe != want.Probe || got.Mode != want.Mode || got.Mask != want.Mask {
		t.Errorf("unpack(pack(x)) = %+v, want %+v", got, want)
	}
	for i := range want.Taps {
		if got.Taps[i] != want.Taps[i] {
			t.Errorf("Taps[%d] = %v, want %v", i, got.Taps[i], want.Taps[i])
		}
	}
}
