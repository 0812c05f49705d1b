package tapcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/casper-tapcp/tapcpctl/csl"
	"github.com/casper-tapcp/tapcpctl/regval"
	"github.com/casper-tapcp/tapcpctl/tftp"
)

// Register is a device's address and byte size, as reported by ListDev.
type Register struct {
	Addr   uint32
	Length uint32
}

func deviceErrorOrNotFound(device string, err error) error {
	var respErr *tftp.ErrorResponseError
	if errors.As(err, &respErr) && respErr.Code == tftp.NotFound {
		return &DeviceNotFoundError{Device: device}
	}
	return err
}

// IsRunning probes sys_clkcounter; a NotFound response means no user
// gateware is currently loaded, which this method reports as a plain
// false rather than an error.
func (t *Transport) IsRunning(ctx context.Context) (bool, error) {
	_, err := t.ReadNBytes(ctx, "sys_clkcounter", 0, 1)
	if err == nil {
		return true, nil
	}
	var notFound *DeviceNotFoundError
	if errors.As(err, &notFound) {
		return false, nil
	}
	var respErr *tftp.ErrorResponseError
	if errors.As(err, &respErr) && respErr.Code == tftp.NotFound {
		return false, nil
	}
	return false, err
}

// ReadNBytes reads n bytes at byte offset within device, fetching only
// the whole 4-byte words that overlap [offset, offset+n).
func (t *Transport) ReadNBytes(ctx context.Context, device string, offset, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	firstWord := offset / 4
	lastWord := (offset + n - 1) / 4
	wordN := lastWord - firstWord + 1

	path := fmt.Sprintf("/dev/%s.%x.%x", device, firstWord, wordN)
	raw, err := t.download(ctx, path, tftp.Octet)
	if err != nil {
		return nil, deviceErrorOrNotFound(device, err)
	}
	if wordN != 0 && len(raw) != wordN*4 {
		return nil, &IncompleteResponseError{Want: wordN * 4, Got: len(raw)}
	}

	start := offset % 4
	if start+n > len(raw) {
		return nil, &IncompleteResponseError{Want: start + n, Got: len(raw)}
	}
	return raw[start : start+n], nil
}

// ReadBytes reads exactly n bytes at offset and is a thin convenience
// wrapper over ReadNBytes for callers that already know their size.
func (t *Transport) ReadBytes(ctx context.Context, device string, offset, n int) ([]byte, error) {
	return t.ReadNBytes(ctx, device, offset, n)
}

// WriteBytes writes data at byte offset within device. Only the aligned
// case (offset%4==0 and len(data)%4==0) is implemented; sub-word writes
// would need a read-modify-write round trip the server gives no atomicity
// guarantees for.
func (t *Transport) WriteBytes(ctx context.Context, device string, offset int, data []byte) error {
	if offset%4 != 0 || len(data)%4 != 0 {
		return &NotSupportedError{Reason: "sub-word writes are not implemented"}
	}
	path := fmt.Sprintf("/dev/%s.%x", device, offset/4)
	err := t.upload(ctx, path, data)
	if err != nil {
		return deviceErrorOrNotFound(device, err)
	}
	return nil
}

// ReadT reads size bytes at offset within device and decodes them with
// decode. It is a free function rather than a Transport method because Go
// methods cannot carry their own type parameters.
func ReadT[T any](ctx context.Context, t *Transport, device string, offset, size int, decode func([]byte) (T, error)) (T, error) {
	var zero T
	raw, err := t.ReadNBytes(ctx, device, offset, size)
	if err != nil {
		return zero, err
	}
	v, err := decode(raw)
	if err != nil {
		return zero, err
	}
	return v, nil
}

// WriteT encodes v with encode and writes the result at offset within
// device.
func WriteT[T any](ctx context.Context, t *Transport, device string, offset int, encode func(T) ([]byte, error), v T) error {
	raw, err := encode(v)
	if err != nil {
		return err
	}
	return t.WriteBytes(ctx, device, offset, raw)
}

// ReadAddrT reads a value whose static address is addr.Addr(), so callers
// need only name the containing device.
func ReadAddrT[T any](ctx context.Context, t *Transport, device string, addr regval.Addressable, size int, decode func([]byte) (T, error)) (T, error) {
	return ReadT(ctx, t, device, int(addr.Addr()), size, decode)
}

// WriteAddrT writes a value whose static address is addr.Addr().
func WriteAddrT[T any](ctx context.Context, t *Transport, device string, addr regval.Addressable, encode func(T) ([]byte, error), v T) error {
	return WriteT(ctx, t, device, int(addr.Addr()), encode, v)
}

// ListDev returns every device the running gateware exposes, decoded from
// the board's CSL-encoded directory listing.
func (t *Transport) ListDev(ctx context.Context) (map[string]Register, error) {
	raw, err := t.download(ctx, "/listdev", tftp.Octet)
	if err != nil {
		return nil, err
	}
	if len(raw) < 2 {
		return nil, &IncompleteResponseError{Want: 2, Got: len(raw)}
	}

	entries, err := csl.Decode(raw[2:])
	if err != nil {
		return nil, fmt.Errorf("tapcp: listdev: %w", err)
	}

	out := make(map[string]Register, len(entries))
	for _, e := range entries {
		if len(e.Payload) != 8 {
			return nil, &IncompleteResponseError{Want: 8, Got: len(e.Payload)}
		}
		addr := uint32(e.Payload[0])<<24 | uint32(e.Payload[1])<<16 | uint32(e.Payload[2])<<8 | uint32(e.Payload[3])
		length := uint32(e.Payload[4])<<24 | uint32(e.Payload[5])<<16 | uint32(e.Payload[6])<<8 | uint32(e.Payload[7])
		out[e.Key] = Register{Addr: addr, Length: length}
	}
	return out, nil
}

// Help returns the board's ASCII list of top-level pseudo-file commands.
func (t *Transport) Help(ctx context.Context) (string, error) {
	raw, err := t.download(ctx, "/help", tftp.NetASCII)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Temperature reads the board's onboard temperature sensor in Celsius.
func (t *Transport) Temperature(ctx context.Context) (float32, error) {
	raw, err := t.download(ctx, "/temp", tftp.Octet)
	if err != nil {
		return 0, err
	}
	v, err := regval.ParseFloat32BE(raw)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// Deprogram reboots the board to the golden (address-0) image.
func (t *Transport) Deprogram(ctx context.Context) error {
	return t.progdev(ctx, 0)
}

func (t *Transport) progdev(ctx context.Context, addr uint32) error {
	payload := []byte{byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr)}
	err := t.upload(ctx, "/progdev", payload)
	// A timeout on the progdev write is expected: the gateware freezes
	// mid-transfer as the new image takes over, so the server never
	// acknowledges. Only propagate errors that aren't a plain timeout.
	if err != nil && !errors.Is(unwrapTimeout(err), tftp.ErrTimeout) {
		return err
	}
	return nil
}

func unwrapTimeout(err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Err
	}
	return err
}

// EstimateClockMHz reads sys_clkcounter twice, delay apart, and returns
// the counter's rate in MHz after subtracting the measured round-trip
// latency of the second read from the interval.
func (t *Transport) EstimateClockMHz(ctx context.Context, delay time.Duration) (float64, error) {
	if delay <= 0 {
		delay = 2 * time.Second
	}

	first, err := t.readClkCounter(ctx)
	if err != nil {
		return 0, err
	}

	time.Sleep(delay)

	start := time.Now()
	second, err := t.readClkCounter(ctx)
	if err != nil {
		return 0, err
	}
	readLatency := time.Since(start)

	var delta uint64
	if second >= first {
		delta = uint64(second - first)
	} else {
		delta = uint64(second) + (uint64(1) << 32) - uint64(first)
	}

	elapsed := delay - readLatency
	if elapsed <= 0 {
		elapsed = delay
	}
	return float64(delta) / elapsed.Seconds() / 1e6, nil
}

func (t *Transport) readClkCounter(ctx context.Context) (uint32, error) {
	raw, err := t.ReadNBytes(ctx, "sys_clkcounter", 0, 4)
	if err != nil {
		return 0, err
	}
	return regval.ParseUint32BE(raw)
}
