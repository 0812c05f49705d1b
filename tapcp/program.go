package tapcp

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/casper-tapcp/tapcpctl/bitstream"
	"github.com/casper-tapcp/tapcpctl/history"
)

// Descriptor is the subset of a parsed bitstream description Program
// needs: the md5 fingerprint and the (already decompressed) bitstream
// bytes to write to flash.
type Descriptor interface {
	BitstreamBytes() []byte
	MD5Hex() string
}

// descriptorAdapter lets *bitstream.Description satisfy Descriptor
// without bitstream importing tapcp (which would create an import
// cycle, since tapcp's design binder consumers import both).
type descriptorAdapter struct{ d *bitstream.Description }

func (a descriptorAdapter) BitstreamBytes() []byte { return a.d.Bitstream }
func (a descriptorAdapter) MD5Hex() string         { return hex.EncodeToString(a.d.MD5[:]) }

// FromDescription adapts a parsed bitstream.Description into a Program-
// compatible Descriptor.
func FromDescription(d *bitstream.Description) Descriptor { return descriptorAdapter{d: d} }

// Program writes a bitstream to flash and reboots the board into it,
// unless the board's current flash metadata already fingerprints the
// same content and force is false. Recorder may be nil to skip history
// logging.
func (t *Transport) Program(ctx context.Context, d Descriptor, force bool, recorder *history.Recorder) error {
	corrID := uuid.NewString()

	meta, err := t.Metadata(ctx)
	if err == nil && !force {
		if meta["md5"] == d.MD5Hex() {
			t.logger.InfoContext(ctx, "tapcp: program skipped, flash already matches",
				"correlation_id", corrID, "md5", d.MD5Hex())
			return nil
		}
	}

	if recorder != nil {
		recorder.RecordStart(ctx, corrID, d.MD5Hex())
	}

	t.mu.Lock()
	prevTimeout, prevRetries := t.timeout, t.retries
	t.timeout = programTimeout
	t.retries = programRetries
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.timeout, t.retries = prevTimeout, prevRetries
		t.mu.Unlock()
	}()

	bits := d.BitstreamBytes()
	programLoc := t.platform.ProgramLocation()

	sectors := (len(bits) + FlashSectorSize - 1) / FlashSectorSize
	if sectors == 0 {
		sectors = 1
	}
	for i := 0; i < sectors; i++ {
		lo := i * FlashSectorSize
		hi := lo + FlashSectorSize
		if hi > len(bits) {
			hi = len(bits)
		}
		chunk := bits[lo:hi]

		wordOffset := (programLoc + uint32(FlashSectorSize*i)) / 4
		path := fmt.Sprintf("/flash.%s.%x", strconv.FormatUint(uint64(wordOffset), 16), len(chunk)/4)
		if err := t.upload(ctx, path, chunk); err != nil {
			if recorder != nil {
				recorder.RecordFailure(ctx, corrID, err.Error())
			}
			return fmt.Errorf("tapcp: program: writing sector %d: %w", i, err)
		}
	}

	if err := t.SetMetadata(ctx, map[string]string{
		"md5":         d.MD5Hex(),
		"sector_size": strconv.Itoa(FlashSectorSize),
	}); err != nil {
		if recorder != nil {
			recorder.RecordFailure(ctx, corrID, err.Error())
		}
		return fmt.Errorf("tapcp: program: updating metadata: %w", err)
	}

	bootAddr := programLoc
	if t.platform.ProgAddrShift() {
		bootAddr >>= 8
	}
	if err := t.progdev(ctx, bootAddr); err != nil {
		if recorder != nil {
			recorder.RecordFailure(ctx, corrID, err.Error())
		}
		return fmt.Errorf("tapcp: program: progdev: %w", err)
	}

	time.Sleep(time.Second)

	if recorder != nil {
		recorder.RecordSuccess(ctx, corrID)
	}
	t.logger.InfoContext(ctx, "tapcp: program complete", "correlation_id", corrID, "md5", d.MD5Hex())
	return nil
}
