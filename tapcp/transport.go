// Package tapcp implements the host-side transport for TAPCP-speaking FPGA
// boards: a TFTP-derived request/response protocol serving register
// memory, flash, device directory, and program-boot over a pseudo-file
// namespace. It layers word alignment, flash metadata management, and an
// outer transient-fault retry on top of the inner tftp package.
package tapcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/casper-tapcp/tapcpctl/tftp"
)

const (
	// DefaultTimeout is the per-packet socket timeout used by ordinary
	// reads/writes.
	DefaultTimeout = 500 * time.Millisecond
	// DefaultRetries is the inner TFTP engine's resend budget.
	DefaultRetries = 5
	// DefaultMaxTimeout caps the outer retry layer's geometric backoff.
	DefaultMaxTimeout = 5 * time.Second
	// programTimeout is the elevated per-packet timeout used only while
	// a program operation is writing flash.
	programTimeout = 1500 * time.Millisecond
	// programRetries is the elevated inner retry budget used only while
	// a program operation is writing flash.
	programRetries = 8
)

// Config parameterizes Connect. Address is a "host:port" UDP endpoint;
// the zero value of every other field selects the package defaults.
type Config struct {
	Address    string
	Platform   Platform
	Timeout    time.Duration
	Retries    int
	MaxTimeout time.Duration
	Logger     *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retries <= 0 {
		c.Retries = DefaultRetries
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = DefaultMaxTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Transport is a connected handle to one board. It is not safe for
// concurrent use by multiple goroutines without external synchronization
// beyond what Transport itself provides: every operation takes an
// internal mutex for its duration, so the socket is never shared between
// two in-flight TFTP transactions, but callers building read-modify-write
// sequences across multiple calls must still coordinate at a higher
// level; the yellowblocks peripherals take no lock of their own across
// such sequences.
type Transport struct {
	mu sync.Mutex

	conn     *net.UDPConn
	platform Platform
	logger   *slog.Logger

	timeout    time.Duration
	retries    int
	maxTimeout time.Duration
}

// Connect opens a UDP socket to the board named in cfg.Address and
// returns a ready-to-use Transport.
func Connect(ctx context.Context, cfg Config) (*Transport, error) {
	cfg = cfg.withDefaults()

	raddr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("tapcp: resolve %q: %w", cfg.Address, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("tapcp: dial %q: %w", cfg.Address, err)
	}

	t := &Transport{
		conn:       conn,
		platform:   cfg.Platform,
		logger:     cfg.Logger,
		timeout:    cfg.Timeout,
		retries:    cfg.Retries,
		maxTimeout: cfg.MaxTimeout,
	}
	t.logger.InfoContext(ctx, "tapcp: connected", "addr", cfg.Address, "platform", cfg.Platform)
	return t, nil
}

// Close releases the underlying socket.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// Platform returns the board family this transport was configured for.
func (t *Transport) Platform() Platform { return t.platform }

// download runs a TFTP read with the current timeout/retry settings,
// wrapped in the outer transient-fault retry layer: boards under rapid
// sequential traffic occasionally answer with spurious ERROR packets, so
// a server ERROR response is retried after a geometrically growing,
// capped sleep. The inner engine's retry-on-receive-timeout loop (tftp
// package; it waits again without re-sending the last packet) is a
// distinct layer and is never merged with this one.
func (t *Transport) download(ctx context.Context, path string, mode tftp.Mode) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []byte
	corrID := uuid.NewString()
	err := t.withOuterRetry(ctx, corrID, "download", path, func() error {
		b, err := tftp.Download(t.conn, path, mode, t.timeout, t.retries)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// upload runs a TFTP write with the current timeout/retry settings,
// wrapped in the same outer retry layer as download.
func (t *Transport) upload(ctx context.Context, path string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	corrID := uuid.NewString()
	return t.withOuterRetry(ctx, corrID, "upload", path, func() error {
		return tftp.Upload(t.conn, path, data, t.timeout, t.retries)
	})
}

func (t *Transport) withOuterRetry(ctx context.Context, corrID, op, path string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.timeout
	b.MaxInterval = t.maxTimeout
	b.MaxElapsedTime = t.maxTimeout

	attempt := 0
	wrapped := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}

		var respErr *tftp.ErrorResponseError
		if errors.As(err, &respErr) {
			t.logger.WarnContext(ctx, "tapcp: transient server fault, retrying",
				"correlation_id", corrID, "op", op, "path", path, "attempt", attempt,
				"error_code", respErr.Code, "error_msg", respErr.Msg)
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(wrapped, backoff.WithContext(b, ctx)); err != nil {
		return &TransportError{Op: op, Err: err}
	}
	return nil
}
