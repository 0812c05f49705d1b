// Package bitstream parses the CASPER-specific ".fpg" bitstream descriptor
// format: a line-oriented ASCII header (shebang, register table, metadata
// table) followed by an arbitrary binary bitstream payload, optionally
// gzip-compressed.
package bitstream

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	shebangLine   = "#!/bin/kcpfpg"
	uploadbinLine = "?uploadbin"
	quitLine      = "?quit"
)

var gzipMagic = []byte{0x1F, 0x8B, 0x08}

// Register is a named, fixed-width window within a device's address space.
type Register struct {
	Addr uint32
	Size uint32
}

// Device is one named peripheral entry from the descriptor: its kind
// string classifies the peripheral family (e.g. "xps:sw_reg",
// "xps:ten_gbe", "xps:snap_adc", "casper:snapshot"); Register is present
// only if a register line's name matched this device's (rewritten) name.
type Device struct {
	Kind     string
	Register *Register
	Metadata map[string]string
}

// Description is the fully parsed result of reading one .fpg file:
// the device/register map, the (possibly decompressed) bitstream bytes,
// and the md5 of the raw file bytes as stored on disk.
type Description struct {
	Devices   map[string]*Device
	Bitstream []byte
	MD5       [16]byte
	Filename  string
}

// ParseError reports a malformed descriptor.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return fmt.Sprintf("bitstream: parse error: %s", e.Reason) }

func parseErr(format string, args ...any) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// Cache bounds repeated parses of the same descriptor file across a
// process's lifetime (e.g. a design binder re-binding after a program
// call reads the same .fpg it just programmed from). Keys are
// (absolute path, size, mtime) composites; see Reader.
type Cache struct {
	lru *lru.Cache[string, *Description]
}

// NewCache builds an LRU-backed descriptor cache with the given capacity.
func NewCache(capacity int) (*Cache, error) {
	c, err := lru.New[string, *Description](capacity)
	if err != nil {
		return nil, fmt.Errorf("bitstream: new cache: %w", err)
	}
	return &Cache{lru: c}, nil
}

// DefaultCacheCapacity is the capacity used when a caller wants a cache
// but has no specific sizing opinion.
const DefaultCacheCapacity = 8

// Reader reads and parses .fpg descriptor files, optionally caching
// results.
type Reader struct {
	cache *Cache
}

// NewReader constructs a Reader. A nil cache disables caching.
func NewReader(cache *Cache) *Reader {
	return &Reader{cache: cache}
}

// ReadFile reads and parses the .fpg file at path, consulting and
// populating the reader's cache (if any) keyed on the absolute path plus the file's
// size and modification time, so an on-disk edit invalidates the cached
// entry without an explicit eviction call.
func (r *Reader) ReadFile(path string) (*Description, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("bitstream: stat %q: %w", path, err)
	}
	keyPath := path
	if abs, err := filepath.Abs(path); err == nil {
		keyPath = abs
	}
	key := fmt.Sprintf("%s|%d|%d", keyPath, info.Size(), info.ModTime().UnixNano())

	if r.cache != nil {
		if desc, ok := r.cache.lru.Get(key); ok {
			return desc, nil
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bitstream: read %q: %w", path, err)
	}

	desc, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("bitstream: parse %q: %w", path, err)
	}
	desc.Filename = path

	if r.cache != nil {
		r.cache.lru.Add(key, desc)
	}
	return desc, nil
}

// Parse parses the raw bytes of a .fpg file: shebang, ?uploadbin, zero or
// more ?register lines, zero or more ?meta lines, ?quit, then the
// bitstream payload.
func Parse(raw []byte) (*Description, error) {
	sum := md5.Sum(raw)

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	consumed := 0
	nextLine := func() (string, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		line := scanner.Text()
		consumed += len(line) + 1 // + LF
		return line, nil
	}

	line, err := nextLine()
	if err != nil || line != shebangLine {
		return nil, parseErr("missing %q shebang", shebangLine)
	}

	line, err = nextLine()
	if err != nil || line != uploadbinLine {
		return nil, parseErr("missing %q after shebang", uploadbinLine)
	}

	registers := make(map[string]*Register)
	for {
		line, err = nextLine()
		if err != nil {
			return nil, parseErr("unexpected end of file while reading register/meta lines")
		}
		if !strings.HasPrefix(line, "?register") {
			break
		}
		name, reg, perr := parseRegisterLine(line)
		if perr != nil {
			return nil, perr
		}
		registers[name] = reg
	}

	devices := make(map[string]*Device)
	for strings.HasPrefix(line, "?meta") {
		name, kind, key, value, perr := parseMetaLine(line)
		if perr != nil {
			return nil, perr
		}

		dev, ok := devices[name]
		if !ok {
			dev = &Device{Kind: kind, Metadata: make(map[string]string)}
			if reg, ok := registers[name]; ok {
				dev.Register = reg
				delete(registers, name)
			}
			devices[name] = dev
		}
		dev.Metadata[key] = value

		line, err = nextLine()
		if err != nil {
			return nil, parseErr("unexpected end of file while reading meta lines")
		}
	}

	if line != quitLine {
		return nil, parseErr("expected %q, got %q", quitLine, line)
	}

	if consumed > len(raw) {
		return nil, parseErr("internal offset tracking overran input")
	}
	bitstream := raw[consumed:]

	if bytes.HasPrefix(bitstream, gzipMagic) {
		decompressed, derr := gunzip(bitstream)
		if derr != nil {
			return nil, fmt.Errorf("bitstream: gzip decompress: %w", derr)
		}
		bitstream = decompressed
	}

	return &Description{
		Devices:   devices,
		Bitstream: bitstream,
		MD5:       sum,
	}, nil
}

func gunzip(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// parseRegisterLine parses "?register NAME 0xADDR 0xSIZE".
func parseRegisterLine(line string) (string, *Register, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 || fields[0] != "?register" {
		return "", nil, parseErr("malformed register line %q", line)
	}
	addr, err := parseHex32(fields[2])
	if err != nil {
		return "", nil, parseErr("register %q: %v", fields[1], err)
	}
	size, err := parseHex32(fields[3])
	if err != nil {
		return "", nil, parseErr("register %q: %v", fields[1], err)
	}
	return fields[1], &Register{Addr: addr, Size: size}, nil
}

// parseMetaLine parses "?meta DEV_PATH KIND KEY VALUE", where VALUE
// extends to the end of the line and may itself contain spaces. The
// device path's '/' separators are rewritten to '_' to match register
// naming before it's used as a map key.
func parseMetaLine(line string) (device, kind, key, value string, err error) {
	const prefix = "?meta"
	rest := strings.TrimPrefix(line, prefix)
	if rest == line {
		return "", "", "", "", parseErr("malformed meta line %q", line)
	}

	fields := splitFieldsN(rest, 4)
	if len(fields) != 4 {
		return "", "", "", "", parseErr("malformed meta line %q", line)
	}
	device = strings.ReplaceAll(fields[0], "/", "_")
	return device, fields[1], fields[2], fields[3], nil
}

// splitFieldsN splits s on runs of spaces/tabs into at most n fields; the
// final field retains any internal whitespace, matching the grammar's
// "value extends to line ending" rule.
func splitFieldsN(s string, n int) []string {
	var out []string
	rest := strings.TrimLeft(s, " \t")
	for len(out) < n-1 {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			return out
		}
		idx := strings.IndexAny(rest, " \t")
		if idx < 0 {
			out = append(out, rest)
			return out
		}
		out = append(out, rest[:idx])
		rest = rest[idx:]
	}
	rest = strings.TrimLeft(rest, " \t")
	out = append(out, rest)
	return out
}

func parseHex32(s string) (uint32, error) {
	s = strings.TrimPrefix(s, "0x")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad hex value %q: %w", s, err)
	}
	return uint32(v), nil
}
