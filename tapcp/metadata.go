package tapcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/casper-tapcp/tapcpctl/tftp"
)

// metadataChunkWords is the number of 4-byte words read per flash scan
// iteration while hunting for the ?end sentinel.
const metadataChunkWords = 256

// metadataMaxChunks bounds the flash scan; exceeding it without finding
// ?end means the metadata sector is corrupt or absent.
const metadataMaxChunks = 128

// Metadata reads and parses the flash-stored key/value metadata blob for
// the configured platform: repeated 256-word flash chunks beginning at
// platform_flash_loc/4, concatenated until the accumulated text contains
// the literal sentinel "?end".
func (t *Transport) Metadata(ctx context.Context) (map[string]string, error) {
	startWord := t.platform.FlashLocation() / 4

	var accum strings.Builder
	for chunk := 0; chunk < metadataMaxChunks; chunk++ {
		path := fmt.Sprintf("/flash.%x.%x", startWord+uint32(chunk*metadataChunkWords), metadataChunkWords)
		raw, err := t.download(ctx, path, tftp.Octet)
		if err != nil {
			return nil, err
		}
		accum.Write(raw)

		text := accum.String()
		if idx := strings.Index(text, "?end"); idx >= 0 {
			return parseMetadataText(text[:idx]), nil
		}
	}
	return nil, &MissingMetadataError{}
}

// SetMetadata serializes kv as "?key\tvalue\n" records followed by the
// "?end" sentinel, pads with ASCII '0' to the next 1024-byte boundary,
// and writes the result at the platform's flash metadata location.
func (t *Transport) SetMetadata(ctx context.Context, kv map[string]string) error {
	var b strings.Builder
	for k, v := range kv {
		fmt.Fprintf(&b, "?%s\t%s\n", k, v)
	}
	b.WriteString("?end")

	payload := []byte(b.String())
	if pad := 1024 - len(payload)%1024; pad != 1024 {
		payload = append(payload, padBytes(pad)...)
	}

	path := fmt.Sprintf("/flash.%x.%x", t.platform.FlashLocation()/4, len(payload)/4)
	return t.upload(ctx, path, payload)
}

func padBytes(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = '0'
	}
	return out
}

func parseMetadataText(text string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimPrefix(line, "?")
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}
