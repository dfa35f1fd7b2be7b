// Package wire defines the upload protocol shared by the transfer client
// and the chunk store server: request headers, unit payload encodings,
// JSON response bodies and the msgpack records persisted beside units.
package wire

import (
	"errors"
	"fmt"
	"mime"
	"strconv"
)

// Request headers. Chunk-Index and Original-Filename are required on
// every upload.
const (
	HeaderChunkIndex         = "Chunk-Index"
	HeaderOriginalFilename   = "Original-Filename"
	HeaderContentType        = "Content-Type"
	HeaderContentDisposition = "Content-Disposition"
	HeaderContentEncoding    = "Content-Encoding"
	HeaderRawSize            = "X-Unit-Raw-Size"
	HeaderFingerprint        = "X-Unit-Fingerprint"
	HeaderProtocol           = "X-Tessera-Protocol"
	HeaderSession            = "X-Tessera-Session"
)

// ContentTypeOctetStream marks an opaque binary unit payload.
const ContentTypeOctetStream = "application/octet-stream"

// MaxUnitSize bounds a single decoded unit (64 MiB). The largest adaptive
// unit tier is 50 MiB.
const MaxUnitSize = 64 * 1024 * 1024

// ErrMissingIndex is returned when the Chunk-Index header is absent.
var ErrMissingIndex = errors.New("chunk index not provided")

// ErrMissingFilename is returned when the Original-Filename header is absent.
var ErrMissingFilename = errors.New("original filename not provided")

// ContentDisposition formats an attachment disposition for filename.
func ContentDisposition(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}

// FormatIndex renders a sequence index for the Chunk-Index header.
func FormatIndex(index int64) string {
	return strconv.FormatInt(index, 10)
}

// ParseIndex parses a Chunk-Index header value. The index must be a
// non-negative base-10 integer.
func ParseIndex(value string) (int64, error) {
	if value == "" {
		return 0, ErrMissingIndex
	}
	index, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chunk index %q: %w", value, err)
	}
	if index < 0 {
		return 0, fmt.Errorf("invalid chunk index %d: must be non-negative", index)
	}
	return index, nil
}
