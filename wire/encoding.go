package wire

import (
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Encoding names the transfer encoding of a unit payload.
// Stored units and fingerprints always refer to decoded bytes.
type Encoding string

const (
	// EncodingIdentity sends the unit bytes as they are.
	EncodingIdentity Encoding = "identity"
	// EncodingLZ4 sends an LZ4 block. The raw size travels in X-Unit-Raw-Size.
	EncodingLZ4 Encoding = "lz4"
	// EncodingZstd sends a zstd frame.
	EncodingZstd Encoding = "zstd"
)

// errIncompressible signals that encoding would not shrink the payload.
var errIncompressible = errors.New("payload is incompressible")

// ParseEncoding parses a Content-Encoding value. An empty value is identity.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "identity", "none":
		return EncodingIdentity, nil
	case "lz4":
		return EncodingLZ4, nil
	case "zstd":
		return EncodingZstd, nil
	default:
		return "", fmt.Errorf("unsupported content encoding %q (must be identity, lz4 or zstd)", s)
	}
}

// zstd encoders and decoders are safe for concurrent use, so one pair
// serves every worker.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("wire: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxUnitSize))
	if err != nil {
		panic("wire: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode encodes data with enc and returns the payload together with the
// encoding actually applied. Incompressible data falls back to identity.
func Encode(data []byte, enc Encoding) ([]byte, Encoding, error) {
	var (
		out []byte
		err error
	)
	switch enc {
	case EncodingIdentity, "":
		return data, EncodingIdentity, nil
	case EncodingLZ4:
		out, err = encodeLZ4(data)
	case EncodingZstd:
		out, err = encodeZstd(data)
	default:
		return nil, "", fmt.Errorf("unsupported encoding %q", enc)
	}

	if errors.Is(err, errIncompressible) {
		return data, EncodingIdentity, nil
	}
	if err != nil {
		return nil, "", err
	}
	return out, enc, nil
}

// Decode reverses Encode. rawSize is the decoded length announced by the
// sender; a mismatch is an error.
func Decode(payload []byte, enc Encoding, rawSize int) ([]byte, error) {
	if rawSize < 0 || rawSize > MaxUnitSize {
		return nil, fmt.Errorf("raw size %d outside [0, %d]", rawSize, MaxUnitSize)
	}

	switch enc {
	case EncodingIdentity, "":
		if len(payload) != rawSize {
			return nil, fmt.Errorf("identity payload is %d bytes, announced %d", len(payload), rawSize)
		}
		return payload, nil
	case EncodingLZ4:
		return decodeLZ4(payload, rawSize)
	case EncodingZstd:
		return decodeZstd(payload, rawSize)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
}

func encodeLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 encode: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func decodeLZ4(payload []byte, rawSize int) ([]byte, error) {
	dst := make([]byte, rawSize)
	n, err := lz4.UncompressBlock(payload, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decode: %w", err)
	}
	if n != rawSize {
		return nil, fmt.Errorf("lz4 decode: got %d bytes, announced %d", n, rawSize)
	}
	return dst, nil
}

func encodeZstd(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}

func decodeZstd(payload []byte, rawSize int) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, rawSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	if len(out) != rawSize {
		return nil, fmt.Errorf("zstd decode: got %d bytes, announced %d", len(out), rawSize)
	}
	return out, nil
}
