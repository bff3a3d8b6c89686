package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/s2"
)

// CompressionCodec identifies the envelope wrapped around a large message
// body (sync-step-2 bulk updates, awareness full snapshots). The codec tag
// is the first byte of the wrapped body, living inside the frame payload
// after the message-type tag (framing itself, the 2-byte length prefix,
// is untouched).
type CompressionCodec byte

const (
	// CodecNone carries the body unmodified after the tag byte; senders
	// use it when a body is too small to be worth compressing.
	CodecNone CompressionCodec = 0
	// CodecS2 wraps the body in klauspost/compress's S2 (Snappy-derived)
	// format, chosen for bulk CRDT update payloads: fast encode, good
	// ratio on the highly redundant byte runs a CRDT update log produces.
	CodecS2 CompressionCodec = 1
	// CodecBrotli wraps the body in brotli, chosen for the awareness
	// full-snapshot frame: mostly-JSON text compresses further under
	// brotli than S2, and the snapshot is sent rarely (once per connect),
	// so brotli's slower encode is not on any hot path.
	CodecBrotli CompressionCodec = 2
)

// Wrap prepends the codec tag and compresses body accordingly.
func Wrap(codec CompressionCodec, body []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		out := make([]byte, 1+len(body))
		out[0] = byte(CodecNone)
		copy(out[1:], body)
		return out, nil
	case CodecS2:
		var buf bytes.Buffer
		buf.WriteByte(byte(CodecS2))
		w := s2.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, fmt.Errorf("wire: s2 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("wire: s2 compress: %w", err)
		}
		return buf.Bytes(), nil
	case CodecBrotli:
		var buf bytes.Buffer
		buf.WriteByte(byte(CodecBrotli))
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, fmt.Errorf("wire: brotli compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("wire: brotli compress: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("wire: unknown compression codec %d", codec)
	}
}

// Unwrap reads the codec tag and returns the decompressed body.
func Unwrap(wrapped []byte) ([]byte, error) {
	if len(wrapped) == 0 {
		return nil, fmt.Errorf("wire: empty compression envelope")
	}
	codec := CompressionCodec(wrapped[0])
	body := wrapped[1:]
	switch codec {
	case CodecNone:
		return body, nil
	case CodecS2:
		r := s2.NewReader(bytes.NewReader(body))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("wire: s2 decompress: %w", err)
		}
		return out, nil
	case CodecBrotli:
		r := brotli.NewReader(bytes.NewReader(body))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("wire: brotli decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("wire: unknown compression codec %d", codec)
	}
}

// ShouldCompress is the default heuristic for whether a body is worth
// wrapping: compression overhead isn't worth it for small control messages
// like an empty state vector.
func ShouldCompress(body []byte) bool {
	return len(body) >= 512
}
