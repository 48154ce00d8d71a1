// Package objectid defines the value types that identify build inputs and artifacts:
// content hashes, object locations and the digest stream used to derive cache keys.
package objectid

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// HashSize is the size in bytes of a ContentHash.
const HashSize = sha256.Size

// BinaryFormatVersion identifies the serialization format of stored artifacts.
// Changing it invalidates every command cache key.
const BinaryFormatVersion uint32 = 3

// ContentHash is a SHA-256 digest identifying an artifact's exact bytes.
// The zero value is Empty.
type ContentHash [HashSize]byte

// Empty means "unknown" or "invalid".
var Empty ContentHash

// HashBytes returns the ContentHash of data.
func HashBytes(data []byte) ContentHash {
	return ContentHash(sha256.Sum256(data))
}

// HashReader returns the ContentHash of everything readable from r.
func HashReader(r io.Reader) (ContentHash, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Empty, err
	}
	var out ContentHash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// ParseContentHash parses the hex representation produced by String.
func ParseContentHash(s string) (ContentHash, error) {
	var out ContentHash
	if len(s) != hex.EncodedLen(HashSize) {
		return Empty, fmt.Errorf("invalid content hash length %d", len(s))
	}
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return Empty, fmt.Errorf("invalid content hash %q: %w", s, err)
	}
	return out, nil
}

// IsEmpty reports whether h is the Empty sentinel.
func (h ContentHash) IsEmpty() bool { return h == Empty }

// String returns the lower-case hex form.
func (h ContentHash) String() string { return hex.EncodeToString(h[:]) }

// Short returns the first 12 hex characters, for log output.
func (h ContentHash) Short() string { return h.String()[:12] }

// Compare orders hashes bytewise.
func (h ContentHash) Compare(other ContentHash) int { return bytes.Compare(h[:], other[:]) }

// MarshalText implements encoding.TextMarshaler.
func (h ContentHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *ContentHash) UnmarshalText(text []byte) error {
	parsed, err := ParseContentHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
