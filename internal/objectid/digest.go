package objectid

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"
)

// Digest is a write-only stream that accumulates values into a ContentHash.
// Multi-byte values are little-endian; strings are length-prefixed.
type Digest struct {
	h   hash.Hash
	buf [8]byte
}

// NewDigest returns an empty digest stream.
func NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

// Write implements io.Writer.
func (d *Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// WriteByte writes a single byte.
func (d *Digest) WriteByte(b byte) error {
	d.buf[0] = b
	_, err := d.h.Write(d.buf[:1])
	return err
}

// WriteUint32 writes v as four little-endian bytes.
func (d *Digest) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(d.buf[:4], v)
	_, _ = d.h.Write(d.buf[:4])
}

// WriteUint64 writes v as eight little-endian bytes.
func (d *Digest) WriteUint64(v uint64) {
	binary.LittleEndian.PutUint64(d.buf[:8], v)
	_, _ = d.h.Write(d.buf[:8])
}

// WriteString writes a length-prefixed string.
func (d *Digest) WriteString(s string) {
	d.WriteUint64(uint64(len(s)))
	_, _ = d.h.Write([]byte(s))
}

// WriteBool writes one byte, 1 for true.
func (d *Digest) WriteBool(v bool) {
	if v {
		_ = d.WriteByte(1)
		return
	}
	_ = d.WriteByte(0)
}

// WriteHash writes the raw bytes of h.
func (d *Digest) WriteHash(h ContentHash) {
	_, _ = d.h.Write(h[:])
}

// WriteLocation writes the type byte followed by the length-prefixed path.
func (d *Digest) WriteLocation(l Location) {
	_ = d.WriteByte(byte(l.Type))
	d.WriteString(l.Path)
}

// Sum returns the accumulated hash. The stream may continue to be written.
func (d *Digest) Sum() ContentHash {
	var out ContentHash
	copy(out[:], d.h.Sum(nil))
	return out
}
