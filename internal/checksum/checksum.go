// Package checksum provides the SHA-256 digest type used to record and
// verify package archive checksums in the lockfile.
//
// It follows the same "algorithm-prefixed hex string" representation used
// throughout the corpus for content digests, but is narrowed to SHA-256
// because that's the only algorithm spec.md's lockfile format records.
package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Algorithm is the fixed digest algorithm name used in textual representations.
const Algorithm = "sha256"

// SHA256 is a SHA-256 digest, represented textually as "sha256:<hex>".
type SHA256 struct {
	sum  [sha256.Size]byte
	repr string
}

// Sum computes the digest of r's contents.
func Sum(r io.Reader) (SHA256, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return SHA256{}, fmt.Errorf("checksum: %w", err)
	}
	var d SHA256
	copy(d.sum[:], h.Sum(nil))
	d.repr = render(d.sum[:])
	return d, nil
}

// SumBytes computes the digest of b.
func SumBytes(b []byte) SHA256 {
	sum := sha256.Sum256(b)
	return SHA256{sum: sum, repr: render(sum[:])}
}

// Parse parses a "sha256:<hex>" string, or a bare hex string (the lockfile
// format omits the algorithm prefix since it only ever records SHA-256).
func Parse(s string) (SHA256, error) {
	hexPart := s
	if i := bytes.IndexByte([]byte(s), ':'); i != -1 {
		algo := s[:i]
		if algo != Algorithm {
			return SHA256{}, fmt.Errorf("checksum: unsupported algorithm %q", algo)
		}
		hexPart = s[i+1:]
	}
	b, err := hex.DecodeString(hexPart)
	if err != nil {
		return SHA256{}, fmt.Errorf("checksum: invalid hex: %w", err)
	}
	if len(b) != sha256.Size {
		return SHA256{}, fmt.Errorf("checksum: want %d bytes, got %d", sha256.Size, len(b))
	}
	var d SHA256
	copy(d.sum[:], b)
	d.repr = render(d.sum[:])
	return d, nil
}

func render(sum []byte) string {
	return Algorithm + ":" + hex.EncodeToString(sum)
}

// Bytes returns the raw digest bytes.
func (d SHA256) Bytes() []byte { return append([]byte(nil), d.sum[:]...) }

// Hex returns the bare lowercase hex digest, with no algorithm prefix —
// the form the lockfile's CHECKSUMS section records.
func (d SHA256) Hex() string { return d.repr[len(Algorithm)+1:] }

// String returns the "sha256:<hex>" form.
func (d SHA256) String() string { return d.repr }

// IsZero reports whether d is the zero value (no digest recorded).
func (d SHA256) IsZero() bool { return d.repr == "" }

// Equal reports whether d and other are the same digest.
func (d SHA256) Equal(other SHA256) bool { return d.sum == other.sum }
