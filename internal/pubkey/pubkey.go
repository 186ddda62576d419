// Package pubkey implements Solana-compatible 32-byte account addresses and
// program-derived address (PDA) derivation.
package pubkey

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Size is the length of an address in bytes.
const Size = 32

// Derivation limits, identical to the Solana runtime.
const (
	MaxSeeds      = 16
	MaxSeedLength = 32
)

// pdaMarker is appended after the program id when hashing derived addresses.
var pdaMarker = []byte("ProgramDerivedAddress")

var (
	// ErrInvalidLength is returned when decoding bytes that are not 32 long.
	ErrInvalidLength = errors.New("pubkey: invalid length")

	// ErrMaxSeedLengthExceeded is returned when a seed is longer than MaxSeedLength.
	ErrMaxSeedLengthExceeded = errors.New("pubkey: seed exceeds maximum length")

	// ErrTooManySeeds is returned when more than MaxSeeds seeds are supplied.
	ErrTooManySeeds = errors.New("pubkey: too many seeds")

	// ErrOnCurve is returned when the derived hash is a valid ed25519 point and
	// therefore may have a private key.
	ErrOnCurve = errors.New("pubkey: derived address is on the ed25519 curve")

	// ErrNoViableBump is returned when every bump in [1, 255] lands on the curve.
	ErrNoViableBump = errors.New("pubkey: unable to find a viable bump seed")
)

// PublicKey is a 32-byte account address.
type PublicKey [Size]byte

// Zero is the all-zero address (the system program).
var Zero PublicKey

// FromBytes copies b into a PublicKey.
func FromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != Size {
		return pk, fmt.Errorf("%w: %d", ErrInvalidLength, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// FromEd25519 converts an ed25519 public key into an address.
func FromEd25519(key ed25519.PublicKey) (PublicKey, error) {
	return FromBytes(key)
}

// Parse decodes a base58 address.
func Parse(s string) (PublicKey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("decode base58 address %q: %w", s, err)
	}
	return FromBytes(b)
}

// MustParse is like Parse but panics on error. Intended for constants.
func MustParse(s string) PublicKey {
	pk, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// FromSeed returns sha256(seed) as an address. Used for deterministic
// well-known ids that are not program-derived.
func FromSeed(seed string) PublicKey {
	return PublicKey(sha256.Sum256([]byte(seed)))
}

// String returns the base58 form.
func (p PublicKey) String() string {
	return base58.Encode(p[:])
}

// Bytes returns a copy of the raw bytes.
func (p PublicKey) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, p[:])
	return out
}

// IsZero reports whether p is the zero address.
func (p PublicKey) IsZero() bool {
	return p == Zero
}

// Less orders addresses by raw bytes.
func (p PublicKey) Less(o PublicKey) bool {
	return bytes.Compare(p[:], o[:]) < 0
}

// MarshalText implements encoding.TextMarshaler.
func (p PublicKey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PublicKey) UnmarshalText(text []byte) error {
	pk, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = pk
	return nil
}

// IsOnCurve reports whether b is the encoding of a point on the ed25519 curve.
func IsOnCurve(b []byte) bool {
	if len(b) != Size {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress derives sha256(seeds || programID || marker) and
// rejects results that fall on the curve.
func CreateProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, error) {
	if len(seeds) > MaxSeeds {
		return PublicKey{}, ErrTooManySeeds
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return PublicKey{}, ErrMaxSeedLengthExceeded
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(pdaMarker)

	var addr PublicKey
	copy(addr[:], h.Sum(nil))
	if IsOnCurve(addr[:]) {
		return PublicKey{}, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 down to 1 and returns the first
// off-curve address together with its bump.
func FindProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return PublicKey{}, 0, ErrTooManySeeds
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump > 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return PublicKey{}, 0, err
		}
	}
	return PublicKey{}, 0, ErrNoViableBump
}
