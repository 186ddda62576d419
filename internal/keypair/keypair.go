// Package keypair reads and writes ed25519 keypairs in the Solana CLI file
// format: a JSON array of the 64 private key bytes.
package keypair

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"solana-lending-lab/internal/pubkey"
)

// Keypair is an ed25519 signing key.
type Keypair struct {
	private ed25519.PrivateKey
}

// Generate creates a random keypair.
func Generate() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Keypair{private: priv}, nil
}

// FromSeed derives a keypair deterministically from a label. Intended for
// tests and local fixtures only.
func FromSeed(label string) *Keypair {
	seed := sha256.Sum256([]byte("keypair:" + label))
	return &Keypair{private: ed25519.NewKeyFromSeed(seed[:])}
}

// FromPrivateKey wraps an existing ed25519 private key.
func FromPrivateKey(key ed25519.PrivateKey) (*Keypair, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length %d", len(key))
	}
	return &Keypair{private: key}, nil
}

// PublicKey returns the keypair's address.
func (k *Keypair) PublicKey() pubkey.PublicKey {
	var pk pubkey.PublicKey
	copy(pk[:], k.private[ed25519.SeedSize:])
	return pk
}

// PrivateKey returns the signing key.
func (k *Keypair) PrivateKey() ed25519.PrivateKey { return k.private }

// Load reads a keypair file.
func Load(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair: %w", err)
	}
	var raw []byte
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("parse keypair %s: %w", path, err)
	}
	raw = make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("parse keypair %s: byte %d out of range", path, i)
		}
		raw[i] = byte(v)
	}
	kp, err := FromPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse keypair %s: %w", path, err)
	}
	// The public half must match the seed.
	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !derived.Equal(kp.private) {
		return nil, fmt.Errorf("parse keypair %s: public key does not match secret", path)
	}
	return kp, nil
}

// Save writes the keypair file with owner-only permissions.
func (k *Keypair) Save(path string) error {
	ints := make([]int, len(k.private))
	for i, b := range k.private {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create keypair dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write keypair: %w", err)
	}
	return nil
}
