package program

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"solana-lending-lab/internal/pubkey"
)

var (
	// ErrNoSignatures is returned for an unsigned request.
	ErrNoSignatures = errors.New("request has no signatures")

	// ErrInvalidSignature is returned when any signature fails to verify.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Request is a signed instruction. Every signature covers Message().
type Request struct {
	Nonce       uint64      `json:"nonce"`
	Instruction Instruction `json:"instruction"`
	Signatures  []Signature `json:"signatures"`
}

// Signature is an ed25519 signature by PublicKey, base58 encoded.
type Signature struct {
	PublicKey pubkey.PublicKey `json:"publicKey"`
	Signature string           `json:"signature"`
}

// Message returns the signed bytes: nonce (u64 LE) || instruction JSON.
func (r *Request) Message() ([]byte, error) {
	body, err := json.Marshal(&r.Instruction)
	if err != nil {
		return nil, fmt.Errorf("encode instruction: %w", err)
	}
	msg := make([]byte, 8, 8+len(body))
	binary.LittleEndian.PutUint64(msg, r.Nonce)
	return append(msg, body...), nil
}

// Sign appends one signature per key. The first key signed becomes the caller.
func Sign(r *Request, keys ...ed25519.PrivateKey) error {
	msg, err := r.Message()
	if err != nil {
		return err
	}
	for _, key := range keys {
		pk, err := pubkey.FromEd25519(key.Public().(ed25519.PublicKey))
		if err != nil {
			return err
		}
		r.Signatures = append(r.Signatures, Signature{
			PublicKey: pk,
			Signature: base58.Encode(ed25519.Sign(key, msg)),
		})
	}
	return nil
}

// Verify checks every signature and returns the signer keys in order,
// without duplicates.
func (r *Request) Verify() ([]pubkey.PublicKey, error) {
	if len(r.Signatures) == 0 {
		return nil, ErrNoSignatures
	}
	msg, err := r.Message()
	if err != nil {
		return nil, err
	}

	seen := make(map[pubkey.PublicKey]struct{}, len(r.Signatures))
	signers := make([]pubkey.PublicKey, 0, len(r.Signatures))
	for _, s := range r.Signatures {
		sig, err := base58.Decode(s.Signature)
		if err != nil || len(sig) != ed25519.SignatureSize {
			return nil, fmt.Errorf("%w: malformed signature of %s", ErrInvalidSignature, s.PublicKey)
		}
		if !ed25519.Verify(ed25519.PublicKey(s.PublicKey[:]), msg, sig) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, s.PublicKey)
		}
		if _, dup := seen[s.PublicKey]; dup {
			continue
		}
		seen[s.PublicKey] = struct{}{}
		signers = append(signers, s.PublicKey)
	}
	return signers, nil
}

// ID identifies the request by its first signature.
func (r *Request) ID() string {
	if len(r.Signatures) == 0 {
		return ""
	}
	return r.Signatures[0].Signature
}

// receiptAddress is where the replay marker of a request lives.
func receiptAddress(id string) pubkey.PublicKey {
	return pubkey.PublicKey(sha256.Sum256([]byte("request_receipt:" + id)))
}
