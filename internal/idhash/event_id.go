// Package idhash computes deterministic identifiers.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"solana-lending-lab/internal/domain"
)

// ComputeEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(signature|event_index|kind)
// Returns hex-encoded hash (64 characters).
func ComputeEventID(signature string, eventIndex int, kind domain.EventKind) string {
	data := fmt.Sprintf("%s|%d|%s", signature, eventIndex, string(kind))

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
