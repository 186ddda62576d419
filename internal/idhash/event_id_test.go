package idhash

import (
	"testing"

	"solana-lending-lab/internal/domain"
)

func TestComputeEventID(t *testing.T) {
	tests := []struct {
		name       string
		signature  string
		eventIndex int
		kind       domain.EventKind
		wantLen    int // hash length should be 64
	}{
		{
			name:       "supply",
			signature:  "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW",
			eventIndex: 0,
			kind:       domain.EventSupplied,
			wantLen:    64,
		},
		{
			name:       "second event of a request",
			signature:  "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW",
			eventIndex: 1,
			kind:       domain.EventMinted,
			wantLen:    64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeEventID(tt.signature, tt.eventIndex, tt.kind)

			if len(got) != tt.wantLen {
				t.Errorf("ComputeEventID() length = %d, want %d", len(got), tt.wantLen)
			}

			got2 := ComputeEventID(tt.signature, tt.eventIndex, tt.kind)
			if got != got2 {
				t.Errorf("ComputeEventID() not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestComputeEventID_DifferentInputs(t *testing.T) {
	base := ComputeEventID("sig", 0, domain.EventSupplied)

	if base == ComputeEventID("other_sig", 0, domain.EventSupplied) {
		t.Error("Different signature should produce different hash")
	}
	if base == ComputeEventID("sig", 1, domain.EventSupplied) {
		t.Error("Different index should produce different hash")
	}
	if base == ComputeEventID("sig", 0, domain.EventWithdrawn) {
		t.Error("Different kind should produce different hash")
	}
}
