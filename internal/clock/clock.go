// Package clock provides slot sources for the ledger.
package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"solana-lending-lab/internal/solana"
)

// DefaultSlotDuration is the target slot time of a Solana cluster.
const DefaultSlotDuration = 400 * time.Millisecond

// Genesis is the epoch of the wall clock. It is fixed so that slots keep
// increasing across restarts over persistent storage.
var Genesis = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// ErrStale is returned when the RPC clock cannot refresh and its last reading
// is older than the allowed staleness.
var ErrStale = errors.New("clock: slot reading is stale")

// Fixed always reports the same slot.
type Fixed uint64

// Slot returns s.
func (s Fixed) Slot(context.Context) (uint64, error) { return uint64(s), nil }

// Wall derives slots from elapsed wall time since genesis.
type Wall struct {
	genesis  time.Time
	duration time.Duration
	now      func() time.Time
}

// NewWall creates a Wall clock. A zero duration uses DefaultSlotDuration.
func NewWall(genesis time.Time, duration time.Duration) *Wall {
	if duration <= 0 {
		duration = DefaultSlotDuration
	}
	return &Wall{genesis: genesis, duration: duration, now: time.Now}
}

// Slot returns the number of whole slots elapsed since genesis.
func (w *Wall) Slot(context.Context) (uint64, error) {
	elapsed := w.now().Sub(w.genesis)
	if elapsed < 0 {
		return 0, nil
	}
	return uint64(elapsed / w.duration), nil
}

// RPC caches the slot of a Solana node, refreshing at most once per interval.
// Readings never move backwards.
type RPC struct {
	client    solana.RPCClient
	interval  time.Duration
	staleness time.Duration
	now       func() time.Time

	mu        sync.Mutex
	slot      uint64
	fetchedAt time.Time
	last      uint64
}

// NewRPC creates an RPC clock. Between refreshes the cached slot is advanced
// by elapsed wall time; when a refresh fails the cache is served until it is
// older than staleness.
func NewRPC(client solana.RPCClient, interval, staleness time.Duration) *RPC {
	return &RPC{client: client, interval: interval, staleness: staleness, now: time.Now}
}

// Slot returns the current slot estimate.
func (r *RPC) Slot(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !r.fetchedAt.IsZero() && now.Sub(r.fetchedAt) < r.interval {
		return r.observe(r.estimate(now)), nil
	}

	slot, err := r.client.GetSlot(ctx)
	if err != nil {
		if !r.fetchedAt.IsZero() && now.Sub(r.fetchedAt) < r.staleness {
			return r.observe(r.estimate(now)), nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStale, err)
	}

	r.slot = slot
	r.fetchedAt = now
	return r.observe(slot), nil
}

// estimate advances the cached slot by the time since it was fetched.
func (r *RPC) estimate(now time.Time) uint64 {
	return r.slot + uint64(now.Sub(r.fetchedAt)/DefaultSlotDuration)
}

// observe clamps v to the highest slot returned so far.
func (r *RPC) observe(v uint64) uint64 {
	if v < r.last {
		return r.last
	}
	r.last = v
	return v
}
