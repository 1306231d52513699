package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNonceGap        = errors.New("nonce gap")
	ErrNonceOutOfOrder = errors.New("nonce out of order")
)

// NonceTracker holds each caller's next expected nonce. A caller that has
// never submitted expects 0. Guarded by the core mutex.
type NonceTracker struct {
	next map[uuid.UUID]int64
}

func NewNonceTracker() *NonceTracker {
	return &NonceTracker{next: make(map[uuid.UUID]int64)}
}

// Check validates nonce for caller without consuming it, so a rejected
// command can be resubmitted with the same nonce. A stale nonce passes only
// for a duplicate, which the core then answers as a no-op.
func (nt *NonceTracker) Check(caller uuid.UUID, nonce int64, duplicate bool) error {
	expected := nt.next[caller]
	switch {
	case nonce == expected:
		return nil
	case nonce < expected:
		if duplicate {
			return nil
		}
		return fmt.Errorf("%w: caller %s expected %d, got %d", ErrNonceOutOfOrder, caller, expected, nonce)
	default:
		return fmt.Errorf("%w: caller %s expected %d, got %d", ErrNonceGap, caller, expected, nonce)
	}
}

// Consume records nonce as used by an applied command.
func (nt *NonceTracker) Consume(caller uuid.UUID, nonce int64) {
	nt.next[caller] = nonce + 1
}

// Next returns the nonce caller must use on its next command.
func (nt *NonceTracker) Next(caller uuid.UUID) int64 {
	return nt.next[caller]
}

// Export copies every caller's next nonce.
func (nt *NonceTracker) Export() map[uuid.UUID]int64 {
	out := make(map[uuid.UUID]int64, len(nt.next))
	for k, v := range nt.next {
		out[k] = v
	}
	return out
}

// Restore replaces the tracked nonces with a snapshot's.
func (nt *NonceTracker) Restore(next map[uuid.UUID]int64) {
	nt.next = make(map[uuid.UUID]int64, len(next))
	for k, v := range next {
		nt.next[k] = v
	}
}
