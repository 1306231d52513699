package core

import (
	"crypto/sha256"
	"encoding/binary"
)

// hashDomain prefixes every link so a ledger hash cannot collide with a
// hash computed for any other purpose over the same bytes.
const hashDomain = "VaultLedger/state/v1"

// HashChain links every applied command to the one before it:
//
//	hash[n] = SHA-256(domain || hash[n-1] || seq || len(digest) || digest)
//
// with hash[-1] = SHA-256(domain). Integers are big-endian.
type HashChain struct {
	tip [32]byte
}

func NewHashChain() *HashChain {
	return &HashChain{tip: sha256.Sum256([]byte(hashDomain))}
}

// Next appends the state digest for sequence and returns the new tip.
func (h *HashChain) Next(sequence int64, digest []byte) [32]byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(sequence))
	binary.BigEndian.PutUint64(buf[8:], uint64(len(digest)))

	sum := sha256.New()
	sum.Write([]byte(hashDomain))
	sum.Write(h.tip[:])
	sum.Write(buf[:])
	sum.Write(digest)
	copy(h.tip[:], sum.Sum(nil))
	return h.tip
}

// Tip is the hash of the last applied command.
func (h *HashChain) Tip() [32]byte { return h.tip }

// Reset moves the tip, used when restoring a snapshot.
func (h *HashChain) Reset(tip [32]byte) { h.tip = tip }
