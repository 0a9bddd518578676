package core

import (
	"crypto/sha256"
	"encoding/binary"

	"PredictLedger/internal/store"
)

const GenesisHashSeed = "PredictLedger:genesis:v1"

// StateHasher chains state hashes across applied operations
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest).
// The chain tip only moves on Advance, after the operation commits.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

func (h *StateHasher) Advance(hash [32]byte) {
	h.prevHash = hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// StateDigest encodes staged writes canonically: for each write in key order,
// uvarint key length, key, a tag byte (0 set, 1 delete), uvarint value
// length, value.
func StateDigest(writes []store.Write) []byte {
	size := 0
	for _, w := range writes {
		size += len(w.Key) + len(w.Value) + 2*binary.MaxVarintLen64 + 1
	}
	digest := make([]byte, 0, size)
	for _, w := range writes {
		digest = binary.AppendUvarint(digest, uint64(len(w.Key)))
		digest = append(digest, w.Key...)
		if w.Delete {
			digest = append(digest, 1)
			continue
		}
		digest = append(digest, 0)
		digest = binary.AppendUvarint(digest, uint64(len(w.Value)))
		digest = append(digest, w.Value...)
	}
	return digest
}
