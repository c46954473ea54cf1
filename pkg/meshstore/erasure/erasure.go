// Package erasure wraps Reed-Solomon erasure coding so a single storage
// node can tolerate losing some of its own disks/replicas without losing a
// share a sender placed at one of the Magic Ratchet's N addresses. This is
// a node-local durability concern, orthogonal to the N-way unlinkability
// split the Magic Ratchet itself performs across distinct addresses.
package erasure

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Encoder erasure-codes blobs with a configurable data/parity split.
type Encoder struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

// Encoded is a blob split into shards, some of which may be nil if lost.
type Encoded struct {
	Shards       [][]byte
	OriginalSize int
}

// New builds an Encoder with dataShards data shards and parityShards parity
// shards; any parityShards of the total may be lost without losing data.
func New(dataShards, parityShards int) (*Encoder, error) {
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("erasure: building reed-solomon encoder: %w", err)
	}
	return &Encoder{enc: enc, dataShards: dataShards, parityShards: parityShards}, nil
}

// TotalShards is dataShards + parityShards.
func (e *Encoder) TotalShards() int { return e.dataShards + e.parityShards }

// MinShardsForRecovery is the minimum surviving shard count Decode needs.
func (e *Encoder) MinShardsForRecovery() int { return e.dataShards }

// Encode splits data into TotalShards() shards.
func (e *Encoder) Encode(data []byte) (*Encoded, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("erasure: cannot encode empty blob")
	}
	shards, err := e.enc.Split(data)
	if err != nil {
		return nil, fmt.Errorf("erasure: splitting blob: %w", err)
	}
	if err := e.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("erasure: encoding parity: %w", err)
	}
	return &Encoded{Shards: shards, OriginalSize: len(data)}, nil
}

// Decode reconstructs the original blob, given at least
// MinShardsForRecovery() non-nil shards in their original positions.
func (e *Encoder) Decode(encoded *Encoded) ([]byte, error) {
	if encoded == nil {
		return nil, fmt.Errorf("erasure: nil encoded blob")
	}
	if len(encoded.Shards) != e.TotalShards() {
		return nil, fmt.Errorf("erasure: expected %d shards, got %d", e.TotalShards(), len(encoded.Shards))
	}

	available := 0
	for _, sh := range encoded.Shards {
		if sh != nil {
			available++
		}
	}
	if available < e.MinShardsForRecovery() {
		return nil, fmt.Errorf("erasure: insufficient shards: have %d, need %d", available, e.MinShardsForRecovery())
	}

	shards := make([][]byte, e.TotalShards())
	copy(shards, encoded.Shards)
	if err := e.enc.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("erasure: reconstructing shards: %w", err)
	}
	ok, err := e.enc.Verify(shards)
	if err != nil {
		return nil, fmt.Errorf("erasure: verifying shards: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("erasure: shard verification failed")
	}

	buf := make([]byte, 0, encoded.OriginalSize)
	for i := 0; i < e.dataShards; i++ {
		buf = append(buf, shards[i]...)
	}
	if len(buf) > encoded.OriginalSize {
		buf = buf[:encoded.OriginalSize]
	}
	return buf, nil
}

// FaultTolerance is how many of TotalShards() may be lost while Decode
// still succeeds.
func (e *Encoder) FaultTolerance() int {
	return e.TotalShards() - e.MinShardsForRecovery()
}
