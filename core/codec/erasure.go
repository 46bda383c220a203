package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

const lengthPrefixBytes = 4

// Erasure is a systematic Reed-Solomon codec. The payload length is stored as
// a big-endian prefix inside the encoded buffer, so shards are self-describing.
type Erasure struct {
	dataShards   int
	parityShards int
	enc          reedsolomon.Encoder
}

func NewErasure(dataShards, parityShards int) (*Erasure, error) {
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}

	return &Erasure{
		dataShards:   dataShards,
		parityShards: parityShards,
		enc:          enc,
	}, nil
}

func (e *Erasure) TotalShards() int {
	return e.dataShards + e.parityShards
}

func (e *Erasure) Encode(payload []byte) ([][]byte, error) {
	stored := make([]byte, lengthPrefixBytes+len(payload))
	binary.BigEndian.PutUint32(stored, uint32(len(payload)))
	copy(stored[lengthPrefixBytes:], payload)

	shards, err := e.enc.Split(stored)
	if err != nil {
		return nil, fmt.Errorf("split payload: %w", err)
	}

	if err := e.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode parity: %w", err)
	}

	return shards, nil
}

func (e *Erasure) Decode(shards [][]byte, present []bool) ([]byte, error) {
	if len(shards) != e.TotalShards() || len(present) != e.TotalShards() {
		return nil, fmt.Errorf("%w: expected %d shards, got %d", ErrInsufficientShards, e.TotalShards(), len(shards))
	}

	work := make([][]byte, len(shards))
	count := 0
	for i, shard := range shards {
		if present[i] && len(shard) > 0 {
			work[i] = shard
			count++
		}
	}

	if count < e.dataShards {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientShards, count, e.dataShards)
	}

	if err := e.enc.ReconstructData(work); err != nil {
		return nil, fmt.Errorf("reconstruct: %w", err)
	}

	joined := make([]byte, 0, len(work[0])*e.dataShards)
	for i := 0; i < e.dataShards; i++ {
		joined = append(joined, work[i]...)
	}

	if len(joined) < lengthPrefixBytes {
		return nil, fmt.Errorf("%w: encoded buffer too short", ErrInsufficientShards)
	}

	size := int(binary.BigEndian.Uint32(joined))
	if size > len(joined)-lengthPrefixBytes {
		return nil, fmt.Errorf("%w: length prefix %d exceeds buffer", ErrInsufficientShards, size)
	}

	return joined[lengthPrefixBytes : lengthPrefixBytes+size], nil
}
