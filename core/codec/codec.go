// Package codec converts chunk payloads to shards and back. Replication and
// erasure coding are mutually exclusive per deployment.
package codec

import (
	"errors"
	"fmt"

	"github.com/pyropy/chunkfs/core/constants"
)

var (
	ErrInsufficientShards = errors.New("insufficient shards to decode")
	ErrUnknownRedundancy  = errors.New("unknown redundancy mode")
)

type Codec interface {
	// Encode splits payload into TotalShards shards.
	Encode(payload []byte) ([][]byte, error)
	// Decode rebuilds the payload from the shards flagged in present.
	Decode(shards [][]byte, present []bool) ([]byte, error)
	TotalShards() int
}

// New returns the codec for the given redundancy mode.
func New(redundancy string, replicationFactor int) (Codec, error) {
	switch redundancy {
	case constants.REDUNDANCY_REPLICATION:
		return NewReplication(replicationFactor), nil
	case constants.REDUNDANCY_ERASURE:
		return NewErasure(constants.DATA_SHARDS, constants.PARITY_SHARDS)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRedundancy, redundancy)
	}
}
