package codec

import "fmt"

// Replication stores identical copies of the payload.
type Replication struct {
	factor int
}

func NewReplication(factor int) *Replication {
	if factor < 1 {
		factor = 1
	}

	return &Replication{factor: factor}
}

func (r *Replication) TotalShards() int {
	return r.factor
}

func (r *Replication) Encode(payload []byte) ([][]byte, error) {
	shards := make([][]byte, r.factor)
	for i := range shards {
		shards[i] = append([]byte(nil), payload...)
	}

	return shards, nil
}

// Decode returns the first copy flagged present.
func (r *Replication) Decode(shards [][]byte, present []bool) ([]byte, error) {
	for i, shard := range shards {
		if i < len(present) && present[i] {
			return shard, nil
		}
	}

	return nil, fmt.Errorf("%w: no intact copy among %d", ErrInsufficientShards, len(shards))
}
