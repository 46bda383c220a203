package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Chunk is the chunk server's local record of a stored chunk or shard.
type Chunk struct {
	Key      string
	Version  int
	Dirty    bool // written since last reported in a heartbeat
	Sequence int  // chunk index parsed from Key, -1 when the key has no index
	Size     int
}

// ChunkKey names chunk index of fileName in replication mode.
func ChunkKey(fileName string, index int) string {
	return fmt.Sprintf("%s_chunk%d", fileName, index)
}

// ShardKey names a single erasure shard of chunk index of fileName.
func ShardKey(fileName string, index, shard int) string {
	return fmt.Sprintf("%s.%d.%d", fileName, index, shard)
}

// ParseSequence extracts the chunk index from a key produced by ChunkKey or ShardKey.
func ParseSequence(key string) int {
	if i := strings.LastIndex(key, "_chunk"); i >= 0 {
		if seq, err := strconv.Atoi(key[i+len("_chunk"):]); err == nil {
			return seq
		}
	}

	parts := strings.Split(key, ".")
	if len(parts) >= 3 {
		_, shardErr := strconv.Atoi(parts[len(parts)-1])
		seq, seqErr := strconv.Atoi(parts[len(parts)-2])
		if shardErr == nil && seqErr == nil {
			return seq
		}
	}

	return -1
}
