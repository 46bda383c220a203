package constants

import "time"

const (
	SLICE_SIZE_BYTES = 8 * 1024
	SLICES_PER_CHUNK = 8
	CHUNK_SIZE_BYTES = SLICE_SIZE_BYTES * SLICES_PER_CHUNK

	INITIAL_CHUNK_VERSION = 1

	REPLICATION_FACTOR = 3
	DATA_SHARDS        = 6
	PARITY_SHARDS      = 3
	TOTAL_SHARDS       = DATA_SHARDS + PARITY_SHARDS

	// upper bound on chunks probed when reading a file with no local metadata
	READ_LIMIT = 1000

	NODE_CAPACITY = 10000
)

const (
	REDUNDANCY_REPLICATION = "replication"
	REDUNDANCY_ERASURE     = "erasure"
)

const (
	MINOR_HEARTBEAT_INTERVAL = 30 * time.Second
	MAJOR_HEARTBEAT_INTERVAL = 300 * time.Second
	LIVENESS_SWEEP_INTERVAL  = 30 * time.Second

	DIAL_TIMEOUT = 2 * time.Second
	IO_TIMEOUT   = 10 * time.Second
)
