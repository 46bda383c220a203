package model

import "time"

// NodeRecord is the coordinator's view of a single chunk server.
type NodeRecord struct {
	Name          string
	FreeSpace     int
	NumChunks     int
	LastHeartbeat time.Time
}
