package model

import (
	"time"

	"github.com/google/uuid"
)

// FileMetadata is what a client remembers about a file it wrote.
type FileMetadata struct {
	ID         uuid.UUID
	Path       string
	Size       int
	NumChunks  int
	ChunkSize  int
	Redundancy string
	CreatedAt  time.Time
}

type FilePath = string

func NewFileMetadata(path string) FileMetadata {
	return FileMetadata{
		ID:        uuid.New(),
		Path:      path,
		CreatedAt: time.Now(),
	}
}
