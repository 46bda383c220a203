package chunkserver

import (
	"context"
	"encoding/json"
	"net/url"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dslvl "github.com/ipfs/go-ds-leveldb"
	"github.com/pyropy/chunkfs/core/model"
)

// ChunkMetadataStore persists chunk metadata so a restarted chunk server can
// declare its chunks in the startup heartbeat.
type ChunkMetadataStore struct {
	Chunks *dslvl.Datastore
}

func NewChunkMetadataStore(dsPath string) (*ChunkMetadataStore, error) {
	store, err := dslvl.NewDatastore(dsPath, nil)
	if err != nil {
		return nil, err
	}

	return &ChunkMetadataStore{
		Chunks: store,
	}, nil
}

func metadataKey(chunkKey string) ds.Key {
	return ds.NewKey(url.PathEscape(chunkKey))
}

func (s *ChunkMetadataStore) Put(ctx context.Context, chunk model.Chunk) error {
	b, err := json.Marshal(chunk)
	if err != nil {
		return err
	}

	return s.Chunks.Put(ctx, metadataKey(chunk.Key), b)
}

func (s *ChunkMetadataStore) Delete(ctx context.Context, chunkKey string) error {
	return s.Chunks.Delete(ctx, metadataKey(chunkKey))
}

func (s *ChunkMetadataStore) All(ctx context.Context) ([]model.Chunk, error) {
	chunks := make([]model.Chunk, 0)

	res, err := s.Chunks.Query(ctx, dsq.Query{})
	if err != nil {
		return chunks, err
	}

	defer res.Close()

	for {
		r, hasNext := res.NextSync()
		if !hasNext {
			break
		}

		if r.Error != nil {
			return chunks, r.Error
		}

		var chunk model.Chunk
		err = json.Unmarshal(r.Value, &chunk)
		if err != nil {
			return chunks, err
		}

		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

func (s *ChunkMetadataStore) Close() error {
	return s.Chunks.Close()
}
