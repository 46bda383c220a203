package client

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/pyropy/chunkfs/core/codec"
	"github.com/pyropy/chunkfs/core/constants"
	"github.com/pyropy/chunkfs/core/model"
	"github.com/pyropy/chunkfs/rpc/wire"
	"go.uber.org/zap"
)

// lookupsPerAttempt bounds coordinator lookups per read attempt when lookups
// keep returning holders that already failed.
const lookupsPerAttempt = 16

var (
	ErrFileNotFound     = errors.New("file not found")
	ErrWriteRejected    = errors.New("coordinator rejected write")
	ErrWriteFailed      = errors.New("chunk write failed")
	ErrChunkUnavailable = errors.New("chunk unavailable")
)

type Client struct {
	*FileMetadataStore

	Cfg    *Config
	codec  codec.Codec
	dialer wire.Dialer
	log    *zap.SugaredLogger
}

func NewClient(cfg *Config, log *zap.SugaredLogger) (*Client, error) {
	cdc, err := codec.New(cfg.Cluster.Redundancy, cfg.Cluster.ReplicationFactor)
	if err != nil {
		return nil, err
	}

	fileMetadataStore, err := NewFileMetadataStore(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	if cfg.Chunks.Size <= 0 {
		cfg.Chunks.Size = constants.CHUNK_SIZE_BYTES
	}

	return &Client{
		FileMetadataStore: fileMetadataStore,
		Cfg:               cfg,
		codec:             cdc,
		dialer: wire.Dialer{
			DialTimeout: cfg.Net.DialTimeout,
			IOTimeout:   cfg.Net.IOTimeout,
		},
		log: log,
	}, nil
}

func (c *Client) erasure() bool {
	return c.Cfg.Cluster.Redundancy == constants.REDUNDANCY_ERASURE
}

// WriteFile splits data into chunks, stores each one and records the file
// in the local metadata store.
func (c *Client) WriteFile(ctx context.Context, path string, data []byte) (*model.FileMetadata, error) {
	chunkSize := c.Cfg.Chunks.Size
	numChunks := (len(data) + chunkSize - 1) / chunkSize

	c.log.Infow("WriteFile", "path", path, "bytes", len(data), "chunks", numChunks)

	for i := 0; i < numChunks; i++ {
		end := (i + 1) * chunkSize
		if end > len(data) {
			end = len(data)
		}

		var err error
		if c.erasure() {
			err = c.writeShards(ctx, path, i+1, data[i*chunkSize:end])
		} else {
			err = c.writeChunk(ctx, model.ChunkKey(path, i+1), data[i*chunkSize:end])
		}

		if err != nil {
			return nil, err
		}
	}

	metadata := model.NewFileMetadata(path)
	metadata.Size = len(data)
	metadata.NumChunks = numChunks
	metadata.ChunkSize = chunkSize
	metadata.Redundancy = c.Cfg.Cluster.Redundancy

	err := c.AddNewFileMetadata(ctx, path, metadata)
	if err != nil {
		return nil, err
	}

	return &metadata, nil
}

// writeChunk asks for placement and sends the payload to the first target,
// which forwards it down the rest of the list.
func (c *Client) writeChunk(ctx context.Context, key string, payload []byte) error {
	targets, err := c.requestPlacement(ctx, key)
	if err != nil {
		return err
	}

	ok, err := c.sendWrite(ctx, targets[0], key, payload, targets[1:])
	if err != nil {
		c.log.Warnw("WriteFile", "chunk", key, "entry", targets[0], "error", err)
		c.reportFailure(ctx, key, targets)
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, key, err)
	}

	if !ok {
		return fmt.Errorf("%w: %s: chain reported failure", ErrWriteFailed, key)
	}

	return nil
}

// writeShards erasure codes one chunk and places every shard on its own.
// The chunk survives as long as no more than the parity count of shards
// failed to write.
func (c *Client) writeShards(ctx context.Context, path string, index int, payload []byte) error {
	shards, err := c.codec.Encode(payload)
	if err != nil {
		return err
	}

	failed := 0
	for s, shard := range shards {
		key := model.ShardKey(path, index, s)
		err := c.writeChunk(ctx, key, shard)
		if err != nil {
			c.log.Warnw("WriteFile", "shard", key, "error", err)
			failed++
		}
	}

	if failed > constants.PARITY_SHARDS {
		return fmt.Errorf("%w: %d of %d shards of chunk %d", ErrWriteFailed, failed, len(shards), index)
	}

	return nil
}

// ReadFile reassembles a file. Files without local metadata are read chunk
// by chunk until the first missing one, bounded by READ_LIMIT.
func (c *Client) ReadFile(ctx context.Context, path string) ([]byte, error) {
	metadata, err := c.FileMetadataStore.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	limit := constants.READ_LIMIT
	known := metadata != nil
	if known {
		limit = metadata.NumChunks
	}

	var data []byte
	for i := 1; i <= limit; i++ {
		var chunk []byte
		if c.erasure() {
			chunk, err = c.readShards(ctx, path, i)
		} else {
			chunk, err = c.readChunk(ctx, model.ChunkKey(path, i))
		}

		if errors.Is(err, ErrFileNotFound) && !known {
			break
		}
		if err != nil {
			return nil, err
		}

		data = append(data, chunk...)
	}

	if data == nil && !known {
		return nil, ErrFileNotFound
	}

	return data, nil
}

// readChunk tries up to replicationFactor distinct holders. The holder that
// failed last is excluded from the next lookup; a lookup that returns a
// holder which already failed is repeated without spending an attempt.
func (c *Client) readChunk(ctx context.Context, key string) ([]byte, error) {
	copies := make([][]byte, c.codec.TotalShards())
	present := make([]bool, len(copies))
	failed := make(map[string]bool)
	lastFailed := ""

	for attempt, lookups := 0, 0; attempt < len(copies) && lookups < lookupsPerAttempt*len(copies); lookups++ {
		node, found, err := c.lookup(ctx, key, lastFailed)
		if err != nil {
			return nil, err
		}

		if !found {
			if len(failed) == 0 {
				return nil, fmt.Errorf("%w: %s", ErrFileNotFound, key)
			}

			break
		}

		if failed[node] {
			continue
		}

		payload, err := c.readFromNode(ctx, node, key)
		if err != nil || len(payload) == 0 {
			c.log.Warnw("ReadFile", "chunk", key, "node", node, "attempt", attempt, "error", err)
			failed[node] = true
			lastFailed = node
			attempt++
			continue
		}

		copies[attempt] = payload
		present[attempt] = true
		break
	}

	payload, err := c.codec.Decode(copies, present)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrChunkUnavailable, key, err)
	}

	return payload, nil
}

// readShards fetches every shard of a chunk it can find and decodes them.
func (c *Client) readShards(ctx context.Context, path string, index int) ([]byte, error) {
	shards := make([][]byte, c.codec.TotalShards())
	present := make([]bool, len(shards))
	located := 0

	for s := range shards {
		key := model.ShardKey(path, index, s)
		node, found, err := c.lookup(ctx, key, "")
		if err != nil {
			return nil, err
		}

		if !found {
			continue
		}

		located++
		payload, err := c.readFromNode(ctx, node, key)
		if err != nil || len(payload) == 0 {
			c.log.Warnw("ReadFile", "shard", key, "node", node, "error", err)
			continue
		}

		shards[s] = payload
		present[s] = true
	}

	if located == 0 {
		return nil, fmt.Errorf("%w: chunk %d of %s", ErrFileNotFound, index, path)
	}

	payload, err := c.codec.Decode(shards, present)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d of %s: %v", ErrChunkUnavailable, index, path, err)
	}

	return payload, nil
}

// ListFiles returns the files recorded by this client, oldest first.
func (c *Client) ListFiles(ctx context.Context) ([]*model.FileMetadata, error) {
	files, err := c.FileMetadataStore.All(ctx)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})

	return files, nil
}
