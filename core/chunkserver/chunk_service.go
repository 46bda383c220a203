package chunkserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	fp "path/filepath"
	"sort"
	"sync"

	"github.com/pyropy/chunkfs/core/constants"
	"github.com/pyropy/chunkfs/core/model"
	"github.com/pyropy/chunkfs/lib/cache"
	"github.com/pyropy/chunkfs/lib/checksum"
	"github.com/pyropy/chunkfs/lib/cmap"
	"go.uber.org/multierr"
)

var (
	ErrChunkDoesNotExist = errors.New("chunk does not exist")
	ErrWrite             = errors.New("chunk write failed")
)

// ChunkService owns the chunk files, their hash records and metadata.
// Each chunk is stored as a data file plus a parallel ".sha1" file holding
// one SHA-1 record per slice at offset slice*checksum.HashSize.
type ChunkService struct {
	Chunks *cmap.Map[string, model.Chunk]

	dir       string
	sliceSize int
	store     *ChunkMetadataStore
	hashes    *cache.LRU[string, []byte]
	locks     *cmap.Map[string, *sync.Mutex]
}

func NewChunkService(ctx context.Context, path string, sliceSize, hashCacheSize int) (*ChunkService, error) {
	dir := fp.Join(path, "chunks")
	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return nil, err
	}

	store, err := NewChunkMetadataStore(fp.Join(path, "metadata"))
	if err != nil {
		return nil, err
	}

	if sliceSize <= 0 {
		sliceSize = constants.SLICE_SIZE_BYTES
	}

	cs := &ChunkService{
		Chunks:    cmap.NewMap[string, model.Chunk](),
		dir:       dir,
		sliceSize: sliceSize,
		store:     store,
		hashes:    cache.NewLRU[string, []byte](hashCacheSize),
		locks:     cmap.NewMap[string, *sync.Mutex](),
	}

	chunks, err := store.All(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}

	for _, chunk := range chunks {
		cs.Chunks.Set(chunk.Key, chunk)
	}

	return cs, nil
}

func (cs *ChunkService) Close() error {
	return cs.store.Close()
}

func (cs *ChunkService) SliceSize() int {
	return cs.sliceSize
}

func (cs *ChunkService) ChunkPath(chunkKey string) string {
	return fp.Join(cs.dir, url.PathEscape(chunkKey))
}

func (cs *ChunkService) HashPath(chunkKey string) string {
	return cs.ChunkPath(chunkKey) + ".sha1"
}

func (cs *ChunkService) lock(chunkKey string) func() {
	mu := cs.locks.GetOrSet(chunkKey, &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

func (cs *ChunkService) GetChunk(chunkKey string) (model.Chunk, bool) {
	return cs.Chunks.Get(chunkKey)
}

// GetAllChunks returns every held chunk ordered by key.
func (cs *ChunkService) GetAllChunks() []model.Chunk {
	chunks := make([]model.Chunk, 0)

	cs.Chunks.Range(func(_ string, chunk model.Chunk) bool {
		chunks = append(chunks, chunk)
		return true
	})

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Key < chunks[j].Key })
	return chunks
}

func (cs *ChunkService) Count() int {
	n := 0
	cs.Chunks.Range(func(string, model.Chunk) bool {
		n++
		return true
	})

	return n
}

// WriteChunk stores data at offset and rehashes every slice it touched.
// A full write (offset 0, not a repair) replaces the chunk and bumps its
// version; repairs and partial writes keep the version. New chunks start at
// version 1. Every write marks the chunk dirty.
func (cs *ChunkService) WriteChunk(ctx context.Context, chunkKey string, data []byte, offset int, repair bool) (model.Chunk, error) {
	unlock := cs.lock(chunkKey)
	defer unlock()

	fullWrite := offset == 0 && !repair

	size, err := cs.writeBytes(chunkKey, data, offset, fullWrite)
	if err != nil {
		return model.Chunk{}, fmt.Errorf("%w: %s: %v", ErrWrite, chunkKey, err)
	}

	chunk, exists := cs.Chunks.Get(chunkKey)
	switch {
	case !exists:
		chunk = model.Chunk{
			Key:      chunkKey,
			Version:  constants.INITIAL_CHUNK_VERSION,
			Sequence: model.ParseSequence(chunkKey),
		}
	case fullWrite:
		chunk.Version++
	}

	chunk.Dirty = true
	chunk.Size = size
	cs.Chunks.Set(chunkKey, chunk)

	err = cs.store.Put(ctx, chunk)
	if err != nil {
		return chunk, fmt.Errorf("%w: %s: persist metadata: %v", ErrWrite, chunkKey, err)
	}

	return chunk, nil
}

func (cs *ChunkService) writeBytes(chunkKey string, data []byte, offset int, truncate bool) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("negative offset %d", offset)
	}

	flags := os.O_RDWR | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(cs.ChunkPath(chunkKey), flags, 0644)
	if err != nil {
		return 0, err
	}

	defer f.Close()

	h, err := os.OpenFile(cs.HashPath(chunkKey), flags, 0644)
	if err != nil {
		return 0, err
	}

	defer h.Close()
	defer cs.hashes.Remove(chunkKey)

	_, err = f.WriteAt(data, int64(offset))
	if err != nil {
		return 0, err
	}

	switch {
	case truncate:
		_, err = h.WriteAt(checksum.SliceCheckSums(data, cs.sliceSize), 0)
		if err != nil {
			return 0, err
		}
	case len(data) > 0:
		first := offset / cs.sliceSize
		last := (offset + len(data) - 1) / cs.sliceSize
		buf := make([]byte, cs.sliceSize)

		for i := first; i <= last; i++ {
			n, err := f.ReadAt(buf, int64(i*cs.sliceSize))
			if err != nil && !errors.Is(err, io.EOF) {
				return 0, err
			}

			_, err = h.WriteAt(checksum.CalculateCheckSum(buf[:n]), int64(i*checksum.HashSize))
			if err != nil {
				return 0, err
			}
		}
	}

	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}

	return int(fi.Size()), nil
}

// ReadChunkBytes reads without validation. length -1 reads to the end.
func (cs *ChunkService) ReadChunkBytes(chunkKey string, offset, length int) ([]byte, error) {
	unlock := cs.lock(chunkKey)
	defer unlock()

	return cs.readBytes(chunkKey, offset, length)
}

func (cs *ChunkService) readBytes(chunkKey string, offset, length int) ([]byte, error) {
	f, err := os.Open(cs.ChunkPath(chunkKey))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrChunkDoesNotExist
	}
	if err != nil {
		return nil, err
	}

	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	start, end := clampRange(int(fi.Size()), offset, length)
	buf := make([]byte, end-start)
	_, err = f.ReadAt(buf, int64(start))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return buf, nil
}

// loadHashes returns the chunk's hash records, cached between writes.
func (cs *ChunkService) loadHashes(chunkKey string) ([]byte, error) {
	if records, ok := cs.hashes.Get(chunkKey); ok {
		return records, nil
	}

	records, err := os.ReadFile(cs.HashPath(chunkKey))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cs.hashes.Put(chunkKey, records)
	return records, nil
}

// TakeDirty clears the dirty flag of every dirty chunk and returns them.
// The flags are cleared in memory even when persisting them fails.
func (cs *ChunkService) TakeDirty(ctx context.Context) ([]model.Chunk, error) {
	var (
		dirty []model.Chunk
		errs  error
	)

	for _, chunk := range cs.GetAllChunks() {
		if !chunk.Dirty {
			continue
		}

		unlock := cs.lock(chunk.Key)
		current, ok := cs.Chunks.Get(chunk.Key)
		if ok && current.Dirty {
			current.Dirty = false
			cs.Chunks.Set(current.Key, current)
			errs = multierr.Append(errs, cs.store.Put(ctx, current))
			dirty = append(dirty, current)
		}
		unlock()
	}

	return dirty, errs
}

// MarkDirty flags chunks again after a heartbeat carrying them failed.
func (cs *ChunkService) MarkDirty(ctx context.Context, chunks []model.Chunk) error {
	var errs error

	for _, chunk := range chunks {
		unlock := cs.lock(chunk.Key)
		current, ok := cs.Chunks.Get(chunk.Key)
		if ok && !current.Dirty {
			current.Dirty = true
			cs.Chunks.Set(current.Key, current)
			errs = multierr.Append(errs, cs.store.Put(ctx, current))
		}
		unlock()
	}

	return errs
}

// EvictChunk forgets a chunk and removes its files.
func (cs *ChunkService) EvictChunk(ctx context.Context, chunkKey string) error {
	unlock := cs.lock(chunkKey)
	defer unlock()

	cs.Chunks.Delete(chunkKey)
	cs.hashes.Remove(chunkKey)

	err := cs.store.Delete(ctx, chunkKey)
	for _, p := range []string{cs.ChunkPath(chunkKey), cs.HashPath(chunkKey)} {
		if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}

	return err
}

// clampRange bounds [offset, offset+length) to a chunk of the given size.
func clampRange(size, offset, length int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > size {
		offset = size
	}

	end := size
	if length >= 0 && offset+length < size {
		end = offset + length
	}

	return offset, end
}
