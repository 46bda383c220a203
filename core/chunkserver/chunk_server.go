package chunkserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pyropy/chunkfs/core/constants"
	"github.com/pyropy/chunkfs/lib/cmap"
	"github.com/pyropy/chunkfs/rpc/wire"
	"go.uber.org/zap"
)

var ErrForward = errors.New("chunk forward failed")

// repairJob marks a repair in flight; done is closed once the repairing
// reader has revalidated or evicted the chunk.
type repairJob struct {
	done chan struct{}
}

type ChunkServer struct {
	*ChunkService
	*HealthMonitorService

	Cfg        *Config
	Name       string
	MasterAddr string

	dialer    wire.Dialer
	repairing *cmap.Map[string, *repairJob]
	log       *zap.SugaredLogger
}

func NewChunkServer(ctx context.Context, cfg *Config, log *zap.SugaredLogger) (*ChunkServer, error) {
	chunkService, err := NewChunkService(ctx, cfg.Chunks.Path, cfg.Chunks.SliceSize, cfg.Chunks.HashCacheSize)
	if err != nil {
		return nil, err
	}

	dialer := wire.Dialer{
		DialTimeout: cfg.Net.DialTimeout,
		IOTimeout:   cfg.Net.IOTimeout,
	}

	return &ChunkServer{
		Cfg:                  cfg,
		MasterAddr:           cfg.Master.Addr,
		ChunkService:         chunkService,
		HealthMonitorService: NewHealthMonitorService(chunkService, cfg, dialer, log),
		dialer:               dialer,
		repairing:            cmap.NewMap[string, *repairJob](),
		log:                  log,
	}, nil
}

// WriteChunk stores payload locally and forwards it to the next node in
// chain. An empty payload with a non-empty chain is a recovery write: this
// node pushes its own validated copy down the chain instead.
func (c *ChunkServer) WriteChunk(ctx context.Context, chunkKey string, payload []byte, offset int, chain []string) error {
	if len(payload) == 0 && len(chain) > 0 {
		return c.pushChunk(ctx, chunkKey, chain)
	}

	chunk, err := c.ChunkService.WriteChunk(ctx, chunkKey, payload, offset, false)
	if err != nil {
		c.log.Errorw("write", "chunk", chunkKey, "error", err)
		c.reportFailure(ctx, chunkKey, append([]string{c.Name}, chain...))
		return err
	}

	c.log.Infow("write", "status", "stored", "chunk", chunkKey, "offset", offset, "bytes", len(payload), "version", chunk.Version)

	if len(chain) == 0 {
		return nil
	}

	return c.forward(ctx, chunkKey, payload, offset, chain)
}

// forward sends the write to chain[0] with the rest of the chain. An
// unreachable next hop means nobody downstream got the write, so the whole
// chain is reported. A rejection was already reported by the node that
// failed.
func (c *ChunkServer) forward(ctx context.Context, chunkKey string, payload []byte, offset int, chain []string) error {
	next, rest := chain[0], chain[1:]

	ok, err := c.sendWrite(ctx, next, chunkKey, payload, offset, rest)
	if err != nil {
		c.log.Warnw("forward", "chunk", chunkKey, "next", next, "error", err)
		c.reportFailure(ctx, chunkKey, chain)
		return fmt.Errorf("%w: %s to %s: %v", ErrForward, chunkKey, next, err)
	}

	if !ok {
		return fmt.Errorf("%w: %s rejected by %s", ErrForward, chunkKey, next)
	}

	return nil
}

func (c *ChunkServer) pushChunk(ctx context.Context, chunkKey string, chain []string) error {
	data := c.ReadChunk(ctx, chunkKey, 0, -1)
	if len(data) == 0 {
		return fmt.Errorf("%w: no local copy of %s to push", ErrChunkDoesNotExist, chunkKey)
	}

	c.log.Infow("replication", "status", "pushing chunk", "chunk", chunkKey, "chain", chain)
	return c.forward(ctx, chunkKey, data, 0, chain)
}

// ReadChunk returns validated bytes, or nil when the chunk is unknown or
// could not be repaired. A failed validation is repaired once from a holder
// nominated by the coordinator; if that fails the chunk is evicted. Readers
// that hit a chunk already under repair wait for that repair instead.
func (c *ChunkServer) ReadChunk(ctx context.Context, chunkKey string, offset, length int) []byte {
	if _, exists := c.GetChunk(chunkKey); !exists {
		return nil
	}

	if !c.Cfg.ValidationEnabled() {
		data, err := c.ReadChunkBytes(chunkKey, offset, length)
		if err != nil {
			c.log.Warnw("read", "chunk", chunkKey, "error", err)
			return nil
		}

		return data
	}

	res, err := c.ValidatedRead(chunkKey, offset, length)
	if err != nil {
		c.log.Warnw("read", "chunk", chunkKey, "error", err)
		return nil
	}

	if res.OK() {
		return res.Data
	}

	c.log.Warnw("read", "chunk", chunkKey, "error", ErrIntegrity, "failures", res.Failures)

	job := &repairJob{done: make(chan struct{})}
	if running := c.repairing.GetOrSet(chunkKey, job); running != job {
		return c.awaitRepair(ctx, running, chunkKey, offset, length)
	}

	defer func() {
		c.repairing.Delete(chunkKey)
		close(job.done)
	}()

	if c.repair(ctx, chunkKey, res.Failures) {
		res, err = c.ValidatedRead(chunkKey, offset, length)
		if err == nil && res.OK() {
			c.log.Infow("repair", "status", "chunk repaired", "chunk", chunkKey)
			return res.Data
		}
	}

	c.log.Warnw("repair", "status", "evicting chunk", "chunk", chunkKey)
	if err := c.EvictChunk(ctx, chunkKey); err != nil {
		c.log.Errorw("repair", "chunk", chunkKey, "error", err)
	}

	return nil
}

// awaitRepair waits for another reader's repair of chunkKey and re-reads the
// range. The wait is bounded by a quarter of the IO timeout: a peer repairing
// from us may be the holder our own running repair is reading from.
func (c *ChunkServer) awaitRepair(ctx context.Context, job *repairJob, chunkKey string, offset, length int) []byte {
	wait := c.Cfg.Net.IOTimeout
	if wait <= 0 {
		wait = constants.IO_TIMEOUT
	}

	timer := time.NewTimer(wait / 4)
	defer timer.Stop()

	select {
	case <-job.done:
	case <-timer.C:
		c.log.Warnw("read", "chunk", chunkKey, "status", "repair in flight")
		return nil
	case <-ctx.Done():
		return nil
	}

	res, err := c.ValidatedRead(chunkKey, offset, length)
	if err != nil || !res.OK() {
		return nil
	}

	return res.Data
}

// repair pulls each failed range from an alternate holder and writes it
// back in place.
func (c *ChunkServer) repair(ctx context.Context, chunkKey string, failures []FailedRange) bool {
	peer, found, err := c.lookupHolder(ctx, chunkKey)
	if err != nil || !found {
		c.log.Warnw("repair", "chunk", chunkKey, "status", "no alternate holder", "error", err)
		return false
	}

	for _, f := range failures {
		data, err := c.readFromPeer(ctx, peer, chunkKey, f.Offset, f.Length)
		if err != nil || len(data) == 0 {
			c.log.Warnw("repair", "chunk", chunkKey, "peer", peer, "offset", f.Offset, "error", err)
			return false
		}

		_, err = c.ChunkService.WriteChunk(ctx, chunkKey, data, f.Offset, true)
		if err != nil {
			c.log.Errorw("repair", "chunk", chunkKey, "error", err)
			return false
		}
	}

	return true
}

// Register names this chunk server and announces it to the coordinator with
// a major heartbeat listing every chunk held.
func (c *ChunkServer) Register(ctx context.Context, name string) error {
	c.Name = name
	c.HealthMonitorService.nodeName = name
	c.HealthMonitorService.masterAddr = c.MasterAddr

	return c.Report(ctx, true)
}

// StartHealthReport blocks, sending heartbeats until ctx is done.
func (c *ChunkServer) StartHealthReport(ctx context.Context) {
	c.HealthMonitorService.Start(ctx)
}
