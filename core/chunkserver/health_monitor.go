package chunkserver

import (
	"context"
	"time"

	"github.com/pyropy/chunkfs/core/constants"
	"github.com/pyropy/chunkfs/core/model"
	coordinatorRPC "github.com/pyropy/chunkfs/rpc/coordinator"
	"github.com/pyropy/chunkfs/rpc/wire"
	"go.uber.org/zap"
)

// HealthMonitorService emits heartbeats to the coordinator. Minor heartbeats
// carry the chunks written since the last report, major ones every chunk.
type HealthMonitorService struct {
	masterAddr   string
	nodeName     string
	capacity     int
	minor        time.Duration
	major        time.Duration
	chunkService *ChunkService
	dialer       wire.Dialer
	log          *zap.SugaredLogger
}

func NewHealthMonitorService(chunkService *ChunkService, cfg *Config, dialer wire.Dialer, log *zap.SugaredLogger) *HealthMonitorService {
	return &HealthMonitorService{
		masterAddr:   cfg.Master.Addr,
		capacity:     cfg.Chunks.Capacity,
		minor:        cfg.Heartbeat.Minor,
		major:        cfg.Heartbeat.Major,
		chunkService: chunkService,
		dialer:       dialer,
		log:          log,
	}
}

// Start sends a heartbeat on every minor tick until ctx is done. Every
// major/minor ticks the heartbeat is a major one.
func (h *HealthMonitorService) Start(ctx context.Context) {
	if h.minor <= 0 {
		h.minor = constants.MINOR_HEARTBEAT_INTERVAL
	}

	ratio := int(h.major / h.minor)
	if ratio < 1 {
		ratio = 1
	}

	ticker := time.NewTicker(h.minor)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ticker.C:
			ticks++
			isMajor := ticks%ratio == 0
			if err := h.Report(ctx, isMajor); err != nil {
				h.log.Warnw("heartbeat", "isMajor", isMajor, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Report sends a single heartbeat. A failed minor heartbeat leaves its
// chunks dirty for the next one.
func (h *HealthMonitorService) Report(ctx context.Context, isMajor bool) error {
	var chunks []model.Chunk
	if isMajor {
		chunks = h.chunkService.GetAllChunks()
	} else {
		var err error
		chunks, err = h.chunkService.TakeDirty(ctx)
		if err != nil {
			h.log.Warnw("heartbeat", "status", "persisting dirty flags failed", "error", err)
		}
	}

	held := h.chunkService.Count()
	args := coordinatorRPC.HeartbeatArgs{
		NodeName:   h.nodeName,
		IsMajor:    isMajor,
		FreeSpace:  h.capacity - held,
		ChunkCount: held,
		Chunks:     make([]coordinatorRPC.Chunk, 0, len(chunks)),
	}

	for _, chunk := range chunks {
		args.Chunks = append(args.Chunks, coordinatorRPC.Chunk{Version: chunk.Version, Key: chunk.Key})
	}

	var reply coordinatorRPC.HeartbeatReply
	err := h.dialer.Call(ctx, h.masterAddr, wire.VerbHeartbeat, &args, &reply)
	if err != nil {
		if !isMajor {
			if markErr := h.chunkService.MarkDirty(ctx, chunks); markErr != nil {
				h.log.Warnw("heartbeat", "status", "persisting dirty flags failed", "error", markErr)
			}
		}

		return err
	}

	h.log.Debugw("heartbeat", "isMajor", isMajor, "declared", len(args.Chunks), "freeSpace", args.FreeSpace)
	return nil
}
