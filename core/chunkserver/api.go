package chunkserver

import (
	"context"
	"fmt"

	chunkServerRPC "github.com/pyropy/chunkfs/rpc/chunkserver"
	"github.com/pyropy/chunkfs/rpc/wire"
	"go.uber.org/zap"
)

// API serves the chunk server verbs over the wire protocol.
type API struct {
	server *ChunkServer
	log    *zap.SugaredLogger
}

func NewAPI(c *ChunkServer, log *zap.SugaredLogger) *API {
	return &API{
		server: c,
		log:    log,
	}
}

// Handle is a wire.Handler.
func (a *API) Handle(ctx context.Context, verb wire.Verb, r *wire.Reader, w *wire.Writer) error {
	switch verb {
	case wire.VerbWrite:
		var args chunkServerRPC.WriteChunkArgs
		args.Decode(r)
		if err := r.Err(); err != nil {
			return err
		}

		reply := a.WriteChunk(ctx, &args)
		reply.Encode(w)
	case wire.VerbRead:
		var args chunkServerRPC.ReadChunkArgs
		args.Decode(r)
		if err := r.Err(); err != nil {
			return err
		}

		reply := a.ReadChunk(ctx, &args)
		reply.Encode(w)
	case wire.VerbHeartbeat:
		reply := chunkServerRPC.HealthCheckReply{Healthy: true}
		reply.Encode(w)
	default:
		return fmt.Errorf("unknown verb %q", verb)
	}

	return w.Err()
}

func (a *API) WriteChunk(ctx context.Context, args *chunkServerRPC.WriteChunkArgs) *chunkServerRPC.WriteChunkReply {
	a.log.Infow("rpc", "event", "WriteChunk", "chunk", args.ChunkKey, "offset", args.Offset, "bytes", len(args.Payload), "chain", args.Chain)

	err := a.server.WriteChunk(ctx, args.ChunkKey, args.Payload, args.Offset, args.Chain)
	if err != nil {
		a.log.Warnw("rpc", "event", "WriteChunk", "chunk", args.ChunkKey, "error", err)
		return &chunkServerRPC.WriteChunkReply{Success: false}
	}

	return &chunkServerRPC.WriteChunkReply{Success: true}
}

func (a *API) ReadChunk(ctx context.Context, args *chunkServerRPC.ReadChunkArgs) *chunkServerRPC.ReadChunkReply {
	a.log.Infow("rpc", "event", "ReadChunk", "chunk", args.ChunkKey, "offset", args.Offset, "length", args.Length)

	return &chunkServerRPC.ReadChunkReply{
		Payload: a.server.ReadChunk(ctx, args.ChunkKey, args.Offset, args.Length),
	}
}
