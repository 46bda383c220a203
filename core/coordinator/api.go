package coordinator

import (
	"context"
	"fmt"

	coordinatorRPC "github.com/pyropy/chunkfs/rpc/coordinator"
	"github.com/pyropy/chunkfs/rpc/wire"
	"go.uber.org/zap"
)

// API serves the coordinator verbs over the wire protocol.
type API struct {
	server *Coordinator
	log    *zap.SugaredLogger
}

func NewAPI(c *Coordinator, log *zap.SugaredLogger) *API {
	return &API{
		server: c,
		log:    log,
	}
}

// Handle is a wire.Handler.
func (a *API) Handle(ctx context.Context, verb wire.Verb, r *wire.Reader, w *wire.Writer) error {
	switch verb {
	case wire.VerbWrite:
		var args coordinatorRPC.WriteArgs
		return a.serve(r, w, &args, func() wire.Message { return a.Write(&args) })
	case wire.VerbRead:
		var args coordinatorRPC.ReadArgs
		return a.serve(r, w, &args, func() wire.Message { return a.Read(&args) })
	case wire.VerbHeartbeat:
		var args coordinatorRPC.HeartbeatArgs
		return a.serve(r, w, &args, func() wire.Message { return a.Heartbeat(&args) })
	case wire.VerbTaddle:
		var args coordinatorRPC.TaddleArgs
		return a.serve(r, w, &args, func() wire.Message {
			a.Taddle(&args)
			return nil
		})
	default:
		return fmt.Errorf("unknown verb %q", verb)
	}
}

func (a *API) serve(r *wire.Reader, w *wire.Writer, args wire.Message, call func() wire.Message) error {
	args.Decode(r)
	if err := r.Err(); err != nil {
		return err
	}

	reply := call()
	if reply == nil {
		return nil
	}

	reply.Encode(w)
	return w.Err()
}

func (a *API) Write(args *coordinatorRPC.WriteArgs) *coordinatorRPC.WriteReply {
	a.log.Infow("rpc", "event", "Write", "chunk", args.ChunkKey)

	targets, err := a.server.SelectTargets(args.ChunkKey)
	if err != nil {
		a.log.Warnw("rpc", "event", "Write", "chunk", args.ChunkKey, "error", err)
		return &coordinatorRPC.WriteReply{Accepted: false}
	}

	return &coordinatorRPC.WriteReply{Accepted: true, Targets: targets}
}

func (a *API) Read(args *coordinatorRPC.ReadArgs) *coordinatorRPC.ReadReply {
	a.log.Infow("rpc", "event", "Read", "chunk", args.ChunkKey, "isFailure", args.IsFailure, "requester", args.Requester)

	node, err := a.server.Lookup(args.ChunkKey, args.IsFailure, args.IsFromNode, args.Requester)
	if err != nil {
		return &coordinatorRPC.ReadReply{Found: false}
	}

	return &coordinatorRPC.ReadReply{Found: true, NodeName: node}
}

func (a *API) Heartbeat(args *coordinatorRPC.HeartbeatArgs) *coordinatorRPC.HeartbeatReply {
	a.log.Debugw("rpc", "event", "Heartbeat", "node", args.NodeName, "isMajor", args.IsMajor, "declared", len(args.Chunks))

	declared := make([]string, 0, len(args.Chunks))
	for _, c := range args.Chunks {
		declared = append(declared, c.Key)
	}

	a.server.ApplyHeartbeat(args.NodeName, args.IsMajor, args.FreeSpace, args.ChunkCount, declared)
	return &coordinatorRPC.HeartbeatReply{Success: true}
}

func (a *API) Taddle(args *coordinatorRPC.TaddleArgs) {
	a.log.Warnw("rpc", "event", "Taddle", "reporter", args.Reporter, "chunk", args.ChunkKey, "failed", args.FailedTargets)
	a.server.RemoveTargets(args.ChunkKey, args.FailedTargets)
}
