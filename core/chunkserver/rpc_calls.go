package chunkserver

import (
	"context"

	chunkServerRPC "github.com/pyropy/chunkfs/rpc/chunkserver"
	coordinatorRPC "github.com/pyropy/chunkfs/rpc/coordinator"
	"github.com/pyropy/chunkfs/rpc/wire"
)

func (c *ChunkServer) sendWrite(ctx context.Context, addr, chunkKey string, payload []byte, offset int, chain []string) (bool, error) {
	args := chunkServerRPC.WriteChunkArgs{
		ChunkKey: chunkKey,
		Offset:   offset,
		Payload:  payload,
		Chain:    chain,
	}

	var reply chunkServerRPC.WriteChunkReply
	err := c.dialer.Call(ctx, addr, wire.VerbWrite, &args, &reply)
	if err != nil {
		return false, err
	}

	return reply.Success, nil
}

func (c *ChunkServer) readFromPeer(ctx context.Context, addr, chunkKey string, offset, length int) ([]byte, error) {
	args := chunkServerRPC.ReadChunkArgs{
		ChunkKey: chunkKey,
		Offset:   offset,
		Length:   length,
	}

	var reply chunkServerRPC.ReadChunkReply
	err := c.dialer.Call(ctx, addr, wire.VerbRead, &args, &reply)
	if err != nil {
		return nil, err
	}

	return reply.Payload, nil
}

// lookupHolder asks the coordinator for another node holding chunkKey.
func (c *ChunkServer) lookupHolder(ctx context.Context, chunkKey string) (string, bool, error) {
	args := coordinatorRPC.ReadArgs{
		ChunkKey:   chunkKey,
		IsFailure:  true,
		IsFromNode: true,
		Requester:  c.Name,
	}

	var reply coordinatorRPC.ReadReply
	err := c.dialer.Call(ctx, c.MasterAddr, wire.VerbRead, &args, &reply)
	if err != nil {
		return "", false, err
	}

	return reply.NodeName, reply.Found, nil
}

// reportFailure sends a taddle naming the targets that did not get a write.
func (c *ChunkServer) reportFailure(ctx context.Context, chunkKey string, failed []string) {
	args := coordinatorRPC.TaddleArgs{
		Reporter:      c.Name,
		ChunkKey:      chunkKey,
		FailedTargets: failed,
	}

	err := c.dialer.Call(ctx, c.MasterAddr, wire.VerbTaddle, &args, nil)
	if err != nil {
		c.log.Warnw("taddle", "chunk", chunkKey, "failed", failed, "error", err)
	}
}
