package client

import (
	"context"
	"fmt"

	chunkServerRPC "github.com/pyropy/chunkfs/rpc/chunkserver"
	coordinatorRPC "github.com/pyropy/chunkfs/rpc/coordinator"
	"github.com/pyropy/chunkfs/rpc/wire"
)

func (c *Client) requestPlacement(ctx context.Context, key string) ([]string, error) {
	var reply coordinatorRPC.WriteReply
	err := c.dialer.Call(ctx, c.Cfg.Master.Addr, wire.VerbWrite, &coordinatorRPC.WriteArgs{ChunkKey: key}, &reply)
	if err != nil {
		return nil, err
	}

	if !reply.Accepted || len(reply.Targets) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrWriteRejected, key)
	}

	return reply.Targets, nil
}

// lookup asks the coordinator for a holder of key. A non-empty failedNode
// is a holder that just failed to serve the read and is skipped.
func (c *Client) lookup(ctx context.Context, key, failedNode string) (string, bool, error) {
	args := coordinatorRPC.ReadArgs{
		ChunkKey:  key,
		IsFailure: failedNode != "",
		Requester: failedNode,
	}

	var reply coordinatorRPC.ReadReply
	err := c.dialer.Call(ctx, c.Cfg.Master.Addr, wire.VerbRead, &args, &reply)
	if err != nil {
		return "", false, err
	}

	return reply.NodeName, reply.Found, nil
}

func (c *Client) sendWrite(ctx context.Context, addr, key string, payload []byte, chain []string) (bool, error) {
	args := chunkServerRPC.WriteChunkArgs{
		ChunkKey: key,
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

func (c *Client) readFromNode(ctx context.Context, addr, key string) ([]byte, error) {
	args := chunkServerRPC.ReadChunkArgs{
		ChunkKey: key,
		Offset:   0,
		Length:   -1,
	}

	var reply chunkServerRPC.ReadChunkReply
	err := c.dialer.Call(ctx, addr, wire.VerbRead, &args, &reply)
	if err != nil {
		return nil, err
	}

	return reply.Payload, nil
}

// reportFailure tells the coordinator none of targets received the write.
func (c *Client) reportFailure(ctx context.Context, key string, targets []string) {
	args := coordinatorRPC.TaddleArgs{
		ChunkKey:      key,
		FailedTargets: targets,
	}

	err := c.dialer.Call(ctx, c.Cfg.Master.Addr, wire.VerbTaddle, &args, nil)
	if err != nil {
		c.log.Warnw("taddle", "chunk", key, "error", err)
	}
}
