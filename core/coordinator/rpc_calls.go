package coordinator

import (
	"context"
	"errors"
	"fmt"

	chunkServerRPC "github.com/pyropy/chunkfs/rpc/chunkserver"
	"github.com/pyropy/chunkfs/rpc/wire"
)

var ErrRecoveryRejected = errors.New("recovery write rejected")

// probeNode sends a heartbeat probe to a chunk server.
func (c *Coordinator) probeNode(ctx context.Context, node string) bool {
	var reply chunkServerRPC.HealthCheckReply
	err := c.dialer.Call(ctx, node, wire.VerbHeartbeat, &chunkServerRPC.HealthCheckArgs{}, &reply)
	if err != nil {
		c.log.Infow("health-check", "node", node, "error", err)
		return false
	}

	return reply.Healthy
}

// sendRecoveryWrite issues a zero-length write with a forward chain, making
// source push its copy of the chunk to every node in chain.
func (c *Coordinator) sendRecoveryWrite(ctx context.Context, source, chunkKey string, chain []string) error {
	args := chunkServerRPC.WriteChunkArgs{
		ChunkKey: chunkKey,
		Chain:    chain,
	}

	var reply chunkServerRPC.WriteChunkReply
	err := c.recoveryDialer.Call(ctx, source, wire.VerbWrite, &args, &reply)
	if err != nil {
		return err
	}

	if !reply.Success {
		return fmt.Errorf("%w: %s via %s", ErrRecoveryRejected, chunkKey, source)
	}

	return nil
}
