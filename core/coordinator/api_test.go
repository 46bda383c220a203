package coordinator

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	chunkServerRPC "github.com/pyropy/chunkfs/rpc/chunkserver"
	coordinatorRPC "github.com/pyropy/chunkfs/rpc/coordinator"
	"github.com/pyropy/chunkfs/rpc/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(rf int) *Config {
	cfg := &Config{}
	cfg.Server.IOTimeout = time.Second
	cfg.Cluster.Redundancy = "replication"
	cfg.Cluster.ReplicationFactor = rf
	cfg.Liveness.Interval = time.Hour
	cfg.Liveness.ProbeTimeout = time.Second
	return cfg
}

func serve(t *testing.T, handler wire.Handler) string {
	t.Helper()

	srv, err := wire.Listen("127.0.0.1:0", handler, time.Second, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return srv.Addr()
}

func deadAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// stubNode answers liveness probes and records recovery writes.
type stubNode struct {
	mu     sync.Mutex
	writes []chunkServerRPC.WriteChunkArgs
}

func (n *stubNode) handle(_ context.Context, verb wire.Verb, r *wire.Reader, w *wire.Writer) error {
	switch verb {
	case wire.VerbHeartbeat:
		reply := chunkServerRPC.HealthCheckReply{Healthy: true}
		reply.Encode(w)
	case wire.VerbWrite:
		var args chunkServerRPC.WriteChunkArgs
		args.Decode(r)
		if err := r.Err(); err != nil {
			return err
		}

		n.mu.Lock()
		n.writes = append(n.writes, args)
		n.mu.Unlock()

		reply := chunkServerRPC.WriteChunkReply{Success: true}
		reply.Encode(w)
	}

	return nil
}

func TestAPIWriteTaddleRead(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	c := NewCoordinator(testConfig(3), log)
	addr := serve(t, NewAPI(c, log).Handle)

	ctx := context.Background()
	d := wire.Dialer{DialTimeout: time.Second, IOTimeout: time.Second}

	for _, hb := range []coordinatorRPC.HeartbeatArgs{
		{NodeName: "A", IsMajor: true, FreeSpace: 10},
		{NodeName: "B", IsMajor: true, FreeSpace: 5},
		{NodeName: "C", IsMajor: true, FreeSpace: 5},
	} {
		hb := hb
		var reply coordinatorRPC.HeartbeatReply
		require.NoError(t, d.Call(ctx, addr, wire.VerbHeartbeat, &hb, &reply))
		assert.True(t, reply.Success)
	}

	var writeReply coordinatorRPC.WriteReply
	err := d.Call(ctx, addr, wire.VerbWrite, &coordinatorRPC.WriteArgs{ChunkKey: "f.txt_chunk1"}, &writeReply)
	require.NoError(t, err)
	assert.True(t, writeReply.Accepted)
	assert.Equal(t, []string{"A", "B", "C"}, writeReply.Targets)

	taddle := coordinatorRPC.TaddleArgs{Reporter: "A", ChunkKey: "f.txt_chunk1", FailedTargets: []string{"B"}}
	require.NoError(t, d.Call(ctx, addr, wire.VerbTaddle, &taddle, nil))

	assert.Eventually(t, func() bool {
		return len(c.Holders("f.txt_chunk1")) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"A", "C"}, c.Holders("f.txt_chunk1"))

	var readReply coordinatorRPC.ReadReply
	err = d.Call(ctx, addr, wire.VerbRead, &coordinatorRPC.ReadArgs{ChunkKey: "f.txt_chunk1", IsFailure: true, IsFromNode: true, Requester: "A"}, &readReply)
	require.NoError(t, err)
	assert.True(t, readReply.Found)
	assert.Equal(t, "C", readReply.NodeName)

	err = d.Call(ctx, addr, wire.VerbRead, &coordinatorRPC.ReadArgs{ChunkKey: "missing"}, &readReply)
	require.NoError(t, err)
	assert.False(t, readReply.Found)
}

func TestAPIWriteRejectedWithoutCapacity(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	addr := serve(t, NewAPI(NewCoordinator(testConfig(3), log), log).Handle)

	d := wire.Dialer{DialTimeout: time.Second, IOTimeout: time.Second}
	reply := coordinatorRPC.WriteReply{Accepted: true}
	err := d.Call(context.Background(), addr, wire.VerbWrite, &coordinatorRPC.WriteArgs{ChunkKey: "k"}, &reply)
	require.NoError(t, err)
	assert.False(t, reply.Accepted)
	assert.Empty(t, reply.Targets)
}

func TestSweepOverWire(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	c := NewCoordinator(testConfig(2), log)

	source := &stubNode{}
	spare := &stubNode{}
	a := serve(t, source.handle)
	b := deadAddr(t)
	spareAddr := serve(t, spare.handle)

	c.ApplyHeartbeat(a, true, 10, 0, nil)
	c.ApplyHeartbeat(b, true, 10, 0, nil)
	c.ApplyHeartbeat(spareAddr, true, 5, 0, nil)

	targets, err := c.SelectTargets("f.txt_chunk1")
	require.NoError(t, err)
	require.Equal(t, []string{a, b}, targets)

	evicted := c.Sweep(context.Background())
	assert.Equal(t, []string{b}, evicted)
	assert.Equal(t, []string{a, spareAddr}, c.Holders("f.txt_chunk1"))

	source.mu.Lock()
	defer source.mu.Unlock()
	require.Len(t, source.writes, 1)
	assert.Equal(t, "f.txt_chunk1", source.writes[0].ChunkKey)
	assert.Empty(t, source.writes[0].Payload)
	assert.Equal(t, []string{spareAddr}, source.writes[0].Chain)
}
