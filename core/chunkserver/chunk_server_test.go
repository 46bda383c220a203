package chunkserver

import (
	"context"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pyropy/chunkfs/core/constants"
	"github.com/pyropy/chunkfs/core/coordinator"
	chunkServerRPC "github.com/pyropy/chunkfs/rpc/chunkserver"
	"github.com/pyropy/chunkfs/rpc/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testDialer = wire.Dialer{DialTimeout: time.Second, IOTimeout: 2 * time.Second}

func serve(t *testing.T, handler wire.Handler) string {
	t.Helper()

	srv, err := wire.Listen("127.0.0.1:0", handler, 2*time.Second, zaptest.NewLogger(t).Sugar())
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

func startCoordinator(t *testing.T, rf int) (*coordinator.Coordinator, string) {
	t.Helper()

	cfg := &coordinator.Config{}
	cfg.Server.IOTimeout = 2 * time.Second
	cfg.Cluster.Redundancy = constants.REDUNDANCY_REPLICATION
	cfg.Cluster.ReplicationFactor = rf
	cfg.Liveness.Interval = time.Hour
	cfg.Liveness.ProbeTimeout = time.Second

	log := zaptest.NewLogger(t).Sugar()
	c := coordinator.NewCoordinator(cfg, log)
	return c, serve(t, coordinator.NewAPI(c, log).Handle)
}

func testConfig(t *testing.T, masterAddr string, rf int) *Config {
	cfg := &Config{}
	cfg.Master.Addr = masterAddr
	cfg.Chunks.Path = t.TempDir()
	cfg.Chunks.Capacity = 10
	cfg.Chunks.SliceSize = sliceSize
	cfg.Chunks.HashCacheSize = 16
	cfg.Cluster.Redundancy = constants.REDUNDANCY_REPLICATION
	cfg.Cluster.ReplicationFactor = rf
	cfg.Heartbeat.Minor = time.Hour
	cfg.Heartbeat.Major = time.Hour
	cfg.Net.DialTimeout = time.Second
	cfg.Net.IOTimeout = 2 * time.Second
	return cfg
}

// startChunkServer serves a chunk server on loopback and registers it with
// the coordinator at masterAddr.
func startChunkServer(t *testing.T, masterAddr string, rf int) *ChunkServer {
	t.Helper()

	log := zaptest.NewLogger(t).Sugar()
	cs, err := NewChunkServer(context.Background(), testConfig(t, masterAddr, rf), log)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })

	addr := serve(t, NewAPI(cs, log).Handle)
	require.NoError(t, cs.Register(context.Background(), addr))
	return cs
}

func writeTo(t *testing.T, addr, key string, payload []byte, chain []string) bool {
	t.Helper()

	var reply chunkServerRPC.WriteChunkReply
	args := chunkServerRPC.WriteChunkArgs{ChunkKey: key, Payload: payload, Chain: chain}
	require.NoError(t, testDialer.Call(context.Background(), addr, wire.VerbWrite, &args, &reply))
	return reply.Success
}

func readFrom(t *testing.T, addr, key string, offset, length int) []byte {
	t.Helper()

	var reply chunkServerRPC.ReadChunkReply
	args := chunkServerRPC.ReadChunkArgs{ChunkKey: key, Offset: offset, Length: length}
	require.NoError(t, testDialer.Call(context.Background(), addr, wire.VerbRead, &args, &reply))
	return reply.Payload
}

func TestChainWriteReachesEveryTarget(t *testing.T) {
	c, masterAddr := startCoordinator(t, 3)
	servers := map[string]*ChunkServer{}
	for i := 0; i < 3; i++ {
		cs := startChunkServer(t, masterAddr, 3)
		servers[cs.Name] = cs
	}

	key := "f.txt_chunk1"
	data := testPayload(3*sliceSize + 7)

	targets, err := c.SelectTargets(key)
	require.NoError(t, err)
	require.Len(t, targets, 3)

	assert.True(t, writeTo(t, targets[0], key, data, targets[1:]))

	for _, name := range targets {
		chunk, exists := servers[name].GetChunk(key)
		require.True(t, exists, "missing on %s", name)
		assert.Equal(t, 1, chunk.Version)
		assert.Equal(t, data, readFrom(t, name, key, 0, -1))
	}

	assert.Equal(t, data[sliceSize:sliceSize+100], readFrom(t, targets[2], key, sliceSize, 100))
}

func TestForwardToUnreachableNodeReportsChain(t *testing.T) {
	c, masterAddr := startCoordinator(t, 3)
	a := startChunkServer(t, masterAddr, 3)
	b := startChunkServer(t, masterAddr, 3)
	dead := deadAddr(t)
	c.ApplyHeartbeat(dead, true, 1, 0, nil)

	key := "f.txt_chunk1"
	targets, err := c.SelectTargets(key)
	require.NoError(t, err)
	require.Equal(t, []string{a.Name, b.Name, dead}, targets)

	assert.False(t, writeTo(t, a.Name, key, testPayload(100), []string{b.Name, dead}))

	assert.Eventually(t, func() bool {
		return len(c.Holders(key)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{a.Name, b.Name}, c.Holders(key))

	_, onB := b.GetChunk(key)
	assert.True(t, onB)
}

func TestLocalWriteFailureReportsSelfAndChain(t *testing.T) {
	c, masterAddr := startCoordinator(t, 3)
	a := startChunkServer(t, masterAddr, 3)
	b := startChunkServer(t, masterAddr, 3)
	d := startChunkServer(t, masterAddr, 3)

	key := "f.txt_chunk1"
	targets, err := c.SelectTargets(key)
	require.NoError(t, err)
	require.Equal(t, []string{a.Name, b.Name, d.Name}, targets)

	// a directory in place of the chunk file makes b's local write fail
	require.NoError(t, os.Mkdir(b.ChunkPath(key), 0750))

	assert.False(t, writeTo(t, b.Name, key, testPayload(100), []string{d.Name}))

	assert.Eventually(t, func() bool {
		return len(c.Holders(key)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{a.Name}, c.Holders(key))

	_, onB := b.GetChunk(key)
	_, onD := d.GetChunk(key)
	assert.False(t, onB)
	assert.False(t, onD)

	for _, name := range []string{b.Name, d.Name} {
		node, ok := c.Node(name)
		require.True(t, ok)
		assert.Equal(t, 10, node.FreeSpace)
	}
}

func TestCorruptSoleReplicaIsEvicted(t *testing.T) {
	c, masterAddr := startCoordinator(t, 3)
	a := startChunkServer(t, masterAddr, 3)

	key := "f.txt_chunk1"
	targets, err := c.SelectTargets(key)
	require.NoError(t, err)
	require.Equal(t, []string{a.Name}, targets)
	require.True(t, writeTo(t, a.Name, key, testPayload(8*sliceSize), nil))

	flipByte(t, a.ChunkPath(key), 3*sliceSize+100)

	res, err := a.ValidatedRead(key, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []FailedRange{{Offset: 3 * sliceSize, Length: sliceSize}}, res.Failures)

	assert.Empty(t, readFrom(t, a.Name, key, 0, -1))

	_, exists := a.GetChunk(key)
	assert.False(t, exists)
	assert.NoFileExists(t, a.ChunkPath(key))
}

func TestReadRepairsFromPeer(t *testing.T) {
	c, masterAddr := startCoordinator(t, 2)
	a := startChunkServer(t, masterAddr, 2)
	b := startChunkServer(t, masterAddr, 2)

	key := "f.txt_chunk1"
	data := testPayload(8 * sliceSize)
	targets, err := c.SelectTargets(key)
	require.NoError(t, err)
	require.Equal(t, []string{a.Name, b.Name}, targets)
	require.True(t, writeTo(t, a.Name, key, data, []string{b.Name}))

	flipByte(t, a.ChunkPath(key), 3*sliceSize+100)
	flipByte(t, a.ChunkPath(key), 7*sliceSize+1)

	assert.Equal(t, data, readFrom(t, a.Name, key, 0, -1))

	chunk, exists := a.GetChunk(key)
	require.True(t, exists)
	assert.Equal(t, 1, chunk.Version)

	res, err := a.ValidatedRead(key, 0, -1)
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestConcurrentReadsShareOneRepair(t *testing.T) {
	c, masterAddr := startCoordinator(t, 2)
	a := startChunkServer(t, masterAddr, 2)
	b := startChunkServer(t, masterAddr, 2)

	key := "f.txt_chunk1"
	data := testPayload(8 * sliceSize)
	_, err := c.SelectTargets(key)
	require.NoError(t, err)
	require.True(t, writeTo(t, a.Name, key, data, []string{b.Name}))

	flipByte(t, a.ChunkPath(key), 5*sliceSize+9)

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = a.ReadChunk(context.Background(), key, 0, -1)
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, data, got)
	}

	_, exists := a.GetChunk(key)
	assert.True(t, exists)
}

func TestReadEvictsWhenPeerAlsoCorrupt(t *testing.T) {
	c, masterAddr := startCoordinator(t, 2)
	a := startChunkServer(t, masterAddr, 2)
	b := startChunkServer(t, masterAddr, 2)

	key := "f.txt_chunk1"
	_, err := c.SelectTargets(key)
	require.NoError(t, err)
	require.True(t, writeTo(t, a.Name, key, testPayload(4*sliceSize), []string{b.Name}))

	flipByte(t, a.ChunkPath(key), sliceSize+3)
	flipByte(t, b.ChunkPath(key), sliceSize+3)

	assert.Empty(t, readFrom(t, a.Name, key, 0, -1))

	_, onA := a.GetChunk(key)
	_, onB := b.GetChunk(key)
	assert.False(t, onA)
	assert.False(t, onB)
}

func TestRecoveryWritePushesLocalCopy(t *testing.T) {
	_, masterAddr := startCoordinator(t, 2)
	a := startChunkServer(t, masterAddr, 2)
	b := startChunkServer(t, masterAddr, 2)

	key := "f.txt_chunk1"
	data := testPayload(2*sliceSize + 1)
	require.True(t, writeTo(t, a.Name, key, data, nil))

	assert.True(t, writeTo(t, a.Name, key, nil, []string{b.Name}))
	assert.Equal(t, data, readFrom(t, b.Name, key, 0, -1))

	assert.False(t, writeTo(t, b.Name, "unknown_chunk1", nil, []string{a.Name}))
}

func TestReadWithoutValidation(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	cs, err := NewChunkServer(context.Background(), testConfig(t, deadAddr(t), 1), log)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })

	key := "f.txt_chunk1"
	data := testPayload(2 * sliceSize)
	require.NoError(t, cs.WriteChunk(context.Background(), key, data, 0, nil))
	flipByte(t, cs.ChunkPath(key), 10)

	got := cs.ReadChunk(context.Background(), key, 0, -1)
	assert.NotEqual(t, data, got)
	assert.Len(t, got, len(data))

	_, exists := cs.GetChunk(key)
	assert.True(t, exists)

	assert.Nil(t, cs.ReadChunk(context.Background(), "missing_chunk1", 0, -1))
}

func TestHeartbeatsDeclareChunks(t *testing.T) {
	ctx := context.Background()
	c, masterAddr := startCoordinator(t, 3)
	a := startChunkServer(t, masterAddr, 3)

	node, ok := c.Node(a.Name)
	require.True(t, ok)
	assert.Equal(t, 10, node.FreeSpace)

	require.NoError(t, a.WriteChunk(ctx, "f.txt_chunk1", testPayload(10), 0, nil))
	require.NoError(t, a.Report(ctx, false))
	assert.Equal(t, []string{a.Name}, c.Holders("f.txt_chunk1"))

	node, _ = c.Node(a.Name)
	assert.Equal(t, 9, node.FreeSpace)
	assert.Equal(t, 1, node.NumChunks)

	chunk, _ := a.GetChunk("f.txt_chunk1")
	assert.False(t, chunk.Dirty)

	require.NoError(t, a.EvictChunk(ctx, "f.txt_chunk1"))
	require.NoError(t, a.Report(ctx, true))
	assert.Empty(t, c.Holders("f.txt_chunk1"))
}

func TestFailedMinorHeartbeatKeepsChunksDirty(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t).Sugar()
	cs, err := NewChunkServer(ctx, testConfig(t, deadAddr(t), 3), log)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })

	require.NoError(t, cs.WriteChunk(ctx, "f.txt_chunk1", testPayload(10), 0, nil))
	assert.Error(t, cs.Register(ctx, "127.0.0.1:1"))
	assert.Error(t, cs.Report(ctx, false))

	chunk, _ := cs.GetChunk("f.txt_chunk1")
	assert.True(t, chunk.Dirty)
}
