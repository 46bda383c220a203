package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/pyropy/chunkfs/core/constants"
	"go.uber.org/zap"
)

// Prober reports whether a chunk server answered its liveness probe.
type Prober func(ctx context.Context, node string) bool

// Recoverer asks source to push its copy of chunkKey down chain.
type Recoverer func(ctx context.Context, source, chunkKey string, chain []string) error

// LivenessMonitor periodically probes every known chunk server, evicts the
// ones that fail and re-replicates the chunks they held.
type LivenessMonitor struct {
	state    *ClusterState
	probe    Prober
	recovery Recoverer
	interval time.Duration
	log      *zap.SugaredLogger
}

func NewLivenessMonitor(state *ClusterState, probe Prober, recovery Recoverer, interval time.Duration, log *zap.SugaredLogger) *LivenessMonitor {
	return &LivenessMonitor{
		state:    state,
		probe:    probe,
		recovery: recovery,
		interval: interval,
		log:      log,
	}
}

// Start runs a sweep on every tick until ctx is done.
func (m *LivenessMonitor) Start(ctx context.Context) {
	if m.interval <= 0 {
		m.interval = constants.LIVENESS_SWEEP_INTERVAL
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep probes all nodes concurrently and returns the names of the evicted
// ones. Probes and recovery writes run without holding the state lock.
func (m *LivenessMonitor) Sweep(ctx context.Context) []string {
	nodes := m.state.Nodes()
	healthy := make([]bool, len(nodes))

	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node string) {
			defer wg.Done()
			healthy[i] = m.probe(ctx, node)
		}(i, node)
	}

	wg.Wait()

	var evicted []string
	var repairs []string
	seen := map[string]struct{}{}

	for i, node := range nodes {
		if healthy[i] {
			continue
		}

		underReplicated, lost := m.state.EvictNode(node)
		evicted = append(evicted, node)
		m.log.Warnw("liveness", "status", "evicted chunk server", "node", node, "underReplicated", len(underReplicated), "lost", len(lost))

		for _, key := range lost {
			m.log.Errorw("liveness", "status", "chunk lost", "chunk", key)
		}

		for _, key := range underReplicated {
			if _, ok := seen[key]; ok {
				continue
			}

			seen[key] = struct{}{}
			repairs = append(repairs, key)
		}
	}

	for _, key := range repairs {
		m.repair(ctx, key)
	}

	return evicted
}

func (m *LivenessMonitor) repair(ctx context.Context, chunkKey string) {
	source, targets, err := m.state.PlanRepair(chunkKey)
	if err != nil {
		m.log.Warnw("replication", "status", "cannot plan repair", "chunk", chunkKey, "error", err)
		return
	}

	if len(targets) == 0 {
		return
	}

	m.log.Infow("replication", "status", "replicating chunk", "chunk", chunkKey, "source", source, "targets", targets)

	err = m.recovery(ctx, source, chunkKey, targets)
	if err != nil {
		m.log.Warnw("replication", "status", "recovery write failed", "chunk", chunkKey, "source", source, "error", err)
		m.state.RemoveTargets(chunkKey, targets)
	}
}
