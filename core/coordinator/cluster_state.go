package coordinator

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/pyropy/chunkfs/core/model"
	"github.com/pyropy/chunkfs/lib/utils"
)

var (
	ErrNoCapacity    = errors.New("no chunk server with free capacity")
	ErrChunkNotFound = errors.New("chunk has no known holders")
)

// ClusterState holds the node set and the chunk location index. Both are
// guarded by one mutex since placement reads and mutates them together.
type ClusterState struct {
	mu sync.Mutex

	nodes map[string]*model.NodeRecord
	// declaration order, used to break free space ties
	order  []string
	chunks map[string][]string

	replicationFactor int
}

func NewClusterState(replicationFactor int) *ClusterState {
	return &ClusterState{
		nodes:             map[string]*model.NodeRecord{},
		order:             []string{},
		chunks:            map[string][]string{},
		replicationFactor: replicationFactor,
	}
}

// SelectTargets returns the ordered write targets for chunkKey. Existing
// holders come first, followed by the nodes with the most free space.
// Newly selected nodes are charged one chunk of capacity right away.
func (s *ClusterState) SelectTargets(chunkKey string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasCapacity() {
		return nil, ErrNoCapacity
	}

	want := s.replicationFactor
	if len(s.nodes) < want {
		want = len(s.nodes)
	}

	holders := s.chunks[chunkKey]
	targets := make([]string, 0, want)
	targets = append(targets, holders...)

	for _, name := range s.candidates(holders) {
		if len(targets) >= want {
			break
		}

		targets = append(targets, name)
		s.reserve(name)
	}

	if len(targets) == 0 {
		return nil, ErrNoCapacity
	}

	s.chunks[chunkKey] = append([]string{}, targets...)
	return targets, nil
}

// Lookup picks a random holder of chunkKey. The requester is skipped when it
// is a chunk server or is retrying after a failed validation.
func (s *ClusterState) Lookup(chunkKey string, isFailure, isFromNode bool, requester string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]string, 0, len(s.chunks[chunkKey]))
	for _, name := range s.chunks[chunkKey] {
		if (isFailure || isFromNode) && requester != "" && name == requester {
			continue
		}

		candidates = append(candidates, name)
	}

	if len(candidates) == 0 {
		return "", ErrChunkNotFound
	}

	return candidates[rand.Intn(len(candidates))], nil
}

// ApplyHeartbeat records a chunk server's report. Unknown nodes are
// registered. A major heartbeat is authoritative: the node is dropped from
// every chunk it did not declare.
func (s *ClusterState) ApplyHeartbeat(name string, isMajor bool, freeSpace, numChunks int, declared []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, known := s.nodes[name]
	if !known {
		node = &model.NodeRecord{Name: name}
		s.nodes[name] = node
		s.order = append(s.order, name)
	}

	for _, key := range declared {
		holders := s.chunks[key]
		if !utils.Contains(holders, name) {
			s.chunks[key] = append(holders, name)
		}
	}

	if isMajor {
		present := make(map[string]struct{}, len(declared))
		for _, key := range declared {
			present[key] = struct{}{}
		}

		for key, holders := range s.chunks {
			if _, ok := present[key]; ok || !utils.Contains(holders, name) {
				continue
			}

			s.dropHolder(key, name)
		}
	}

	node.FreeSpace = freeSpace
	node.NumChunks = numChunks
	node.LastHeartbeat = time.Now()
}

// RemoveTargets drops failed nodes from the holders of chunkKey and returns
// the capacity charged to them.
func (s *ClusterState) RemoveTargets(chunkKey string, failed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range failed {
		if !utils.Contains(s.chunks[chunkKey], name) {
			continue
		}

		s.dropHolder(chunkKey, name)
		s.release(name)
	}
}

// EvictNode removes a node from the cluster. It returns the chunks left with
// fewer holders than the replication factor and the chunks left with none,
// whose entries are dropped.
func (s *ClusterState) EvictNode(name string) (underReplicated, lost []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[name]; !ok {
		return nil, nil
	}

	delete(s.nodes, name)
	s.order = utils.Remove(s.order, name)

	for key, holders := range s.chunks {
		if !utils.Contains(holders, name) {
			continue
		}

		s.dropHolder(key, name)
		remaining, ok := s.chunks[key]
		switch {
		case !ok:
			lost = append(lost, key)
		case len(remaining) < s.replicationFactor:
			underReplicated = append(underReplicated, key)
		}
	}

	sort.Strings(underReplicated)
	sort.Strings(lost)
	return underReplicated, lost
}

// PlanRepair nominates a surviving holder of chunkKey as the source and
// enough healthy non-holders to restore the replication factor. The targets
// are recorded as holders and charged capacity; a failed repair must hand
// them back through RemoveTargets.
func (s *ClusterState) PlanRepair(chunkKey string) (string, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	holders := s.chunks[chunkKey]
	if len(holders) == 0 {
		return "", nil, ErrChunkNotFound
	}

	need := s.replicationFactor - len(holders)
	if need <= 0 {
		return holders[0], nil, nil
	}

	targets := make([]string, 0, need)
	for _, name := range s.candidates(holders) {
		if len(targets) == need {
			break
		}

		targets = append(targets, name)
		s.reserve(name)
	}

	if len(targets) == 0 {
		return "", nil, ErrNoCapacity
	}

	s.chunks[chunkKey] = append(s.chunks[chunkKey], targets...)
	return holders[0], targets, nil
}

// Nodes returns the known node names in declaration order.
func (s *ClusterState) Nodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string{}, s.order...)
}

func (s *ClusterState) Node(name string) (model.NodeRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[name]
	if !ok {
		return model.NodeRecord{}, false
	}

	return *node, true
}

func (s *ClusterState) Holders(chunkKey string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string{}, s.chunks[chunkKey]...)
}

func (s *ClusterState) hasCapacity() bool {
	for _, node := range s.nodes {
		if node.FreeSpace > 0 {
			return true
		}
	}

	return false
}

// candidates lists nodes with free space that are not in exclude, most free
// space first, ties in declaration order.
func (s *ClusterState) candidates(exclude []string) []string {
	names := make([]string, 0, len(s.order))
	for _, name := range s.order {
		if utils.Contains(exclude, name) || s.nodes[name].FreeSpace <= 0 {
			continue
		}

		names = append(names, name)
	}

	sort.SliceStable(names, func(i, j int) bool {
		return s.nodes[names[i]].FreeSpace > s.nodes[names[j]].FreeSpace
	})

	return names
}

func (s *ClusterState) reserve(name string) {
	node := s.nodes[name]
	node.FreeSpace--
	node.NumChunks++
}

func (s *ClusterState) release(name string) {
	node, ok := s.nodes[name]
	if !ok {
		return
	}

	node.FreeSpace++
	if node.NumChunks > 0 {
		node.NumChunks--
	}
}

func (s *ClusterState) dropHolder(chunkKey, name string) {
	holders := utils.Remove(s.chunks[chunkKey], name)
	if len(holders) == 0 {
		delete(s.chunks, chunkKey)
		return
	}

	s.chunks[chunkKey] = holders
}
