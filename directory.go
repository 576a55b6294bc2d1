package lancom

import (
	"sort"
	"sync"
	"time"
)

// RemoteNodeInfo is a peer as observed on the wire: the same shape as
// LocalNodeInfo, plus the bookkeeping needed to decide whether a new
// beacon supersedes what we already know and whether the peer is
// still alive.
type RemoteNodeInfo struct {
	NodeID      string
	Name        string
	IP          string
	ServicePort uint16
	Revision    uint64
	Services    map[string]uint16
	Topics      map[string]uint16
	Headers     map[string]string
	LastSeen    time.Time
}

func (r *RemoteNodeInfo) serviceSocket(name string) (SocketInfo, bool) {
	port, ok := r.Services[name]
	if !ok {
		return SocketInfo{}, false
	}
	return SocketInfo{IP: r.IP, Port: port}, true
}

func (r *RemoteNodeInfo) topicSocket(name string) (SocketInfo, bool) {
	port, ok := r.Topics[name]
	if !ok {
		return SocketInfo{}, false
	}
	return SocketInfo{IP: r.IP, Port: port}, true
}

// ChangeNotifier is invoked whenever the directory changes, with the
// set of topic names whose publisher set may have changed. It is
// always called with no lock held.
type ChangeNotifier func(changedTopics []string)

// NodeInfoManager is the process-wide directory of live peers, keyed
// by nodeID, with indices rebuilt on every update. It is the Go
// realization of spec.md's NodeInfoManager: one lock guards the table
// and its derived indices; watchers run outside that lock.
type NodeInfoManager struct {
	mu sync.RWMutex

	selfID         string
	livenessWindow time.Duration

	nodes          map[string]*RemoteNodeInfo
	serviceIndex   map[string]SocketInfo
	publisherIndex map[string][]SocketInfo

	watchersMu sync.Mutex
	nextID     int
	watchers   map[int]ChangeNotifier
}

// NewNodeInfoManager creates an empty directory. selfID is used to
// filter self-echoed beacons; livenessWindow is the duration after
// which an unseen node is evicted (spec.md default: 3x beacon period).
func NewNodeInfoManager(selfID string, livenessWindow time.Duration) *NodeInfoManager {
	return &NodeInfoManager{
		selfID:         selfID,
		livenessWindow: livenessWindow,
		nodes:          make(map[string]*RemoteNodeInfo),
		serviceIndex:   make(map[string]SocketInfo),
		publisherIndex: make(map[string][]SocketInfo),
		watchers:       make(map[int]ChangeNotifier),
	}
}

// ApplyBeacon folds one decoded beacon into the directory, notifies the
// watchers of the topic names whose publisher set changed as a result,
// and returns that same set.
//
// Rules (spec.md §4.1): self-echo is discarded; an unknown nodeID is
// inserted; a known nodeID with a strictly greater revision replaces
// the stored record; otherwise only LastSeen is refreshed.
func (m *NodeInfoManager) ApplyBeacon(remote RemoteNodeInfo, now time.Time) []string {
	if remote.NodeID == m.selfID {
		return nil
	}

	m.mu.Lock()

	existing, known := m.nodes[remote.NodeID]
	switch {
	case !known:
		remote.LastSeen = now
		m.nodes[remote.NodeID] = &remote
	case remote.Revision > existing.Revision:
		remote.LastSeen = now
		m.nodes[remote.NodeID] = &remote
	default:
		existing.LastSeen = now
	}

	changed := m.rebuildLocked()
	m.mu.Unlock()

	m.notifyWatchers(changed)
	return changed
}

// Sweep evicts any node whose LastSeen is older than livenessWindow,
// returning the set of topics affected. Meant to be called on the
// same cadence as the beacon receiver.
func (m *NodeInfoManager) Sweep(now time.Time) []string {
	m.mu.Lock()

	for id, n := range m.nodes {
		if now.Sub(n.LastSeen) > m.livenessWindow {
			delete(m.nodes, id)
		}
	}

	changed := m.rebuildLocked()
	m.mu.Unlock()

	m.notifyWatchers(changed)
	return changed
}

// rebuildLocked recomputes serviceIndex and publisherIndex from nodes,
// and returns the topic names whose publisher set differs from what
// was there before. Caller must hold mu for writing.
func (m *NodeInfoManager) rebuildLocked() []string {
	oldPublishers := m.publisherIndex

	newServices := make(map[string]SocketInfo)
	newPublishers := make(map[string][]SocketInfo)

	// Deterministic tie-break: iterate nodeIDs in lexicographic order
	// so the first writer into newServices[name] is always the node
	// with the lexicographically smallest nodeID.
	ids := make([]string, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		n := m.nodes[id]

		for name := range n.Services {
			if _, taken := newServices[name]; !taken {
				if sock, ok := n.serviceSocket(name); ok {
					newServices[name] = sock
				}
			}
		}

		for name := range n.Topics {
			if sock, ok := n.topicSocket(name); ok {
				newPublishers[name] = append(newPublishers[name], sock)
			}
		}
	}

	for name := range newPublishers {
		sort.Slice(newPublishers[name], func(i, j int) bool {
			a, b := newPublishers[name][i], newPublishers[name][j]
			if a.IP != b.IP {
				return a.IP < b.IP
			}
			return a.Port < b.Port
		})
	}

	m.serviceIndex = newServices
	m.publisherIndex = newPublishers

	return diffPublisherTopics(oldPublishers, newPublishers)
}

func diffPublisherTopics(old, new map[string][]SocketInfo) []string {
	seen := make(map[string]struct{}, len(old)+len(new))
	var changed []string

	for name := range old {
		seen[name] = struct{}{}
	}
	for name := range new {
		seen[name] = struct{}{}
	}

	for name := range seen {
		if !sameSockets(old[name], new[name]) {
			changed = append(changed, name)
		}
	}

	sort.Strings(changed)
	return changed
}

func sameSockets(a, b []SocketInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// GetServiceInfo returns the deterministic winner advertising service
// name, if any live node does.
func (m *NodeInfoManager) GetServiceInfo(name string) (SocketInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sock, ok := m.serviceIndex[name]
	return sock, ok
}

// GetPublisherInfo returns every live publisher endpoint for topic
// name, in a stable order.
func (m *NodeInfoManager) GetPublisherInfo(name string) []SocketInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.publisherIndex[name]
	out := make([]SocketInfo, len(src))
	copy(out, src)
	return out
}

// SubscribeChanges registers a watcher and returns a function that
// deregisters it.
func (m *NodeInfoManager) SubscribeChanges(cb ChangeNotifier) (unsubscribe func()) {
	m.watchersMu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = cb
	m.watchersMu.Unlock()

	return func() {
		m.watchersMu.Lock()
		delete(m.watchers, id)
		m.watchersMu.Unlock()
	}
}

func (m *NodeInfoManager) notifyWatchers(changedTopics []string) {
	if len(changedTopics) == 0 {
		return
	}

	m.watchersMu.Lock()
	cbs := make([]ChangeNotifier, 0, len(m.watchers))
	for _, cb := range m.watchers {
		cbs = append(cbs, cb)
	}
	m.watchersMu.Unlock()

	for _, cb := range cbs {
		cb(changedTopics)
	}
}

// Len returns the number of known live peers (test/diagnostic helper).
func (m *NodeInfoManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}
