package lancom

import (
	"sync"

	"github.com/google/uuid"
)

// NodeAddress is the (ip, port) pair identifying a node on the subnet.
type NodeAddress struct {
	IP   string
	Port uint16
}

// SocketInfo is a reachable (ip, port) endpoint of a named service or
// topic on some node.
type SocketInfo struct {
	IP   string
	Port uint16
}

// LocalNodeInfo is this node's own advertised identity: name, stable
// nodeID, address, and the services/topics it currently offers.
// Mutation is serialised under a single mutex, and every mutation
// bumps a revision counter that travels in each beacon, so receivers
// can tell whether a beacon supersedes the record they already hold.
// The beacon sender emits on every period whatever the revision.
type LocalNodeInfo struct {
	mu sync.RWMutex

	name    string
	nodeID  string
	addr    NodeAddress
	services map[string]uint16
	topics   map[string]uint16
	headers  map[string]string
	revision uint64
}

// NewLocalNodeInfo constructs this node's self-description. nodeID is a
// fresh random UUID, stable for the process lifetime, matching the
// original's process-unique 16-byte UUID but drawn from a real library
// rather than hand-rolled crypto/rand.
func NewLocalNodeInfo(name, ip string) *LocalNodeInfo {
	return &LocalNodeInfo{
		name:     name,
		nodeID:   uuid.NewString(),
		addr:     NodeAddress{IP: ip},
		services: make(map[string]uint16),
		topics:   make(map[string]uint16),
		headers:  make(map[string]string),
	}
}

// NodeID returns this node's stable, process-unique identifier.
func (l *LocalNodeInfo) NodeID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nodeID
}

// Name returns this node's human-readable label.
func (l *LocalNodeInfo) Name() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.name
}

// IP returns this node's advertised address.
func (l *LocalNodeInfo) IP() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.addr.IP
}

// SetServicePort records the port the reply socket is bound on. Called
// once by the node during construction, before any beacon is emitted.
func (l *LocalNodeInfo) SetServicePort(port uint16) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addr.Port = port
	l.revision++
}

// RegisterService advertises a (name -> port) mapping. Re-registering
// an existing name is last-writer-wins with a warning log, per the
// spec's resolution of the source's ambiguous duplicate-registration
// behavior.
func (l *LocalNodeInfo) RegisterService(name string, port uint16) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.services[name]; exists {
		log.Warnf("service %q re-registered locally, replacing previous port", name)
	}
	l.services[name] = port
	l.revision++
}

// RegisterTopic advertises a (name -> port) mapping for a topic this
// node publishes.
func (l *LocalNodeInfo) RegisterTopic(name string, port uint16) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.topics[name] = port
	l.revision++
}

// DeregisterTopic removes a topic, called when a Publisher is closed.
func (l *LocalNodeInfo) DeregisterTopic(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.topics, name)
	l.revision++
}

// SetHeader sets an arbitrary string header advertised in the beacon,
// mirroring the ZRE/original protocol's per-node header bag.
func (l *LocalNodeInfo) SetHeader(key, value string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.headers[key] = value
	l.revision++
}

// Header reads back a previously set header.
func (l *LocalNodeInfo) Header(key string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.headers[key]
	return v, ok
}

// Revision returns the current mutation counter.
func (l *LocalNodeInfo) Revision() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.revision
}

// Snapshot is an immutable read of LocalNodeInfo taken under lock,
// suitable for passing to the beacon sender without holding the lock
// across an encode+send.
type Snapshot struct {
	NodeID      string
	Name        string
	IP          string
	ServicePort uint16
	Revision    uint64
	Services    map[string]uint16
	Topics      map[string]uint16
	Headers     map[string]string
}

// Snapshot takes a consistent read of the whole record.
func (l *LocalNodeInfo) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	services := make(map[string]uint16, len(l.services))
	for k, v := range l.services {
		services[k] = v
	}
	topics := make(map[string]uint16, len(l.topics))
	for k, v := range l.topics {
		topics[k] = v
	}
	headers := make(map[string]string, len(l.headers))
	for k, v := range l.headers {
		headers[k] = v
	}

	return Snapshot{
		NodeID:      l.nodeID,
		Name:        l.name,
		IP:          l.addr.IP,
		ServicePort: l.addr.Port,
		Revision:    l.revision,
		Services:    services,
		Topics:      topics,
		Headers:     headers,
	}
}
