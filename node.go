package lancom

import (
	"errors"
	"sync"
	"time"

	"github.com/lancom-go/lancom/transport/mcast"
)

// Node is the composition root: one per process, owning the local
// identity, the peer directory, the beacon sender/receiver pair, the
// service reply plane and the topic subscriber plane. Grounded on
// original_source's call_once-guarded singleton accessor and
// zeromq-gyre's Node/Gyre split, collapsed here into one type since
// this spec has no group/whisper surface to separate out.
type Node struct {
	name string
	ip   string
	cfg  config

	local     *LocalNodeInfo
	directory *NodeInfoManager

	beaconEndpoint *mcast.Endpoint
	beaconSender   *BeaconSender
	beaconReceiver *BeaconReceiver

	services    *ServiceManager
	subscribers *SubscriberManager
}

var (
	instanceMu  sync.Mutex
	instance    *Node
	instanceErr error
)

// Init constructs and starts the process-wide Node the first time it is
// called; every subsequent call returns the same instance and ignores
// its arguments, matching the source's call_once singleton semantics.
func Init(name, ip string, opts ...Option) (*Node, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil || instanceErr != nil {
		return instance, instanceErr
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	n, err := newNode(name, ip, cfg)
	if err != nil {
		instanceErr = err
		return nil, err
	}

	n.start()
	instance = n
	return instance, nil
}

// Instance returns the already-initialized Node, or an error if Init
// has not been called yet.
func Instance() (*Node, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		return nil, errors.New("lancom: node not initialized, call Init first")
	}
	return instance, nil
}

// resetForTest tears down and clears the process singleton. Test-only;
// production code has no legitimate reason to re-Init within a process.
func resetForTest() {
	instanceMu.Lock()
	n := instance
	instance = nil
	instanceErr = nil
	instanceMu.Unlock()

	if n != nil {
		n.Stop()
	}
}

func newNode(name, ip string, cfg config) (*Node, error) {
	local := NewLocalNodeInfo(name, ip)
	directory := NewNodeInfoManager(local.NodeID(), cfg.livenessWindow)

	services, err := NewServiceManager(ip)
	if err != nil {
		return nil, err
	}
	local.SetServicePort(services.ServicePort)

	endpoint, err := mcast.Join(cfg.multicastGroup, cfg.multicastPort, ip)
	if err != nil {
		services.socket.Close()
		return nil, err
	}

	sender := NewBeaconSender(endpoint, local, cfg.beaconPeriod)
	receiver := NewBeaconReceiver(endpoint, directory, cfg.sweepPeriod)
	subscribers := NewSubscriberManager(directory)

	return &Node{
		name:           name,
		ip:             ip,
		cfg:            cfg,
		local:          local,
		directory:      directory,
		beaconEndpoint: endpoint,
		beaconSender:   sender,
		beaconReceiver: receiver,
		services:       services,
		subscribers:    subscribers,
	}, nil
}

func (n *Node) start() {
	n.services.Start()
	n.beaconReceiver.Start()
	n.beaconSender.Start()
	n.subscribers.Start()
}

// Stop shuts every subsystem down in the reverse of start's order and
// releases the multicast socket. Bounded: every loop it waits on uses a
// short recv/poll timeout, so Stop returns promptly.
func (n *Node) Stop() {
	n.subscribers.Stop()
	n.beaconSender.Stop()
	n.beaconReceiver.Stop()
	n.services.Stop()
	n.beaconEndpoint.Close()
}

// NodeID returns this node's stable process-lifetime identifier.
func (n *Node) NodeID() string { return n.local.NodeID() }

// Name returns this node's human-readable label.
func (n *Node) Name() string { return n.local.Name() }

// GetIP returns the address this node advertises to peers.
func (n *Node) GetIP() string { return n.ip }

// Directory exposes the peer directory for callers that need direct
// read access (e.g. WaitForService, Request).
func (n *Node) Directory() *NodeInfoManager { return n.directory }

// SetHeader attaches an arbitrary string header to this node's beacon.
func (n *Node) SetHeader(key, value string) { n.local.SetHeader(key, value) }

// Sleep blocks the calling goroutine for d, a thin convenience wrapper
// matching the source's Node::sleep helper used in examples and tests.
func (n *Node) Sleep(d time.Duration) { time.Sleep(d) }

// RegisterServiceHandler adapts and installs a Resp(Req) handler under
// name, advertising it in this node's beacon.
func RegisterServiceHandler[Req, Resp any](node *Node, name string, fn func(Req) (Resp, error)) {
	RegisterRequestHandler(node.services, name, fn)
	node.local.RegisterService(name, node.services.ServicePort)
}

// RegisterVoidServiceHandler adapts and installs a void(Req) handler.
func RegisterVoidServiceHandler[Req any](node *Node, name string, fn func(Req) error) {
	RegisterVoidHandler(node.services, name, fn)
	node.local.RegisterService(name, node.services.ServicePort)
}

// RegisterSupplierServiceHandler adapts and installs a Resp() handler.
func RegisterSupplierServiceHandler[Resp any](node *Node, name string, fn func() (Resp, error)) {
	RegisterSupplierHandler(node.services, name, fn)
	node.local.RegisterService(name, node.services.ServicePort)
}

// RegisterActionServiceHandler adapts and installs a void() handler.
func RegisterActionServiceHandler(node *Node, name string, fn func() error) {
	RegisterActionHandler(node.services, name, fn)
	node.local.RegisterService(name, node.services.ServicePort)
}

// RemoveServiceHandler deregisters a previously registered service by
// name, both locally and from the handler table.
func RemoveServiceHandler(node *Node, name string) {
	node.services.RemoveHandler(name)

	node.local.mu.Lock()
	delete(node.local.services, name)
	node.local.revision++
	node.local.mu.Unlock()
}
