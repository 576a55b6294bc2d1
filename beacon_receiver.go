package lancom

import (
	"sync"
	"time"

	"github.com/lancom-go/lancom/internal/wire"
	"github.com/lancom-go/lancom/transport/mcast"
)

// BeaconReceiver decodes incoming beacons and folds them into a
// NodeInfoManager, and runs a background sweeper that evicts stale
// peers on the same cadence. Grounded on node.go's listen()/recvFromBeacon
// pair (zeromq-gyre), generalized from the ZRE fixed sig struct to the
// msgpack-encoded wire.Beacon this spec uses.
type BeaconReceiver struct {
	endpoint *mcast.Endpoint
	dir      *NodeInfoManager
	sweep    time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBeaconReceiver wires a receiver to an already-joined multicast
// endpoint and the directory it feeds. sweepPeriod is typically the
// same as the beacon period, per spec.
func NewBeaconReceiver(endpoint *mcast.Endpoint, dir *NodeInfoManager, sweepPeriod time.Duration) *BeaconReceiver {
	return &BeaconReceiver{
		endpoint: endpoint,
		dir:      dir,
		sweep:    sweepPeriod,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the decode loop and the sweeper loop.
func (r *BeaconReceiver) Start() {
	r.wg.Add(2)
	go r.decodeLoop()
	go r.sweepLoop()
}

// Stop ends both loops and waits for them to exit.
func (r *BeaconReceiver) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *BeaconReceiver) decodeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		case dg, ok := <-r.endpoint.Datagrams():
			if !ok {
				return
			}
			r.handle(dg)
		}
	}
}

func (r *BeaconReceiver) handle(dg mcast.Datagram) {
	b, err := wire.DecodeBeacon(dg.Data)
	if err != nil {
		log.WithError(err).Warn("dropping undecodable beacon datagram")
		return
	}

	remote := RemoteNodeInfo{
		NodeID:      b.NodeID,
		Name:        b.Name,
		IP:          b.IP,
		ServicePort: b.ServicePort,
		Revision:    b.Revision,
		Services:    entriesToServiceMap(b.Services),
		Topics:      entriesToTopicMap(b.Topics),
		Headers:     b.Headers,
	}

	r.dir.ApplyBeacon(remote, time.Now())
}

func (r *BeaconReceiver) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.dir.Sweep(time.Now())
		}
	}
}

func entriesToServiceMap(entries []wire.ServiceEntry) map[string]uint16 {
	m := make(map[string]uint16, len(entries))
	for _, e := range entries {
		m[e.Name] = e.Port
	}
	return m
}

func entriesToTopicMap(entries []wire.TopicEntry) map[string]uint16 {
	m := make(map[string]uint16, len(entries))
	for _, e := range entries {
		m[e.Name] = e.Port
	}
	return m
}
