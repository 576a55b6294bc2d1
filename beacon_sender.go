package lancom

import (
	"sync"
	"time"

	"github.com/lancom-go/lancom/internal/wire"
	"github.com/lancom-go/lancom/transport/mcast"
)

// BeaconSender periodically snapshots LocalNodeInfo, encodes it as a
// beacon record, and emits it over the shared multicast endpoint.
// Grounded on node.go's signal() loop (zeromq-gyre), adapted to carry
// a msgpack-encoded record instead of the fixed ZRE sig struct.
type BeaconSender struct {
	endpoint *mcast.Endpoint
	local    *LocalNodeInfo
	period   time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBeaconSender wires a sender to an already-joined multicast
// endpoint and the node's own identity record.
func NewBeaconSender(endpoint *mcast.Endpoint, local *LocalNodeInfo, period time.Duration) *BeaconSender {
	return &BeaconSender{
		endpoint: endpoint,
		local:    local,
		period:   period,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic emission loop.
func (s *BeaconSender) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop ceases emission. No "goodbye" beacon is sent, per spec.
func (s *BeaconSender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *BeaconSender) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.emit()
		}
	}
}

func (s *BeaconSender) emit() {
	snap := s.local.Snapshot()
	b := toWireBeacon(snap)

	data, err := wire.EncodeBeacon(b)
	if err != nil {
		log.WithError(err).Error("beacon encode failed, skipping emission")
		return
	}

	if err := s.endpoint.Send(data); err != nil {
		log.WithError(err).Warn("beacon emission failed")
	}
}

func toWireBeacon(s Snapshot) wire.Beacon {
	services := make([]wire.ServiceEntry, 0, len(s.Services))
	for name, port := range s.Services {
		services = append(services, wire.ServiceEntry{Name: name, Port: port})
	}
	topics := make([]wire.TopicEntry, 0, len(s.Topics))
	for name, port := range s.Topics {
		topics = append(topics, wire.TopicEntry{Name: name, Port: port})
	}

	return wire.Beacon{
		NodeID:      s.NodeID,
		Name:        s.Name,
		IP:          s.IP,
		ServicePort: s.ServicePort,
		Revision:    s.Revision,
		Services:    services,
		Topics:      topics,
		Headers:     s.Headers,
	}
}
