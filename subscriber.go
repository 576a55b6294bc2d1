package lancom

import (
	"fmt"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/lancom-go/lancom/internal/wire"
)

// subscriberPollTimeout and subscriberIdleSleep are the poll loop's two
// timing constants, per spec.md §4.3: the loop blocks briefly when
// there is something to watch, and sleeps briefly when there is
// nothing subscribed at all.
const (
	subscriberPollTimeout = 50 * time.Millisecond
	subscriberIdleSleep   = 20 * time.Millisecond
)

// topicSubscription is one SUB socket watching every live publisher of
// a topic, reconciled whenever the directory reports that topic's
// publisher set may have changed.
type topicSubscription struct {
	name      string
	socket    *zmq.Socket
	connected map[string]bool // endpoint -> connected
	dispatch  func(payload []byte)
}

// SubscriberManager owns one SUB socket per subscribed topic and keeps
// each connected to exactly the set of live publishers the directory
// currently reports, diffing the connected set against the directory's
// current publisher list and connecting/disconnecting only the
// endpoints that changed (spec.md §4.3 permits either an incremental
// diff or a full rebuild; this is the former). Grounded on
// zeromq-gyre's peer-mailbox reconnect handling and original_source's
// subscriber_manager.hpp.
type SubscriberManager struct {
	dir *NodeInfoManager

	mu      sync.Mutex
	entries map[string]*topicSubscription

	unsubscribeDir func()
	stopCh         chan struct{}
	wg             sync.WaitGroup
}

// NewSubscriberManager creates a manager watching dir for publisher-set
// changes. Call Start to begin dispatching received messages.
func NewSubscriberManager(dir *NodeInfoManager) *SubscriberManager {
	sm := &SubscriberManager{
		dir:     dir,
		entries: make(map[string]*topicSubscription),
		stopCh:  make(chan struct{}),
	}
	sm.unsubscribeDir = dir.SubscribeChanges(sm.onDirectoryChanged)
	return sm
}

// Start begins the receive/dispatch loop.
func (sm *SubscriberManager) Start() {
	sm.wg.Add(1)
	go sm.loop()
}

// Stop ends the dispatch loop, detaches from the directory, and closes
// every topic socket.
func (sm *SubscriberManager) Stop() {
	close(sm.stopCh)
	sm.wg.Wait()
	sm.unsubscribeDir()

	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, e := range sm.entries {
		e.socket.Close()
	}
	sm.entries = make(map[string]*topicSubscription)
}

// subscribe installs dispatch as the callback for topic name, creating
// its SUB socket and connecting it to every currently live publisher.
// Re-subscribing a name replaces the previous callback and socket,
// last-writer-wins, matching the service plane's registration policy.
func (sm *SubscriberManager) subscribe(name string, dispatch func([]byte)) error {
	sock, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return err
	}
	// No filter: every topic's publisher binds a dedicated socket, so
	// every message a SUB connects to is already on-topic.
	if err := sock.SetSubscribe(""); err != nil {
		sock.Close()
		return err
	}

	entry := &topicSubscription{
		name:      name,
		socket:    sock,
		connected: make(map[string]bool),
		dispatch:  dispatch,
	}

	sm.mu.Lock()
	if old, exists := sm.entries[name]; exists {
		log.Warnf("topic %q already subscribed, replacing previous subscription", name)
		old.socket.Close()
	}
	sm.entries[name] = entry
	sm.mu.Unlock()

	sm.reconcile(name)
	return nil
}

// Unsubscribe tears down the subscription for name, if any.
func (sm *SubscriberManager) Unsubscribe(name string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if entry, ok := sm.entries[name]; ok {
		entry.socket.Close()
		delete(sm.entries, name)
	}
}

func (sm *SubscriberManager) onDirectoryChanged(changedTopics []string) {
	for _, name := range changedTopics {
		sm.mu.Lock()
		_, subscribed := sm.entries[name]
		sm.mu.Unlock()
		if subscribed {
			sm.reconcile(name)
		}
	}
}

// reconcile diffs entry's connected set against the directory's
// current publisher list for name: connect endpoints newly present,
// disconnect endpoints no longer live, leave the rest untouched.
func (sm *SubscriberManager) reconcile(name string) {
	sm.mu.Lock()
	entry, ok := sm.entries[name]
	sm.mu.Unlock()
	if !ok {
		return
	}

	publishers := sm.dir.GetPublisherInfo(name)
	want := make(map[string]bool, len(publishers))
	for _, p := range publishers {
		want[fmt.Sprintf("tcp://%s:%d", p.IP, p.Port)] = true
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	for ep := range want {
		if !entry.connected[ep] {
			if err := entry.socket.Connect(ep); err != nil {
				log.WithError(err).Warnf("failed to connect to publisher %s for topic %q", ep, name)
				continue
			}
			entry.connected[ep] = true
		}
	}
	for ep := range entry.connected {
		if !want[ep] {
			if err := entry.socket.Disconnect(ep); err != nil {
				log.WithError(err).Warnf("failed to disconnect stale publisher %s for topic %q", ep, name)
			}
			delete(entry.connected, ep)
		}
	}
}

func (sm *SubscriberManager) loop() {
	defer sm.wg.Done()

	for {
		select {
		case <-sm.stopCh:
			return
		default:
		}

		sm.mu.Lock()
		dispatchBySocket := make(map[*zmq.Socket]func([]byte), len(sm.entries))
		poller := zmq.NewPoller()
		for _, e := range sm.entries {
			poller.Add(e.socket, zmq.POLLIN)
			dispatchBySocket[e.socket] = e.dispatch
		}
		sm.mu.Unlock()

		if len(dispatchBySocket) == 0 {
			time.Sleep(subscriberIdleSleep)
			continue
		}

		polled, err := poller.Poll(subscriberPollTimeout)
		if err != nil {
			continue
		}

		for _, p := range polled {
			dispatch, ok := dispatchBySocket[p.Socket]
			if !ok {
				continue
			}

			payload, err := p.Socket.RecvBytes(0)
			if err != nil {
				continue
			}
			sm.dispatchSafely(dispatch, payload)
		}
	}
}

func (sm *SubscriberManager) dispatchSafely(dispatch func([]byte), payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("subscriber callback panicked: %v", errFromPanic(r))
		}
	}()
	dispatch(payload)
}

// RegisterTopicSubscriber subscribes to topicName and invokes callback
// with each decoded message. The zero-value decode path mirrors the
// service plane's: a message that fails to decode is logged and
// dropped rather than delivered.
func RegisterTopicSubscriber[T any](node *Node, topicName string, callback func(T)) error {
	return node.subscribers.subscribe(topicName, func(payload []byte) {
		v, err := wire.Decode[T](payload)
		if err != nil {
			log.WithError(err).Warnf("failed to decode message on topic %q, dropping", topicName)
			return
		}
		callback(v)
	})
}
