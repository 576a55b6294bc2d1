package lancom

import (
	"strings"
	"sync"

	zmq "github.com/pebbe/zmq4"

	"github.com/lancom-go/lancom/internal/wire"
)

// localTopicPrefix marks a topic as process-local only: it is never
// registered with the directory or beaconed, so no other node ever
// learns it exists. Grounded on original_source's "lc.local." literal
// used to keep certain topics off the wire.
const localTopicPrefix = "lc.local."

// IsLocalTopic reports whether name is reserved for local-only
// publication.
func IsLocalTopic(name string) bool {
	return strings.HasPrefix(name, localTopicPrefix)
}

// Publisher is a single-topic PUB socket bound to an ephemeral port.
// Publish is non-blocking: PUB sockets drop rather than block when a
// subscriber can't keep up, which is the behavior spec.md calls for.
type Publisher[T any] struct {
	node  *Node
	topic string

	mu     sync.Mutex
	socket *zmq.Socket
	port   uint16
	closed bool
}

// NewPublisher binds a PUB socket for topic on node's IP, registers the
// topic in node's local info (unless topic is local-only, per
// IsLocalTopic), and returns a handle ready to Publish.
func NewPublisher[T any](node *Node, topic string) (*Publisher[T], error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	if err := sock.Bind("tcp://" + node.ip + ":0"); err != nil {
		sock.Close()
		return nil, err
	}
	port, err := boundPort(sock)
	if err != nil {
		sock.Close()
		return nil, err
	}

	p := &Publisher[T]{node: node, topic: topic, socket: sock, port: port}

	if !IsLocalTopic(topic) {
		node.local.RegisterTopic(topic, port)
	}

	return p, nil
}

// Publish encodes msg and sends it as a single bare frame. Subscribers
// apply no filter on their end, so every connected SUB socket receives
// every message on the topic it connected for.
func (p *Publisher[T]) Publish(msg T) error {
	payload, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return newCallError(CodeFail, "publisher for topic \""+p.topic+"\" is closed")
	}

	_, err = p.socket.SendBytes(payload, 0)
	return err
}

// Close deregisters the topic (if it was registered) and closes the
// socket. Publishing after Close fails.
func (p *Publisher[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if !IsLocalTopic(p.topic) {
		p.node.local.DeregisterTopic(p.topic)
	}
	return p.socket.Close()
}
