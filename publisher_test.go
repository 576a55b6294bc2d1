package lancom

import (
	"strconv"
	"testing"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/lancom-go/lancom/internal/wire"
)

func TestPublisherRegistersTopicOnLocalInfo(t *testing.T) {
	local := NewLocalNodeInfo("pub-node", "127.0.0.1")
	node := &Node{ip: "127.0.0.1", local: local}

	pub, err := NewPublisher[string](node, "weather")
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	snap := local.Snapshot()
	port, ok := snap.Topics["weather"]
	if !ok {
		t.Fatal("expected topic to be registered on LocalNodeInfo")
	}
	if port != pub.port {
		t.Fatalf("registered port %d does not match bound port %d", port, pub.port)
	}
}

func TestLocalTopicIsNotRegistered(t *testing.T) {
	local := NewLocalNodeInfo("pub-node", "127.0.0.1")
	node := &Node{ip: "127.0.0.1", local: local}

	pub, err := NewPublisher[string](node, "lc.local.scratch")
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	snap := local.Snapshot()
	if _, ok := snap.Topics["lc.local.scratch"]; ok {
		t.Fatal("expected local-only topic not to be registered")
	}
}

func TestCloseDeregistersTopic(t *testing.T) {
	local := NewLocalNodeInfo("pub-node", "127.0.0.1")
	node := &Node{ip: "127.0.0.1", local: local}

	pub, err := NewPublisher[string](node, "weather")
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	snap := local.Snapshot()
	if _, ok := snap.Topics["weather"]; ok {
		t.Fatal("expected topic to be deregistered after close")
	}

	if err := pub.Publish("too late"); err == nil {
		t.Fatal("expected publish after close to fail")
	}
}

func TestPublishEndToEndOverSocket(t *testing.T) {
	local := NewLocalNodeInfo("pub-node", "127.0.0.1")
	node := &Node{ip: "127.0.0.1", local: local}

	pub, err := NewPublisher[string](node, "weather")
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		t.Fatalf("new sub socket: %v", err)
	}
	defer sub.Close()
	if err := sub.SetSubscribe(""); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Connect("tcp://127.0.0.1:" + strconv.Itoa(int(pub.port))); err != nil {
		t.Fatalf("connect: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if err := pub.Publish("sunny"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	sub.SetRcvtimeo(2 * time.Second)
	payload, err := sub.RecvBytes(0)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	msg, err := wire.Decode[string](payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg != "sunny" {
		t.Fatalf("got %q, want %q", msg, "sunny")
	}
}
