package lancom

import (
	"testing"
	"time"
)

// fastTestConfig returns a config tuned for quick convergence in
// tests: short beacon period, short liveness window, dedicated
// multicast group/port so parallel test nodes don't collide with the
// package's other multicast-using tests.
func fastTestConfig(group string, port int) config {
	return config{
		multicastGroup: group,
		multicastPort:  port,
		beaconPeriod:   20 * time.Millisecond,
		livenessWindow: 300 * time.Millisecond,
		sweepPeriod:    20 * time.Millisecond,
	}
}

func newRunningNode(t *testing.T, name string, cfg config) *Node {
	t.Helper()
	n, err := newNode(name, "127.0.0.1", cfg)
	if err != nil {
		t.Fatalf("newNode(%s): %v", name, err)
	}
	n.start()
	t.Cleanup(n.Stop)
	return n
}

func TestInitIsASingleton(t *testing.T) {
	resetForTest()
	defer resetForTest()

	n1, err := Init("node-1", "127.0.0.1", WithMulticastGroup("239.255.0.10"), WithMulticastPort(17760))
	if err != nil {
		t.Fatalf("first Init: %v", err)
	}

	n2, err := Init("node-2-ignored", "10.0.0.9", WithMulticastPort(19999))
	if err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if n1 != n2 {
		t.Fatal("expected Init to return the same instance on subsequent calls")
	}
	if n2.Name() != "node-1" {
		t.Fatalf("expected the second call's arguments to be ignored, got name %q", n2.Name())
	}

	inst, err := Instance()
	if err != nil {
		t.Fatalf("Instance: %v", err)
	}
	if inst != n1 {
		t.Fatal("expected Instance to return the singleton")
	}
}

func TestTwoNodesServiceCallRoundTrip(t *testing.T) {
	cfg := fastTestConfig("239.255.0.11", 17761)

	nodeA := newRunningNode(t, "node-a", cfg)
	nodeB := newRunningNode(t, "node-b", cfg)

	RegisterServiceHandler(nodeA, "Echo", func(req string) (string, error) {
		return "Echo: " + req, nil
	})

	if !WaitForService(nodeB, "Echo", 3*time.Second, 20*time.Millisecond) {
		t.Fatal("node-b never observed node-a's Echo service")
	}

	resp, err := Request[string, string](nodeB, "Echo", "hi", time.Second)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp != "Echo: hi" {
		t.Fatalf("got %q, want %q", resp, "Echo: hi")
	}
}

func TestRequestForUnknownServiceFailsWithCommError(t *testing.T) {
	cfg := fastTestConfig("239.255.0.12", 17762)
	nodeA := newRunningNode(t, "node-a", cfg)

	_, err := Request[string, string](nodeA, "NeverRegistered", "x", 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected an error")
	}
	callErr, ok := err.(*CallError)
	if !ok {
		t.Fatalf("expected *CallError, got %T", err)
	}
	if callErr.Code != CodeCommError {
		t.Fatalf("expected CodeCommError, got %s", callErr.Code)
	}
}

func TestTwoNodesPubSubRoundTrip(t *testing.T) {
	cfg := fastTestConfig("239.255.0.13", 17763)

	nodeA := newRunningNode(t, "node-a", cfg)
	nodeB := newRunningNode(t, "node-b", cfg)

	pub, err := NewPublisher[string](nodeA, "ticks")
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	received := make(chan string, 4)
	if err := RegisterTopicSubscriber(nodeB, "ticks", func(msg string) {
		received <- msg
	}); err != nil {
		t.Fatalf("register subscriber: %v", err)
	}

	// Give beaconing time to advertise the topic and the subscriber time
	// to connect before the first publish.
	deadline := time.Now().Add(3 * time.Second)
	for len(nodeB.directory.GetPublisherInfo("ticks")) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)

	if err := pub.Publish("tick-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-received:
		if msg != "tick-1" {
			t.Fatalf("got %q, want %q", msg, "tick-1")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for published message to arrive")
	}
}

func TestServiceTieBreakPicksLexicographicallySmallestNodeID(t *testing.T) {
	cfg := fastTestConfig("239.255.0.14", 17764)

	nodeA := newRunningNode(t, "node-a", cfg)
	nodeB := newRunningNode(t, "node-b", cfg)

	RegisterSupplierServiceHandler(nodeA, "Who", func() (string, error) {
		return nodeA.NodeID(), nil
	})
	RegisterSupplierServiceHandler(nodeB, "Who", func() (string, error) {
		return nodeB.NodeID(), nil
	})

	// Each node filters its own beacons, so the tie-break is observed
	// from a third node that sees both advertisers. It starts after both
	// registrations, so every beacon it receives already carries "Who".
	nodeC := newRunningNode(t, "node-c", cfg)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if nodeC.directory.Len() == 2 {
			if _, ok := nodeC.directory.GetServiceInfo("Who"); ok {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}

	winner, ok := nodeC.directory.GetServiceInfo("Who")
	if !ok {
		t.Fatal("expected a winner to be present in node-c's directory")
	}

	wantIP := nodeA.GetIP()
	wantPort := nodeA.services.ServicePort
	if nodeB.NodeID() < nodeA.NodeID() {
		wantPort = nodeB.services.ServicePort
	}
	if winner.IP != wantIP || winner.Port != wantPort {
		t.Fatalf("tie-break winner %+v does not match the lexicographically smallest nodeID's endpoint", winner)
	}
}

func TestNodeStopIsBounded(t *testing.T) {
	cfg := fastTestConfig("239.255.0.15", 17765)
	n, err := newNode("node-a", "127.0.0.1", cfg)
	if err != nil {
		t.Fatalf("newNode: %v", err)
	}
	n.start()

	done := make(chan struct{})
	go func() {
		n.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return within the bounded shutdown window")
	}
}
