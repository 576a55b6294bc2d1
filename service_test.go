package lancom

import (
	"errors"
	"strconv"
	"testing"

	zmq "github.com/pebbe/zmq4"

	"github.com/lancom-go/lancom/internal/wire"
)

func TestRegisterRequestHandlerRoundTrip(t *testing.T) {
	sm, err := NewServiceManager("127.0.0.1")
	if err != nil {
		t.Fatalf("new service manager: %v", err)
	}
	defer sm.socket.Close()

	RegisterRequestHandler(sm, "Echo", func(req string) (string, error) {
		return "Echo: " + req, nil
	})

	payload, _ := wire.Encode("hello")
	resp := sm.handleRequest("Echo", payload)
	if resp.Code != CodeSuccess {
		t.Fatalf("expected success, got %s", resp.Code)
	}

	out, err := wire.Decode[string](resp.Payload)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out != "Echo: hello" {
		t.Fatalf("got %q, want %q", out, "Echo: hello")
	}
}

func TestHandleRequestUnknownServiceFails(t *testing.T) {
	sm, err := NewServiceManager("127.0.0.1")
	if err != nil {
		t.Fatalf("new service manager: %v", err)
	}
	defer sm.socket.Close()

	resp := sm.handleRequest("Missing", nil)
	if resp.Code != CodeFail {
		t.Fatalf("expected FAIL for unknown service, got %s", resp.Code)
	}
	if len(resp.Payload) != 0 {
		t.Fatalf("expected empty payload on FAIL, got %d bytes", len(resp.Payload))
	}
}

func TestHandlerPanicIsRecoveredAsFail(t *testing.T) {
	sm, err := NewServiceManager("127.0.0.1")
	if err != nil {
		t.Fatalf("new service manager: %v", err)
	}
	defer sm.socket.Close()

	RegisterActionHandler(sm, "Boom", func() error {
		panic("kaboom")
	})

	resp := sm.handleRequest("Boom", nil)
	if resp.Code != CodeFail {
		t.Fatalf("expected FAIL after handler panic, got %s", resp.Code)
	}

	// The manager itself must remain usable for subsequent requests.
	RegisterActionHandler(sm, "StillAlive", func() error { return nil })
	resp = sm.handleRequest("StillAlive", nil)
	if resp.Code != CodeSuccess {
		t.Fatalf("expected service manager to survive a handler panic, got %s", resp.Code)
	}
}

func TestHandlerErrorIsFail(t *testing.T) {
	sm, err := NewServiceManager("127.0.0.1")
	if err != nil {
		t.Fatalf("new service manager: %v", err)
	}
	defer sm.socket.Close()

	RegisterActionHandler(sm, "Failing", func() error {
		return errors.New("boom")
	})

	resp := sm.handleRequest("Failing", nil)
	if resp.Code != CodeFail {
		t.Fatalf("expected FAIL, got %s", resp.Code)
	}
}

func TestVoidHandlerShapeInvokesWithRequest(t *testing.T) {
	sm, err := NewServiceManager("127.0.0.1")
	if err != nil {
		t.Fatalf("new service manager: %v", err)
	}
	defer sm.socket.Close()

	var received string
	RegisterVoidHandler(sm, "Notify", func(req string) error {
		received = req
		return nil
	})

	payload, _ := wire.Encode("ping")
	resp := sm.handleRequest("Notify", payload)
	if resp.Code != CodeSuccess {
		t.Fatalf("expected success, got %s", resp.Code)
	}
	if received != "ping" {
		t.Fatalf("expected handler to be invoked with the decoded request, got %q", received)
	}
}

func TestServiceManagerEndToEndOverSocket(t *testing.T) {
	sm, err := NewServiceManager("127.0.0.1")
	if err != nil {
		t.Fatalf("new service manager: %v", err)
	}
	RegisterRequestHandler(sm, "Echo", func(req string) (string, error) {
		return "Echo: " + req, nil
	})
	sm.Start()
	defer sm.Stop()

	req, err := zmq.NewSocket(zmq.REQ)
	if err != nil {
		t.Fatalf("new req socket: %v", err)
	}
	defer req.Close()

	if err := req.Connect("tcp://127.0.0.1:" + strconv.Itoa(int(sm.ServicePort))); err != nil {
		t.Fatalf("connect: %v", err)
	}

	payload, _ := wire.Encode("world")
	if _, err := req.SendMessage("Echo", payload); err != nil {
		t.Fatalf("send: %v", err)
	}

	frames, err := req.RecvMessageBytes(0)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if string(frames[0]) != "Echo" {
		t.Fatalf("expected echoed service name, got %q", frames[0])
	}

	envelope, err := wire.DecodeEnvelope(frames[1])
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Code != string(CodeSuccess) {
		t.Fatalf("expected SUCCESS, got %q", envelope.Code)
	}

	out, err := wire.Decode[string](envelope.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != "Echo: world" {
		t.Fatalf("got %q, want %q", out, "Echo: world")
	}
}
