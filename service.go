package lancom

import (
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/lancom-go/lancom/internal/wire"
)

// serviceTimeout is the receive timeout the reply loop uses so it can
// observe a stop request, per spec.md §4.2.
const serviceTimeout = 100 * time.Millisecond

// handlerFunc is the normalized shape every registered handler is
// reduced to: decode happened before the call (if there was a
// request), encode happens after (if there is a response).
type handlerFunc func(payload []byte) ([]byte, error)

// ServiceManager owns the reply socket for this node and demultiplexes
// incoming two-frame requests to registered handlers. Grounded on
// original_source/include/sockets/service_manager.hpp and the
// blocking-recv-with-timeout loop shape in zeromq-gyre's node.go.
type ServiceManager struct {
	socket      *zmq.Socket
	ServicePort uint16

	mu       sync.Mutex
	handlers map[string]handlerFunc

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewServiceManager binds a REP socket on an ephemeral port of ip.
func NewServiceManager(ip string) (*ServiceManager, error) {
	sock, err := zmq.NewSocket(zmq.REP)
	if err != nil {
		return nil, err
	}
	if err := sock.SetRcvtimeo(serviceTimeout); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.Bind("tcp://" + ip + ":0"); err != nil {
		sock.Close()
		return nil, err
	}

	port, err := boundPort(sock)
	if err != nil {
		sock.Close()
		return nil, err
	}

	return &ServiceManager{
		socket:      sock,
		ServicePort: port,
		handlers:    make(map[string]handlerFunc),
		stopCh:      make(chan struct{}),
	}, nil
}

// Start begins the reply dispatch loop.
func (sm *ServiceManager) Start() {
	sm.wg.Add(1)
	go sm.loop()
}

// Stop ends the dispatch loop and closes the socket.
func (sm *ServiceManager) Stop() {
	close(sm.stopCh)
	sm.wg.Wait()
	sm.socket.Close()
}

// registerHandler installs the normalized handler under name.
// Re-registering a name is last-writer-wins with a warning log, per
// spec.md §9's resolution of the source's ambiguous behavior.
func (sm *ServiceManager) registerHandler(name string, h handlerFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, exists := sm.handlers[name]; exists {
		log.Warnf("service handler %q re-registered, replacing previous handler", name)
	}
	sm.handlers[name] = h
}

// RegisterRequestHandler adapts a Resp(Req) function: decode the
// request, invoke, encode the response.
func RegisterRequestHandler[Req, Resp any](sm *ServiceManager, name string, fn func(Req) (Resp, error)) {
	sm.registerHandler(name, func(payload []byte) ([]byte, error) {
		req, err := wire.Decode[Req](payload)
		if err != nil {
			return nil, err
		}
		resp, err := fn(req)
		if err != nil {
			return nil, err
		}
		return wire.Encode(resp)
	})
}

// RegisterVoidHandler adapts a void(Req) function: decode the request,
// invoke with it (spec.md §9 resolves the source's func() bug: the
// decoded request is always passed to fn).
func RegisterVoidHandler[Req any](sm *ServiceManager, name string, fn func(Req) error) {
	sm.registerHandler(name, func(payload []byte) ([]byte, error) {
		req, err := wire.Decode[Req](payload)
		if err != nil {
			return nil, err
		}
		return nil, fn(req)
	})
}

// RegisterSupplierHandler adapts a Resp() function: no request to
// decode, encode the response.
func RegisterSupplierHandler[Resp any](sm *ServiceManager, name string, fn func() (Resp, error)) {
	sm.registerHandler(name, func([]byte) ([]byte, error) {
		resp, err := fn()
		if err != nil {
			return nil, err
		}
		return wire.Encode(resp)
	})
}

// RegisterActionHandler adapts a void() function: no request, no
// response.
func RegisterActionHandler(sm *ServiceManager, name string, fn func() error) {
	sm.registerHandler(name, func([]byte) ([]byte, error) {
		return nil, fn()
	})
}

// RemoveHandler deregisters a service by name.
func (sm *ServiceManager) RemoveHandler(name string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.handlers, name)
}

func (sm *ServiceManager) lookup(name string) (handlerFunc, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	h, ok := sm.handlers[name]
	return h, ok
}

func (sm *ServiceManager) loop() {
	defer sm.wg.Done()

	for {
		select {
		case <-sm.stopCh:
			return
		default:
		}

		frames, err := sm.socket.RecvMessageBytes(0)
		if err != nil {
			// Either the receive timed out (expected, lets us check
			// stopCh again) or a transient transport error; either way
			// there is nothing to reply to.
			continue
		}

		if len(frames) < 2 {
			// A REP socket that received a request must send exactly one
			// reply before it will recv again, so even a malformed
			// request gets a (best-effort) reply rather than wedging the
			// socket for every request after it.
			log.Warn("service request with fewer than 2 frames, replying COMM_ERROR")
			name := ""
			if len(frames) == 1 {
				name = string(frames[0])
			}
			sm.sendReply(name, Response{Code: CodeCommError})
			continue
		}

		name := string(frames[0])
		payload := frames[1]

		resp := sm.handleRequest(name, payload)
		sm.sendReply(name, resp)
	}
}

// sendReply encodes resp as frame 2's envelope and sends the two-frame
// reply, always attempting the send even if encoding failed, so the
// REP socket's recv/send state machine never stalls.
func (sm *ServiceManager) sendReply(name string, resp Response) {
	envelope, err := wire.EncodeEnvelope(wire.Envelope{Code: string(resp.Code), Payload: resp.Payload})
	if err != nil {
		log.WithError(err).Error("failed to encode service response envelope, sending empty reply")
		envelope = nil
	}

	if _, err := sm.socket.SendMessage(name, envelope); err != nil {
		log.WithError(err).Warn("failed to send service response")
	}
}

func (sm *ServiceManager) handleRequest(name string, payload []byte) Response {
	h, ok := sm.lookup(name)
	if !ok {
		log.Warnf("no handler registered for service %q", name)
		return Response{Code: CodeFail}
	}

	out, err := sm.invoke(h, payload)
	if err != nil {
		log.WithError(err).Errorf("handler for service %q failed", name)
		return Response{Code: CodeFail}
	}

	return Response{Code: CodeSuccess, Payload: out}
}

// invoke calls the handler behind a recover boundary so a panicking
// handler cannot take down the reply loop (spec.md §7's "user
// callbacks are invoked inside a try/catch-equivalent boundary").
func (sm *ServiceManager) invoke(h handlerFunc, payload []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errFromPanic(r)
		}
	}()
	return h(payload)
}
