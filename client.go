package lancom

import (
	"strconv"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/lancom-go/lancom/internal/wire"
)

// Request resolves serviceName in node's directory, opens a fresh REQ
// socket, performs one two-frame round trip, and returns the decoded
// response. This resolves spec.md §9's Open Question: the decoded
// value is returned to the caller, not discarded, matching
// original_source/include/sockets/lancom_client.hpp's evident intent.
//
// timeout bounds the round trip; zero means block indefinitely (the
// core spec defines no wall-clock timeout, but recommends exposing
// one).
func Request[Req, Resp any](node *Node, serviceName string, req Req, timeout time.Duration) (Resp, error) {
	var zero Resp

	sock, ok := node.directory.GetServiceInfo(serviceName)
	if !ok {
		return zero, newCallError(CodeCommError, "service \""+serviceName+"\" is not available")
	}

	reqSocket, zerr := zmq.NewSocket(zmq.REQ)
	if zerr != nil {
		return zero, newCallError(CodeCommError, zerr.Error())
	}
	defer reqSocket.Close()

	if timeout > 0 {
		if zerr := reqSocket.SetRcvtimeo(timeout); zerr != nil {
			return zero, newCallError(CodeCommError, zerr.Error())
		}
		if zerr := reqSocket.SetSndtimeo(timeout); zerr != nil {
			return zero, newCallError(CodeCommError, zerr.Error())
		}
	}

	endpoint := "tcp://" + sock.IP + ":" + strconv.Itoa(int(sock.Port))
	if zerr := reqSocket.Connect(endpoint); zerr != nil {
		return zero, newCallError(CodeCommError, zerr.Error())
	}

	payload, encErr := wire.Encode(req)
	if encErr != nil {
		return zero, newCallError(CodeInternalErr, encErr.Error())
	}

	if _, zerr := reqSocket.SendMessage(serviceName, payload); zerr != nil {
		return zero, newCallError(CodeCommError, zerr.Error())
	}

	frames, zerr := reqSocket.RecvMessageBytes(0)
	if zerr != nil {
		return zero, newCallError(CodeCommError, "timed out or failed waiting for response: "+zerr.Error())
	}
	if len(frames) < 2 {
		return zero, newCallError(CodeCommError, "incomplete response: fewer than 2 frames")
	}
	if len(frames) > 2 {
		log.Warnf("service %q returned %d frames, expected 2; using the first two", serviceName, len(frames))
	}

	envelope, decErr := wire.DecodeEnvelope(frames[1])
	if decErr != nil {
		return zero, newCallError(CodeInternalErr, "failed to decode response envelope: "+decErr.Error())
	}

	code := ResponseCode(envelope.Code)
	if code != CodeSuccess {
		return zero, newCallError(code, "service \""+serviceName+"\" returned "+envelope.Code)
	}

	resp, decErr := wire.Decode[Resp](envelope.Payload)
	if decErr != nil {
		return zero, newCallError(CodeInternalErr, "failed to decode response: "+decErr.Error())
	}

	return resp, nil
}

// WaitForService polls the directory at pollInterval until name
// appears or maxWait elapses, returning whether it appeared.
func WaitForService(node *Node, name string, maxWait, pollInterval time.Duration) bool {
	deadline := time.Now().Add(maxWait)

	for {
		if _, ok := node.directory.GetServiceInfo(name); ok {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}
