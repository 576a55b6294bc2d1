// Package wire holds the self-describing binary encoding used for
// everything that crosses the network in lancom: beacon records,
// service request/response payloads and topic messages. It is a thin
// shim over msgpack so the rest of the module never imports the codec
// directly.
package wire

import (
	"github.com/vmihailenco/msgpack/v5"
)

// ServiceEntry is one (name, port) pair as carried in a Beacon.
type ServiceEntry struct {
	Name string `msgpack:"name"`
	Port uint16 `msgpack:"port"`
}

// TopicEntry is one (name, port) pair as carried in a Beacon.
type TopicEntry struct {
	Name string `msgpack:"name"`
	Port uint16 `msgpack:"port"`
}

// Beacon is the field-tagged record advertised over multicast. It
// mirrors LocalNodeInfo at the moment of emission.
type Beacon struct {
	NodeID      string            `msgpack:"nodeID"`
	Name        string            `msgpack:"name"`
	IP          string            `msgpack:"ip"`
	ServicePort uint16            `msgpack:"servicePort"`
	Revision    uint64            `msgpack:"revision"`
	Services    []ServiceEntry    `msgpack:"services"`
	Topics      []TopicEntry      `msgpack:"topics"`
	Headers     map[string]string `msgpack:"headers"`
}

// EncodeBeacon serialises a beacon record to bytes.
func EncodeBeacon(b Beacon) ([]byte, error) {
	return msgpack.Marshal(b)
}

// DecodeBeacon deserialises a beacon record, failing on malformed input.
func DecodeBeacon(data []byte) (Beacon, error) {
	var b Beacon
	err := msgpack.Unmarshal(data, &b)
	return b, err
}

// Envelope is frame 2 of a service reply: the response code travels
// alongside the encoded payload so a FAIL with no payload is
// distinguishable on the wire from a void handler's SUCCESS with no
// payload, which an empty frame 2 alone cannot express.
type Envelope struct {
	Code    string `msgpack:"code"`
	Payload []byte `msgpack:"payload"`
}

// EncodeEnvelope serialises a service reply envelope.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	return msgpack.Marshal(e)
}

// DecodeEnvelope deserialises a service reply envelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	err := msgpack.Unmarshal(data, &e)
	return e, err
}

// Encode serialises any codec-representable value to bytes. Used for
// service requests and topic payloads.
func Encode[T any](v T) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode deserialises bytes into a value of type T.
func Decode[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	err := msgpack.Unmarshal(data, &v)
	return v, err
}
