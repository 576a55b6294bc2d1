package lancom

import (
	"fmt"
	"strconv"
	"strings"

	zmq "github.com/pebbe/zmq4"
)

// boundPort reads back the ephemeral port a socket was bound to with
// "tcp://host:0", the same way original_source's get_bound_port does
// via the socket's last endpoint.
func boundPort(sock *zmq.Socket) (uint16, error) {
	endpoint, err := sock.GetLastEndpoint()
	if err != nil {
		return 0, err
	}

	idx := strings.LastIndex(endpoint, ":")
	if idx < 0 {
		return 0, fmt.Errorf("zmqutil: invalid endpoint %q", endpoint)
	}

	port, err := strconv.ParseUint(endpoint[idx+1:], 10, 16)
	if err != nil {
		return 0, fmt.Errorf("zmqutil: invalid port in endpoint %q: %w", endpoint, err)
	}

	return uint16(port), nil
}
