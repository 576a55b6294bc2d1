// Package mcast provides the raw IPv4 multicast datagram transport
// that the discovery beacon rides on. It knows nothing about nodes,
// beacons or directories — just "join a group, send datagrams, receive
// datagrams" — so that the beacon encoding concern stays entirely in
// the lancom package.
//
// This is an idiomatic Go translation of the multicast join/listen/
// send loop from zeromq/gyre's beacon package, trimmed to a single
// configured IPv4 group instead of interface-by-interface broadcast
// fallback (this module always targets one well-known group/port).
package mcast

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

const maxDatagram = 65507

// readDeadline bounds each read so Close can be observed promptly,
// mirroring the bounded-recv-timeout discipline used by the service
// and subscriber loops elsewhere in this module.
const readDeadline = 250 * time.Millisecond

// Datagram is one received multicast packet.
type Datagram struct {
	SrcIP string
	Data  []byte
}

// Endpoint is a joined multicast group, usable for both sending and
// receiving.
type Endpoint struct {
	conn    *ipv4.PacketConn
	group   *net.UDPAddr
	localIP string

	datagrams chan Datagram

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Join binds a UDP socket on port, joins the given multicast group on
// every multicast-capable interface, and starts a background reader.
// localIP, if non-empty, pins the address reported by LocalIP (useful
// when the host has several interfaces and the caller already knows
// which address it wants to be reachable on).
func Join(groupIP string, port int, localIP string) (*Endpoint, error) {
	ip := net.ParseIP(groupIP)
	if ip == nil || ip.To4() == nil {
		return nil, errors.New("mcast: group must be an IPv4 multicast address")
	}

	// Listening on the group address (rather than 0.0.0.0) makes the
	// standard library set SO_REUSEADDR, so several endpoints on one host
	// can share the group port.
	conn, err := net.ListenPacket("udp4", net.JoinHostPort(groupIP, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return nil, err
	}
	if err := pconn.SetControlMessage(ipv4.FlagSrc, true); err != nil {
		conn.Close()
		return nil, err
	}

	group := &net.UDPAddr{IP: ip, Port: port}

	ifaces, err := net.Interfaces()
	if err != nil {
		conn.Close()
		return nil, err
	}

	joined := false
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pconn.JoinGroup(&iface, group); err == nil {
			joined = true
		}
	}
	if !joined {
		conn.Close()
		return nil, errors.New("mcast: no multicast-capable interface could join the group")
	}

	if localIP == "" {
		localIP = detectLocalIP(ifaces)
	}

	e := &Endpoint{
		conn:      pconn,
		group:     group,
		localIP:   localIP,
		datagrams: make(chan Datagram, 64),
	}

	e.wg.Add(1)
	go e.readLoop()

	return e, nil
}

func detectLocalIP(ifaces []net.Interface) string {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			return ipnet.IP.String()
		}
	}
	return "127.0.0.1"
}

// LocalIP returns the localIP passed to Join or, if that was empty, the
// first IPv4 address found on an up, non-loopback interface.
func (e *Endpoint) LocalIP() string {
	return e.localIP
}

// Send writes a single datagram to the joined group. It fails (and the
// caller is expected to log, not retry) if the payload exceeds the
// practical UDP datagram limit — no fragmentation is attempted.
func (e *Endpoint) Send(data []byte) error {
	if len(data) > maxDatagram {
		return errors.New("mcast: datagram exceeds maximum size, not fragmenting")
	}
	_, err := e.conn.WriteTo(data, nil, e.group)
	return err
}

// Datagrams returns the channel of received packets. Closed when the
// endpoint is closed.
func (e *Endpoint) Datagrams() <-chan Datagram {
	return e.datagrams
}

// Close stops the reader and releases the socket. Calls after the first
// are no-ops.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	err := e.conn.Close()
	e.wg.Wait()
	close(e.datagrams)
	return err
}

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Endpoint) readLoop() {
	defer e.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		if e.isClosed() {
			return
		}

		e.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, cm, _, err := e.conn.ReadFrom(buf)
		if err != nil {
			// Deadline exceeded is the normal way we notice Close; any
			// other error (e.g. socket closed under us) also just loops
			// back around to the isClosed check above.
			continue
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		src := ""
		if cm != nil && cm.Src != nil {
			src = cm.Src.String()
		}

		select {
		case e.datagrams <- Datagram{SrcIP: src, Data: data}:
		default:
			// Reader is falling behind; drop rather than block the
			// socket read loop.
		}
	}
}
