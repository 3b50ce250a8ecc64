package tcpip

import "fmt"

// Address is an IPv4 host address in network byte order, kept as a fixed
// array (rather than net.IP) so Endpoint is comparable and usable as a map
// key — both PassiveOpen's SYN-received table and the dispatcher's
// socket-id registry key on it.
type Address [4]byte

func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}

// Endpoint is a (host, port) pair.
type Endpoint struct {
	Addr Address
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

// FourTuple is a local/remote endpoint pair identifying one TCP connection.
type FourTuple struct {
	Local  Endpoint
	Remote Endpoint
}

func (t FourTuple) String() string {
	return t.Local.String() + "<->" + t.Remote.String()
}

// SocketId is the normalized identity spec.md §3 hands back from close()/
// hard_close() so the enclosing dispatcher can deregister a socket without
// needing to know whether it was ever connected. A Listening socket (no
// remote endpoint) normalizes to Passive; anything that ever had a remote
// endpoint normalizes to Active, even mid-handshake or post-close.
type SocketId struct {
	Passive bool
	Local   Endpoint
	Remote  Endpoint // zero value when Passive
}

func (id SocketId) String() string {
	if id.Passive {
		return "Passive(" + id.Local.String() + ")"
	}
	return "Active(" + id.Local.String() + ", " + id.Remote.String() + ")"
}
