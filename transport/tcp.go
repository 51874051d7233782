package transport

import "net"

// TCP wraps a plain TCP socket as a Transport, for boards running a
// WiFi/Ethernet Firmata sketch (e.g. StandardFirmataWiFi). Message
// boundaries are reconstructed by the framer regardless of how the
// underlying stream chunks its reads, so no datagram framing is needed
// here.
type TCP struct {
	Transport
	conn net.Conn
}

// DialTCP connects to addr (host:port) and returns a ready-to-use
// Transport.
func DialTCP(addr string) (*TCP, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCP{
		Transport: Wrap(conn),
		conn:      conn,
	}, nil
}

// ResetInputBuffer is a no-op for TCP: there is no OS-level receive
// buffer distinct from the stream itself to discard.
func (t *TCP) ResetInputBuffer() error {
	return nil
}
