package transport

import (
	"time"

	"github.com/tarm/serial"
)

// Serial wraps a UART connection as a Transport, matching the
// serial.Config conventions used throughout this corpus (8N1, no
// hardware flow control, a short read timeout so ReadByte never blocks
// forever on an idle line).
type Serial struct {
	Transport
	port *serial.Port
}

// OpenSerial opens device at baud (115200 8N1 by default elsewhere in
// this package's callers) and returns a ready-to-use Transport.
func OpenSerial(device string, baud int) (*Serial, error) {
	cfg := &serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: 500 * time.Millisecond,
	}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return &Serial{
		Transport: Wrap(port),
		port:      port,
	}, nil
}

// ResetInputBuffer flushes the OS-level serial receive buffer in
// addition to discarding anything buffered in the bufio.Reader.
func (s *Serial) ResetInputBuffer() error {
	if err := s.Transport.ResetInputBuffer(); err != nil {
		return err
	}
	return s.port.Flush()
}
