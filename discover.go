package firmata

import (
	"context"
	"fmt"
	"time"

	bugst "go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/go-firmata/firmata/transport"
)

// Connect opens a board, runs discovery, and returns a ready Client.
// With no WithSerialPort/WithTCP/WithTransport option, candidate serial
// ports are enumerated with go.bug.st/serial (used only for its port
// listing; tarm/serial remains the I/O driver, matching the teacher's
// dependency) and probed with ARE_YOU_THERE until one replies with the
// configured instance id.
func Connect(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	var t transport.Transport
	var err error

	switch {
	case cfg.transport != nil:
		t = cfg.transport
	case cfg.tcpAddr != "":
		t, err = transport.DialTCP(cfg.tcpAddr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoBoard, err)
		}
	case cfg.device != "":
		t, err = openAndProbe(cfg.device, cfg)
		if err != nil {
			return nil, err
		}
	default:
		t, err = discoverSerial(cfg)
		if err != nil {
			return nil, err
		}
	}

	c := newClient(t, cfg)

	c.wg.Add(1)
	go c.dispatchLoop()

	major, minor, name, err := c.GetFirmwareVersion(ctx)
	if err != nil {
		c.tr.Close()
		return nil, err
	}
	c.log.Info("firmware identified", zap.String("name", name))

	if cfg.express {
		version := fmt.Sprintf("%d.%d", major, minor)
		if !versionPrefixMatches(version, FirmataExpressVersion) {
			c.tr.Close()
			return nil, fmt.Errorf("%w: got %s, want prefix %s", ErrVersionMismatch, version, FirmataExpressVersion)
		}
	}

	analogMap, err := c.GetAnalogMap(ctx)
	if err != nil {
		c.tr.Close()
		return nil, err
	}
	c.initPinTables(analogMap)

	if err := c.SetSamplingInterval(19 * time.Millisecond); err != nil {
		c.tr.Close()
		return nil, err
	}

	return c, nil
}

// initPinTables builds the digital and analog pin tables from the
// analog-mapping response: one digital PinRecord per byte, plus an
// analog PinRecord for every byte that isn't IGNORE (0x7F).
func (c *Client) initPinTables(analogMap []byte) {
	c.pinsMu.Lock()
	defer c.pinsMu.Unlock()
	if c.pinsInitialized {
		return
	}

	c.digitalPins = make([]PinRecord, len(analogMap))
	var analog []PinRecord
	for _, b := range analogMap {
		if b != byte(ModeIgnore) {
			analog = append(analog, PinRecord{})
		}
	}
	c.analogPins = analog
	c.firstAnalogPin = len(c.digitalPins) - len(c.analogPins)
	c.pinsInitialized = true
}

func versionPrefixMatches(version, prefix string) bool {
	if len(version) < len(prefix) {
		return false
	}
	return version[:len(prefix)] == prefix
}

// openAndProbe opens a single named serial device and confirms it
// replies to ARE_YOU_THERE with the configured instance id.
func openAndProbe(device string, cfg *config) (transport.Transport, error) {
	s, err := transport.OpenSerial(device, cfg.baud)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoBoard, err)
	}
	time.Sleep(cfg.arduinoWait)
	if err := probeInstanceID(s, cfg.instanceID); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// discoverSerial enumerates candidate ports, opens each in turn, and
// returns the first whose ARE_YOU_THERE reply matches cfg.instanceID.
func discoverSerial(cfg *config) (transport.Transport, error) {
	ports, err := bugst.GetPortsList()
	if err != nil || len(ports) == 0 {
		return nil, ErrNoBoard
	}

	for _, port := range ports {
		s, err := transport.OpenSerial(port, cfg.baud)
		if err != nil {
			continue
		}
		time.Sleep(cfg.arduinoWait)
		if err := probeInstanceID(s, cfg.instanceID); err == nil {
			return s, nil
		}
		s.Close()
	}
	return nil, ErrNoBoard
}

func probeInstanceID(t transport.Transport, wantID int) error {
	if err := t.ResetInputBuffer(); err != nil {
		return err
	}
	if _, err := t.Write([]byte{startSysex, areYouThere, endSysex}); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	reply, err := t.ReadUntil(endSysex, 4*time.Second)
	if err != nil {
		return ErrNoBoard
	}
	// reply: ... 0xF0, 0x52, id, 0xF7
	if len(reply) < 3 {
		return ErrNoBoard
	}
	id := int(reply[len(reply)-2])
	if id != wantID {
		return ErrNoBoard
	}
	return nil
}
