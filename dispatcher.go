package firmata

import (
	"fmt"
	"time"
)

type dispatchFunc func(*Client, rawMessage)

// newDispatchTable builds the command-byte -> handler map once per
// Client, mirroring the corpus's msgHandlers-map-built-in-New idiom
// generalized from four entries to the full SysEx command set.
func newDispatchTable() map[byte]dispatchFunc {
	return map[byte]dispatchFunc{
		reportFirmware:        (*Client).handleReportFirmware,
		capabilityResponse:    (*Client).handleCapabilityResponse,
		analogMappingResponse: (*Client).handleAnalogMappingResponse,
		pinStateResponse:      (*Client).handlePinStateResponse,
		i2cReply:              (*Client).handleI2CReply,
		sonarData:             (*Client).handleSonarData,
		dhtData:               (*Client).handleDHTData,
		spiData:               (*Client).handleSPIReply,
		stringData:            (*Client).handleStringData,
	}
}

// dispatchLoop is the single goroutine permitted to read the
// transport. It runs until the transport returns an error (closed by
// Shutdown) or the client's context is cancelled.
func (c *Client) dispatchLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		msg, err := c.fr.next()
		if err != nil {
			if c.isShutdown() {
				return
			}
			c.log.Warn("transport read failed, dispatcher exiting", errField(err))
			_ = c.shutdownOnError(err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg rawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("recovered from panic in message handler", panicField(r))
		}
	}()

	switch msg.kind {
	case kindAnalog:
		c.handleAnalogMessage(msg)
	case kindDigital:
		c.handleDigitalMessage(msg)
	case kindReportVersion:
		c.handleReportVersion(msg)
	case kindSysex:
		if h, ok := c.dispatchTable[msg.cmd]; ok {
			h(c, msg)
		} else {
			c.log.Debug("dropped unrecognized sysex message", cmdField(msg.cmd))
		}
	default:
		c.log.Debug("dropped unrecognized message", cmdField(msg.cmd))
	}
}

func (c *Client) handleAnalogMessage(msg rawMessage) {
	pin := int(msg.data[0])
	value := decode14Bit(msg.data[1], msg.data[2])

	c.pinsMu.Lock()
	if pin < 0 || pin >= len(c.analogPins) {
		c.pinsMu.Unlock()
		return
	}
	rec := &c.analogPins[pin]
	diff := abs(value - rec.CurrentValue)
	if float64(diff) < rec.Differential {
		c.pinsMu.Unlock()
		return
	}
	rec.CurrentValue = value
	now := c.now()
	rec.EventTime = now
	cb := rec.Callback
	c.pinsMu.Unlock()

	if cb != nil {
		cb([]interface{}{pinTypeAnalog, pin, value, now})
	}
}

func (c *Client) handleDigitalMessage(msg rawMessage) {
	port := int(msg.data[0])
	portValue := decode14Bit(msg.data[1], msg.data[2])

	for i := 0; i < 8; i++ {
		pin := port*8 + i
		c.pinsMu.Lock()
		if pin >= len(c.digitalPins) {
			c.pinsMu.Unlock()
			continue
		}
		rec := &c.digitalPins[pin]
		if rec.Mode != ModeInput && rec.Mode != ModePullup {
			c.pinsMu.Unlock()
			continue
		}
		bit := (portValue >> uint(i)) & 1
		if bit == rec.CurrentValue {
			c.pinsMu.Unlock()
			continue
		}
		rec.CurrentValue = bit
		now := c.now()
		rec.EventTime = now
		cb := rec.Callback
		mode := rec.Mode
		c.pinsMu.Unlock()

		if cb != nil {
			kind := pinTypeInput
			if mode == ModePullup {
				kind = pinTypePullup
			}
			cb([]interface{}{kind, pin, bit, now})
		}
	}
}

func (c *Client) handleReportVersion(msg rawMessage) {
	major, minor := int(msg.data[0]), int(msg.data[1])
	version := fmt.Sprintf("%d.%d", major, minor)
	c.pinsMu.Lock()
	c.protocolVersion = version
	c.pinsMu.Unlock()
	c.pending.publish(pendingProtocol, version)
}

func (c *Client) handleReportFirmware(msg rawMessage) {
	if len(msg.data) < 2 {
		return
	}
	major, minor := int(msg.data[0]), int(msg.data[1])
	name := packFirmataChars(msg.data[2:])

	c.pinsMu.Lock()
	c.firmwareVersion = fmt.Sprintf("%d.%d", major, minor)
	c.firmwareName = name
	c.pinsMu.Unlock()

	c.pending.publish(pendingFirmware, firmwareInfo{
		Major: major, Minor: minor, Name: name,
	})
}

func (c *Client) handleCapabilityResponse(msg rawMessage) {
	c.pending.publish(pendingCapability, append([]byte(nil), msg.data...))
}

func (c *Client) handleAnalogMappingResponse(msg rawMessage) {
	c.pending.publish(pendingAnalogMap, append([]byte(nil), msg.data...))
}

func (c *Client) handlePinStateResponse(msg rawMessage) {
	c.pending.publish(pendingPinState, append([]byte(nil), msg.data...))
}

func (c *Client) handleI2CReply(msg rawMessage) {
	if len(msg.data) < 2 {
		return
	}
	addr := (int(msg.data[0]) & 0x7F) | (int(msg.data[1]) << 7)

	var decoded []int
	for i := 2; i+1 < len(msg.data); i += 2 {
		decoded = append(decoded, decode14Bit(msg.data[i], msg.data[i+1]))
	}
	now := c.now()

	c.i2cMu.Lock()
	entry, ok := c.i2cAddresses[addr]
	if !ok {
		entry = &I2cAddressEntry{}
		c.i2cAddresses[addr] = entry
	}
	entry.LastValue = decoded
	entry.LastTime = now
	cb := entry.Callback
	c.i2cMu.Unlock()

	if cb != nil {
		payload := []interface{}{pinTypeI2C, addr}
		for _, v := range decoded {
			payload = append(payload, v)
		}
		cb(append(payload, now))
	}
}

func (c *Client) handleSonarData(msg rawMessage) {
	if len(msg.data) < 3 {
		return
	}
	pin := int(msg.data[0])
	value := decode14Bit(msg.data[1], msg.data[2])
	now := c.now()

	c.sonarMu.Lock()
	entry, ok := c.sonarEntries[pin]
	if !ok {
		c.sonarMu.Unlock()
		return
	}
	if entry.LastValue == value {
		c.sonarMu.Unlock()
		return
	}
	entry.LastValue = value
	entry.LastTime = now
	cb := entry.Callback
	c.sonarMu.Unlock()

	if cb != nil {
		cb([]interface{}{pinTypeSonar, pin, value, now})
	}
}

func (c *Client) handleDHTData(msg rawMessage) {
	if len(msg.data) < 9 {
		return
	}
	pin := int(msg.data[0])
	dhtType := int(msg.data[1])
	valid := msg.data[2] == 0

	if !valid {
		return
	}

	humidity := float64(msg.data[5]) + float64(msg.data[6])/100
	if msg.data[3] != 0 {
		humidity = -humidity
	}
	temperature := float64(msg.data[7]) + float64(msg.data[8])/100
	if msg.data[4] != 0 {
		temperature = -temperature
	}

	c.pinsMu.Lock()
	if pin < 0 || pin >= len(c.digitalPins) {
		c.pinsMu.Unlock()
		return
	}
	rec := &c.digitalPins[pin]
	diffH := abs64(humidity - rec.DHTValue[0])
	diffT := abs64(temperature - rec.DHTValue[1])
	if diffH < rec.Differential && diffT < rec.Differential {
		c.pinsMu.Unlock()
		return
	}
	rec.DHTValue = [2]float64{humidity, temperature}
	now := c.now()
	rec.EventTime = now
	cb := rec.Callback
	c.pinsMu.Unlock()

	if cb != nil {
		cb([]interface{}{pinTypeDHT, pin, dhtType, valid, humidity, temperature, now})
	}
}

func (c *Client) handleSPIReply(msg rawMessage) {
	if len(msg.data) < 2 {
		return
	}
	sub := msg.data[0]
	if sub != spiReply {
		return
	}
	requestID := int(msg.data[1])

	c.spiMu.Lock()
	req, ok := c.spiRequests[requestID]
	if ok {
		delete(c.spiRequests, requestID)
	}
	c.spiMu.Unlock()
	if !ok {
		return
	}

	if req.skipRead {
		if req.writeCallback != nil {
			req.writeCallback(true)
		}
		return
	}
	decoded := decode7BitBytes(msg.data[2:])
	if req.readCallback != nil {
		req.readCallback(decoded)
	}
}

func (c *Client) handleStringData(msg rawMessage) {
	s := decodeStringData(msg.data)
	c.pinsMu.RLock()
	cb := c.stringDataCallback
	c.pinsMu.RUnlock()
	if cb != nil {
		cb(s)
	}
}

func (c *Client) now() time.Time {
	if c.clock != nil {
		return c.clock()
	}
	return time.Now()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func abs64(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// decodeStringData concatenates the printable payload bytes of a
// STRING_DATA message one byte per character, skipping zero bytes -
// unlike REPORT_FIRMWARE's name field, STRING_DATA is not 7-bit paired.
func decodeStringData(data []byte) string {
	out := make([]rune, 0, len(data))
	for _, b := range data {
		if b != 0 {
			out = append(out, rune(b))
		}
	}
	return string(out)
}

// decode7BitBytes reassembles a stream of 7-bit-packed bytes into
// 8-bit bytes, two input bytes per output byte (low7, high-bit), the
// layout SPI replies and capability reports share with the rest of
// the protocol's packed-byte payloads.
func decode7BitBytes(data []byte) []byte {
	out := make([]byte, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		out = append(out, byte(int(data[i])|int(data[i+1])<<7))
	}
	return out
}
