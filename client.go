package firmata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/go-firmata/firmata/transport"
)

// Client is a connected Firmata board. All exported methods are safe
// to call from any goroutine; the board's transport is read by exactly
// one internal goroutine (dispatchLoop) and written to under writeMu.
type Client struct {
	tr transport.Transport
	fr *frameReader

	writeMu sync.Mutex

	pinsMu          sync.RWMutex
	digitalPins     []PinRecord
	analogPins      []PinRecord
	portShadow      [16]byte
	firstAnalogPin  int
	pinsInitialized bool

	firmwareName    string
	firmwareVersion string
	protocolVersion string

	stringDataCallback func(string)

	i2cMu        sync.Mutex
	i2cAddresses map[int]*I2cAddressEntry

	sonarMu      sync.Mutex
	sonarEntries map[int]*SonarEntry

	spiMu             sync.Mutex
	spiRequests       map[int]*SpiRequest
	nextSPIRequestID  int

	pending       *pendingQueries
	dispatchTable map[byte]dispatchFunc

	log   *zap.Logger
	clock func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownMu      sync.Mutex
	shutdownFlag    bool
	keepAliveCancel context.CancelFunc

	shutdownOnException bool
	closeOnShutdown     bool
}

func newClient(t transport.Transport, cfg *config) *Client {
	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		tr:                  t,
		fr:                  newFrameReader(t),
		i2cAddresses:        make(map[int]*I2cAddressEntry),
		sonarEntries:        make(map[int]*SonarEntry),
		spiRequests:         make(map[int]*SpiRequest),
		pending:             newPendingQueries(),
		dispatchTable:       newDispatchTable(),
		log:                 logger,
		clock:               cfg.clock,
		ctx:                 ctx,
		cancel:              cancel,
		shutdownOnException: cfg.shutdownOnException,
		closeOnShutdown:     cfg.closeOnShutdown,
	}
	return c
}

func (c *Client) isShutdown() bool {
	c.shutdownMu.Lock()
	defer c.shutdownMu.Unlock()
	return c.shutdownFlag
}

func (c *Client) checkAlive() error {
	if c.isShutdown() {
		return ErrShutdown
	}
	return nil
}

func (c *Client) writeShort(b ...byte) error {
	if err := c.checkAlive(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.tr.Write(b)
	if err != nil {
		return c.shutdownOnError(fmt.Errorf("%w: %v", ErrDisconnected, err))
	}
	return nil
}

func (c *Client) writeSysex(cmd byte, payload ...byte) error {
	if err := c.checkAlive(); err != nil {
		return err
	}
	msg := make([]byte, 0, len(payload)+3)
	msg = append(msg, startSysex, cmd)
	msg = append(msg, payload...)
	msg = append(msg, endSysex)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.tr.Write(msg)
	if err != nil {
		return c.shutdownOnError(fmt.Errorf("%w: %v", ErrDisconnected, err))
	}
	return nil
}

func portOf(pin int) int  { return pin / 8 }
func bitOf(pin int) uint  { return uint(pin % 8) }

func (c *Client) checkDigitalPin(pin int) error {
	c.pinsMu.RLock()
	defer c.pinsMu.RUnlock()
	if pin < 0 || pin >= len(c.digitalPins) {
		return fmt.Errorf("%w: digital pin %d out of range", ErrInvalidArgument, pin)
	}
	return nil
}

func (c *Client) checkAnalogPin(pin int) error {
	c.pinsMu.RLock()
	defer c.pinsMu.RUnlock()
	if pin < 0 || pin >= len(c.analogPins) {
		return fmt.Errorf("%w: analog pin %d out of range", ErrInvalidArgument, pin)
	}
	return nil
}

// --- Pin-mode setters ---

func (c *Client) setPinMode(pin int, mode PinMode, cb PinCallback, differential float64) error {
	if err := c.checkDigitalPin(pin); err != nil {
		return err
	}
	c.pinsMu.Lock()
	c.digitalPins[pin].Mode = mode
	c.digitalPins[pin].Callback = cb
	c.digitalPins[pin].Differential = differential
	c.pinsMu.Unlock()

	if err := c.writeShort(setPinMode, byte(pin), byte(mode)); err != nil {
		return err
	}
	if mode == ModeInput || mode == ModePullup {
		if err := c.writeShort(reportDigital+byte(portOf(pin)), 1); err != nil {
			return err
		}
	}
	time.Sleep(time.Millisecond)
	return nil
}

func (c *Client) SetPinModeDigitalInput(pin int, cb PinCallback) error {
	return c.setPinMode(pin, ModeInput, cb, 0)
}

func (c *Client) SetPinModeDigitalInputPullup(pin int, cb PinCallback) error {
	return c.setPinMode(pin, ModePullup, cb, 0)
}

func (c *Client) SetPinModeDigitalOutput(pin int) error {
	return c.setPinMode(pin, ModeOutput, nil, 0)
}

func (c *Client) SetPinModeAnalogInput(pin int, differential float64, cb PinCallback) error {
	if err := c.checkAnalogPin(pin); err != nil {
		return err
	}
	c.pinsMu.Lock()
	c.analogPins[pin].Callback = cb
	c.analogPins[pin].Differential = differential
	digitalPin := c.firstAnalogPin + pin
	c.pinsMu.Unlock()

	if err := c.writeShort(setPinMode, byte(digitalPin), byte(ModeAnalog)); err != nil {
		return err
	}
	if err := c.writeShort(reportAnalog+byte(pin), 1); err != nil {
		return err
	}
	time.Sleep(time.Millisecond)
	return nil
}

func (c *Client) SetPinModePWM(pin int) error {
	return c.setPinMode(pin, ModePWM, nil, 0)
}

func (c *Client) SetPinModeServo(pin int, minPulse, maxPulse int) error {
	if err := c.setPinMode(pin, ModeServo, nil, 0); err != nil {
		return err
	}
	return c.writeSysex(servoConfig, byte(pin),
		encode7Bit(minPulse, 2)[0], encode7Bit(minPulse, 2)[1],
		encode7Bit(maxPulse, 2)[0], encode7Bit(maxPulse, 2)[1])
}

func (c *Client) SetPinModeI2C(pin int) error {
	return c.setPinMode(pin, ModeI2C, nil, 0)
}

func (c *Client) SetPinModeStepper(pin int) error {
	return c.setPinMode(pin, ModeStepper, nil, 0)
}

func (c *Client) SetPinModeTone(pin int) error {
	return c.setPinMode(pin, ModeTone, nil, 0)
}

func (c *Client) SetPinModeSPI(pin int) error {
	return c.setPinMode(pin, ModeSPI, nil, 0)
}

func (c *Client) SetPinModeSonar(triggerPin, echoPin int, timeoutUs int, cb SonarCallback) error {
	c.sonarMu.Lock()
	if len(c.sonarEntries) >= maxSonarDevices {
		c.sonarMu.Unlock()
		return fmt.Errorf("%w: at most %d sonar devices supported", ErrInvalidArgument, maxSonarDevices)
	}
	c.sonarEntries[triggerPin] = &SonarEntry{Callback: cb}
	c.sonarMu.Unlock()

	if err := c.setPinMode(triggerPin, ModeSonar, nil, 0); err != nil {
		return err
	}
	to := encode7Bit(timeoutUs, 2)
	return c.writeSysex(sonarConfig, byte(triggerPin), byte(echoPin), to[0], to[1])
}

func (c *Client) SetPinModeDHT(pin int, dhtType int, differential float64, cb PinCallback) error {
	if err := c.setPinMode(pin, ModeDHT, cb, differential); err != nil {
		return err
	}
	return c.writeSysex(dhtConfig, byte(pin), byte(dhtType))
}

// --- Digital / analog writes ---

func (c *Client) DigitalWrite(pin int, value int) error {
	if err := c.checkDigitalPin(pin); err != nil {
		return err
	}
	port := portOf(pin)
	bit := bitOf(pin)

	c.pinsMu.Lock()
	if value != 0 {
		c.portShadow[port] |= 1 << bit
	} else {
		c.portShadow[port] &^= 1 << bit
	}
	portValue := c.portShadow[port]
	c.pinsMu.Unlock()

	packed := encode7Bit(int(portValue), 2)
	return c.writeShort(digitalMessage+byte(port), packed[0], packed[1])
}

func (c *Client) DigitalPinWrite(pin int, value int) error {
	if err := c.checkDigitalPin(pin); err != nil {
		return err
	}
	return c.writeShort(setDigitalPinValue, byte(pin), byte(value))
}

func (c *Client) AnalogWrite(pin int, value int) error {
	return c.pwmWrite(pin, value)
}

func (c *Client) PWMWrite(pin int, value int) error {
	return c.pwmWrite(pin, value)
}

func (c *Client) pwmWrite(pin int, value int) error {
	if pin < 16 {
		packed := encode7Bit(value, 2)
		return c.writeShort(analogMessage+byte(pin), packed[0], packed[1])
	}
	packed := encode7Bit(value, 3)
	return c.writeSysex(extendedAnalog, byte(pin), packed[0], packed[1], packed[2])
}

func (c *Client) ServoWrite(pin int, degrees int) error {
	return c.pwmWrite(pin, degrees)
}

// --- Tone ---

func (c *Client) PlayTone(pin int, frequency, durationMs int) error {
	f := encode7Bit(frequency, 2)
	d := encode7Bit(durationMs, 2)
	return c.writeSysex(toneData, toneTone, byte(pin), f[0], f[1], d[0], d[1])
}

func (c *Client) PlayToneContinuously(pin int, frequency int) error {
	return c.PlayTone(pin, frequency, 0)
}

func (c *Client) PlayToneOff(pin int) error {
	return c.writeSysex(toneData, toneNoTone, byte(pin))
}

// --- Stepper ---

func (c *Client) StepperConfigure(stepsPerRev int, pins []int) error {
	steps := encode7Bit(stepsPerRev, 2)
	payload := []byte{stepperConfigure, steps[0], steps[1]}
	for _, p := range pins {
		payload = append(payload, byte(p))
	}
	return c.writeSysex(stepperData, payload...)
}

func (c *Client) StepperWrite(speed, numSteps int, forward bool) error {
	sp := encode7Bit(speed, 3)
	n := encode7Bit(numSteps, 2)
	dir := byte(0)
	if forward {
		dir = 1
	}
	return c.writeSysex(stepperData, stepperStep, sp[0], sp[1], sp[2], n[0], n[1], dir)
}

// --- I2C ---

func (c *Client) I2cConfig(delayUs int) error {
	d := encode7Bit(delayUs, 2)
	return c.writeSysex(i2cConfig, d[0], d[1])
}

func (c *Client) I2cWrite(address int, data []byte) error {
	payload := []byte{byte(address), i2cWrite}
	for _, b := range data {
		packed := encode7Bit(int(b), 2)
		payload = append(payload, packed...)
	}
	return c.writeSysex(i2cRequest, payload...)
}

func (c *Client) i2cReadRequest(address int, register, numBytes int, mode byte, cb I2cCallback) error {
	c.i2cMu.Lock()
	entry, ok := c.i2cAddresses[address]
	if !ok {
		entry = &I2cAddressEntry{}
		c.i2cAddresses[address] = entry
	}
	entry.Callback = cb
	c.i2cMu.Unlock()

	reg := encode7Bit(register, 2)
	n := encode7Bit(numBytes, 2)
	return c.writeSysex(i2cRequest, byte(address), mode, reg[0], reg[1], n[0], n[1])
}

func (c *Client) I2cRead(address, register, numBytes int, cb I2cCallback) error {
	return c.i2cReadRequest(address, register, numBytes, i2cRead, cb)
}

func (c *Client) I2cReadContinuous(address, register, numBytes int, cb I2cCallback) error {
	return c.i2cReadRequest(address, register, numBytes, i2cReadContinuously, cb)
}

func (c *Client) I2cReadRestartTransmission(address, register, numBytes int, cb I2cCallback) error {
	return c.i2cReadRequest(address, register, numBytes, i2cRead|i2cEndTXMask, cb)
}

func (c *Client) I2cReadSavedData(address int) ([]int, error) {
	c.i2cMu.Lock()
	defer c.i2cMu.Unlock()
	entry, ok := c.i2cAddresses[address]
	if !ok {
		return nil, nil
	}
	return entry.LastValue, nil
}

// --- Sonar / DHT polling accessors ---

func (c *Client) SonarRead(triggerPin int) (int, time.Time, error) {
	c.sonarMu.Lock()
	defer c.sonarMu.Unlock()
	entry, ok := c.sonarEntries[triggerPin]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%w: no sonar device on trigger pin %d", ErrInvalidArgument, triggerPin)
	}
	return entry.LastValue, entry.LastTime, nil
}

func (c *Client) DHTRead(pin int) (humidity, temperature float64, t time.Time, err error) {
	if err := c.checkDigitalPin(pin); err != nil {
		return 0, 0, time.Time{}, err
	}
	c.pinsMu.RLock()
	defer c.pinsMu.RUnlock()
	rec := c.digitalPins[pin]
	return rec.DHTValue[0], rec.DHTValue[1], rec.EventTime, nil
}

// --- SPI ---

func (c *Client) allocateSPIRequestID(req *SpiRequest) (int, bool) {
	c.spiMu.Lock()
	defer c.spiMu.Unlock()

	start := c.nextSPIRequestID
	for i := 0; i < maxSPIRequestID; i++ {
		id := (start + i) % maxSPIRequestID
		if _, taken := c.spiRequests[id]; !taken {
			c.spiRequests[id] = req
			c.nextSPIRequestID = (id + 1) % maxSPIRequestID
			return id, true
		}
	}
	return 0, false
}

func (c *Client) SPIBegin() error {
	return c.writeSysex(spiData, spiBegin)
}

func (c *Client) SPIDeviceConfig(deviceID, channel, dataMode, bitOrder, maxSpeed, wordSize int, csPinControl, csActiveState bool, csPin int) error {
	speed := encode7Bit(maxSpeed, 5)
	opts := byte(0)
	if csPinControl {
		opts |= 0x01
	}
	if csActiveState {
		opts |= 0x02
	}
	payload := []byte{
		spiDeviceConfig,
		byte((deviceID << 3) | channel),
		byte((dataMode << 1) | bitOrder),
	}
	payload = append(payload, speed...)
	payload = append(payload, byte(wordSize), opts, byte(csPin))
	return c.writeSysex(spiData, payload...)
}

func (c *Client) SPIRead(deviceSelect int, numBytes int, cb SpiReadCallback) error {
	req := &SpiRequest{readCallback: cb}
	id, ok := c.allocateSPIRequestID(req)
	if !ok {
		cb(nil)
		return nil
	}
	n := encode7Bit(numBytes, 2)
	return c.writeSysex(spiData, spiRead, byte(id), byte(deviceSelect), n[0], n[1])
}

func (c *Client) SPIWrite(deviceSelect int, data []byte, cb SpiWriteCallback) error {
	req := &SpiRequest{writeCallback: cb, skipRead: true}
	id, ok := c.allocateSPIRequestID(req)
	if !ok {
		if cb != nil {
			cb(false)
		}
		return nil
	}
	payload := []byte{spiWrite, byte(id), byte(deviceSelect)}
	for _, b := range data {
		payload = append(payload, encode7Bit(int(b), 2)...)
	}
	return c.writeSysex(spiData, payload...)
}

func (c *Client) SPITransfer(deviceSelect int, data []byte, cb SpiReadCallback) error {
	req := &SpiRequest{readCallback: cb}
	id, ok := c.allocateSPIRequestID(req)
	if !ok {
		cb(nil)
		return nil
	}
	payload := []byte{spiTransfer, byte(id), byte(deviceSelect)}
	for _, b := range data {
		payload = append(payload, encode7Bit(int(b), 2)...)
	}
	return c.writeSysex(spiData, payload...)
}

func (c *Client) SPIEnd() error {
	return c.writeSysex(spiData, spiEnd)
}

// --- One-shot queries ---

// queryTimeout is the rendezvous deadline every one-shot query enforces
// per base spec §4.3/§7, regardless of what the caller's ctx allows.
const queryTimeout = 4 * time.Second

func boundedQueryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}

func (c *Client) GetFirmwareVersion(ctx context.Context) (major, minor int, name string, err error) {
	ctx, cancel := boundedQueryContext(ctx)
	defer cancel()

	wait := c.pending.register(pendingFirmware)
	if err := c.writeSysex(reportFirmware); err != nil {
		return 0, 0, "", err
	}
	v, err := wait(ctx)
	if err != nil {
		return 0, 0, "", err
	}
	info := v.(firmwareInfo)
	return info.Major, info.Minor, info.Name, nil
}

func (c *Client) GetProtocolVersion(ctx context.Context) (string, error) {
	ctx, cancel := boundedQueryContext(ctx)
	defer cancel()

	wait := c.pending.register(pendingProtocol)
	if err := c.writeShort(reportVersion); err != nil {
		return "", err
	}
	v, err := wait(ctx)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) GetAnalogMap(ctx context.Context) ([]byte, error) {
	ctx, cancel := boundedQueryContext(ctx)
	defer cancel()

	wait := c.pending.register(pendingAnalogMap)
	if err := c.writeSysex(analogMappingQuery); err != nil {
		return nil, err
	}
	v, err := wait(ctx)
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Client) GetCapabilityReport(ctx context.Context) ([]byte, error) {
	ctx, cancel := boundedQueryContext(ctx)
	defer cancel()

	wait := c.pending.register(pendingCapability)
	if err := c.writeSysex(capabilityQuery); err != nil {
		return nil, err
	}
	v, err := wait(ctx)
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Client) GetPinState(ctx context.Context, pin int) ([]byte, error) {
	if err := c.checkDigitalPin(pin); err != nil {
		return nil, err
	}
	ctx, cancel := boundedQueryContext(ctx)
	defer cancel()

	wait := c.pending.register(pendingPinState)
	if err := c.writeSysex(pinStateQuery, byte(pin)); err != nil {
		return nil, err
	}
	v, err := wait(ctx)
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// OnStringData registers the callback invoked for incoming STRING_DATA
// messages (the board's "print to host" channel).
func (c *Client) OnStringData(cb func(string)) {
	c.pinsMu.Lock()
	defer c.pinsMu.Unlock()
	c.stringDataCallback = cb
}

// SetSamplingInterval sets the millisecond period between unsolicited
// analog reports.
func (c *Client) SetSamplingInterval(d time.Duration) error {
	ms := int(d / time.Millisecond)
	packed := encode7Bit(ms, 2)
	return c.writeSysex(samplingInterval, packed[0], packed[1])
}

// Shutdown disables reporting, resets the board, cancels the keep-alive
// goroutine, and (when closeOnShutdown is set) closes the transport.
// Safe to call more than once.
func (c *Client) Shutdown() error {
	c.shutdownMu.Lock()
	if c.shutdownFlag {
		c.shutdownMu.Unlock()
		return nil
	}
	c.shutdownFlag = true
	kaCancel := c.keepAliveCancel
	c.shutdownMu.Unlock()

	if kaCancel != nil {
		kaCancel()
	}

	c.pinsMu.RLock()
	numAnalog := len(c.analogPins)
	c.pinsMu.RUnlock()
	for pin := 0; pin < numAnalog; pin++ {
		_ = c.writeShortIgnoreShutdown(reportAnalog+byte(pin), 0)
	}
	for port := 0; port < len(c.portShadow); port++ {
		_ = c.writeShortIgnoreShutdown(reportDigital+byte(port), 0)
	}
	_ = c.writeShortIgnoreShutdown(systemReset)

	c.cancel()
	var err error
	if c.closeOnShutdown {
		_ = c.tr.ResetInputBuffer()
		err = c.tr.Close()
	}
	c.wg.Wait()
	return err
}

// shutdownOnError implements the shutdownOnException config knob: a
// transport failure on the write or read path optionally tears the
// client down instead of leaving it half-open. Shutdown runs on its own
// goroutine, so it may still be in progress when err is returned.
func (c *Client) shutdownOnError(err error) error {
	if err != nil && c.shutdownOnException && !c.isShutdown() {
		go c.Shutdown()
	}
	return err
}

// writeShortIgnoreShutdown bypasses the shutdown-flag guard in
// writeShort: Shutdown itself needs to emit a few final bytes after
// setting the flag, matching the source's "set flag, then still write
// the reset" ordering.
func (c *Client) writeShortIgnoreShutdown(b ...byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.tr.Write(b)
	return err
}
