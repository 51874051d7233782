package firmata

import (
	"time"

	"go.uber.org/zap"

	"github.com/go-firmata/firmata/transport"
)

// config collects the optional parameters Connect accepts, replacing
// the source library's keyword-argument constructor with the
// functional-options idiom used across this corpus's Connect/New
// constructors.
type config struct {
	device             string
	baud               int
	tcpAddr            string
	transport          transport.Transport
	instanceID         int
	arduinoWait        time.Duration
	express            bool
	shutdownOnException bool
	closeOnShutdown    bool
	logger             *zap.Logger
	clock              func() time.Time
}

func defaultConfig() *config {
	return &config{
		baud:                115200,
		instanceID:          1,
		arduinoWait:         4 * time.Second,
		express:             true,
		shutdownOnException: true,
		closeOnShutdown:     true,
	}
}

// Option configures a Connect call.
type Option func(*config)

// WithSerialPort selects an explicit serial device instead of
// enumerating candidate ports.
func WithSerialPort(device string, baud int) Option {
	return func(c *config) {
		c.device = device
		c.baud = baud
	}
}

// WithTCP connects over TCP/WiFi instead of a serial link.
func WithTCP(addr string) Option {
	return func(c *config) {
		c.tcpAddr = addr
	}
}

// WithTransport injects an already-open transport.Transport, bypassing
// both serial enumeration and TCP dialing. Primarily for tests.
func WithTransport(t transport.Transport) Option {
	return func(c *config) {
		c.transport = t
	}
}

// WithArduinoInstanceID sets the instance id discovery matches against
// the board's I_AM_HERE reply. Defaults to 1.
func WithArduinoInstanceID(id int) Option {
	return func(c *config) { c.instanceID = id }
}

// WithShutdownOnException controls whether a transport read/write
// failure triggers an automatic Shutdown, started on its own goroutine
// when the failure is detected. Defaults to true.
func WithShutdownOnException(b bool) Option {
	return func(c *config) { c.shutdownOnException = b }
}

// WithCloseOnShutdown controls whether Shutdown closes the underlying
// transport. Defaults to true; set false when the transport is shared
// or owned by the caller.
func WithCloseOnShutdown(b bool) Option {
	return func(c *config) { c.closeOnShutdown = b }
}

// WithArduinoWait sets the settle delay after opening a serial port and
// before sending ARE_YOU_THERE, giving the board time to finish its
// reset. Defaults to 4s.
func WithArduinoWait(d time.Duration) Option {
	return func(c *config) { c.arduinoWait = d }
}

// WithFirmataExpress enables (the default) or disables the firmware
// version-prefix check against FirmataExpressVersion.
func WithFirmataExpress(enabled bool) Option {
	return func(c *config) { c.express = enabled }
}

// WithLogger overrides the zap.Logger used for internal diagnostics.
// Defaults to zap.NewNop() so a caller who doesn't ask for logging
// gets none.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithClock overrides the time source used for EventTime stamps.
// Intended for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(c *config) { c.clock = clock }
}
