package firmata

import (
	"bytes"
	"io"

	"go.uber.org/zap"

	"github.com/go-firmata/firmata/transport"
)

// captureTransport is an in-memory transport.Transport: Write appends
// to an internal log so tests can assert on exactly what was sent,
// Read side is driven by whatever bytes were queued into it via Wrap.
type captureTransport struct {
	transport.Transport
	writes [][]byte
}

type discardCloser struct{ io.Reader }

func (discardCloser) Write(p []byte) (int, error) { return len(p), nil }
func (discardCloser) Close() error                { return nil }

func newCaptureTransport(preloaded []byte) *captureTransport {
	buf := bytes.NewBuffer(preloaded)
	return &captureTransport{Transport: transport.Wrap(discardCloser{buf})}
}

func (c *captureTransport) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	c.writes = append(c.writes, cp)
	return c.Transport.Write(p)
}

func (c *captureTransport) lastWrite() []byte {
	if len(c.writes) == 0 {
		return nil
	}
	return c.writes[len(c.writes)-1]
}

// newTestClient builds a Client with nDigital digital pins and nAnalog
// analog pins already initialized, bypassing Connect/discovery so
// individual verbs and handlers can be unit tested directly.
func newTestClient(nDigital, nAnalog int) (*Client, *captureTransport) {
	ct := newCaptureTransport(nil)
	cfg := defaultConfig()
	c := newClient(ct, cfg)
	c.log = zap.NewNop()
	c.digitalPins = make([]PinRecord, nDigital)
	c.analogPins = make([]PinRecord, nAnalog)
	c.firstAnalogPin = nDigital - nAnalog
	c.pinsInitialized = true
	return c, ct
}
