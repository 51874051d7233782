package firmata

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-firmata/firmata/transport"
)

// scriptedConn is a synthetic link whose replies are computed from what
// was just written, generalizing the teacher's initTestFirmata canned-
// byte-sequence fixture to a request/reply round trip instead of a
// single preloaded buffer.
type scriptedConn struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu     sync.Mutex
	writes [][]byte
	script func([]byte) []byte
}

func newScriptedConn(script func([]byte) []byte) *scriptedConn {
	pr, pw := io.Pipe()
	return &scriptedConn{pr: pr, pw: pw, script: script}
}

func (s *scriptedConn) Read(p []byte) (int, error) { return s.pr.Read(p) }
func (s *scriptedConn) Close() error                { return s.pr.Close() }

func (s *scriptedConn) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	s.mu.Lock()
	s.writes = append(s.writes, cp)
	s.mu.Unlock()
	if s.script != nil {
		if reply := s.script(cp); reply != nil {
			go func() { _, _ = s.pw.Write(reply) }()
		}
	}
	return len(p), nil
}

// discoveryScript answers REPORT_FIRMWARE with the spec's worked firmware
// probe example (version 1.2, name "Fo") and ANALOG_MAPPING_QUERY with a
// 20-pin board whose last 6 pins are analog-capable.
func discoveryScript(p []byte) []byte {
	switch {
	case len(p) >= 2 && p[0] == startSysex && p[1] == reportFirmware:
		return []byte{startSysex, reportFirmware, 1, 2, 'F', 0, 'o', 0, endSysex}
	case len(p) >= 2 && p[0] == startSysex && p[1] == analogMappingQuery:
		mapping := []byte{startSysex, analogMappingResponse}
		for i := 0; i < 20; i++ {
			if i < 14 {
				mapping = append(mapping, byte(ModeIgnore))
			} else {
				mapping = append(mapping, byte(i-14))
			}
		}
		return append(mapping, endSysex)
	}
	return nil
}

func TestConnectRunsDiscoverySequence(t *testing.T) {
	conn := newScriptedConn(discoveryScript)
	tr := transport.Wrap(conn)

	c, err := Connect(context.Background(), WithTransport(tr))
	require.NoError(t, err)
	require.Equal(t, "1.2", c.firmwareVersion)
	require.Equal(t, "Fo", c.firmwareName)
	require.Equal(t, 20, len(c.digitalPins))
	require.Equal(t, 6, len(c.analogPins))
	require.Equal(t, 14, c.firstAnalogPin)

	require.NoError(t, c.Shutdown())
}

func TestConnectRejectsFirmwareVersionMismatch(t *testing.T) {
	script := func(p []byte) []byte {
		if len(p) >= 2 && p[0] == startSysex && p[1] == reportFirmware {
			return []byte{startSysex, reportFirmware, 9, 9, 'X', 0, endSysex}
		}
		return nil
	}
	conn := newScriptedConn(script)
	tr := transport.Wrap(conn)

	_, err := Connect(context.Background(), WithTransport(tr))
	require.ErrorIs(t, err, ErrVersionMismatch)
}

func TestProbeInstanceIDMatchesReply(t *testing.T) {
	conn := newScriptedConn(func(p []byte) []byte {
		if len(p) >= 2 && p[0] == startSysex && p[1] == areYouThere {
			return []byte{startSysex, iAmHere, 1, endSysex}
		}
		return nil
	})
	tr := transport.Wrap(conn)
	require.NoError(t, probeInstanceID(tr, 1))
}

func TestProbeInstanceIDRejectsMismatchedID(t *testing.T) {
	conn := newScriptedConn(func(p []byte) []byte {
		if len(p) >= 2 && p[0] == startSysex && p[1] == areYouThere {
			return []byte{startSysex, iAmHere, 2, endSysex}
		}
		return nil
	})
	tr := transport.Wrap(conn)
	require.ErrorIs(t, probeInstanceID(tr, 1), ErrNoBoard)
}
