package firmata

import (
	"fmt"

	"github.com/go-firmata/firmata/transport"
)

// rawMessage is one fully-delimited protocol message as handed to the
// dispatcher: kind tags which decode path applies, cmd is the leading
// command byte (for sysex, the byte after 0xF0), and data holds the
// remaining payload bytes with framing stripped.
type rawMessage struct {
	kind messageKind
	cmd  byte
	data []byte
}

// frameReader turns the raw byte stream from a transport.Transport into
// a sequence of rawMessage values, one per call to next. It owns no
// goroutine of its own; the dispatcher drives it from its single
// reader goroutine, matching the corpus's single-reader discipline.
type frameReader struct {
	t transport.Transport
}

func newFrameReader(t transport.Transport) *frameReader {
	return &frameReader{t: t}
}

// next blocks for the next complete message. It classifies the leading
// byte exactly as the codec's classifyFirstByte table describes:
// sysex is read to its 0xF7 terminator, analog/digital short-form reads
// two further bytes, report-version reads two further bytes, and any
// other leading byte is reported as kindHandlerTable with that byte in
// cmd and no payload, so the caller can log-and-drop it.
func (f *frameReader) next() (rawMessage, error) {
	b, err := f.t.ReadByte()
	if err != nil {
		return rawMessage{}, err
	}

	switch classifyFirstByte(b) {
	case kindAnalog:
		payload, err := f.readN(2)
		if err != nil {
			return rawMessage{}, err
		}
		return rawMessage{kind: kindAnalog, cmd: b & 0xF0, data: append([]byte{b & 0x0F}, payload...)}, nil

	case kindDigital:
		payload, err := f.readN(2)
		if err != nil {
			return rawMessage{}, err
		}
		return rawMessage{kind: kindDigital, cmd: b & 0xF0, data: append([]byte{b & 0x0F}, payload...)}, nil

	case kindReportVersion:
		payload, err := f.readN(2)
		if err != nil {
			return rawMessage{}, err
		}
		return rawMessage{kind: kindReportVersion, cmd: b, data: payload}, nil

	case kindSysex:
		cmd, err := f.t.ReadByte()
		if err != nil {
			return rawMessage{}, err
		}
		var payload []byte
		for {
			nb, err := f.t.ReadByte()
			if err != nil {
				return rawMessage{}, err
			}
			if nb == endSysex {
				break
			}
			payload = append(payload, nb)
		}
		return rawMessage{kind: kindSysex, cmd: cmd, data: payload}, nil

	default:
		return rawMessage{kind: kindHandlerTable, cmd: b, data: nil}, nil
	}
}

func (f *frameReader) readN(n int) ([]byte, error) {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		b, err := f.t.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("frame: short read: %w", err)
		}
		out[i] = b
	}
	return out, nil
}
