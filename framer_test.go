package firmata

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-firmata/firmata/transport"
)

type nopCloser struct{ io.ReadWriter }

func (nopCloser) Close() error { return nil }

func newFrameReaderFromBytes(b []byte) *frameReader {
	return newFrameReader(transport.Wrap(nopCloser{bytes.NewBuffer(b)}))
}

func TestFrameReaderAnalog(t *testing.T) {
	fr := newFrameReaderFromBytes([]byte{0xE2, 10, 0})
	msg, err := fr.next()
	require.NoError(t, err)
	require.Equal(t, kindAnalog, msg.kind)
	require.Equal(t, []byte{2, 10, 0}, msg.data)
}

func TestFrameReaderDigital(t *testing.T) {
	fr := newFrameReaderFromBytes([]byte{0x91, 1, 0})
	msg, err := fr.next()
	require.NoError(t, err)
	require.Equal(t, kindDigital, msg.kind)
	require.Equal(t, []byte{1, 1, 0}, msg.data)
}

func TestFrameReaderReportVersion(t *testing.T) {
	fr := newFrameReaderFromBytes([]byte{reportVersion, 2, 5})
	msg, err := fr.next()
	require.NoError(t, err)
	require.Equal(t, kindReportVersion, msg.kind)
	require.Equal(t, []byte{2, 5}, msg.data)
}

func TestFrameReaderSysex(t *testing.T) {
	fr := newFrameReaderFromBytes([]byte{startSysex, reportFirmware, 1, 2, 'x', 0, endSysex})
	msg, err := fr.next()
	require.NoError(t, err)
	require.Equal(t, kindSysex, msg.kind)
	require.Equal(t, reportFirmware, msg.cmd)
	require.Equal(t, []byte{1, 2, 'x', 0}, msg.data)
}

func TestFrameReaderHandlerTableFallback(t *testing.T) {
	fr := newFrameReaderFromBytes([]byte{systemReset})
	msg, err := fr.next()
	require.NoError(t, err)
	require.Equal(t, kindHandlerTable, msg.kind)
	require.Equal(t, systemReset, msg.cmd)
}
