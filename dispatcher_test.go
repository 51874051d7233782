package firmata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleAnalogMessageDifferentialGate(t *testing.T) {
	c, _ := newTestClient(20, 6)
	var got []int
	c.analogPins[2].Differential = 5
	c.analogPins[2].Callback = func(payload []interface{}) {
		got = append(got, payload[2].(int))
	}

	c.handleAnalogMessage(rawMessage{data: []byte{2, 10, 0}})
	c.handleAnalogMessage(rawMessage{data: []byte{2, 12, 0}})
	c.handleAnalogMessage(rawMessage{data: []byte{2, 20, 0}})

	require.Equal(t, []int{10, 20}, got)
}

func TestHandleDigitalMessageNoOpOnUnchanged(t *testing.T) {
	c, _ := newTestClient(20, 6)
	c.digitalPins[13].Mode = ModeInput
	fires := 0
	c.digitalPins[13].Callback = func(payload []interface{}) { fires++ }

	// port 1 covers pins 8-15; pin 13 is bit 5.
	c.handleDigitalMessage(rawMessage{data: []byte{1, 1 << 5, 0}})
	require.Equal(t, 1, fires)

	c.handleDigitalMessage(rawMessage{data: []byte{1, 1 << 5, 0}})
	require.Equal(t, 1, fires, "repeating the same port value must not re-fire")

	c.handleDigitalMessage(rawMessage{data: []byte{1, 0, 0}})
	require.Equal(t, 2, fires)
}

func TestHandleSonarDataSuppressesRepeats(t *testing.T) {
	c, _ := newTestClient(20, 6)
	c.sonarEntries[12] = &SonarEntry{LastValue: -1}
	fires := 0
	c.sonarEntries[12].Callback = func(payload []interface{}) { fires++ }

	for i := 0; i < 3; i++ {
		c.handleSonarData(rawMessage{data: []byte{12, 30, 0}})
	}
	require.Equal(t, 1, fires)
}

func TestHandleDHTDataValidatesBeforeAssigning(t *testing.T) {
	c, _ := newTestClient(20, 6)
	c.digitalPins[4].Differential = 0.05
	var gotHumidity, gotTemp float64
	c.digitalPins[4].Callback = func(payload []interface{}) {
		gotHumidity = payload[4].(float64)
		gotTemp = payload[5].(float64)
	}

	// data[2]!=0 (error reading): must not touch DHTValue or fire the callback.
	c.handleDHTData(rawMessage{data: []byte{4, 0, 1, 0, 0, 99, 99, 99, 99}})
	require.Zero(t, c.digitalPins[4].DHTValue[0])
	require.Zero(t, c.digitalPins[4].DHTValue[1])

	// data[2]==0 (valid reading), humidity=45.50 (not negated), temperature=-22.25 (negated).
	c.handleDHTData(rawMessage{data: []byte{4, 0, 0, 0, 1, 45, 50, 22, 25}})
	require.InDelta(t, 45.50, gotHumidity, 0.001)
	require.InDelta(t, -22.25, gotTemp, 0.001)
}

func TestHandleSPIReplyDeletesRequestAfterDispatch(t *testing.T) {
	c, _ := newTestClient(20, 6)
	var gotBytes []byte
	c.spiRequests[3] = &SpiRequest{readCallback: func(data []byte) { gotBytes = data }}

	packed := append([]byte{spiReply, 3}, encode7Bit(0x41, 2)...)
	c.handleSPIReply(rawMessage{data: packed})

	require.Equal(t, []byte{0x41}, gotBytes)
	_, stillThere := c.spiRequests[3]
	require.False(t, stillThere)
}

func TestHandleSPIReplyWriteCallback(t *testing.T) {
	c, _ := newTestClient(20, 6)
	var ok bool
	c.spiRequests[5] = &SpiRequest{skipRead: true, writeCallback: func(v bool) { ok = v }}

	c.handleSPIReply(rawMessage{data: []byte{spiReply, 5}})
	require.True(t, ok)
}

// TestHandleReportFirmwareDecodesWorkedExample matches the spec's firmware
// probe scenario: feeding [0xF0, 0x79, 1, 2, 'F', 0x00, 'o', 0x00, 0xF7]
// yields version "1.2" and name "Fo".
func TestHandleReportFirmwareDecodesWorkedExample(t *testing.T) {
	c, _ := newTestClient(20, 6)
	var got firmwareInfo
	wait := c.pending.register(pendingFirmware)
	done := make(chan struct{})
	go func() {
		v, err := wait(context.Background())
		require.NoError(t, err)
		got = v.(firmwareInfo)
		close(done)
	}()

	c.handleReportFirmware(rawMessage{data: []byte{1, 2, 'F', 0, 'o', 0}})

	<-done
	require.Equal(t, 1, got.Major)
	require.Equal(t, 2, got.Minor)
	require.Equal(t, "Fo", got.Name)
	require.Equal(t, "1.2", c.firmwareVersion)
}

// TestHandleI2CReplyDecodesADXL345Example matches the spec's I2C read
// scenario: address 83, register 50, six byte-values 1..6.
func TestHandleI2CReplyDecodesADXL345Example(t *testing.T) {
	c, _ := newTestClient(20, 6)
	var got []interface{}
	c.i2cAddresses[83] = &I2cAddressEntry{Callback: func(payload []interface{}) { got = payload }}

	data := []byte{83 & 0x7F, 83 >> 7, 50 & 0x7F, 50 >> 7}
	for v := 1; v <= 6; v++ {
		data = append(data, byte(v), 0)
	}
	c.handleI2CReply(rawMessage{data: data})

	require.Len(t, got, 10)
	require.Equal(t, pinTypeI2C, got[0])
	require.Equal(t, 83, got[1])
	require.Equal(t, 50, got[2])
	for i, want := range []int{1, 2, 3, 4, 5, 6} {
		require.Equal(t, want, got[3+i])
	}
}
