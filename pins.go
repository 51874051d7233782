package firmata

import "time"

// PinCallback receives [pinType, pin, value, timestamp] for digital
// and analog pins, [pinType, pin, dhtType, validFlag, humidity,
// temperature, timestamp] for DHT pins — the layout varies per mode,
// matching the source library's dynamic payload convention. Kept as
// []interface{} rather than one struct per mode: the dispatcher would
// otherwise need a type-switch per handler just to build a union it
// immediately throws away, and callers already switch on the leading
// pin-type element.
type PinCallback func(payload []interface{})

// I2cCallback receives [I2C, address, register, data..., timestamp].
type I2cCallback func(payload []interface{})

// SonarCallback receives [SONAR, triggerPin, distanceCM, timestamp].
type SonarCallback func(payload []interface{})

// SpiReadCallback receives the decoded reply bytes, or an empty slice
// if the request could not be allocated an id or the firmware reported
// no data.
type SpiReadCallback func(data []byte)

// SpiWriteCallback receives true when the firmware's reply to the write
// arrives, or false if no request id was available.
type SpiWriteCallback func(ok bool)

// pinType tags the first element of a PinCallback/I2cCallback/
// SonarCallback payload, identifying which verb produced the message.
type pinType int

const (
	pinTypeDigital pinType = iota
	pinTypeAnalog
	pinTypeI2C
	pinTypeSonar
	pinTypeDHT
	pinTypePullup
	pinTypeInput
)

// PinRecord is the per-pin state the dispatcher updates and the public
// API reads back. One exists per digital index and, separately, per
// analog index (an analog pin's digital-table twin lives at
// firstAnalogPin+k).
type PinRecord struct {
	// CurrentValue holds digital 0/1, analog 0..1023, PWM 0..16383. For
	// DHT pins it is unused in favor of DHTValue.
	CurrentValue int

	// DHTValue holds [humidity, temperature] for pins in ModeDHT.
	DHTValue [2]float64

	EventTime    time.Time
	Mode         PinMode
	PullUp       bool
	Differential float64
	Callback     PinCallback
}

// I2cAddressEntry is the last-known reply and registered callback for
// one 7-bit I2C device address.
type I2cAddressEntry struct {
	LastValue []int
	LastTime  time.Time
	Callback  I2cCallback
}

// SonarEntry tracks one HC-SR04-style device, keyed by its trigger pin.
// At most maxSonarDevices may be registered at once.
type SonarEntry struct {
	Callback  SonarCallback
	LastValue int
	LastTime  time.Time
}

const maxSonarDevices = 6

// SpiRequest is a single outstanding SPI read or write, keyed by a
// 7-bit request id. skipRead distinguishes a write (callback wants a
// bool) from a read/transfer (callback wants the decoded byte slice).
type SpiRequest struct {
	readCallback  SpiReadCallback
	writeCallback SpiWriteCallback
	skipRead      bool
}

const maxSPIRequestID = 128
