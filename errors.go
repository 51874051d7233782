package firmata

import "errors"

// Sentinel errors surfaced to callers of the public API. Wrap with
// fmt.Errorf("...: %w", ErrX) where extra context is useful; callers
// should match with errors.Is.
var (
	// ErrNoBoard is returned by discovery when no candidate serial port
	// replied with a matching arduino instance id.
	ErrNoBoard = errors.New("firmata: no board found with matching instance id")

	// ErrVersionMismatch is returned when the connected board's firmware
	// version prefix does not match FirmataExpressVersion.
	ErrVersionMismatch = errors.New("firmata: firmware version mismatch")

	// ErrTimeout is returned by one-shot queries that received no reply
	// within their deadline.
	ErrTimeout = errors.New("firmata: query timed out")

	// ErrDisconnected is returned when a transport write fails because
	// the underlying connection is gone.
	ErrDisconnected = errors.New("firmata: transport disconnected")

	// ErrInvalidArgument is returned synchronously, before any bytes are
	// written, when a verb's parameters violate their documented range.
	ErrInvalidArgument = errors.New("firmata: invalid argument")

	// ErrShutdown is returned by verbs called after Shutdown.
	ErrShutdown = errors.New("firmata: client is shut down")
)
