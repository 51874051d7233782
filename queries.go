package firmata

import (
	"context"

	"github.com/hybridgroup/gobot"
)

// Fixed event names, one per one-shot query kind — mirroring the
// teacher's static per-purpose event names ("ProtocolVersion",
// "FirmwareQuery", ...) rather than allocating a fresh name per call:
// the wire protocol only ever has one outstanding reply per kind in
// flight, so every call to register re-subscribes to the same slot.
const (
	pendingFirmware   = "firmware"
	pendingProtocol   = "protocol"
	pendingCapability = "capability"
	pendingAnalogMap  = "analog-map"
	pendingPinState   = "pin-state"
)

// firmwareInfo is the decoded payload of a REPORT_FIRMWARE reply.
type firmwareInfo struct {
	Major, Minor int
	Name         string
}

// pendingQueries wraps a gobot.Eventer (teacher dependency
// github.com/hybridgroup/gobot) as the one-shot completion primitive
// for rendezvous-style queries, replacing the source's busy-poll
// (`while ... is None: await asyncio.sleep(...)`) with
// gobot.Once/gobot.Publish — the pattern the teacher's own client.go
// and client_test.go already use for this exact kind of rendezvous.
type pendingQueries struct {
	events gobot.Eventer
}

func newPendingQueries() *pendingQueries {
	e := gobot.NewEventer()
	for _, name := range []string{pendingFirmware, pendingProtocol, pendingCapability, pendingAnalogMap, pendingPinState} {
		e.AddEvent(name)
	}
	return &pendingQueries{events: e}
}

// register subscribes a fresh one-shot waiter on name and returns a
// function that blocks until publish(name, ...) fires it or ctx is
// done. Call register, then send the query, then call wait — in that
// order, so the subscription is live before any reply could arrive.
func (p *pendingQueries) register(name string) func(ctx context.Context) (interface{}, error) {
	result := make(chan interface{}, 1)
	gobot.Once(p.events.Event(name), func(data interface{}) {
		result <- data
	})

	return func(ctx context.Context) (interface{}, error) {
		select {
		case v := <-result:
			return v, nil
		case <-ctx.Done():
			return nil, ErrTimeout
		}
	}
}

func (p *pendingQueries) publish(name string, data interface{}) {
	gobot.Publish(p.events.Event(name), data)
}
