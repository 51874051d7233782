package firmata

import (
	"context"
	"fmt"
	"time"
)

// KeepAlive starts (or, with period 0, stops) a background goroutine
// that sends a KEEP_ALIVE sysex message every period*(1-margin), i.e.
// margin*period before the firmware's own watchdog would consider the
// host gone. margin is a fraction of period within [0.1, 0.9]. Replaces the source
// library's unbound keep_alive_task.cancel() one-shot with a proper
// context.Context the client owns for its whole lifetime.
func (c *Client) KeepAlive(period time.Duration, margin float64) error {
	c.shutdownMu.Lock()
	if prev := c.keepAliveCancel; prev != nil {
		prev()
		c.keepAliveCancel = nil
	}
	if c.shutdownFlag {
		c.shutdownMu.Unlock()
		return ErrShutdown
	}
	c.shutdownMu.Unlock()

	if period == 0 {
		return nil
	}
	if period < 0 || period > 10*time.Second {
		return fmt.Errorf("%w: keep-alive period must be within (0, 10s]", ErrInvalidArgument)
	}
	if margin < 0.1 || margin > 0.9 {
		return fmt.Errorf("%w: keep-alive margin must be within [0.1, 0.9]", ErrInvalidArgument)
	}

	interval := time.Duration(float64(period) * (1 - margin))
	ctx, cancel := context.WithCancel(c.ctx)

	c.shutdownMu.Lock()
	c.keepAliveCancel = cancel
	c.shutdownMu.Unlock()

	// The firmware's KEEP_ALIVE payload carries the raw period in whole
	// seconds as a 7-bit pair, not milliseconds.
	periodPacked := encode7Bit(int(period/time.Second), 2)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.writeSysex(keepAliveCmd, periodPacked[0], periodPacked[1]); err != nil {
					c.log.Warn("keep-alive write failed", errField(err))
					return
				}
			}
		}
	}()
	return nil
}
