package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/events"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/sethvargo/go-retry"
)

const maxReconnectDelay = time.Minute

// backoff yields the delays between connect attempts. Sleeping is left to
// the caller so the injected clock drives it.
func (c *Coordinator) backoff() retry.Backoff {
	var b retry.Backoff
	switch c.cfg.Backoff {
	case BackoffExponential:
		b = retry.WithCappedDuration(maxReconnectDelay, retry.NewExponential(c.cfg.ReconnectDelay))
	default:
		b = retry.NewConstant(c.cfg.ReconnectDelay)
	}
	return retry.WithMaxRetries(uint64(c.cfg.ReconnectAttempts-1), b)
}

func (c *Coordinator) connectOnce(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	sess, err := c.transport.Connect(cctx, c.reg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	c.logger.Info(ctx, "online", "channel_id", sess.ChannelID, "devices", len(sess.Devices))
	c.bus.Emit(events.Event{Kind: events.Network, Online: true})
	return nil
}

// connectWithRetry connects, then runs a forced pass. It gives up on an
// authorization failure or once the attempts are used up.
func (c *Coordinator) connectWithRetry(ctx context.Context) bool {
	b := c.backoff()

	for attempt := 1; ; attempt++ {
		err := c.connectOnce(ctx)
		if err == nil {
			c.tryPass(ctx)
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		c.logger.Warn(ctx, "connect failed", "attempt", attempt, "error", err)

		if errors.Is(err, common.ErrUnauthorized) {
			c.bus.Emit(events.Event{Kind: events.SyncError, Err: err})
			return false
		}

		delay, stop := b.Next()
		if stop {
			err = fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, attempt, err)
			c.logger.Error(ctx, "giving up reconnecting", "error", err)
			c.bus.Emit(events.Event{Kind: events.SyncError, Err: err})
			return false
		}

		timer := c.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.Chan():
		}
	}
}
