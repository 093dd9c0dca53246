package notify

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultCooldown is how long a repeat of the same notification is held
// back.
const DefaultCooldown = 2 * time.Minute

type Metrics interface {
	NotificationSentInc(kind string)
	NotificationSuppressedInc(kind string)
}

// Cooldown drops a notification when one with the same bus, kind and stop
// went out within the window. SOS notifications are never held back.
type Cooldown struct {
	next    Notifier
	recent  *gocache.Cache
	window  time.Duration
	metrics Metrics
}

func NewCooldown(next Notifier, window time.Duration, m Metrics) *Cooldown {
	return &Cooldown{
		next:    next,
		recent:  gocache.New(window, 2*window+time.Second),
		window:  window,
		metrics: m,
	}
}

func (c *Cooldown) Notify(ctx context.Context, n Notification) error {
	if n.Kind != KindSOS && c.window > 0 {
		// Add fails when the key is still live, which makes check-and-set atomic.
		if err := c.recent.Add(n.key(), struct{}{}, c.window); err != nil {
			if c.metrics != nil {
				c.metrics.NotificationSuppressedInc(string(n.Kind))
			}
			return nil
		}
	}
	if err := c.next.Notify(ctx, n); err != nil {
		c.recent.Delete(n.key())
		return err
	}
	if c.metrics != nil {
		c.metrics.NotificationSentInc(string(n.Kind))
	}
	return nil
}
