package clipboard

import (
	"log/slog"
)

// Broadcaster fans events out to the connections in a Registry. Delivery is best effort: connections
// that are not open are skipped, and a backed up connection sheds superseded frames rather than
// the newest one.
type Broadcaster struct {
	registry *Registry
	metrics  *Metrics
}

func NewBroadcaster(registry *Registry, metrics *Metrics) *Broadcaster {
	return &Broadcaster{registry: registry, metrics: metrics}
}

// Broadcast encodes e once and queues it for every open connection. It returns the number of
// connections the frame was queued for.
func (b *Broadcaster) Broadcast(e Event) int {
	frame, err := encodeEvent(e)
	if err != nil {
		slog.Error("failed to broadcast", "event", e.Kind(), "err", err)
		return 0
	}
	b.metrics.broadcastsTotal.WithLabelValues(e.Kind()).Inc()

	queued := 0
	b.registry.ForEach(func(c *Conn) {
		if b.deliver(c, e.Kind(), frame) {
			queued++
		} else {
			slog.Debug("skipped connection", "event", e.Kind(), "conn", c.ID(), "state", c.State())
		}
	})
	return queued
}

// Unicast queues e for a single connection.
func (b *Broadcaster) Unicast(c *Conn, e Event) bool {
	frame, err := encodeEvent(e)
	if err != nil {
		slog.Error("failed to send", "event", e.Kind(), "conn", c.ID(), "err", err)
		return false
	}
	return b.deliver(c, e.Kind(), frame)
}

func (b *Broadcaster) deliver(c *Conn, kind string, frame []byte) bool {
	if queued, displaced := c.enqueue(kind, frame); queued {
		b.metrics.framesQueued.Inc()
		if displaced {
			b.metrics.framesSuperseded.Inc()
		}
		return true
	}
	b.metrics.framesSkipped.Inc()
	return false
}
