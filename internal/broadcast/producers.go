package broadcast

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Producer periodically publishes one topic family on its own schedule.
type Producer struct {
	Topic    string
	Interval time.Duration
	// Fetch builds the payload for one tick. An error skips the tick
	// without affecting other producers; a nil payload with no error also
	// skips, for producers that only publish when something changed.
	Fetch func(ctx context.Context) (interface{}, error)
}

// RunProducer drives one producer until ctx is canceled. Each producer runs
// in its own goroutine so one failing fetch never delays another topic.
func (h *Hub) RunProducer(ctx context.Context, p Producer) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := p.Fetch(ctx)
			if err != nil {
				log.WithError(err).WithField("topic", p.Topic).Warn("Producer fetch failed, skipping tick")
				continue
			}
			if payload == nil {
				continue
			}
			h.Publish(p.Topic, payload)
		}
	}
}

// StartProducers launches every producer on its own goroutine.
func (h *Hub) StartProducers(ctx context.Context, producers []Producer) {
	for _, p := range producers {
		go h.RunProducer(ctx, p)
	}
}
