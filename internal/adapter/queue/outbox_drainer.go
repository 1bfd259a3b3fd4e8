package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/aq2208/group-order-api/internal/usecase"
)

// OutboxDrainer polls the outbox table and publishes pending rows to the
// events exchange. Rows that fail to publish are rescheduled with a delay;
// consumers must tolerate the occasional duplicate.
type OutboxDrainer struct {
	outbox   usecase.OutboxRepo
	producer *RabbitProducer
	interval time.Duration
	batch    int
	retryIn  time.Duration
	log      *slog.Logger
}

func NewOutboxDrainer(outbox usecase.OutboxRepo, producer *RabbitProducer, interval time.Duration, log *slog.Logger) *OutboxDrainer {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &OutboxDrainer{
		outbox:   outbox,
		producer: producer,
		interval: interval,
		batch:    100,
		retryIn:  30 * time.Second,
		log:      log,
	}
}

// Start blocks until ctx is cancelled; run it in its own goroutine.
func (d *OutboxDrainer) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainOnce(ctx)
		}
	}
}

func (d *OutboxDrainer) drainOnce(ctx context.Context) {
	events, err := d.outbox.FetchPending(ctx, d.batch)
	if err != nil {
		d.log.Error("outbox fetch failed", "error", err)
		return
	}
	for _, ev := range events {
		if err := d.producer.PublishRaw(ctx, ev.Channel, ev.Payload); err != nil {
			d.log.Warn("outbox publish failed", "id", ev.ID, "channel", ev.Channel, "error", err)
			if err := d.outbox.MarkFailed(ctx, ev.ID, d.retryIn); err != nil {
				d.log.Error("outbox mark failed errored", "id", ev.ID, "error", err)
			}
			continue
		}
		if err := d.outbox.MarkSent(ctx, ev.ID); err != nil {
			// The event may be re-published on the next sweep; acceptable
			// under the at-least-once contract.
			d.log.Error("outbox mark sent errored", "id", ev.ID, "error", err)
		}
	}
}
