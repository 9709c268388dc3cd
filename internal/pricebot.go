package internal

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/pricewatch/internal/services/pricing"
)

type refresher interface {
	Current(ctx context.Context, filter pricing.RecordFilter) (pricing.View, error)
}

// PriceBot polls the upstream catalogue on a fixed interval and persists each observation.
type PriceBot struct {
	svc      refresher
	interval time.Duration
	l        *zap.Logger
}

// NewPriceBot creates a poller. A non-positive interval disables polling.
func NewPriceBot(l *zap.Logger, svc refresher, interval time.Duration) *PriceBot {
	return &PriceBot{svc: svc, interval: interval, l: l}
}

// Run fetches once immediately, then on every tick until ctx is done.
func (b *PriceBot) Run(ctx context.Context) error {
	if b.interval <= 0 {
		b.l.Info("price polling disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.l.Info("Starting price polling loop", zap.Duration("poll_interval", b.interval))
	b.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			b.l.Info("Context done, stopping price polling loop.")
			return ctx.Err()
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

func (b *PriceBot) tick(ctx context.Context) {
	b.l.Debug("price poll tick")

	view, err := b.svc.Current(ctx, pricing.RecordFilter{})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		b.l.Error("price poll failed", zap.Error(err))
		return
	}

	changes := 0
	for _, r := range view.Records {
		if r.Trend.IsChange() {
			changes++
		}
	}
	b.l.Info("price poll completed",
		zap.String("timestamp", view.Timestamp),
		zap.Int("products", len(view.Records)),
		zap.Int("changes", changes),
		zap.Bool("saved", view.SaveSuccess))
}
