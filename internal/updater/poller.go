package updater

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/BetterStackHQ/collector/pkg/errors"
)

// Poller drives Client.Ping on a fixed interval. Authentication failures
// terminate the loop; every other error is recorded and the loop carries on.
type Poller struct {
	client   *Client
	interval time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewPoller returns a Poller pinging at the given interval.
func NewPoller(client *Client, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		client:   client,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		logger:   logger,
	}
}

// Run pings immediately and then on every interval tick until ctx is
// cancelled. It returns a non-nil error only for authentication failures,
// which the caller must treat as fatal.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.tick(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (p *Poller) tick(ctx context.Context) error {
	// A wakeup inside the minimum interval is a no-op, not a queued ping.
	if !p.limiter.Allow() {
		return nil
	}

	err := p.client.Ping(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.IsFatal(err) {
		p.logger.Error("control plane rejected collector credentials", "error", err)
		return err
	}

	p.logger.Warn("ping cycle failed", "error", err)
	if recErr := p.client.Record().Set(err.Error()); recErr != nil {
		p.logger.Warn("writing error record failed", "error", recErr)
	}
	return nil
}
