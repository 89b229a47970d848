// Package sweeper settles expired deposit windows on a cron schedule. The
// ledger's read-time expiry check stays authoritative between runs; the
// sweep only flips the stored status so operator queues stay clean.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"earnhub/pkg/config"
	"earnhub/pkg/ledger"
	"earnhub/pkg/logger"
)

// Start launches the sweep scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.SweepConfig, led *ledger.Ledger) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("sweep_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = config.DefaultSweepCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("sweep_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid sweep cron expression: %s", cronExpr)
	}

	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, led)
	logger.Info("sweep_scheduler_started", "cron", cronExpr)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until
// then. Full cron syntax is supported.
func runScheduler(ctx context.Context, cronExpr string, led *ledger.Ledger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweep_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("sweep_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			logger.Info("sweep_scheduler_stopping")
			return
		case <-time.After(time.Until(next)):
		}

		n, err := led.ExpireDeposits()
		if err != nil {
			logger.Error("sweep_run_failed", "error", err)
			continue
		}
		if n > 0 {
			logger.Info("sweep_run_completed", "expired", n)
		}
	}
}
