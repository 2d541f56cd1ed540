package main

import (
	"context"
	"log/slog"
	"time"

	"florist/internal/usecase"
)

// interval ごとに Tick。前の Tick が終わるまで次は始めない
func runScheduler(ctx context.Context, subs *usecase.SubscriptionUsecase, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("scheduler started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-ticker.C:
			if _, err := subs.Tick(ctx); err != nil && ctx.Err() == nil {
				log.Error("scheduler tick failed", slog.Any("error", err))
			}
		}
	}
}
