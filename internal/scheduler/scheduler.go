package scheduler

import (
	"context"
	"time"

	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/services"
)

// Scheduler ticks the automatic-start check. The last check time lives in
// memory: after a restart the first tick re-examines a slightly larger window
// and the chain lock absorbs any overlap.
type Scheduler struct {
	log      *logger.Logger
	run      *services.RunService
	interval time.Duration
}

func New(baseLog *logger.Logger, run *services.RunService, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		log:      baseLog.With("component", "Scheduler"),
		run:      run,
		interval: interval,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		lastCheck := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				started, err := s.run.StartAutomaticChains(ctx, lastCheck, now)
				if err != nil {
					s.log.Error("Automatic start tick failed", "error", err)
				}
				if started > 0 {
					s.log.Info("Started automatic chains", "count", started)
				}
				lastCheck = now
			}
		}
	}()
}
