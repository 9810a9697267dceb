package service

import (
	"context"
	"log"
	"time"
)

// RetentionJanitor runs the ledger's cleanup once per day at the 00:00
// UTC boundary. A failed run is logged and abandoned until the next
// boundary — no mid-cycle retries, since one day of extra growth is
// operationally harmless.
//
// A retention of 0 disables the janitor entirely.
type RetentionJanitor struct {
	ledger        *Ledger
	retentionDays int
	logger        *log.Logger
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewRetentionJanitor creates a janitor but does not start it.
// Call Start to begin the background loop.
func NewRetentionJanitor(l *Ledger, retentionDays int, logger *log.Logger) *RetentionJanitor {
	return &RetentionJanitor{
		ledger:        l,
		retentionDays: retentionDays,
		logger:        logger,
		done:          make(chan struct{}),
	}
}

// Start begins the background loop. It runs an immediate catch-up pass
// (cleanup is idempotent, so this is safe after a restart), then fires at
// each UTC midnight. The loop exits when ctx is cancelled or Stop is
// called.
func (j *RetentionJanitor) Start(ctx context.Context) {
	if j.retentionDays <= 0 {
		j.logger.Printf("retention janitor disabled (retention=0)")
		close(j.done)
		return
	}

	ctx, j.cancel = context.WithCancel(ctx)

	go j.loop(ctx)

	j.logger.Printf("retention janitor started (retention=%dd, daily at 00:00 UTC)", j.retentionDays)
}

// Stop signals the janitor to exit and waits for it to finish.
func (j *RetentionJanitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	<-j.done
}

func (j *RetentionJanitor) loop(ctx context.Context) {
	defer close(j.done)

	j.runOnce(ctx)

	for {
		timer := time.NewTimer(time.Until(nextMidnightUTC(time.Now().UTC())))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.runOnce(ctx)
		}
	}
}

func (j *RetentionJanitor) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	purged, err := j.ledger.Cleanup(runCtx, j.retentionDays)
	if err != nil {
		j.logger.Printf("retention cleanup error: %v", err)
		return
	}
	if purged > 0 {
		j.logger.Printf("retention cleanup: purged %d events older than %d days", purged, j.retentionDays)
	}
}

// nextMidnightUTC returns the first 00:00 UTC strictly after now.
func nextMidnightUTC(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return next
}
