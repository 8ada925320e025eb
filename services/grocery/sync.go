package grocery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"matkollen-backend/lib/scrapers/willys"
)

type SyncConfig struct {
	// 0 disables the daemon
	Interval time.Duration `json:"-"`
	// goroutines syncing identities concurrently, defaults to 4
	Workers int `json:"workers"`
	// window per pass, defaults to 1
	MonthsBack int `json:"months_back"`
}

func (s Service) syncDaemon(ctx context.Context) {
	slog.InfoContext(ctx, "start daemon",
		"task", "sync receipts for all stored identities",
		"interval", s.sync.Interval)

	ticker := time.NewTicker(s.sync.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.SyncAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

type SyncReport struct {
	Synced int      `json:"synced"`
	Failed []string `json:"failed,omitempty"`
}

// SyncAll fetches recent receipts for every identity with a stored
// session. Identities run through a fixed-size worker pool so a large
// user base can't stampede the portal.
func (s Service) SyncAll(ctx context.Context) SyncReport {
	ctx, span := tracer.Start(ctx, "SyncAll")
	defer span.End()

	identities, err := s.store.Identities(ctx)
	if err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "failed to list identities for sync", "err", err)
		return SyncReport{}
	}

	workers := s.sync.Workers
	if workers <= 0 {
		workers = 4
	}

	var mu sync.Mutex
	var report SyncReport

	jobs := make(chan string)
	wg := sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for identity := range jobs {
				err := s.syncIdentity(ctx, identity)
				mu.Lock()
				if err != nil {
					report.Failed = append(report.Failed, identity)
				} else {
					report.Synced++
				}
				mu.Unlock()
			}
		}()
	}

	for _, identity := range identities {
		jobs <- identity
	}
	close(jobs)
	wg.Wait()

	slog.InfoContext(ctx, "sync pass complete",
		"synced", report.Synced, "failed", len(report.Failed))
	return report
}

func (s Service) syncIdentity(ctx context.Context, identity string) error {
	_, err := s.ProbeSession(ctx, identity)
	if errors.Is(err, willys.ErrSessionMissing) {
		syncFailures.Add(ctx, 1)
		slog.WarnContext(ctx, "stored session no longer authenticates",
			"identity", identity)
		if s.smtp.enabled() {
			notifyErr := s.notifySessionExpired(ctx, identity)
			if notifyErr != nil {
				slog.WarnContext(ctx, "failed to send expiry notification",
					"identity", identity, "err", notifyErr)
			}
		}
		return err
	}
	if err != nil {
		syncFailures.Add(ctx, 1)
		return err
	}

	months := s.sync.MonthsBack
	if months <= 0 {
		months = 1
	}
	_, err = s.FetchReceiptsWithContent(ctx, FetchRequest{
		Identity:      identity,
		DestinationId: identity,
		MonthsBack:    months,
	})
	if err != nil {
		syncFailures.Add(ctx, 1)
	}
	return err
}
