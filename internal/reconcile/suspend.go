package reconcile

import (
	"context"
	"log/slog"
	"time"

	"wabot/internal/domain"
)

const (
	suspendTick  = 24 * time.Hour
	suspendGrace = 30 * 24 * time.Hour
)

// SuspendLoop auto-suspends provisioned resources whose expiry is more
// than the grace window in the past. Suspension is one-way here;
// reactivation is an operator action.
type SuspendLoop struct {
	store  domain.Store
	logger *slog.Logger
}

func NewSuspendLoop(store domain.Store, logger *slog.Logger) *SuspendLoop {
	return &SuspendLoop{store: store, logger: logger}
}

// Start runs the sweep until ctx is cancelled. One pass runs
// immediately so a restart never waits a full day.
func (l *SuspendLoop) Start(ctx context.Context) {
	l.logger.Info("resource suspension loop started", "interval", suspendTick.String())
	l.RunOnce(ctx, time.Now())

	ticker := time.NewTicker(suspendTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("resource suspension loop stopping")
			return
		case now := <-ticker.C:
			l.RunOnce(ctx, now)
		}
	}
}

// RunOnce performs a single suspension pass at the given instant.
func (l *SuspendLoop) RunOnce(ctx context.Context, now time.Time) {
	resources, err := l.store.Resources(ctx)
	if err != nil {
		l.logger.Error("suspension sweep: listing resources failed", "error", err)
		return
	}

	for i := range resources {
		r := resources[i]
		if r.Suspended || r.ExpiresAt.IsZero() {
			continue
		}
		if now.Sub(r.ExpiresAt) <= suspendGrace {
			continue
		}
		r.Suspended = true
		r.SuspendedAt = now
		r.SuspendReason = "expired beyond grace window"
		if err := l.store.PutResource(ctx, &r); err != nil {
			l.logger.Error("suspension sweep: persisting suspension failed", "resource", r.ID, "error", err)
			continue
		}
		l.logger.Info("resource suspended", "resource", r.ID, "owner", r.Owner, "expired_at", r.ExpiresAt.Format(time.RFC3339))
	}
}
