package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wabot/internal/domain"
)

const (
	rentalTick       = 5 * time.Minute
	reminderWindow   = 24 * time.Hour
	reminderInterval = 12 * time.Hour
	forcedLeaveDelay = 1 * time.Hour
)

// RentalLoop periodically sweeps group rentals: it reminds groups whose
// rental is about to lapse, deactivates expired ones, and schedules the
// bot's delayed departure from groups that stay unpaid.
type RentalLoop struct {
	store     domain.Store
	transport domain.Transport
	sched     *Scheduler
	logger    *slog.Logger
	botID     string
}

func NewRentalLoop(store domain.Store, transport domain.Transport, sched *Scheduler, botID string, logger *slog.Logger) *RentalLoop {
	return &RentalLoop{
		store:     store,
		transport: transport,
		sched:     sched,
		logger:    logger,
		botID:     botID,
	}
}

// Start runs the sweep until ctx is cancelled.
func (l *RentalLoop) Start(ctx context.Context) {
	l.logger.Info("rental reconciliation started", "interval", rentalTick.String())
	ticker := time.NewTicker(rentalTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("rental reconciliation stopping")
			return
		case now := <-ticker.C:
			l.RunOnce(ctx, now)
		}
	}
}

// RunOnce performs a single sweep at the given instant. Errors on one
// group never abort the pass for the rest.
func (l *RentalLoop) RunOnce(ctx context.Context, now time.Time) {
	groups, err := l.store.Groups(ctx)
	if err != nil {
		l.logger.Error("rental sweep: listing groups failed", "error", err)
		return
	}

	for i := range groups {
		g := groups[i]
		if !g.Rental.Active || g.Rental.EndsAt.IsZero() {
			continue
		}
		if now.After(g.Rental.EndsAt) {
			l.expire(ctx, &g, now)
			continue
		}
		if g.Rental.EndsAt.Sub(now) <= reminderWindow {
			l.remind(ctx, &g, now)
		}
	}
}

// expire deactivates the rental, notifies the group, and queues the
// bot's departure one hour out.
func (l *RentalLoop) expire(ctx context.Context, g *domain.GroupRecord, now time.Time) {
	g.Rental.Active = false
	g.UpdatedAt = now
	if err := l.store.PutGroup(ctx, g); err != nil {
		l.logger.Error("rental sweep: deactivating rental failed", "group", g.ID, "error", err)
		return
	}
	l.logger.Info("rental expired", "group", g.ID, "ended_at", g.Rental.EndsAt.Format(time.RFC3339))

	text := "⏳ This group's bot rental has expired. Renew to keep using commands; the bot will leave in 1 hour otherwise."
	if err := l.transport.Send(ctx, g.ID, domain.OutboundContent{Text: text}, nil); err != nil {
		l.logger.Warn("rental sweep: expiry notice failed", "group", g.ID, "error", err)
	}

	groupID := g.ID
	l.sched.Schedule("rental-forced-leave:"+groupID, forcedLeaveDelay, func(taskCtx context.Context) {
		l.forcedLeave(taskCtx, groupID)
	})
}

// forcedLeave re-reads the group before acting: a renewal during the
// grace hour cancels the departure.
func (l *RentalLoop) forcedLeave(ctx context.Context, groupID string) {
	g, err := l.store.Group(ctx, groupID)
	if err != nil {
		l.logger.Error("forced leave: reading group failed", "group", groupID, "error", err)
		return
	}
	if g.Rental.Active {
		l.logger.Info("forced leave skipped, rental renewed", "group", groupID)
		return
	}
	if err := l.transport.Send(ctx, groupID, domain.OutboundContent{Text: "👋 Rental not renewed, leaving the group. Thanks for using the bot!"}, nil); err != nil {
		l.logger.Warn("forced leave: farewell failed", "group", groupID, "error", err)
	}
	if err := l.transport.Remove(ctx, groupID, l.botID); err != nil {
		l.logger.Error("forced leave: leaving group failed", "group", groupID, "error", err)
		return
	}
	l.logger.Info("left group after rental lapse", "group", groupID)
}

// remind sends at most one expiry reminder per reminderInterval while
// the rental is inside the pre-expiry window.
func (l *RentalLoop) remind(ctx context.Context, g *domain.GroupRecord, now time.Time) {
	if !g.Rental.LastReminderAt.IsZero() && now.Sub(g.Rental.LastReminderAt) < reminderInterval {
		return
	}
	left := g.Rental.EndsAt.Sub(now).Round(time.Minute)
	text := fmt.Sprintf("⏰ Heads up: this group's bot rental expires in %s. Renew to avoid interruption.", left)
	if err := l.transport.Send(ctx, g.ID, domain.OutboundContent{Text: text}, nil); err != nil {
		l.logger.Warn("rental sweep: reminder failed", "group", g.ID, "error", err)
		return
	}
	g.Rental.LastReminderAt = now
	g.UpdatedAt = now
	if err := l.store.PutGroup(ctx, g); err != nil {
		l.logger.Error("rental sweep: persisting reminder timestamp failed", "group", g.ID, "error", err)
	}
}
