package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dotsetgreg/wakegate/pkg/config"
	"github.com/dotsetgreg/wakegate/pkg/logger"
	"github.com/dotsetgreg/wakegate/pkg/state"
	"github.com/dotsetgreg/wakegate/pkg/topics"
)

const topTopicCount = 10

// Scheduler periodically logs a diagnostics snapshot of the wake engine:
// the currently weighted topics and per-group member/mute counts. The
// schedule is a standard cron expression checked once per minute.
type Scheduler struct {
	cfg    config.MaintenanceConfig
	gron   *gronx.Gronx
	store  *state.Store
	topics *topics.Cache

	// Now is injectable for tests.
	Now func() time.Time
}

func NewScheduler(cfg config.MaintenanceConfig, store *state.Store, cache *topics.Cache) (*Scheduler, error) {
	s := &Scheduler{
		cfg:    cfg,
		gron:   gronx.New(),
		store:  store,
		topics: cache,
		Now:    time.Now,
	}
	if cfg.Enabled && !s.gron.IsValid(cfg.CronExpr) {
		return nil, fmt.Errorf("invalid maintenance cron expression %q", cfg.CronExpr)
	}
	return s, nil
}

// Run blocks until ctx is cancelled, firing the snapshot whenever the cron
// expression is due. Ticks on minute granularity, matching cron resolution.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		logger.DebugC("maintenance", "Maintenance disabled")
		return
	}
	logger.InfoCF("maintenance", "Maintenance scheduler started", map[string]any{
		"cron": s.cfg.CronExpr,
	})

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("maintenance", "Maintenance scheduler stopped")
			return
		case <-ticker.C:
			due, err := s.gron.IsDue(s.cfg.CronExpr, s.Now())
			if err != nil {
				logger.WarnCF("maintenance", "Cron evaluation failed", map[string]any{
					"error": err.Error(),
				})
				continue
			}
			if due {
				s.Snapshot()
			}
		}
	}
}

// Snapshot logs one diagnostics pass. Exported so the status command can
// trigger it on demand.
func (s *Scheduler) Snapshot() {
	now := s.Now()

	var tokens []string
	for _, topic := range s.topics.TopTopics(topTopicCount) {
		tokens = append(tokens, fmt.Sprintf("%s:%.2f", topic.Token, topic.Weight))
	}

	groups := s.store.Snapshot()
	var members, muted int
	for _, g := range groups {
		members += len(g.Members)
		for _, m := range g.Members {
			if m.SilenceUntil.After(now) {
				muted++
			}
		}
	}

	logger.InfoCF("maintenance", "Engine snapshot", map[string]any{
		"groups":  len(groups),
		"members": members,
		"muted":   muted,
		"topics":  tokens,
	})
}
