// Package scheduler drives the periodic evaluation loop: load due alerts,
// fetch the feed data they need, evaluate conditions, and dispatch
// notifications for the satisfied ones.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/config"
	"github.com/alert-engine/internal/evaluate"
	"github.com/alert-engine/internal/feed"
	"github.com/alert-engine/internal/logging"
	"github.com/alert-engine/internal/metrics"
	"github.com/alert-engine/internal/models"
	"github.com/alert-engine/internal/storage"
)

// AlertSource loads due alerts and persists non-trigger observation state.
// Satisfied by storage.AlertRepository.
type AlertSource interface {
	LoadDue(ctx context.Context, now time.Time, cooldowns config.CooldownConfig) ([]*storage.DueAlert, error)
	UpdateObservation(ctx context.Context, alertID string, lastSeenValue *float64, txCursors map[string]string) error
}

// Fetcher resolves resources into a per-tick snapshot. Satisfied by
// feed.Client.
type Fetcher interface {
	FetchBatch(ctx context.Context, resources []feed.Resource) *feed.Snapshot
}

// QuotaKeeper tracks daily feed call spend per user. Satisfied by
// quota.Manager.
type QuotaKeeper interface {
	CallExhausted(ctx context.Context, userID int64, tier models.UserTier) (bool, error)
	ConsumeCalls(ctx context.Context, userID int64, tier models.UserTier, n int) error
}

// Dispatcher sends notifications and records outcome history. Satisfied by
// dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, da *storage.DueAlert, outcome *evaluate.Outcome) error
	RecordOutcome(ctx context.Context, alert *models.Alert, eventOutcome models.EventOutcome, summary string)
}

// UserMaintenance covers the per-tick housekeeping on users. Satisfied by
// storage.UserRepository.
type UserMaintenance interface {
	DemoteExpired(ctx context.Context, now time.Time) (int64, error)
	RecordAPICall(ctx context.Context, userID int64, calls int) error
}

// SnapshotSink records portfolio valuations observed during evaluation.
// Satisfied by storage.SnapshotRepository.
type SnapshotSink interface {
	Record(ctx context.Context, snapshot *models.PortfolioSnapshot) error
}

// Stats is a snapshot of the scheduler's last tick for the ops surface.
type Stats struct {
	LastTickAt       time.Time     `json:"lastTickAt"`
	LastTickDuration time.Duration `json:"lastTickDuration"`
	LastDueCount     int           `json:"lastDueCount"`
	LastDispatched   int           `json:"lastDispatched"`
	LastSkippedFeed  int           `json:"lastSkippedFeed"`
	LastSkippedQuota int           `json:"lastSkippedQuota"`
	LastMalformed    int           `json:"lastMalformed"`
	TicksCompleted   uint64        `json:"ticksCompleted"`
}

// Scheduler runs the tick loop.
type Scheduler struct {
	cfg        config.SchedulerConfig
	alerts     AlertSource
	fetcher    Fetcher
	quotas     QuotaKeeper
	dispatcher Dispatcher
	users      UserMaintenance
	snapshots  SnapshotSink
	evaluator  *evaluate.Evaluator
	now        func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
	stats    Stats
}

// New creates a scheduler.
func New(cfg config.SchedulerConfig, alerts AlertSource, fetcher Fetcher, quotas QuotaKeeper, dispatcher Dispatcher, users UserMaintenance, snapshots SnapshotSink) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		alerts:     alerts,
		fetcher:    fetcher,
		quotas:     quotas,
		dispatcher: dispatcher,
		users:      users,
		snapshots:  snapshots,
		evaluator:  evaluate.New(),
		now:        func() time.Time { return time.Now().UTC() },
		inFlight:   make(map[string]bool),
	}
}

// SetNow overrides the clock. Tests only.
func (s *Scheduler) SetNow(now func() time.Time) {
	s.now = now
}

// Stats returns a snapshot of the last tick.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run executes ticks until the context ends. The first tick fires
// immediately; later ones on the configured interval. A tick that overruns
// the interval delays the next one rather than overlapping it.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	logging.WithFields(map[string]interface{}{
		"interval": s.cfg.TickInterval.String(),
		"deadline": s.cfg.TickDeadline.String(),
		"workers":  s.cfg.Workers,
	}).Info("scheduler started")

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			logging.L().Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// plannedAlert pairs a due alert with the resources it needs this tick.
type plannedAlert struct {
	due       *storage.DueAlert
	resources []feed.Resource
}

// Tick runs one full evaluation pass. Exported so tests drive ticks
// directly.
func (s *Scheduler) Tick(ctx context.Context) {
	started := s.now()
	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.TickDeadline)
	defer cancel()

	logger := logging.WithField("tick", started.Format(time.RFC3339))
	tickCtx = logging.WithLogger(tickCtx, logger)

	var tickStats Stats

	if demoted, err := s.users.DemoteExpired(tickCtx, started); err != nil {
		logger.WithError(err).Warn("premium expiry sweep failed")
	} else if demoted > 0 {
		logger.WithField("count", demoted).Info("demoted expired premium users")
	}

	due, err := s.alerts.LoadDue(tickCtx, started, s.cfg.Cooldowns)
	if err != nil {
		logger.WithError(err).Error("failed to load due alerts, skipping tick")
		return
	}
	tickStats.LastDueCount = len(due)

	due = s.claim(due)
	defer s.release(due)

	planned, skippedQuota, malformed := s.plan(tickCtx, due)
	tickStats.LastSkippedQuota = skippedQuota
	tickStats.LastMalformed = malformed

	snapshot := s.fetcher.FetchBatch(tickCtx, collectResources(planned))

	dispatched, skippedFeed := s.evaluateAll(tickCtx, planned, snapshot)
	tickStats.LastDispatched = dispatched
	tickStats.LastSkippedFeed = skippedFeed

	s.settleQuotas(tickCtx, planned, snapshot)

	elapsed := s.now().Sub(started)
	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(elapsed.Seconds())

	s.mu.Lock()
	tickStats.TicksCompleted = s.stats.TicksCompleted + 1
	tickStats.LastTickAt = started
	tickStats.LastTickDuration = elapsed
	s.stats = tickStats
	s.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"due":          tickStats.LastDueCount,
		"dispatched":   dispatched,
		"skippedFeed":  skippedFeed,
		"skippedQuota": skippedQuota,
		"malformed":    malformed,
		"elapsed":      elapsed.String(),
	}).Info("tick completed")
}

// claim marks alerts in flight, dropping any still being processed by a
// previous overrunning tick.
func (s *Scheduler) claim(due []*storage.DueAlert) []*storage.DueAlert {
	s.mu.Lock()
	defer s.mu.Unlock()

	claimed := due[:0]
	for _, da := range due {
		if s.inFlight[da.Alert.ID] {
			continue
		}
		s.inFlight[da.Alert.ID] = true
		claimed = append(claimed, da)
	}
	return claimed
}

func (s *Scheduler) release(due []*storage.DueAlert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, da := range due {
		delete(s.inFlight, da.Alert.ID)
	}
}

// plan resolves each claimed alert into feed resources, recording quota
// skips and malformed conditions as observable outcomes instead of
// evaluating them.
func (s *Scheduler) plan(ctx context.Context, due []*storage.DueAlert) (planned []plannedAlert, skippedQuota, malformed int) {
	logger := logging.FromContext(ctx)
	exhausted := make(map[int64]bool)

	for _, da := range due {
		userDone, seen := exhausted[da.Alert.UserID]
		if !seen {
			var err error
			userDone, err = s.quotas.CallExhausted(ctx, da.Alert.UserID, da.Tier)
			if err != nil {
				logger.WithError(err).Warn("quota check failed, evaluating anyway")
				userDone = false
			}
			exhausted[da.Alert.UserID] = userDone
		}
		if userDone {
			skippedQuota++
			metrics.QuotaSkips.Inc()
			metrics.AlertsEvaluated.WithLabelValues(string(da.Alert.Kind), "skipped_quota").Inc()
			s.dispatcher.RecordOutcome(ctx, &da.Alert, models.OutcomeSkippedQuota, "daily call quota exhausted")
			continue
		}

		resources, err := s.evaluator.PlanResources(da)
		if err != nil {
			malformed++
			metrics.AlertsEvaluated.WithLabelValues(string(da.Alert.Kind), "malformed").Inc()
			logger.WithError(err).WithField("alertId", da.Alert.ID).Warn("alert conditions did not parse")
			s.dispatcher.RecordOutcome(ctx, &da.Alert, models.OutcomeMalformed, err.Error())
			continue
		}

		planned = append(planned, plannedAlert{due: da, resources: resources})
	}
	return planned, skippedQuota, malformed
}

func collectResources(planned []plannedAlert) []feed.Resource {
	var resources []feed.Resource
	for _, p := range planned {
		resources = append(resources, p.resources...)
	}
	return resources
}

// evaluateAll runs condition evaluation over a bounded worker pool.
func (s *Scheduler) evaluateAll(ctx context.Context, planned []plannedAlert, snapshot *feed.Snapshot) (dispatched, skippedFeed int) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.cfg.Workers)

	for _, p := range planned {
		wg.Add(1)
		sem <- struct{}{}
		go func(p plannedAlert) {
			defer wg.Done()
			defer func() { <-sem }()

			ok, skipped := s.evaluateOne(ctx, p, snapshot)
			mu.Lock()
			if ok {
				dispatched++
			}
			if skipped {
				skippedFeed++
			}
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return dispatched, skippedFeed
}

// evaluateOne evaluates a single alert and applies the resulting state
// change: dispatch on satisfied, observation update on not satisfied, no
// mutation at all when the feed data was unavailable.
func (s *Scheduler) evaluateOne(ctx context.Context, p plannedAlert, snapshot *feed.Snapshot) (dispatched, skippedFeed bool) {
	da := p.due
	logger := logging.FromContext(ctx).WithField("alertId", da.Alert.ID)
	kind := string(da.Alert.Kind)

	outcome, err := s.evaluator.Evaluate(da, snapshot)
	if err != nil {
		metrics.AlertsEvaluated.WithLabelValues(kind, "skipped_feed").Inc()
		if !alerterr.IsFeedUnavailable(err) && !alerterr.IsThrottled(err) {
			logger.WithError(err).Warn("evaluation failed")
		}
		s.dispatcher.RecordOutcome(ctx, &da.Alert, models.OutcomeSkippedFeed, err.Error())
		return false, true
	}

	s.maybeSnapshot(ctx, da, outcome, snapshot)

	if outcome.Satisfied {
		metrics.AlertsEvaluated.WithLabelValues(kind, "satisfied").Inc()
		if err := s.dispatcher.Dispatch(ctx, da, outcome); err != nil {
			logger.WithError(err).Warn("dispatch failed")
			return false, false
		}
		return true, false
	}

	metrics.AlertsEvaluated.WithLabelValues(kind, "unsatisfied").Inc()
	if outcome.NewLastSeen != nil || outcome.NextCursors != nil {
		if err := s.alerts.UpdateObservation(ctx, da.Alert.ID, outcome.NewLastSeen, outcome.NextCursors); err != nil {
			logger.WithError(err).Warn("failed to persist observation state")
		}
	}
	return false, false
}

// maybeSnapshot records a portfolio valuation history row when the value
// came from a fresh fetch this tick.
func (s *Scheduler) maybeSnapshot(ctx context.Context, da *storage.DueAlert, outcome *evaluate.Outcome, snapshot *feed.Snapshot) {
	if da.Alert.Kind != models.KindPortfolioValue || outcome.Value == nil {
		return
	}
	portfolioID, ok := da.Alert.Target.PortfolioID()
	if !ok {
		return
	}
	if res, found := snapshot.Lookup(feed.ValuationResource(portfolioID, da.PortfolioLinks)); !found || res.FromCache {
		return
	}

	err := s.snapshots.Record(ctx, &models.PortfolioSnapshot{
		UserID:      da.Alert.UserID,
		PortfolioID: portfolioID,
		TotalValue:  *outcome.Value,
		TakenAt:     s.now(),
	})
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("failed to record portfolio snapshot")
	}
}

// settleQuotas charges each user one call per alert whose resources
// included at least one fresh (non-cache) fetch. Cache hits are free.
func (s *Scheduler) settleQuotas(ctx context.Context, planned []plannedAlert, snapshot *feed.Snapshot) {
	logger := logging.FromContext(ctx)

	type userSpend struct {
		tier  models.UserTier
		calls int
	}
	spend := make(map[int64]*userSpend)

	for _, p := range planned {
		fresh := false
		for _, r := range p.resources {
			if res, ok := snapshot.Lookup(r); ok && res.Err == nil && !res.FromCache {
				fresh = true
				break
			}
		}
		if !fresh {
			continue
		}
		us := spend[p.due.Alert.UserID]
		if us == nil {
			us = &userSpend{tier: p.due.Tier}
			spend[p.due.Alert.UserID] = us
		}
		us.calls++
	}

	for userID, us := range spend {
		if err := s.quotas.ConsumeCalls(ctx, userID, us.tier, us.calls); err != nil {
			if !alerterr.IsQuotaExceeded(err) {
				logger.WithError(err).Warn("failed to settle call quota")
			}
			continue
		}
		if err := s.users.RecordAPICall(ctx, userID, us.calls); err != nil {
			logger.WithError(err).Warn("failed to record api call count")
		}
	}
}
