package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/config"
	"github.com/alert-engine/internal/evaluate"
	"github.com/alert-engine/internal/feed"
	"github.com/alert-engine/internal/models"
	"github.com/alert-engine/internal/storage"
)

type fakeAlerts struct {
	mu           sync.Mutex
	due          []*storage.DueAlert
	observations []string
}

func (f *fakeAlerts) LoadDue(ctx context.Context, now time.Time, cooldowns config.CooldownConfig) ([]*storage.DueAlert, error) {
	return f.due, nil
}

func (f *fakeAlerts) UpdateObservation(ctx context.Context, alertID string, lastSeenValue *float64, txCursors map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observations = append(f.observations, alertID)
	return nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]*feed.Result
	fetched [][]feed.Resource
}

func (f *fakeFetcher) FetchBatch(ctx context.Context, resources []feed.Resource) *feed.Snapshot {
	f.mu.Lock()
	f.fetched = append(f.fetched, resources)
	f.mu.Unlock()

	out := make(map[string]*feed.Result)
	for _, r := range resources {
		if res, ok := f.results[r.Key()]; ok {
			out[r.Key()] = res
		} else {
			out[r.Key()] = &feed.Result{Err: alerterr.FeedUnavailable("price", nil)}
		}
	}
	return feed.NewSnapshot(out)
}

type fakeQuotas struct {
	mu        sync.Mutex
	exhausted map[int64]bool
	consumed  map[int64]int
}

func (f *fakeQuotas) CallExhausted(ctx context.Context, userID int64, tier models.UserTier) (bool, error) {
	return f.exhausted[userID], nil
}

func (f *fakeQuotas) ConsumeCalls(ctx context.Context, userID int64, tier models.UserTier, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumed == nil {
		f.consumed = make(map[int64]int)
	}
	f.consumed[userID] += n
	return nil
}

type dispatchCall struct {
	alertID string
	outcome models.EventOutcome
}

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []string
	recorded   []dispatchCall
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, da *storage.DueAlert, outcome *evaluate.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, da.Alert.ID)
	return nil
}

func (f *fakeDispatcher) RecordOutcome(ctx context.Context, alert *models.Alert, eventOutcome models.EventOutcome, summary string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, dispatchCall{alertID: alert.ID, outcome: eventOutcome})
}

type fakeUsers struct {
	mu       sync.Mutex
	apiCalls map[int64]int
}

func (f *fakeUsers) DemoteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeUsers) RecordAPICall(ctx context.Context, userID int64, calls int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.apiCalls == nil {
		f.apiCalls = make(map[int64]int)
	}
	f.apiCalls[userID] += calls
	return nil
}

type fakeSnapshots struct {
	mu       sync.Mutex
	recorded []*models.PortfolioSnapshot
}

func (f *fakeSnapshots) Record(ctx context.Context, snapshot *models.PortfolioSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, snapshot)
	return nil
}

func testSchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		TickInterval: time.Minute,
		TickDeadline: 45 * time.Second,
		Workers:      4,
	}
}

func priceDue(alertID string, userID int64, conditions string, lastSeen *float64) *storage.DueAlert {
	alert := models.Alert{
		ID:         alertID,
		UserID:     userID,
		Kind:       models.KindPrice,
		Conditions: json.RawMessage(conditions),
		IsActive:   true,
	}
	alert.LastSeenValue = lastSeen
	return &storage.DueAlert{Alert: alert, Tier: models.TierFree}
}

func f64(v float64) *float64 { return &v }

func newTestScheduler(alerts *fakeAlerts, fetcher *fakeFetcher, quotas *fakeQuotas, dispatcher *fakeDispatcher) (*Scheduler, *fakeUsers, *fakeSnapshots) {
	users := &fakeUsers{}
	snapshots := &fakeSnapshots{}
	if quotas.exhausted == nil {
		quotas.exhausted = make(map[int64]bool)
	}
	s := New(testSchedulerConfig(), alerts, fetcher, quotas, dispatcher, users, snapshots)
	return s, users, snapshots
}

func TestTick_SatisfiedAlertDispatches(t *testing.T) {
	alerts := &fakeAlerts{due: []*storage.DueAlert{
		priceDue("a1", 1, `{"token":"btc","direction":"above","threshold":100}`, f64(90)),
	}}
	fetcher := &fakeFetcher{results: map[string]*feed.Result{
		feed.PriceResource("btc").Key(): {Price: 110},
	}}
	dispatcher := &fakeDispatcher{}
	s, _, _ := newTestScheduler(alerts, fetcher, &fakeQuotas{}, dispatcher)

	s.Tick(context.Background())

	assert.Equal(t, []string{"a1"}, dispatcher.dispatched)
	assert.Empty(t, alerts.observations, "satisfied path commits through dispatch, not observation")

	stats := s.Stats()
	assert.Equal(t, 1, stats.LastDueCount)
	assert.Equal(t, 1, stats.LastDispatched)
}

func TestTick_UnsatisfiedAlertPersistsObservation(t *testing.T) {
	alerts := &fakeAlerts{due: []*storage.DueAlert{
		priceDue("a1", 1, `{"token":"btc","direction":"above","threshold":100}`, nil),
	}}
	fetcher := &fakeFetcher{results: map[string]*feed.Result{
		feed.PriceResource("btc").Key(): {Price: 110},
	}}
	dispatcher := &fakeDispatcher{}
	s, _, _ := newTestScheduler(alerts, fetcher, &fakeQuotas{}, dispatcher)

	s.Tick(context.Background())

	// First observation is a baseline, not a trigger.
	assert.Empty(t, dispatcher.dispatched)
	assert.Equal(t, []string{"a1"}, alerts.observations)
}

func TestTick_FeedUnavailableMutatesNothing(t *testing.T) {
	alerts := &fakeAlerts{due: []*storage.DueAlert{
		priceDue("a1", 1, `{"token":"btc","direction":"above","threshold":100}`, f64(90)),
	}}
	// Fetcher has no result for btc: every lookup fails.
	fetcher := &fakeFetcher{results: map[string]*feed.Result{}}
	dispatcher := &fakeDispatcher{}
	quotas := &fakeQuotas{}
	s, users, _ := newTestScheduler(alerts, fetcher, quotas, dispatcher)

	s.Tick(context.Background())

	assert.Empty(t, dispatcher.dispatched)
	assert.Empty(t, alerts.observations)
	// A failed fetch spends no quota.
	assert.Empty(t, quotas.consumed)
	assert.Empty(t, users.apiCalls)

	require.Len(t, dispatcher.recorded, 1)
	assert.Equal(t, models.OutcomeSkippedFeed, dispatcher.recorded[0].outcome)
	assert.Equal(t, 1, s.Stats().LastSkippedFeed)
}

func TestTick_QuotaExhaustedUserSkippedBeforeFetch(t *testing.T) {
	alerts := &fakeAlerts{due: []*storage.DueAlert{
		priceDue("a1", 1, `{"token":"btc","direction":"above","threshold":100}`, f64(90)),
		priceDue("a2", 2, `{"token":"eth","direction":"above","threshold":50}`, f64(40)),
	}}
	fetcher := &fakeFetcher{results: map[string]*feed.Result{
		feed.PriceResource("btc").Key(): {Price: 110},
		feed.PriceResource("eth").Key(): {Price: 60},
	}}
	dispatcher := &fakeDispatcher{}
	quotas := &fakeQuotas{exhausted: map[int64]bool{1: true}}
	s, _, _ := newTestScheduler(alerts, fetcher, quotas, dispatcher)

	s.Tick(context.Background())

	// User 1's alert is skipped; no resource for btc was even requested.
	assert.Equal(t, []string{"a2"}, dispatcher.dispatched)
	require.Len(t, fetcher.fetched, 1)
	for _, r := range fetcher.fetched[0] {
		assert.NotEqual(t, "btc", r.Token)
	}

	require.Len(t, dispatcher.recorded, 1)
	assert.Equal(t, "a1", dispatcher.recorded[0].alertID)
	assert.Equal(t, models.OutcomeSkippedQuota, dispatcher.recorded[0].outcome)
}

func TestTick_MalformedConditionsRecorded(t *testing.T) {
	alerts := &fakeAlerts{due: []*storage.DueAlert{
		priceDue("bad", 1, `{"token":"","direction":"sideways"}`, nil),
	}}
	fetcher := &fakeFetcher{results: map[string]*feed.Result{}}
	dispatcher := &fakeDispatcher{}
	s, _, _ := newTestScheduler(alerts, fetcher, &fakeQuotas{}, dispatcher)

	s.Tick(context.Background())

	require.Len(t, dispatcher.recorded, 1)
	assert.Equal(t, models.OutcomeMalformed, dispatcher.recorded[0].outcome)
	assert.Empty(t, fetcher.fetched[0], "malformed alerts request no resources")
	assert.Equal(t, 1, s.Stats().LastMalformed)
}

func TestTick_FreshFetchChargesOneCallPerAlert(t *testing.T) {
	alerts := &fakeAlerts{due: []*storage.DueAlert{
		priceDue("a1", 1, `{"token":"btc","direction":"above","threshold":100}`, f64(90)),
		priceDue("a2", 1, `{"token":"eth","direction":"above","threshold":50}`, f64(60)),
		priceDue("a3", 2, `{"token":"btc","direction":"below","threshold":100}`, f64(90)),
	}}
	fetcher := &fakeFetcher{results: map[string]*feed.Result{
		feed.PriceResource("btc").Key(): {Price: 110},
		feed.PriceResource("eth").Key(): {Price: 60},
	}}
	quotas := &fakeQuotas{}
	s, users, _ := newTestScheduler(alerts, fetcher, quotas, &fakeDispatcher{})

	s.Tick(context.Background())

	assert.Equal(t, 2, quotas.consumed[1], "user 1 has two alerts with fresh fetches")
	assert.Equal(t, 1, quotas.consumed[2])
	assert.Equal(t, 2, users.apiCalls[1])
}

func TestTick_CacheHitsAreFree(t *testing.T) {
	alerts := &fakeAlerts{due: []*storage.DueAlert{
		priceDue("a1", 1, `{"token":"btc","direction":"above","threshold":100}`, f64(90)),
	}}
	fetcher := &fakeFetcher{results: map[string]*feed.Result{
		feed.PriceResource("btc").Key(): {Price: 110, FromCache: true},
	}}
	quotas := &fakeQuotas{}
	s, users, _ := newTestScheduler(alerts, fetcher, quotas, &fakeDispatcher{})

	s.Tick(context.Background())

	assert.Empty(t, quotas.consumed)
	assert.Empty(t, users.apiCalls)
}

func TestClaim_AlertAlreadyInFlightIsDropped(t *testing.T) {
	s, _, _ := newTestScheduler(&fakeAlerts{}, &fakeFetcher{}, &fakeQuotas{}, &fakeDispatcher{})

	first := priceDue("a1", 1, `{}`, nil)
	second := priceDue("a1", 1, `{}`, nil)
	other := priceDue("a2", 1, `{}`, nil)

	claimed := s.claim([]*storage.DueAlert{first})
	require.Len(t, claimed, 1)

	// A second tick sees the same alert still in flight and skips it.
	claimed2 := s.claim([]*storage.DueAlert{second, other})
	require.Len(t, claimed2, 1)
	assert.Equal(t, "a2", claimed2[0].Alert.ID)

	s.release(claimed)
	claimed3 := s.claim([]*storage.DueAlert{priceDue("a1", 1, `{}`, nil)})
	assert.Len(t, claimed3, 1)
}

func TestTick_PortfolioSnapshotRecordedOnFreshValuation(t *testing.T) {
	alert := models.Alert{
		ID:         "pv1",
		UserID:     1,
		Kind:       models.KindPortfolioValue,
		Conditions: json.RawMessage(`{"direction":"below","threshold":5000}`),
		Target:     models.PortfolioTarget("pf-1"),
		IsActive:   true,
	}
	links := []models.ChainAddress{{Address: "0xabc", Chain: "eth"}}
	alerts := &fakeAlerts{due: []*storage.DueAlert{
		{Alert: alert, Tier: models.TierFree, PortfolioLinks: links},
	}}
	fetcher := &fakeFetcher{results: map[string]*feed.Result{
		feed.ValuationResource("pf-1", links).Key(): {Value: 7000},
	}}
	s, _, snapshots := newTestScheduler(alerts, fetcher, &fakeQuotas{}, &fakeDispatcher{})

	s.Tick(context.Background())

	require.Len(t, snapshots.recorded, 1)
	assert.Equal(t, "pf-1", snapshots.recorded[0].PortfolioID)
	assert.Equal(t, 7000.0, snapshots.recorded[0].TotalValue)
}
