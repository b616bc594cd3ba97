package evaluate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/feed"
	"github.com/alert-engine/internal/models"
	"github.com/alert-engine/internal/storage"
)

func priceDue(t *testing.T, conditions string, lastSeen *float64) *storage.DueAlert {
	t.Helper()
	alert := models.NewPriceAlert(1, json.RawMessage(conditions))
	alert.ID = "alert-1"
	alert.LastSeenValue = lastSeen
	return &storage.DueAlert{Alert: *alert, Tier: models.TierFree}
}

func priceSnapshot(token string, price float64) *feed.Snapshot {
	r := feed.PriceResource(token)
	return feed.NewSnapshot(map[string]*feed.Result{r.Key(): {Price: price}})
}

func f64(v float64) *float64 { return &v }

func TestEvaluatePrice_FirstObservationOnlyRecordsBaseline(t *testing.T) {
	e := New()
	da := priceDue(t, `{"token":"btc","direction":"above","threshold":100}`, nil)

	// Price already past the threshold on first sight: no firing, the
	// observation becomes the baseline.
	outcome, err := e.Evaluate(da, priceSnapshot("btc", 150))
	require.NoError(t, err)
	assert.False(t, outcome.Satisfied)
	require.NotNil(t, outcome.NewLastSeen)
	assert.Equal(t, 150.0, *outcome.NewLastSeen)
}

func TestEvaluatePrice_CrossingAbove(t *testing.T) {
	e := New()

	tests := []struct {
		name      string
		lastSeen  *float64
		price     float64
		satisfied bool
	}{
		{"below to above crosses", f64(90), 110, true},
		{"below to exactly threshold crosses", f64(90), 100, true},
		{"already above does not re-fire", f64(120), 130, false},
		{"stays below", f64(90), 95, false},
		{"falls further", f64(90), 50, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			da := priceDue(t, `{"token":"btc","direction":"above","threshold":100}`, tt.lastSeen)
			outcome, err := e.Evaluate(da, priceSnapshot("btc", tt.price))
			require.NoError(t, err)
			assert.Equal(t, tt.satisfied, outcome.Satisfied)
		})
	}
}

func TestEvaluatePrice_CrossingBelow(t *testing.T) {
	e := New()

	tests := []struct {
		name      string
		lastSeen  *float64
		price     float64
		satisfied bool
	}{
		{"above to below crosses", f64(110), 90, true},
		{"above to exactly threshold crosses", f64(110), 100, true},
		{"already below does not re-fire", f64(80), 70, false},
		{"stays above", f64(110), 105, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			da := priceDue(t, `{"token":"btc","direction":"below","threshold":100}`, tt.lastSeen)
			outcome, err := e.Evaluate(da, priceSnapshot("btc", tt.price))
			require.NoError(t, err)
			assert.Equal(t, tt.satisfied, outcome.Satisfied)
		})
	}
}

func TestEvaluatePrice_SatisfiedCarriesSummaryAndValue(t *testing.T) {
	e := New()
	da := priceDue(t, `{"token":"btc","direction":"above","threshold":100,"label":"moon watch"}`, f64(90))

	outcome, err := e.Evaluate(da, priceSnapshot("btc", 110))
	require.NoError(t, err)
	require.True(t, outcome.Satisfied)
	assert.Contains(t, outcome.Summary, "BTC")
	assert.Contains(t, outcome.Summary, "moon watch")
	require.NotNil(t, outcome.Value)
	assert.Equal(t, 110.0, *outcome.Value)
}

func TestEvaluatePrice_FeedErrorSurfaces(t *testing.T) {
	e := New()
	da := priceDue(t, `{"token":"btc","direction":"above","threshold":100}`, f64(90))

	r := feed.PriceResource("btc")
	snapshot := feed.NewSnapshot(map[string]*feed.Result{
		r.Key(): {Err: alerterr.FeedUnavailable("price", nil)},
	})

	_, err := e.Evaluate(da, snapshot)
	require.Error(t, err)
	assert.True(t, alerterr.IsFeedUnavailable(err))
}

func TestPlanResources_MalformedConditions(t *testing.T) {
	e := New()

	tests := []struct {
		name       string
		conditions string
	}{
		{"not json", `{{`},
		{"missing token", `{"direction":"above","threshold":100}`},
		{"bad direction", `{"token":"btc","direction":"sideways","threshold":100}`},
		{"zero threshold", `{"token":"btc","direction":"above","threshold":0}`},
		{"negative threshold", `{"token":"btc","direction":"above","threshold":-5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			da := priceDue(t, tt.conditions, nil)
			_, err := e.PlanResources(da)
			require.Error(t, err)
			assert.True(t, alerterr.IsMalformedCondition(err))
		})
	}
}

func TestPlanResources_PortfolioValue(t *testing.T) {
	e := New()
	alert := models.NewPortfolioValueAlert(1, "pf-1", json.RawMessage(`{"direction":"below","threshold":5000}`))
	alert.ID = "alert-2"
	links := []models.ChainAddress{{Address: "0xabc", Chain: "eth"}, {Address: "0xabc", Chain: "base"}}
	da := &storage.DueAlert{Alert: *alert, Tier: models.TierFree, PortfolioLinks: links}

	resources, err := e.PlanResources(da)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, feed.KindValuation, resources[0].Kind)
	assert.Equal(t, "pf-1", resources[0].PortfolioID)
	assert.Equal(t, links, resources[0].Links)
}

func TestEvaluatePortfolioValue_Crossing(t *testing.T) {
	e := New()
	alert := models.NewPortfolioValueAlert(1, "pf-1", json.RawMessage(`{"direction":"below","threshold":5000}`))
	alert.ID = "alert-2"
	alert.LastSeenValue = f64(6000)
	da := &storage.DueAlert{Alert: *alert, Tier: models.TierFree}

	r := feed.ValuationResource("pf-1", nil)
	snapshot := feed.NewSnapshot(map[string]*feed.Result{r.Key(): {Value: 4500}})

	outcome, err := e.Evaluate(da, snapshot)
	require.NoError(t, err)
	assert.True(t, outcome.Satisfied)
	assert.Contains(t, outcome.Summary, "portfolio value")
	require.NotNil(t, outcome.NewLastSeen)
	assert.Equal(t, 4500.0, *outcome.NewLastSeen)
}
