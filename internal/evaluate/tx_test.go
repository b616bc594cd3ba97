package evaluate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/feed"
	"github.com/alert-engine/internal/models"
	"github.com/alert-engine/internal/storage"
)

func txDue(t *testing.T, conditions string, cursors map[string]string) *storage.DueAlert {
	t.Helper()
	alert := models.NewWalletTxAlert(1, "wallet-1", json.RawMessage(conditions))
	alert.ID = "alert-tx"
	alert.TxCursors = cursors
	return &storage.DueAlert{
		Alert:   *alert,
		Tier:    models.TierFree,
		Address: "0xwatched",
		Chain:   "eth",
	}
}

func tx(hash string, valueUSD float64, direction models.TxDirection) models.Transaction {
	return models.Transaction{
		Hash:      hash,
		Chain:     "eth",
		From:      "0xother",
		To:        "0xwatched",
		Asset:     "ETH",
		ValueUSD:  valueUSD,
		Direction: direction,
		Timestamp: time.Now().UTC(),
	}
}

func txSnapshot(address, chain, cursor string, next string, txs ...models.Transaction) *feed.Snapshot {
	r := feed.TxFeedResource(address, chain, cursor)
	return feed.NewSnapshot(map[string]*feed.Result{
		r.Key(): {Transactions: txs, NextCursor: next},
	})
}

func TestEvaluateTx_MatchAdvancesCursor(t *testing.T) {
	e := New()
	da := txDue(t, `{"minValue":100}`, nil)

	snapshot := txSnapshot("0xwatched", "eth", "", "cursor-2",
		tx("0xaaa", 250, models.DirectionIn))

	outcome, err := e.Evaluate(da, snapshot)
	require.NoError(t, err)
	assert.True(t, outcome.Satisfied)
	assert.Equal(t, map[string]string{"eth": "cursor-2"}, outcome.NextCursors)
	assert.Contains(t, outcome.Summary, "received")
}

func TestEvaluateTx_NoMatchStillAdvancesCursor(t *testing.T) {
	e := New()
	da := txDue(t, `{"minValue":1000}`, map[string]string{"eth": "cursor-1"})

	// Below the minimum value: not satisfied, but the page was read so the
	// cursor moves past it.
	snapshot := txSnapshot("0xwatched", "eth", "cursor-1", "cursor-2",
		tx("0xaaa", 50, models.DirectionIn))

	outcome, err := e.Evaluate(da, snapshot)
	require.NoError(t, err)
	assert.False(t, outcome.Satisfied)
	assert.Equal(t, map[string]string{"eth": "cursor-2"}, outcome.NextCursors)
}

func TestEvaluateTx_DirectionFilter(t *testing.T) {
	e := New()

	tests := []struct {
		name      string
		condition string
		direction models.TxDirection
		satisfied bool
	}{
		{"in matches in", `{"direction":"in"}`, models.DirectionIn, true},
		{"in rejects out", `{"direction":"in"}`, models.DirectionOut, false},
		{"out matches out", `{"direction":"out"}`, models.DirectionOut, true},
		{"any matches in", `{"direction":"any"}`, models.DirectionIn, true},
		{"default matches out", `{}`, models.DirectionOut, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			da := txDue(t, tt.condition, nil)
			snapshot := txSnapshot("0xwatched", "eth", "", "c2", tx("0xaaa", 10, tt.direction))

			outcome, err := e.Evaluate(da, snapshot)
			require.NoError(t, err)
			assert.Equal(t, tt.satisfied, outcome.Satisfied)
		})
	}
}

func TestEvaluateTx_MultiChainPartialFailure(t *testing.T) {
	e := New()
	da := txDue(t, `{"chains":["eth","base"]}`, map[string]string{"eth": "e1", "base": "b1"})

	ethRes := feed.TxFeedResource("0xwatched", "eth", "e1")
	baseRes := feed.TxFeedResource("0xwatched", "base", "b1")
	snapshot := feed.NewSnapshot(map[string]*feed.Result{
		ethRes.Key():  {Transactions: []models.Transaction{tx("0xaaa", 10, models.DirectionIn)}, NextCursor: "e2"},
		baseRes.Key(): {Err: alerterr.FeedUnavailable("wallet", nil)},
	})

	outcome, err := e.Evaluate(da, snapshot)
	require.NoError(t, err)
	assert.True(t, outcome.Satisfied)
	// The healthy chain advances, the failed one keeps its position for
	// the next tick.
	assert.Equal(t, map[string]string{"eth": "e2", "base": "b1"}, outcome.NextCursors)
}

func TestEvaluateTx_FailedChainCursorSurvivesPersistence(t *testing.T) {
	e := New()
	da := txDue(t, `{"chains":["eth","base"]}`, map[string]string{"eth": "e1", "base": "b1"})

	ethRes := feed.TxFeedResource("0xwatched", "eth", "e1")
	baseRes := feed.TxFeedResource("0xwatched", "base", "b1")
	snapshot := feed.NewSnapshot(map[string]*feed.Result{
		ethRes.Key():  {NextCursor: "e2"},
		baseRes.Key(): {Err: alerterr.FeedUnavailable("wallet", nil)},
	})

	outcome, err := e.Evaluate(da, snapshot)
	require.NoError(t, err)
	require.Equal(t, "b1", outcome.NextCursors["base"])

	// The next tick resumes base from b1, not from genesis, so the page
	// behind b1 is never requested and its transactions are not re-reported.
	next := txDue(t, `{"chains":["eth","base"]}`, outcome.NextCursors)
	resources, err := e.PlanResources(next)
	require.NoError(t, err)

	cursors := make(map[string]string, len(resources))
	for _, r := range resources {
		cursors[r.Chain] = r.Cursor
	}
	assert.Equal(t, "e2", cursors["eth"])
	assert.Equal(t, "b1", cursors["base"])
}

func TestEvaluateTx_AllChainsFailedSurfacesError(t *testing.T) {
	e := New()
	da := txDue(t, `{}`, nil)

	r := feed.TxFeedResource("0xwatched", "eth", "")
	snapshot := feed.NewSnapshot(map[string]*feed.Result{
		r.Key(): {Err: alerterr.FeedUnavailable("wallet", nil)},
	})

	outcome, err := e.Evaluate(da, snapshot)
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.True(t, alerterr.IsFeedUnavailable(err))
}

func TestEvaluateTx_EmptyPageKeepsCursor(t *testing.T) {
	e := New()
	da := txDue(t, `{}`, map[string]string{"eth": "c5"})

	// Provider echoes the current cursor when there is nothing newer.
	snapshot := txSnapshot("0xwatched", "eth", "c5", "c5")

	outcome, err := e.Evaluate(da, snapshot)
	require.NoError(t, err)
	assert.False(t, outcome.Satisfied)
	assert.Equal(t, map[string]string{"eth": "c5"}, outcome.NextCursors)
}

func TestEvaluateTx_MultipleMatchesSummarized(t *testing.T) {
	e := New()
	da := txDue(t, `{"minValue":10}`, nil)

	snapshot := txSnapshot("0xwatched", "eth", "", "c2",
		tx("0xaaa", 100, models.DirectionIn),
		tx("0xbbb", 200, models.DirectionOut),
		tx("0xccc", 5, models.DirectionIn))

	outcome, err := e.Evaluate(da, snapshot)
	require.NoError(t, err)
	require.True(t, outcome.Satisfied)
	assert.Contains(t, outcome.Summary, "2 new transactions")
	require.NotNil(t, outcome.Value)
	assert.Equal(t, 300.0, *outcome.Value)
}
