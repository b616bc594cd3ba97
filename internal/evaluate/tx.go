package evaluate

import (
	"fmt"

	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/feed"
	"github.com/alert-engine/internal/models"
	"github.com/alert-engine/internal/storage"
)

// evaluateTx matches new transactions behind per-chain cursors. Cursors
// advance whenever a page was read, matched or not, so the same
// transactions are never reported twice. When one of several chains failed
// to fetch, the others still advance; the failed chain keeps its cursor and
// is retried next tick.
func (e *Evaluator) evaluateTx(da *storage.DueAlert, snapshot *feed.Snapshot) (*Outcome, error) {
	cond, err := ParseTxCondition(da.Alert.Conditions)
	if err != nil {
		return nil, alerterr.MalformedCondition(da.Alert.ID, err)
	}

	chains := e.chainsFor(cond, da)
	var matched []models.Transaction

	// Start from the persisted positions so a chain that fails to fetch
	// this tick keeps its cursor instead of being reset to genesis.
	nextCursors := make(map[string]string, len(chains))
	for chain, cursor := range da.Alert.TxCursors {
		nextCursors[chain] = cursor
	}
	fetchedAny := false
	var lastErr error

	for _, chain := range chains {
		cursor := da.Alert.TxCursors[chain]
		res, err := lookup(snapshot, feed.TxFeedResource(da.Address, chain, cursor), feed.FeedWallet)
		if err != nil {
			lastErr = err
			continue
		}
		fetchedAny = true

		for _, tx := range res.Transactions {
			if cond.Matches(tx) {
				matched = append(matched, tx)
			}
		}
		if res.NextCursor != "" {
			nextCursors[chain] = res.NextCursor
		}
	}

	if !fetchedAny {
		return nil, lastErr
	}

	outcome := &Outcome{}
	if len(nextCursors) > 0 {
		outcome.NextCursors = nextCursors
	}
	if len(matched) > 0 {
		outcome.Satisfied = true
		outcome.Summary = txSummary(cond, da, matched)
		total := 0.0
		for _, tx := range matched {
			total += tx.ValueUSD
		}
		outcome.Value = &total
	}
	return outcome, nil
}

func txSummary(cond *TxCondition, da *storage.DueAlert, matched []models.Transaction) string {
	short := da.Address
	if len(short) > 12 {
		short = short[:6] + "..." + short[len(short)-4:]
	}

	var summary string
	if len(matched) == 1 {
		tx := matched[0]
		verb := "received"
		if tx.Direction == models.DirectionOut {
			verb = "sent"
		}
		summary = fmt.Sprintf("%s %s %s worth $%.2f on %s (%s)",
			short, verb, tx.Asset, tx.ValueUSD, tx.Chain, shortHash(tx.Hash))
	} else {
		total := 0.0
		for _, tx := range matched {
			total += tx.ValueUSD
		}
		summary = fmt.Sprintf("%s had %d new transactions totaling $%.2f", short, len(matched), total)
	}

	if cond.Label != "" {
		summary = cond.Label + ": " + summary
	}
	return summary
}

func shortHash(hash string) string {
	if len(hash) > 14 {
		return hash[:10] + "..."
	}
	return hash
}
