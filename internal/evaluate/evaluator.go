package evaluate

import (
	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/feed"
	"github.com/alert-engine/internal/models"
	"github.com/alert-engine/internal/storage"
)

// Outcome is the result of evaluating one alert against a feed snapshot.
type Outcome struct {
	// Satisfied reports whether the alert's condition fired this tick.
	Satisfied bool

	// Summary is the human-readable message for dispatch, set when
	// Satisfied is true.
	Summary string

	// Value is the observed price or portfolio value, when applicable.
	Value *float64

	// NewLastSeen is the observation to persist for crossing detection.
	// Nil means leave the stored value unchanged.
	NewLastSeen *float64

	// NextCursors is the advanced per-chain cursor state for transaction
	// kinds. Nil means no cursor movement this tick.
	NextCursors map[string]string
}

// Evaluator maps due alerts to feed resources and evaluates their conditions.
type Evaluator struct{}

// New creates an evaluator.
func New() *Evaluator {
	return &Evaluator{}
}

// PlanResources returns the feed resources one due alert needs this tick. A
// malformed conditions payload is reported here, before any fetch is spent
// on the alert.
func (e *Evaluator) PlanResources(da *storage.DueAlert) ([]feed.Resource, error) {
	switch da.Alert.Kind {
	case models.KindPrice:
		cond, err := ParsePriceCondition(da.Alert.Conditions)
		if err != nil {
			return nil, alerterr.MalformedCondition(da.Alert.ID, err)
		}
		return []feed.Resource{feed.PriceResource(cond.Token)}, nil

	case models.KindPortfolioValue:
		if _, err := ParsePortfolioValueCondition(da.Alert.Conditions); err != nil {
			return nil, alerterr.MalformedCondition(da.Alert.ID, err)
		}
		portfolioID, _ := da.Alert.Target.PortfolioID()
		return []feed.Resource{feed.ValuationResource(portfolioID, da.PortfolioLinks)}, nil

	case models.KindWalletTx, models.KindTrackedWalletTx:
		cond, err := ParseTxCondition(da.Alert.Conditions)
		if err != nil {
			return nil, alerterr.MalformedCondition(da.Alert.ID, err)
		}
		resources := make([]feed.Resource, 0, len(cond.Chains)+1)
		for _, chain := range e.chainsFor(cond, da) {
			resources = append(resources, feed.TxFeedResource(da.Address, chain, da.Alert.TxCursors[chain]))
		}
		return resources, nil

	default:
		return nil, alerterr.MalformedCondition(da.Alert.ID, nil)
	}
}

// Evaluate decides one alert against the snapshot. A missing or failed
// resource surfaces as the resource's error; the caller skips the alert
// without touching its state.
func (e *Evaluator) Evaluate(da *storage.DueAlert, snapshot *feed.Snapshot) (*Outcome, error) {
	switch da.Alert.Kind {
	case models.KindPrice:
		return e.evaluatePrice(da, snapshot)
	case models.KindPortfolioValue:
		return e.evaluatePortfolioValue(da, snapshot)
	case models.KindWalletTx, models.KindTrackedWalletTx:
		return e.evaluateTx(da, snapshot)
	default:
		return nil, alerterr.MalformedCondition(da.Alert.ID, nil)
	}
}

// chainsFor resolves the chains a transaction alert watches.
func (e *Evaluator) chainsFor(cond *TxCondition, da *storage.DueAlert) []string {
	if len(cond.Chains) > 0 {
		return cond.Chains
	}
	return []string{da.Chain}
}

// lookup pulls one resource's result out of the snapshot, converting a
// missing or failed fetch into the error the caller reports.
func lookup(snapshot *feed.Snapshot, r feed.Resource, feedName string) (*feed.Result, error) {
	res, ok := snapshot.Lookup(r)
	if !ok {
		return nil, alerterr.FeedUnavailable(feedName, nil)
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res, nil
}
