package evaluate

import (
	"fmt"

	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/feed"
	"github.com/alert-engine/internal/storage"
)

// evaluatePortfolioValue applies one-shot crossing detection to a
// portfolio's aggregate value.
func (e *Evaluator) evaluatePortfolioValue(da *storage.DueAlert, snapshot *feed.Snapshot) (*Outcome, error) {
	cond, err := ParsePortfolioValueCondition(da.Alert.Conditions)
	if err != nil {
		return nil, alerterr.MalformedCondition(da.Alert.ID, err)
	}

	portfolioID, _ := da.Alert.Target.PortfolioID()
	res, err := lookup(snapshot, feed.ValuationResource(portfolioID, da.PortfolioLinks), feed.FeedValuation)
	if err != nil {
		return nil, err
	}
	value := res.Value

	outcome := &Outcome{
		Value:       &value,
		NewLastSeen: &value,
	}
	if crossed(da.Alert.LastSeenValue, value, cond.Direction, cond.Threshold) {
		outcome.Satisfied = true
		outcome.Summary = portfolioSummary(cond, value)
	}
	return outcome, nil
}

func portfolioSummary(cond *PortfolioValueCondition, value float64) string {
	verb := "rose above"
	if cond.Direction == DirectionBelow {
		verb = "fell below"
	}
	summary := fmt.Sprintf("portfolio value %s $%.2f (now $%.2f)", verb, cond.Threshold, value)
	if cond.Label != "" {
		summary = cond.Label + ": " + summary
	}
	return summary
}
