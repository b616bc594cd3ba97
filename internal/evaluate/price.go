package evaluate

import (
	"fmt"
	"strings"

	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/feed"
	"github.com/alert-engine/internal/storage"
)

// evaluatePrice applies one-shot crossing detection to a token price.
func (e *Evaluator) evaluatePrice(da *storage.DueAlert, snapshot *feed.Snapshot) (*Outcome, error) {
	cond, err := ParsePriceCondition(da.Alert.Conditions)
	if err != nil {
		return nil, alerterr.MalformedCondition(da.Alert.ID, err)
	}

	res, err := lookup(snapshot, feed.PriceResource(cond.Token), feed.FeedPrice)
	if err != nil {
		return nil, err
	}
	price := res.Price

	outcome := &Outcome{
		Value:       &price,
		NewLastSeen: &price,
	}
	if crossed(da.Alert.LastSeenValue, price, cond.Direction, cond.Threshold) {
		outcome.Satisfied = true
		outcome.Summary = priceSummary(cond, price)
	}
	return outcome, nil
}

// crossed implements one-shot threshold crossing. The first observation only
// records a baseline; after that the condition fires when the value moves
// from the non-satisfying side onto or past the threshold.
func crossed(prior *float64, current float64, direction ThresholdDirection, threshold float64) bool {
	if prior == nil {
		return false
	}
	switch direction {
	case DirectionAbove:
		return *prior < threshold && current >= threshold
	case DirectionBelow:
		return *prior > threshold && current <= threshold
	default:
		return false
	}
}

func priceSummary(cond *PriceCondition, price float64) string {
	verb := "rose above"
	if cond.Direction == DirectionBelow {
		verb = "fell below"
	}
	summary := fmt.Sprintf("%s %s $%.2f (now $%.2f)", strings.ToUpper(cond.Token), verb, cond.Threshold, price)
	if cond.Label != "" {
		summary = cond.Label + ": " + summary
	}
	return summary
}
