package evaluate

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: replaying one-shot crossing detection over any price path fires
// only on a genuine side change, never twice in a row without the value
// first returning to the non-satisfying side.
func TestCrossingProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	pathGen := gen.SliceOfN(30, gen.Float64Range(1, 200))
	thresholdGen := gen.Float64Range(10, 190)

	properties.Property("above-crossing fires only from below", prop.ForAll(
		func(path []float64, threshold float64) bool {
			var prior *float64
			for _, price := range path {
				fired := crossed(prior, price, DirectionAbove, threshold)
				if fired && (prior == nil || *prior >= threshold || price < threshold) {
					return false
				}
				p := price
				prior = &p
			}
			return true
		},
		pathGen,
		thresholdGen,
	))

	properties.Property("no consecutive fires while staying on one side", prop.ForAll(
		func(path []float64, threshold float64) bool {
			var prior *float64
			lastFired := false
			for _, price := range path {
				fired := crossed(prior, price, DirectionAbove, threshold)
				if fired && lastFired {
					// Two fires in a row require the value to have
					// dipped back below in between, which updating
					// prior every step makes impossible here.
					return false
				}
				if fired {
					lastFired = price >= threshold
				} else if price < threshold {
					lastFired = false
				}
				p := price
				prior = &p
			}
			return true
		},
		pathGen,
		thresholdGen,
	))

	properties.Property("below mirrors above", prop.ForAll(
		func(prior, current, threshold float64) bool {
			up := crossed(&prior, current, DirectionAbove, threshold)
			negPrior := -prior
			down := crossed(&negPrior, -current, DirectionBelow, -threshold)
			return up == down
		},
		gen.Float64Range(1, 200),
		gen.Float64Range(1, 200),
		gen.Float64Range(10, 190),
	))

	properties.TestingRun(t)
}

func negate(v float64) float64 { return -v }
