package dgc

import (
	"github.com/unixpickle/sparsegrad/sparsify"
)

// A Selector picks the elements of a compressed parameter
// to send in one round.
type Selector interface {
	Select(tier Tier, key []float64, ratio float64, dir sparsify.Direction) sparsify.Result
}

// TieredSelector is the default Selector. It trades
// selection accuracy for speed as parameters grow:
// medium parameters use an exact selection, large ones a
// trimmed exact selection, and very-large ones an
// approximate threshold selection.
type TieredSelector struct{}

// Select dispatches on the tier.
func (TieredSelector) Select(tier Tier, key []float64, ratio float64,
	dir sparsify.Direction) sparsify.Result {
	switch tier {
	case TierVeryLarge:
		return sparsify.Threshold(key, ratio, dir)
	case TierLarge:
		return sparsify.Trimmed(key, ratio, dir)
	default:
		return sparsify.Exact(key, ratio, dir)
	}
}
