package dgc

// A Tier is a size class of parameters. It decides which
// selector and wire format a parameter uses.
type Tier int

const (
	// TierSmall parameters skip compression and are reduced
	// densely.
	TierSmall Tier = iota
	TierMedium
	TierLarge
	TierVeryLarge
)

// Classify finds the tier of a parameter with n elements.
// A count equal to a threshold belongs to the tier that
// threshold starts.
func Classify(n int, thresholds [3]int) Tier {
	switch {
	case n >= thresholds[2]:
		return TierVeryLarge
	case n >= thresholds[1]:
		return TierLarge
	case n >= thresholds[0]:
		return TierMedium
	default:
		return TierSmall
	}
}

// Compressed returns true if parameters in the tier are
// sparsified.
func (t Tier) Compressed() bool {
	return t != TierSmall
}

func (t Tier) String() string {
	switch t {
	case TierSmall:
		return "small"
	case TierMedium:
		return "medium"
	case TierLarge:
		return "large"
	case TierVeryLarge:
		return "very-large"
	default:
		return "unknown"
	}
}
