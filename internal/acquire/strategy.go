package acquire

// Strategy selects how hard acquisition works for a requested count.
type Strategy int

// Strategies, cheapest first.
const (
	// StrategyScroll is a single-pass scroll of the search page.
	StrategyScroll Strategy = iota
	// StrategyDeepScroll is the same loop with a larger scroll budget.
	StrategyDeepScroll
	// StrategyHybrid adds API paging and a second expansion phase over pin
	// detail pages.
	StrategyHybrid
)

func (s Strategy) String() string {
	switch s {
	case StrategyScroll:
		return "scroll"
	case StrategyDeepScroll:
		return "deep_scroll"
	case StrategyHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// ChooseStrategy is a pure function of the requested count against the
// configured tier boundaries.
func ChooseStrategy(count, smallTarget, mediumTarget int) Strategy {
	switch {
	case count < smallTarget:
		return StrategyScroll
	case count < mediumTarget:
		return StrategyDeepScroll
	default:
		return StrategyHybrid
	}
}
