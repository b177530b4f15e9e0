package domain

// ExecutionLevel is one consumed price level of a planned execution.
type ExecutionLevel struct {
	Price          int64
	Size           int64
	CumulativeSize int64
	Cost           int64 // micro-sats; Size * Price
}

// ExecutionPlan is the pure output of the smart router: what a market order
// would consume, or the portion of a limit order that would immediately
// sweep the book. It carries no side effects and is safe to compute twice.
type ExecutionPlan struct {
	OrderType OrderType
	TotalSize int64

	Levels []ExecutionLevel

	AveragePrice int64 // micro-sats, round-half-to-even
	TotalCost    int64 // micro-sats
	SlippageBps  int64 // basis points, round-half-to-even
	WorstPrice   int64
	BestPrice    int64

	Feasible bool
	Reason   string
}
