package domain

// TradeType classifies a matched pair by what it does to the underlying
// outcome-token supply.
type TradeType string

const (
	TradeTypeNormal TradeType = "NORMAL"
	TradeTypeMint   TradeType = "MINT"
	TradeTypeMerge  TradeType = "MERGE"
)

// Trade is an immutable record of one matched pair of orders. TxHash is the
// only field that may be set after creation, once settlement succeeds.
type Trade struct {
	TradeID string

	MarketID        string
	ConditionID     string
	MakerPositionID string
	TakerPositionID string

	Maker string
	Taker string

	Price int64 // micro-sats, the maker's (resting) price
	Size  int64 // token units filled in this match

	Side OrderSide // the taker's side

	MakerOrderID string
	TakerOrderID string

	TradeType TradeType

	Timestamp int64 // unix millis

	TxHash *string
}
