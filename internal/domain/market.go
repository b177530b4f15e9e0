package domain

// PriceScale is the fixed-point denominator for all prices, in micro-sats
// per outcome token. YES and NO prices always sum to PriceScale.
const PriceScale int64 = 1_000_000

// Market is a binary (YES/NO) prediction market.
type Market struct {
	MarketID      string
	ConditionID   string // 32 bytes, hex-encoded
	Question      string
	Creator       string // principal
	YesPositionID string // 32 bytes, hex-encoded, derived from ConditionID
	NoPositionID  string // 32 bytes, hex-encoded, derived from ConditionID
	YesPrice      int64  // micro-sats, [0, PriceScale]
	NoPrice       int64  // micro-sats, YesPrice+NoPrice == PriceScale
	Volume24h     int64
	CreatedAt     int64 // unix millis
	Resolved      bool
	Outcome       *int // 0 or 1 once resolved
}

// OutcomeIndex identifies which side of a market a position id belongs to.
type OutcomeIndex uint8

const (
	OutcomeYes OutcomeIndex = 0
	OutcomeNo  OutcomeIndex = 1
)

// PositionID returns the position id for the given outcome.
func (m Market) PositionID(o OutcomeIndex) string {
	if o == OutcomeYes {
		return m.YesPositionID
	}
	return m.NoPositionID
}

// Complement returns the position id of the other outcome in this market.
func (m Market) Complement(positionID string) string {
	if positionID == m.YesPositionID {
		return m.NoPositionID
	}
	return m.YesPositionID
}

// IsYes reports whether positionID is this market's YES token.
func (m Market) IsYes(positionID string) bool {
	return positionID == m.YesPositionID
}
