// Package pricing implements the fixed-point primitives shared by the
// matching engine and the smart router: the mid-price update rule and
// round-half-to-even integer rounding. No floating point is used anywhere
// in this package.
package pricing

import "github.com/clobx/clobd/internal/domain"

// DefaultSpreadThresholdBps is the maximum bid/ask spread, in millionths
// (parts per million) of domain.PriceScale, under which MidPrice trusts the book midpoint over the
// last trade price.
const DefaultSpreadThresholdBps = 50_000 // 5% of PriceScale

// MidPrice derives the next (yesPrice, noPrice) pair from the current best
// bid/ask on the YES book, the last trade's YES-normalized price, and the
// market's current YES price. When both sides of the book are present and
// their spread is within thresholdBps of PriceScale, the book midpoint wins;
// otherwise the last trade price is trusted; with neither, the price is
// unchanged.
func MidPrice(bestBid, bestAsk *int64, lastTradeYes *int64, currentYes int64, thresholdBps int64) (yesPrice, noPrice int64) {
	yesPrice = currentYes

	switch {
	case bestBid != nil && bestAsk != nil:
		spread := *bestAsk - *bestBid
		if spread < 0 {
			spread = -spread
		}
		threshold := domain.PriceScale * thresholdBps / 1_000_000
		if spread <= threshold {
			yesPrice = roundHalfEvenDiv2(*bestBid + *bestAsk)
		} else if lastTradeYes != nil {
			yesPrice = *lastTradeYes
		}
	case lastTradeYes != nil:
		yesPrice = *lastTradeYes
	}

	yesPrice = clampPrice(yesPrice)
	return yesPrice, domain.PriceScale - yesPrice
}

func clampPrice(p int64) int64 {
	if p < 0 {
		return 0
	}
	if p > domain.PriceScale {
		return domain.PriceScale
	}
	return p
}

// roundHalfEvenDiv2 divides sum by 2, rounding a .5 remainder to the nearest
// even result (banker's rounding), matching the no-floating-point mid-price
// and slippage rules.
func roundHalfEvenDiv2(sum int64) int64 {
	q := sum / 2
	r := sum % 2
	if r == 0 {
		return q
	}
	// sum is odd: exact half. Round to even.
	if q%2 == 0 {
		return q
	}
	if sum > 0 {
		return q + 1
	}
	return q - 1
}

// RoundHalfEvenRatio computes round-half-to-even(numerator * scale / denominator)
// as an integer, used for slippage basis points and average price.
func RoundHalfEvenRatio(numerator, scale, denominator int64) int64 {
	if denominator == 0 {
		return 0
	}
	neg := (numerator < 0) != (denominator < 0)
	n := abs64(numerator) * scale
	d := abs64(denominator)
	q := n / d
	r := n % d
	twice := r * 2
	switch {
	case twice > d:
		q++
	case twice == d && q%2 == 1:
		q++
	}
	if neg {
		return -q
	}
	return q
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
