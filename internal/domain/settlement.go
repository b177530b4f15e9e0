package domain

import "context"

// SettlementBridge converts one matched trade into an on-chain call. The
// matching engine invokes it best-effort after a fill: a returned error is
// logged and the trade is left without a txHash, eligible for the admin
// force-settle retry path. The bridge itself is not idempotent — callers
// must not invoke it twice for the same (tradeId, fillAmount).
type SettlementBridge interface {
	Settle(ctx context.Context, trade Trade, maker, taker Order, fillAmount int64) (txHash string, err error)

	// Enabled reports whether settlement is configured (contract address,
	// name, and operator key all present). When false, the engine skips
	// dispatch entirely rather than calling Settle to fail.
	Enabled() bool
}
