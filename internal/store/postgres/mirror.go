package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clobx/clobd/internal/domain"
)

// Mirror implements domain.DurableMirror against the two tables that back
// the hot store: markets and orders. It is a write-through target only —
// the matching engine never reads from here on the hot path, so writes need
// not be as latency-sensitive as the in-memory store.
type Mirror struct {
	pool *pgxpool.Pool
}

// NewMirror creates a Mirror backed by the given connection pool.
func NewMirror(pool *pgxpool.Pool) *Mirror {
	return &Mirror{pool: pool}
}

const marketCols = `market_id, condition_id, question, creator, yes_position_id,
	no_position_id, yes_price, no_price, volume_24h, created_at, resolved, outcome`

// MirrorMarket upserts a market row.
func (m *Mirror) MirrorMarket(ctx context.Context, market domain.Market) error {
	const query = `
		INSERT INTO markets (` + marketCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (market_id) DO UPDATE SET
			condition_id    = EXCLUDED.condition_id,
			question        = EXCLUDED.question,
			creator         = EXCLUDED.creator,
			yes_position_id = EXCLUDED.yes_position_id,
			no_position_id  = EXCLUDED.no_position_id,
			yes_price       = EXCLUDED.yes_price,
			no_price        = EXCLUDED.no_price,
			volume_24h      = EXCLUDED.volume_24h,
			resolved        = EXCLUDED.resolved,
			outcome         = EXCLUDED.outcome`

	_, err := m.pool.Exec(ctx, query,
		market.MarketID, market.ConditionID, market.Question, market.Creator,
		market.YesPositionID, market.NoPositionID,
		market.YesPrice, market.NoPrice, market.Volume24h, market.CreatedAt,
		market.Resolved, market.Outcome,
	)
	if err != nil {
		return fmt.Errorf("postgres: mirror market %s: %w", market.MarketID, err)
	}
	return nil
}

const orderCols = `order_id, maker, market_id, condition_id, maker_position_id,
	taker_position_id, side, price, size, filled_size, remaining_size, status,
	salt, expiration, created_at, updated_at, signature, public_key`

// MirrorOrder upserts an order row.
func (m *Mirror) MirrorOrder(ctx context.Context, order domain.Order) error {
	const query = `
		INSERT INTO orders (` + orderCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (order_id) DO UPDATE SET
			filled_size    = EXCLUDED.filled_size,
			remaining_size = EXCLUDED.remaining_size,
			status         = EXCLUDED.status,
			updated_at     = EXCLUDED.updated_at,
			signature      = EXCLUDED.signature,
			public_key     = EXCLUDED.public_key`

	var expiration *int64
	if order.Expiration != 0 {
		expiration = &order.Expiration
	}

	_, err := m.pool.Exec(ctx, query,
		order.OrderID, order.Maker, order.MarketID, order.ConditionID,
		order.MakerPositionID, order.TakerPositionID, string(order.Side),
		order.Price, order.Size, order.FilledSize, order.RemainingSize,
		string(order.Status), nullIfEmpty(order.Salt), expiration,
		order.CreatedAt, order.UpdatedAt, order.Signature, order.PublicKey,
	)
	if err != nil {
		return fmt.Errorf("postgres: mirror order %s: %w", order.OrderID, err)
	}
	return nil
}

// LoadMarkets returns every market row, used to warm the hot store at boot.
func (m *Mirror) LoadMarkets(ctx context.Context) ([]domain.Market, error) {
	rows, err := m.pool.Query(ctx, `SELECT `+marketCols+` FROM markets`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		mkt, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, mkt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load markets rows: %w", err)
	}
	return out, nil
}

// LoadRestingOrders returns every non-terminal order, used to warm the hot
// store's book indices at boot.
func (m *Mirror) LoadRestingOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := m.pool.Query(ctx,
		`SELECT `+orderCols+` FROM orders WHERE status IN ('OPEN', 'PARTIALLY_FILLED')`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load resting orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load resting orders rows: %w", err)
	}
	return out, nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var mkt domain.Market
	err := row.Scan(
		&mkt.MarketID, &mkt.ConditionID, &mkt.Question, &mkt.Creator,
		&mkt.YesPositionID, &mkt.NoPositionID,
		&mkt.YesPrice, &mkt.NoPrice, &mkt.Volume24h, &mkt.CreatedAt,
		&mkt.Resolved, &mkt.Outcome,
	)
	return mkt, err
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var side, status string
	var salt *string
	var expiration *int64

	err := row.Scan(
		&o.OrderID, &o.Maker, &o.MarketID, &o.ConditionID,
		&o.MakerPositionID, &o.TakerPositionID, &side,
		&o.Price, &o.Size, &o.FilledSize, &o.RemainingSize, &status,
		&salt, &expiration, &o.CreatedAt, &o.UpdatedAt, &o.Signature, &o.PublicKey,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	o.Type = domain.OrderTypeLimit
	if salt != nil {
		o.Salt = *salt
	}
	if expiration != nil {
		o.Expiration = *expiration
	}
	return o, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Compile-time interface check.
var _ domain.DurableMirror = (*Mirror)(nil)
