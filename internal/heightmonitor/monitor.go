// Package heightmonitor polls the chain tip and expires resting orders whose
// expiration height has passed.
package heightmonitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/clobx/clobd/internal/domain"
)

// HeightSource resolves the current chain height from an external endpoint.
type HeightSource interface {
	Height(ctx context.Context) (int64, error)
}

// Monitor polls HeightSource at a fixed period and expires resting orders
// that have fallen past the observed height.
type Monitor struct {
	source  HeightSource
	markets domain.MarketStore
	orders  domain.OrderStore
	logger  *slog.Logger

	height atomic.Int64 // highest height observed so far; 0 before first poll
}

// New builds a Monitor. height starts at 0, meaning no increase has been
// observed yet and no expiration sweep has run.
func New(source HeightSource, markets domain.MarketStore, orders domain.OrderStore, logger *slog.Logger) *Monitor {
	return &Monitor{source: source, markets: markets, orders: orders, logger: logger}
}

// Height returns the highest height observed so far.
func (m *Monitor) Height() int64 { return m.height.Load() }

// Run polls at interval until ctx is cancelled. A poll failure is logged and
// leaves the cached height untouched.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	m.poll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("height monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	height, err := m.source.Height(ctx)
	if err != nil {
		m.logger.Error("height poll failed", slog.String("error", err.Error()))
		return
	}

	previous := m.height.Load()
	if height <= previous {
		return
	}
	if !m.height.CompareAndSwap(previous, height) {
		// Lost a race with a concurrent poll; the other poll's height wins
		// and its sweep already covers this increase.
		return
	}

	m.logger.Info("chain height advanced", slog.Int64("previous", previous), slog.Int64("height", height))
	m.expireResting(ctx, height)
}

func (m *Monitor) expireResting(ctx context.Context, height int64) {
	markets, err := m.markets.GetAllMarkets(ctx)
	if err != nil {
		m.logger.Error("height monitor: list markets failed", slog.String("error", err.Error()))
		return
	}

	expired := 0
	for _, market := range markets {
		if market.Resolved {
			continue
		}

		orders, err := m.orders.GetMarketOrders(ctx, market.MarketID)
		if err != nil {
			m.logger.Error("height monitor: list orders failed",
				slog.String("market_id", market.MarketID), slog.String("error", err.Error()))
			continue
		}

		for _, order := range orders {
			if !order.Status.Resting() {
				continue
			}
			if order.Expiration == 0 || order.Expiration >= height {
				continue
			}

			ok, err := m.orders.ExpireOrder(ctx, order.OrderID)
			if err != nil {
				m.logger.Error("height monitor: expire order failed",
					slog.String("order_id", order.OrderID), slog.String("error", err.Error()))
				continue
			}
			if ok {
				expired++
			}
		}
	}

	if expired > 0 {
		m.logger.Info("expired resting orders past height", slog.Int64("height", height), slog.Int("count", expired))
	}
}

// HTTPHeightSource resolves height from a JSON HTTP endpoint of the shape
// {"height": N}, such as a Stacks node's /v2/info.
type HTTPHeightSource struct {
	client  *http.Client
	url     string
	timeout time.Duration
}

// NewHTTPHeightSource builds an HTTPHeightSource with a bounded per-call
// timeout.
func NewHTTPHeightSource(url string, timeout time.Duration) *HTTPHeightSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPHeightSource{client: &http.Client{Timeout: timeout}, url: url, timeout: timeout}
}

// Height fetches the current height with a bounded timeout derived from the
// source's configured timeout, independent of ctx's own deadline.
func (s *HTTPHeightSource) Height(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("heightmonitor: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("heightmonitor: fetch height: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("heightmonitor: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Height int64 `json:"height"`
		// Stacks /v2/info nests the tip height under stacks_tip_height.
		StacksTipHeight int64 `json:"stacks_tip_height"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("heightmonitor: decode response: %w", err)
	}

	if body.StacksTipHeight > 0 {
		return body.StacksTipHeight, nil
	}
	return body.Height, nil
}
