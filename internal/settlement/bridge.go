// Package settlement converts a matched trade into an on-chain contract
// call and broadcasts it against a Stacks node, implementing
// domain.SettlementBridge. Broadcast is best-effort from the matching
// engine's point of view: a failure here never unwinds the fill already
// applied to the two orders.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/clobx/clobd/internal/crypto"
	"github.com/clobx/clobd/internal/domain"
)

// Config carries everything the bridge needs to dispatch settlement calls.
// Leave ContractAddress, ContractName, or operator key material empty to
// build a disabled bridge.
type Config struct {
	NodeAPIURL         string
	ContractAddress    string
	ContractName       string
	OperatorPrivateKey crypto.KeyConfig
	BroadcastTimeout   time.Duration
	DedupTTL           time.Duration // default 5 minutes
}

// Bridge implements domain.SettlementBridge against a Stacks node's
// transaction-broadcast API.
type Bridge struct {
	httpClient *http.Client
	nodeURL    string

	contractAddress string
	contractName    string
	operatorKeyHex  string

	broadcastTimeout time.Duration

	dedup *ttlDedup

	enabled bool
}

// New builds a Bridge from cfg. If the contract address, contract name, or
// operator key cannot be resolved, the returned Bridge has Enabled()==false
// and Settle always returns domain.ErrSettlementDisabled; this is not an
// error from New, since a daemon without settlement configured still runs.
func New(cfg Config) *Bridge {
	b := &Bridge{
		httpClient:       &http.Client{Timeout: cfg.BroadcastTimeout},
		nodeURL:          cfg.NodeAPIURL,
		contractAddress:  cfg.ContractAddress,
		contractName:     cfg.ContractName,
		broadcastTimeout: cfg.BroadcastTimeout,
		dedup:            newTTLDedup(orDefault(cfg.DedupTTL, 5*time.Minute)),
	}
	if b.broadcastTimeout <= 0 {
		b.broadcastTimeout = 30 * time.Second
	}

	if cfg.ContractAddress == "" || cfg.ContractName == "" {
		return b
	}
	key, err := crypto.LoadKey(cfg.OperatorPrivateKey)
	if err != nil || key == "" {
		return b
	}
	b.operatorKeyHex = key
	b.enabled = true
	return b
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Enabled reports whether a contract address/name and operator key were
// all resolved at construction time.
func (b *Bridge) Enabled() bool { return b.enabled }

// Settle dispatches the contract call matching trade.TradeType and
// broadcasts it. It refuses to re-dispatch the same (tradeId, fillAmount)
// pair within the dedup TTL, as a second line of defense behind the
// matching engine's own at-most-once call discipline.
func (b *Bridge) Settle(ctx context.Context, trade domain.Trade, maker, taker domain.Order, fillAmount int64) (string, error) {
	if !b.enabled {
		return "", domain.ErrSettlementDisabled
	}

	dedupKey := fmt.Sprintf("%s:%d", trade.TradeID, fillAmount)
	if b.dedup.seen(dedupKey) {
		return "", fmt.Errorf("settlement: %w: trade %s fill %d", domain.ErrAlreadySettled, trade.TradeID, fillAmount)
	}

	call, err := b.buildCall(trade, maker, taker, fillAmount)
	if err != nil {
		return "", fmt.Errorf("settlement: build call: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.broadcastTimeout)
	defer cancel()

	return b.broadcast(ctx, call)
}

// contractCall is the wire payload sent to the node's broadcast endpoint.
// The exact transaction-serialization format is a node/contract internal
// the core spec leaves external; this is the interface-level shape of
// "function + args + strict post-conditions" it specifies.
type contractCall struct {
	ContractAddress string          `json:"contract_address"`
	ContractName    string          `json:"contract_name"`
	FunctionName    string          `json:"function_name"`
	FunctionArgs    []string        `json:"function_args"`
	PostConditions  []postCondition `json:"post_conditions"`
	SenderKey       string          `json:"-"` // never serialized; used to sign the tx client-side
}

// postCondition denies any transfer beyond the amount the call itself
// authorizes, per §4.5's "strict post-condition mode" requirement.
type postCondition struct {
	PositionID string `json:"position_id"`
	Principal  string `json:"principal"`
	MaxAmount  int64  `json:"max_amount"`
}

func (b *Bridge) buildCall(trade domain.Trade, maker, taker domain.Order, fillAmount int64) (contractCall, error) {
	if maker.Signature == nil || *maker.Signature == "" {
		return contractCall{}, fmt.Errorf("%w: maker signature required", domain.ErrInvalidArgument)
	}

	makerAmount := maker.Size
	makerTakerAmount := maker.Price * maker.Size

	switch trade.TradeType {
	case domain.TradeTypeNormal:
		// taker signature is optional for NORMAL per §4.5.
		takerAmount := taker.Size
		takerMakerAmount := taker.Price * taker.Size
		return contractCall{
			ContractAddress: b.contractAddress,
			ContractName:    b.contractName,
			FunctionName:    "fill-order",
			FunctionArgs: []string{
				maker.Maker, maker.MakerPositionID, itoa(makerAmount), *maker.Signature,
				taker.Maker, taker.TakerPositionID, itoa(takerAmount), itoa(takerMakerAmount),
				maker.Salt, itoa(maker.Expiration), itoa(fillAmount),
			},
			PostConditions: []postCondition{
				{PositionID: maker.MakerPositionID, Principal: maker.Maker, MaxAmount: makerTakerAmount},
			},
			SenderKey: b.operatorKeyHex,
		}, nil
	case domain.TradeTypeMint, domain.TradeTypeMerge:
		if taker.Signature == nil || *taker.Signature == "" {
			return contractCall{}, fmt.Errorf("%w: taker signature required for %s", domain.ErrInvalidArgument, trade.TradeType)
		}
		fn := "fill-order-mint"
		if trade.TradeType == domain.TradeTypeMerge {
			fn = "fill-order-merge"
		}
		takerAmount := taker.Size
		takerTakerAmount := taker.Price * taker.Size
		return contractCall{
			ContractAddress: b.contractAddress,
			ContractName:    b.contractName,
			FunctionName:    fn,
			FunctionArgs: []string{
				maker.Maker, maker.MakerPositionID, itoa(makerAmount), *maker.Signature,
				taker.Maker, taker.MakerPositionID, itoa(takerAmount), *taker.Signature,
				trade.ConditionID, maker.Salt, itoa(maker.Expiration), itoa(fillAmount),
			},
			PostConditions: []postCondition{
				{PositionID: maker.MakerPositionID, Principal: maker.Maker, MaxAmount: makerTakerAmount},
				{PositionID: taker.MakerPositionID, Principal: taker.Maker, MaxAmount: takerTakerAmount},
			},
			SenderKey: b.operatorKeyHex,
		}, nil
	default:
		return contractCall{}, fmt.Errorf("%w: unknown trade type %q", domain.ErrInvalidArgument, trade.TradeType)
	}
}

func itoa(v int64) string { return fmt.Sprintf("%d", v) }

// broadcast POSTs the call to the node and maps non-2xx responses to
// domain.ErrSettlementRejected carrying the node's body.
func (b *Bridge) broadcast(ctx context.Context, call contractCall) (string, error) {
	body, err := json.Marshal(call)
	if err != nil {
		return "", fmt.Errorf("settlement: marshal call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.nodeURL+"/v2/transactions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("settlement: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("settlement: broadcast request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("settlement: read broadcast response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %s", domain.ErrSettlementRejected, string(respBody))
	}

	var result struct {
		TxID string `json:"txid"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("settlement: decode broadcast response: %w", err)
	}
	return result.TxID, nil
}

// ttlDedup is a TTL-windowed duplicate check, the same shape as the
// teacher's signal-dedup map repurposed from signal ids to
// (tradeId, fillAmount) dispatch keys.
type ttlDedup struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
}

func newTTLDedup(ttl time.Duration) *ttlDedup {
	return &ttlDedup{entries: make(map[string]time.Time), ttl: ttl}
}

// seen reports whether key was already dispatched within the TTL window,
// recording it if not.
func (d *ttlDedup) seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if last, ok := d.entries[key]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.entries[key] = now
	return false
}

// Compile-time interface check.
var _ domain.SettlementBridge = (*Bridge)(nil)
