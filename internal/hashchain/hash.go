package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/clobx/clobd/internal/domain"
)

const (
	clarityTypePrincipal byte = 0x05
	clarityTypeUint      byte = 0x01
)

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// OrderHashInput is the set of economic fields that go into an order's
// signed digest. It mirrors the wire format in the core spec exactly:
// maker, taker, both position ids, both amounts, salt, expiration.
type OrderHashInput struct {
	Maker           string
	Taker           string
	MakerPositionID string // 32 bytes, hex
	TakerPositionID string // 32 bytes, hex
	MakerAmount     string // unsigned integer, decimal string
	TakerAmount     string // unsigned integer, decimal string
	Salt            string // unsigned integer, decimal string
	Expiration      string // unsigned integer, decimal string
}

// principalVersion is the address version byte used to decode/encode
// standard principals in this deployment. It is a package constant set to
// the testnet value 26 (mainnet is 22 in the Stacks address-version
// convention this scheme follows) and is not configurable at wire-time.
const principalVersion byte = 26

// Digest computes the 32-byte order hash: SHA-256 over the concatenation,
// in field order, of the consensus encodings of maker, taker, both position
// ids (as raw 32-byte buffers, not re-encoded), both amounts, salt, and
// expiration. It fails with domain.ErrInvalidArgument on any malformed
// field and never touches I/O — it is pure and idempotent.
func Digest(in OrderHashInput) ([32]byte, error) {
	var zero [32]byte

	makerBuf, err := encodePrincipal(in.Maker)
	if err != nil {
		return zero, fmt.Errorf("hashchain: maker: %w", err)
	}
	takerBuf, err := encodePrincipal(in.Taker)
	if err != nil {
		return zero, fmt.Errorf("hashchain: taker: %w", err)
	}
	makerPos, err := decodeRawPositionID(in.MakerPositionID)
	if err != nil {
		return zero, fmt.Errorf("hashchain: makerPositionId: %w", err)
	}
	takerPos, err := decodeRawPositionID(in.TakerPositionID)
	if err != nil {
		return zero, fmt.Errorf("hashchain: takerPositionId: %w", err)
	}
	makerAmt, err := encodeUint(in.MakerAmount)
	if err != nil {
		return zero, fmt.Errorf("hashchain: makerAmount: %w", err)
	}
	takerAmt, err := encodeUint(in.TakerAmount)
	if err != nil {
		return zero, fmt.Errorf("hashchain: takerAmount: %w", err)
	}
	salt, err := encodeUint(in.Salt)
	if err != nil {
		return zero, fmt.Errorf("hashchain: salt: %w", err)
	}
	expiration, err := encodeUint(in.Expiration)
	if err != nil {
		return zero, fmt.Errorf("hashchain: expiration: %w", err)
	}

	buf := make([]byte, 0, len(makerBuf)+len(takerBuf)+32+32+len(makerAmt)+len(takerAmt)+len(salt)+len(expiration))
	buf = append(buf, makerBuf...)
	buf = append(buf, takerBuf...)
	buf = append(buf, makerPos...)
	buf = append(buf, takerPos...)
	buf = append(buf, makerAmt...)
	buf = append(buf, takerAmt...)
	buf = append(buf, salt...)
	buf = append(buf, expiration...)

	return sha256.Sum256(buf), nil
}

// encodePrincipal returns the consensus buffer for a standard principal
// value: a type-id byte, a version byte, and a 20-byte hash160.
func encodePrincipal(principal string) ([]byte, error) {
	version, hash160, err := DecodePrincipal(principal)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, err)
	}
	buf := make([]byte, 0, 22)
	buf = append(buf, clarityTypePrincipal, version)
	buf = append(buf, hash160...)
	return buf, nil
}

// encodeUint returns the consensus buffer for a Clarity uint: a type-id
// byte followed by a 16-byte (128-bit) big-endian value.
func encodeUint(decimal string) ([]byte, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(decimal), 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q is not a non-negative integer", domain.ErrInvalidArgument, decimal)
	}
	if n.Cmp(maxUint128) > 0 {
		return nil, fmt.Errorf("%w: %q exceeds 128-bit range", domain.ErrInvalidArgument, decimal)
	}
	raw := n.Bytes()
	padded := make([]byte, 16)
	copy(padded[16-len(raw):], raw)
	return append([]byte{clarityTypeUint}, padded...), nil
}

// PositionID derives a market's YES (outcomeIndex=0) or NO (outcomeIndex=1)
// position id: SHA-256(conditionId raw bytes ‖ consensus uint(outcomeIndex)),
// returned as lowercase hex.
func PositionID(conditionID string, outcomeIndex uint8) (string, error) {
	raw, err := decodeRawPositionID(conditionID)
	if err != nil {
		return "", fmt.Errorf("hashchain: conditionId: %w", err)
	}
	idx, err := encodeUint(fmt.Sprintf("%d", outcomeIndex))
	if err != nil {
		return "", fmt.Errorf("hashchain: outcomeIndex: %w", err)
	}
	buf := append(append([]byte{}, raw...), idx...)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

// decodeRawPositionID decodes a 32-byte hex-encoded position id as a raw
// buffer — unlike principals and amounts, position ids are not re-encoded
// with a type tag; they contribute their 32 raw bytes directly.
func decodeRawPositionID(hexStr string) ([]byte, error) {
	hexStr = strings.TrimPrefix(hexStr, "0x")
	if len(hexStr) != 64 {
		return nil, fmt.Errorf("%w: position id must be 32 bytes (64 hex chars), got %d chars", domain.ErrInvalidArgument, len(hexStr))
	}
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex position id: %s", domain.ErrInvalidArgument, err)
	}
	return raw, nil
}
