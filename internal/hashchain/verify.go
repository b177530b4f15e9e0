package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // ripemd160 is required by the address hash160 scheme, not a security-sensitive hash

	"github.com/clobx/clobd/internal/domain"
)

// VerifyOrder checks that signatureHex (130 hex chars, RSV) over the digest
// of in recovers to publicKeyHex (a compressed secp256k1 public key), and
// that the principal derived from that key matches maker. Verification does
// not stop at "some valid signature exists" — it binds the recovered key to
// the claimed maker, resolving the open question in the core spec in favor
// of the safer behavior.
func VerifyOrder(in OrderHashInput, maker, signatureHex, publicKeyHex string) error {
	digest, err := Digest(in)
	if err != nil {
		return err
	}

	sig, err := decodeSignature(signatureHex)
	if err != nil {
		return err
	}

	suppliedPub, err := decodeCompressedPubkey(publicKeyHex)
	if err != nil {
		return err
	}

	recoveredPub, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return fmt.Errorf("%w: signature recovery failed: %s", domain.ErrBadSignature, err)
	}
	recoveredCompressed := ethcrypto.CompressPubkey(recoveredPub)
	if !bytesEqual(recoveredCompressed, suppliedPub) {
		return fmt.Errorf("%w: recovered key does not match supplied public key", domain.ErrBadSignature)
	}

	if !ethcrypto.VerifySignature(ethcrypto.FromECDSAPub(recoveredPub), digest[:], sig[:64]) {
		return fmt.Errorf("%w: signature does not verify against recovered key", domain.ErrBadSignature)
	}

	principal, err := principalFromPubkey(recoveredCompressed)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrBadSignature, err)
	}
	if !strings.EqualFold(principal, maker) {
		return fmt.Errorf("%w: recovered principal %s does not match maker %s", domain.ErrBadSignature, principal, maker)
	}

	return nil
}

func decodeSignature(signatureHex string) ([]byte, error) {
	s := strings.TrimPrefix(signatureHex, "0x")
	if len(s) != 130 {
		return nil, fmt.Errorf("%w: signature must be 130 hex chars (65 bytes RSV), got %d", domain.ErrInvalidArgument, len(s))
	}
	sig, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex signature: %s", domain.ErrInvalidArgument, err)
	}
	// go-ethereum's recovery functions expect v in {0,1}.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	return sig, nil
}

func decodeCompressedPubkey(publicKeyHex string) ([]byte, error) {
	s := strings.TrimPrefix(publicKeyHex, "0x")
	if len(s) != 66 {
		return nil, fmt.Errorf("%w: public key must be 66 hex chars (33-byte compressed), got %d", domain.ErrInvalidArgument, len(s))
	}
	pub, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex public key: %s", domain.ErrInvalidArgument, err)
	}
	return pub, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// principalFromPubkey derives a c32check standard principal from a
// compressed public key: hash160 = RIPEMD160(SHA256(pubkey)).
func principalFromPubkey(compressedPubkey []byte) (string, error) {
	sha := sha256.Sum256(compressedPubkey)
	r := ripemd160.New()
	if _, err := r.Write(sha[:]); err != nil {
		return "", fmt.Errorf("hash160: %w", err)
	}
	hash160 := r.Sum(nil)
	return EncodePrincipal(principalVersion, hash160)
}
