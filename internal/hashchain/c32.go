// Package hashchain implements the order hash/signature contract described
// in the core spec: a deterministic consensus-serialization of an order's
// economic fields, a single SHA-256 digest, and RSV signature verification
// against a caller-supplied compressed public key.
package hashchain

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
)

const c32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var c32AlphabetIndex = func() map[byte]int {
	m := make(map[byte]int, len(c32Alphabet))
	for i := 0; i < len(c32Alphabet); i++ {
		m[c32Alphabet[i]] = i
	}
	return m
}()

// c32Encode encodes raw bytes using the Crockford-style base32 alphabet used
// by Stacks addresses (c32check), most-significant-byte first.
func c32Encode(data []byte) string {
	x := new(big.Int).SetBytes(data)
	if x.Sign() == 0 {
		// Preserve leading-zero-byte semantics: one "0" digit per zero byte,
		// matching the reference c32 encoding's handling of all-zero input.
		return strings.Repeat("0", len(data))
	}

	var out []byte
	base := big.NewInt(32)
	mod := new(big.Int)
	for x.Sign() > 0 {
		x.DivMod(x, base, mod)
		out = append([]byte{c32Alphabet[mod.Int64()]}, out...)
	}

	// Leading zero bytes in the input become leading '0' characters.
	leadingZeros := 0
	for _, b := range data {
		if b != 0 {
			break
		}
		leadingZeros++
	}
	return strings.Repeat("0", leadingZeros) + string(out)
}

// c32Decode decodes a c32-alphabet string back to raw bytes.
func c32Decode(s string) ([]byte, error) {
	s = strings.ToUpper(s)
	x := new(big.Int)
	base := big.NewInt(32)
	leadingZeros := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '0' {
			break
		}
		leadingZeros++
	}
	for i := 0; i < len(s); i++ {
		v, ok := c32AlphabetIndex[s[i]]
		if !ok {
			return nil, fmt.Errorf("hashchain: invalid c32 character %q", s[i])
		}
		x.Mul(x, base)
		x.Add(x, big.NewInt(int64(v)))
	}
	decoded := x.Bytes()
	return append(make([]byte, leadingZeros), decoded...), nil
}

// doubleSHA256 returns SHA-256(SHA-256(data)).
func doubleSHA256(data []byte) []byte {
	h1 := sha256.Sum256(data)
	h2 := sha256.Sum256(h1[:])
	return h2[:]
}

// EncodePrincipal encodes a standard principal address (version byte +
// 20-byte hash160) into its c32check string form, e.g. "SP1ABCD...".
func EncodePrincipal(version byte, hash160 []byte) (string, error) {
	if len(hash160) != 20 {
		return "", fmt.Errorf("hashchain: hash160 must be 20 bytes, got %d", len(hash160))
	}
	checksumInput := append([]byte{version}, hash160...)
	checksum := doubleSHA256(checksumInput)[:4]
	payload := append(append([]byte{}, hash160...), checksum...)
	return "S" + c32Encode([]byte{version}) + c32Encode(payload), nil
}

// DecodePrincipal parses a c32check-encoded standard principal address,
// returning its version byte and 20-byte hash160.
func DecodePrincipal(addr string) (version byte, hash160 []byte, err error) {
	if len(addr) < 6 || addr[0] != 'S' {
		return 0, nil, fmt.Errorf("hashchain: malformed principal %q", addr)
	}
	body := addr[1:]
	verBytes, err := c32Decode(body[:1])
	if err != nil || len(verBytes) == 0 {
		return 0, nil, fmt.Errorf("hashchain: malformed principal version in %q", addr)
	}
	version = verBytes[len(verBytes)-1]

	payload, err := c32Decode(body[1:])
	if err != nil {
		return 0, nil, fmt.Errorf("hashchain: malformed principal payload in %q", addr)
	}
	if len(payload) < 24 {
		return 0, nil, fmt.Errorf("hashchain: principal payload too short in %q", addr)
	}
	hash160 = payload[:20]
	checksum := payload[20:24]
	want := doubleSHA256(append([]byte{version}, hash160...))[:4]
	for i := range checksum {
		if checksum[i] != want[i] {
			return 0, nil, fmt.Errorf("hashchain: checksum mismatch in principal %q", addr)
		}
	}
	return version, hash160, nil
}
