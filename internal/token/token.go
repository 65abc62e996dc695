// Package token defines the token model for the payment engine: the Mint
// variant distinguishing the ledger's native coin from SPL mints, validated
// Token records, and display/raw amount conversion.
package token

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	payerr "github.com/tipforge/payengine/internal/errors"
)

// MaxDecimals is the largest decimal precision a token record may declare.
const MaxDecimals = 18

// Mint identifies a fungible token type on the ledger. The zero value is not
// valid; construct with Native or SPL.
type Mint struct {
	address solana.PublicKey
	kind    uint8 // 0 = unset, 1 = native, 2 = spl
}

// Native returns the Mint for the ledger's native coin.
func Native() Mint {
	return Mint{kind: 1}
}

// SPL returns the Mint for an SPL token account.
func SPL(address solana.PublicKey) Mint {
	return Mint{address: address, kind: 2}
}

// ParseMint interprets a stored mint string: the sentinel "native" or a
// base58 mint address.
func ParseMint(s string) (Mint, error) {
	if strings.EqualFold(s, "native") {
		return Native(), nil
	}
	addr, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return Mint{}, payerr.Validation("mint", fmt.Sprintf("malformed mint address %q", s))
	}
	return SPL(addr), nil
}

// IsNative reports whether the mint is the ledger's native coin.
func (m Mint) IsNative() bool { return m.kind == 1 }

// IsZero reports whether the mint was never set.
func (m Mint) IsZero() bool { return m.kind == 0 }

// Address returns the SPL mint address; ok is false for the native coin.
func (m Mint) Address() (solana.PublicKey, bool) {
	if m.kind != 2 {
		return solana.PublicKey{}, false
	}
	return m.address, true
}

// String renders the persisted form: "native" or the base58 address.
func (m Mint) String() string {
	switch m.kind {
	case 1:
		return "native"
	case 2:
		return m.address.String()
	default:
		return "<unset>"
	}
}

// Token is a resolved token record. Immutable once constructed for a given
// transfer.
type Token struct {
	Mint     Mint
	Ticker   string
	Decimals uint8
	Enabled  bool
}

// New validates and constructs a Token.
func New(mint Mint, ticker string, decimals uint8, enabled bool) (*Token, error) {
	if mint.IsZero() {
		return nil, payerr.Validation("mint", "mint is required")
	}
	if ticker == "" {
		return nil, payerr.Validation("ticker", "ticker is required")
	}
	if decimals > MaxDecimals {
		return nil, payerr.Validation("decimals",
			fmt.Sprintf("decimals %d out of range [0,%d]", decimals, MaxDecimals))
	}
	return &Token{
		Mint:     mint,
		Ticker:   strings.ToUpper(ticker),
		Decimals: decimals,
		Enabled:  enabled,
	}, nil
}
