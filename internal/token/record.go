package token

import "context"

// Record is the persisted token row as the external store holds it: the
// mint column carries either the "native" sentinel or a base58 address.
type Record struct {
	Mint     string `db:"mint" json:"mint"`
	Ticker   string `db:"ticker" json:"ticker"`
	Decimals uint8  `db:"decimals" json:"decimals"`
	Enabled  bool   `db:"enabled" json:"enabled"`
}

// Resolve validates the row into a Token.
func (r Record) Resolve() (*Token, error) {
	m, err := ParseMint(r.Mint)
	if err != nil {
		return nil, err
	}
	return New(m, r.Ticker, r.Decimals, r.Enabled)
}

// Store resolves token records by ticker or mint address.
type Store interface {
	FindToken(ctx context.Context, tickerOrMint string) (*Record, error)
}
