// Package storage defines shared persistence behavior for the engine's
// store implementations. The engine consumes externally-owned records
// (wallets, tokens, payments, escrows) through per-package store
// interfaces; implementations live in the memory and postgres subpackages.
// The engine never issues schema migrations.
package storage

import "errors"

// ErrNotFound is returned by every store when a record does not exist.
var ErrNotFound = errors.New("record not found")
