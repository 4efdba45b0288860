package transform

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrMalformedID         = errors.New("malformed event id")
	ErrUnknownType         = errors.New("unknown event type")
	ErrTokenAmountMismatch = errors.New("token and amount counts differ")
	ErrMissingField        = errors.New("missing field")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// txHashLen is the length of a 0x-prefixed 32-byte hash.
const txHashLen = 66

// ParseEventID splits a composite subgraph id into its transaction hash and log index.
// The id is the tx hash followed by the log index in hex, zero padded to any width.
func ParseEventID(raw string) (string, int64, error) {
	if len(raw) <= txHashLen || !strings.HasPrefix(raw, "0x") {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedID, raw)
	}
	txHash, suffix := raw[:txHashLen], raw[txHashLen:]

	idx, ok := new(big.Int).SetString(suffix, 16)
	if !ok || idx.Sign() < 0 || !idx.IsInt64() {
		return "", 0, fmt.Errorf("%w: log index %q", ErrMalformedID, suffix)
	}
	return txHash, idx.Int64(), nil
}

// EntryID is the canonical ledger id: tx hash followed by the decimal log index.
func EntryID(txHash string, logIndex int64) string {
	return fmt.Sprintf("%s%d", txHash, logIndex)
}
