package transform

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/subgraph"
)

// JoinExit maps a raw join/exit (v2) or add/remove (v3, CoW) record to a ledger entry
// without USD values.
func JoinExit(raw subgraph.RawEvent, chain string, version int) (ledger.LedgerEntry, error) {
	switch r := raw.(type) {
	case subgraph.RawJoinExitV2:
		typ, err := entryType(r.Type, "Join", "Exit")
		if err != nil {
			return ledger.LedgerEntry{}, err
		}
		e, err := base(r.ID, r.BlockNum, r.Timestamp, chain, version)
		if err != nil {
			return ledger.LedgerEntry{}, err
		}
		e.Type = typ
		e.PoolID = r.Pool.ID
		e.UserAddress = r.Sender
		e.Payload.Tokens, err = tokenAmounts(r.Pool.TokenAddresses(), r.Amounts)
		return e, checkRequired(e, err)

	case subgraph.RawAddRemove:
		typ, err := entryType(r.Type, "Add", "Remove")
		if err != nil {
			return ledger.LedgerEntry{}, err
		}
		e, err := base(r.ID, r.BlockNumber, r.BlockTimestamp, chain, version)
		if err != nil {
			return ledger.LedgerEntry{}, err
		}
		e.Type = typ
		e.PoolID = r.Pool.ID
		e.UserAddress = r.Sender
		e.Payload.Tokens, err = tokenAmounts(r.Pool.TokenAddresses(), r.Amounts)
		return e, checkRequired(e, err)

	default:
		return ledger.LedgerEntry{}, fmt.Errorf("%w: %T is not a join/exit", ErrUnknownType, raw)
	}
}

// Swap maps a raw swap record to a ledger entry. Payload.Tokens holds the in leg and
// Payload.Swap the out leg.
func Swap(raw subgraph.RawEvent, chain string, version int) (ledger.LedgerEntry, error) {
	var (
		e                   ledger.LedgerEntry
		err                 error
		pool, user          string
		tokenIn, tokenOut   string
		amountIn, amountOut subgraph.Num
	)
	switch r := raw.(type) {
	case subgraph.RawSwapV2:
		e, err = base(r.ID, r.BlockNum, r.Timestamp, chain, version)
		pool, user = r.PoolID.ID, r.Caller
		tokenIn, tokenOut, amountIn, amountOut = r.TokenIn, r.TokenOut, r.TokenAmountIn, r.TokenAmountOut
	case subgraph.RawSwapV3:
		e, err = base(r.ID, r.BlockNumber, r.BlockTimestamp, chain, version)
		pool, user = r.Pool, r.User.ID
		tokenIn, tokenOut, amountIn, amountOut = r.TokenIn, r.TokenOut, r.TokenAmountIn, r.TokenAmountOut
	default:
		return ledger.LedgerEntry{}, fmt.Errorf("%w: %T is not a swap", ErrUnknownType, raw)
	}
	if err != nil {
		return ledger.LedgerEntry{}, err
	}

	in, err := parseAmount(amountIn)
	if err != nil {
		return ledger.LedgerEntry{}, err
	}
	out, err := parseAmount(amountOut)
	if err != nil {
		return ledger.LedgerEntry{}, err
	}
	if tokenIn == "" || tokenOut == "" {
		return ledger.LedgerEntry{}, fmt.Errorf("%w: swap token", ErrMissingField)
	}

	e.Type = ledger.EntrySwap
	e.PoolID = pool
	e.UserAddress = user
	e.Payload.Tokens = []ledger.TokenAmount{{Address: tokenIn, Amount: in}}
	e.Payload.Swap = &ledger.SwapDetails{TokenOut: tokenOut, AmountOut: out}
	return e, checkRequired(e, nil)
}

func base(id string, block, ts subgraph.Num, chain string, version int) (ledger.LedgerEntry, error) {
	txHash, logIndex, err := ParseEventID(id)
	if err != nil {
		return ledger.LedgerEntry{}, err
	}
	blockNumber, err := block.Int64()
	if err != nil {
		return ledger.LedgerEntry{}, fmt.Errorf("%w: block: %v", ErrMissingField, err)
	}
	timestamp, err := ts.Int64()
	if err != nil {
		return ledger.LedgerEntry{}, fmt.Errorf("%w: timestamp: %v", ErrMissingField, err)
	}
	return ledger.LedgerEntry{
		ID:              EntryID(txHash, logIndex),
		Chain:           chain,
		ProtocolVersion: version,
		TxHash:          txHash,
		BlockNumber:     blockNumber,
		BlockTimestamp:  timestamp,
		LogIndex:        logIndex,
	}, nil
}

func entryType(raw, join, exit string) (ledger.EntryType, error) {
	switch raw {
	case join:
		return ledger.EntryJoin, nil
	case exit:
		return ledger.EntryExit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, raw)
	}
}

// tokenAmounts zips the pool's token list with the event amounts. Counts that disagree
// are never guessed at.
func tokenAmounts(tokens []string, amounts []subgraph.Num) ([]ledger.TokenAmount, error) {
	if len(tokens) != len(amounts) {
		return nil, fmt.Errorf("%w: %d tokens, %d amounts", ErrTokenAmountMismatch, len(tokens), len(amounts))
	}
	out := make([]ledger.TokenAmount, len(tokens))
	for i, t := range tokens {
		amt, err := parseAmount(amounts[i])
		if err != nil {
			return nil, err
		}
		out[i] = ledger.TokenAmount{Address: t, Amount: amt}
	}
	return out, nil
}

func parseAmount(n subgraph.Num) (string, error) {
	if n == "" {
		return "", fmt.Errorf("%w: amount", ErrMissingField)
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, n)
	}
	return d.String(), nil
}

// checkRequired validates identity fields. Callers get the entry back alongside any error.
func checkRequired(e ledger.LedgerEntry, err error) error {
	if err != nil {
		return err
	}
	if e.PoolID == "" {
		return fmt.Errorf("%w: pool", ErrMissingField)
	}
	if e.UserAddress == "" {
		return fmt.Errorf("%w: user", ErrMissingField)
	}
	return nil
}
