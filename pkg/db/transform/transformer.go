package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/pkg/config"
	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/metrics"
	"github.com/dexsync/ledgersync/pkg/rpc"
	"github.com/dexsync/ledgersync/pkg/subgraph"
)

// Transformer maps pages of raw records to ledger entries with record-level isolation.
type Transformer struct {
	logger   *zap.Logger
	networks *config.Config
	rpc      rpc.Factory
}

// NewTransformer builds a Transformer. A nil fallback factory disables the on-chain
// rebuild of records whose token and amount counts disagree; such records are skipped.
func NewTransformer(logger *zap.Logger, networks *config.Config, fallback rpc.Factory) *Transformer {
	return &Transformer{logger: logger, networks: networks, rpc: fallback}
}

// ErrFallbackUnavailable means the on-chain rebuild of a record could not reach its RPC
// node. The page must be retried rather than the record skipped.
var ErrFallbackUnavailable = errors.New("rpc fallback unavailable")

// TransformBatch returns the entries of raws in input order and the number of records
// skipped. It fails the whole batch with ErrFallbackUnavailable when a record needs the
// on-chain rebuild and the node cannot serve it.
func (t *Transformer) TransformBatch(ctx context.Context, chain string, category ledger.Category, raws []subgraph.RawEvent) ([]ledger.LedgerEntry, int, error) {
	version := category.ProtocolVersion()
	entries := make([]ledger.LedgerEntry, 0, len(raws))
	skipped := 0

	for _, raw := range raws {
		var (
			e   ledger.LedgerEntry
			err error
		)
		switch category.Kind() {
		case ledger.KindJoinExit:
			e, err = JoinExit(raw, chain, version)
			if errors.Is(err, ErrTokenAmountMismatch) {
				e, err = t.rebuildFromChain(ctx, chain, raw, e, err)
			}
		case ledger.KindSwap:
			e, err = Swap(raw, chain, version)
		default:
			err = fmt.Errorf("%w: category %s has no ledger entries", ErrUnknownType, category)
		}

		if errors.Is(err, ErrFallbackUnavailable) {
			return nil, skipped, fmt.Errorf("record %s: %w", raw.EventID(), err)
		}
		if err != nil {
			skipped++
			metrics.RecordsSkipped.WithLabelValues(chain, reason(err)).Inc()
			t.logger.Warn("Skipping malformed record",
				zap.String("chain", chain),
				zap.String("category", string(category)),
				zap.String("id", raw.EventID()),
				zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, skipped, nil
}

// rebuildFromChain replaces the token amounts of e with the deltas of the on-chain log
// the record was indexed from.
func (t *Transformer) rebuildFromChain(ctx context.Context, chain string, raw subgraph.RawEvent, e ledger.LedgerEntry, cause error) (ledger.LedgerEntry, error) {
	if t.rpc == nil || e.TxHash == "" {
		return e, cause
	}

	client, err := t.rpc.ForChain(ctx, chain)
	if err != nil {
		metrics.RPCFallbacks.WithLabelValues(chain, "unavailable").Inc()
		return e, fmt.Errorf("%w: %w", ErrFallbackUnavailable, err)
	}
	bc, err := client.BalanceChange(ctx, e.TxHash, e.LogIndex)
	if err != nil {
		if !rpc.IsRecordError(err) {
			metrics.RPCFallbacks.WithLabelValues(chain, "unavailable").Inc()
			return e, fmt.Errorf("%w: %w", ErrFallbackUnavailable, err)
		}
		metrics.RPCFallbacks.WithLabelValues(chain, "failed").Inc()
		return e, fmt.Errorf("%w (rpc fallback: %v)", cause, err)
	}
	if len(bc.Tokens) != len(bc.Deltas) {
		metrics.RPCFallbacks.WithLabelValues(chain, "failed").Inc()
		return e, fmt.Errorf("%w (on-chain log has %d tokens, %d deltas)", cause, len(bc.Tokens), len(bc.Deltas))
	}
	if bc.PoolID != "" && !strings.EqualFold(bc.PoolID, e.PoolID) {
		metrics.RPCFallbacks.WithLabelValues(chain, "failed").Inc()
		return e, fmt.Errorf("%w (on-chain log belongs to pool %s)", cause, bc.PoolID)
	}

	known := poolDecimals(raw)
	var network config.Network
	if t.networks != nil {
		network, _ = t.networks.Network(chain)
	}
	tokens := make([]ledger.TokenAmount, len(bc.Tokens))
	for i, token := range bc.Tokens {
		dec, ok := known[strings.ToLower(token)]
		if !ok {
			dec = network.Decimals(token)
		}
		tokens[i] = ledger.TokenAmount{
			Address: token,
			Amount:  decimal.NewFromBigInt(bc.Deltas[i], -dec).String(),
		}
	}
	e.Payload.Tokens = tokens

	metrics.RPCFallbacks.WithLabelValues(chain, "rebuilt").Inc()
	t.logger.Info("Rebuilt record from on-chain log",
		zap.String("chain", chain),
		zap.String("id", e.ID),
		zap.Int("tokens", len(tokens)))
	return e, nil
}

// poolDecimals returns the token decimals a raw record carries, keyed by lowercased address.
func poolDecimals(raw subgraph.RawEvent) map[string]int32 {
	out := map[string]int32{}
	if r, ok := raw.(subgraph.RawAddRemove); ok {
		for _, tok := range r.Pool.Tokens {
			if tok.Decimals > 0 {
				out[strings.ToLower(tok.Address)] = tok.Decimals
			}
		}
	}
	return out
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedID):
		return "malformed_id"
	case errors.Is(err, ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, ErrTokenAmountMismatch):
		return "token_amount_mismatch"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "other"
	}
}
