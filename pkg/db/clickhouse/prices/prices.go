package prices

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/pkg/db"
	"github.com/dexsync/ledgersync/pkg/db/clickhouse"
	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
)

// Store reads historical token prices from the token_prices table.
type Store struct {
	clickhouse.Client
}

// New connects to the price database and makes sure the table exists.
func New(ctx context.Context, logger *zap.Logger, database string) (*Store, error) {
	client, err := clickhouse.New(ctx, logger.With(zap.String("component", "prices")), database)
	if err != nil {
		return nil, err
	}
	s := &Store{Client: client}
	if err := s.InitializeDB(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// InitializeDB creates token_prices. ReplacingMergeTree on updated_at keeps the latest write per
// (chain, token, bucket); reads use FINAL.
func (s *Store) InitializeDB(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			%s
		) ENGINE = %s(updated_at)
		ORDER BY (chain, timestamp, token_address)
	`, s.Database, ledger.TokenPricesTableName, ledger.ColumnsToSchemaSQL(ledger.TokenPriceColumns), clickhouse.ReplacingMergeTree)
	if err := s.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", ledger.TokenPricesTableName, err)
	}
	return nil
}

// GetPricesAtBucket returns every price recorded at exactly timestamp for chain.
func (s *Store) GetPricesAtBucket(ctx context.Context, timestamp int64, chain string) ([]db.TokenPriceQuote, error) {
	var rows []ledger.TokenPrice
	query := fmt.Sprintf(`
		SELECT chain, token_address, timestamp, price, updated_at
		FROM "%s"."%s" FINAL
		WHERE chain = ? AND timestamp = ?
	`, s.Database, ledger.TokenPricesTableName)

	if err := s.Select(ctx, &rows, query, chain, time.Unix(timestamp, 0).UTC()); err != nil {
		return nil, fmt.Errorf("select prices at %d for %s: %w", timestamp, chain, err)
	}

	out := make([]db.TokenPriceQuote, 0, len(rows))
	for _, r := range rows {
		out = append(out, db.TokenPriceQuote{TokenAddress: strings.ToLower(r.TokenAddress), Price: r.Price})
	}
	return out, nil
}
