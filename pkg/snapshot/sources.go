package snapshot

import (
	"context"

	"github.com/dexsync/ledgersync/pkg/subgraph"
)

// Source serves upstream cumulative pool snapshots of one protocol version.
type Source interface {
	DaySnapshots(ctx context.Context, day int64, poolID string) ([]subgraph.RawPoolSnapshot, error)
	FirstSnapshotTimestamp(ctx context.Context, poolID string) (int64, bool, error)
}

type Sources interface {
	Source(chain string, version int) (Source, error)
}

// SubgraphSources serves snapshots from the pools subgraph of each version.
type SubgraphSources struct {
	Factory *subgraph.Factory
}

func (s SubgraphSources) Source(chain string, version int) (Source, error) {
	client, schema, err := s.Factory.Snapshots(chain, version)
	if err != nil {
		return nil, err
	}
	return subgraphSource{client: client, schema: schema}, nil
}

type subgraphSource struct {
	client *subgraph.Client
	schema subgraph.SnapshotSchema
}

func (s subgraphSource) DaySnapshots(ctx context.Context, day int64, poolID string) ([]subgraph.RawPoolSnapshot, error) {
	return s.client.DaySnapshots(ctx, s.schema, day, poolID)
}

func (s subgraphSource) FirstSnapshotTimestamp(ctx context.Context, poolID string) (int64, bool, error) {
	return s.client.FirstSnapshotTimestamp(ctx, s.schema, poolID)
}
