package syncer

import (
	"context"
	"fmt"

	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/subgraph"
)

// Source fetches ascending pages of raw events with an inclusive block lower bound.
type Source interface {
	Fetch(ctx context.Context, lowerBound int64, first, skip int) ([]subgraph.RawEvent, error)
}

// HeadSource is implemented by sources that can report the latest indexed block.
type HeadSource interface {
	Head(ctx context.Context) (int64, error)
}

// Sources resolves the upstream of a (chain, category) stream.
type Sources interface {
	Source(chain string, category ledger.Category) (Source, error)
}

var eventKinds = map[ledger.Category]subgraph.EventKind{
	ledger.CategoryJoinExitV2:  subgraph.KindJoinExitV2,
	ledger.CategoryJoinExitV3:  subgraph.KindAddRemove,
	ledger.CategoryJoinExitCoW: subgraph.KindAddRemove,
	ledger.CategorySwapsV2:     subgraph.KindSwapV2,
	ledger.CategorySwapsV3:     subgraph.KindSwapV3,
	ledger.CategorySwapsCoW:    subgraph.KindSwapV3,
}

// SubgraphSources serves event streams from the subgraph of each protocol version.
type SubgraphSources struct {
	Factory *subgraph.Factory
}

func (s SubgraphSources) Source(chain string, category ledger.Category) (Source, error) {
	kind, ok := eventKinds[category]
	if !ok {
		return nil, fmt.Errorf("category %s is not an event stream", category)
	}
	client, err := s.Factory.Events(chain, category.ProtocolVersion())
	if err != nil {
		return nil, err
	}
	return subgraphSource{client: client, kind: kind}, nil
}

type subgraphSource struct {
	client *subgraph.Client
	kind   subgraph.EventKind
}

func (s subgraphSource) Fetch(ctx context.Context, lowerBound int64, first, skip int) ([]subgraph.RawEvent, error) {
	return s.client.Events(ctx, s.kind, subgraph.Page{LowerBound: lowerBound, First: first, Skip: skip})
}

func (s subgraphSource) Head(ctx context.Context) (int64, error) { return s.client.Head(ctx) }
