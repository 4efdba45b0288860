package subgraph

import (
	"context"
	"fmt"
	"strconv"
)

// Page selects one ascending page of events with an inclusive lower bound on the block
// number. Events of one block may straddle a page boundary, so a strict bound would drop them.
type Page struct {
	LowerBound int64
	First      int
	Skip       int
}

type eventSpec struct {
	collection string
	filterType string
	blockField string
	fields     string
}

var eventSpecs = map[EventKind]eventSpec{
	KindJoinExitV2: {
		collection: "joinExits",
		filterType: "JoinExit_filter",
		blockField: "block",
		fields:     "id type sender amounts pool { id tokensList } block timestamp tx",
	},
	KindAddRemove: {
		collection: "addRemoves",
		filterType: "AddRemove_filter",
		blockField: "blockNumber",
		fields:     "id type sender amounts pool { id address tokens { address decimals } } blockNumber blockTimestamp transactionHash logIndex",
	},
	KindSwapV2: {
		collection: "swaps",
		filterType: "Swap_filter",
		blockField: "block",
		fields:     "id caller tokenIn tokenOut tokenAmountIn tokenAmountOut poolId { id tokensList } block timestamp tx",
	},
	KindSwapV3: {
		collection: "swaps",
		filterType: "Swap_filter",
		blockField: "blockNumber",
		fields:     "id pool tokenIn tokenOut tokenAmountIn tokenAmountOut user { id } blockNumber blockTimestamp transactionHash logIndex",
	},
}

// EventQuery builds the page query of an event kind.
func EventQuery(kind EventKind, p Page) (Query, error) {
	spec, ok := eventSpecs[kind]
	if !ok {
		return Query{}, fmt.Errorf("unknown event kind %q", kind)
	}
	return Query{
		Collection:     spec.collection,
		FilterType:     spec.filterType,
		Fields:         spec.fields,
		Where:          map[string]any{spec.blockField + "_gte": strconv.FormatInt(p.LowerBound, 10)},
		OrderBy:        spec.blockField,
		OrderDirection: "asc",
		First:          p.First,
		Skip:           p.Skip,
	}, nil
}

func (c *Client) JoinExitsV2(ctx context.Context, p Page) ([]RawJoinExitV2, error) {
	var out []RawJoinExitV2
	err := c.events(ctx, KindJoinExitV2, p, &out)
	return out, err
}

func (c *Client) AddRemoves(ctx context.Context, p Page) ([]RawAddRemove, error) {
	var out []RawAddRemove
	err := c.events(ctx, KindAddRemove, p, &out)
	return out, err
}

func (c *Client) SwapsV2(ctx context.Context, p Page) ([]RawSwapV2, error) {
	var out []RawSwapV2
	err := c.events(ctx, KindSwapV2, p, &out)
	return out, err
}

func (c *Client) SwapsV3(ctx context.Context, p Page) ([]RawSwapV3, error) {
	var out []RawSwapV3
	err := c.events(ctx, KindSwapV3, p, &out)
	return out, err
}

// Events fetches one page of kind and returns it as tagged variants, in upstream order.
func (c *Client) Events(ctx context.Context, kind EventKind, p Page) ([]RawEvent, error) {
	switch kind {
	case KindJoinExitV2:
		items, err := c.JoinExitsV2(ctx, p)
		return asRaw(items, err)
	case KindAddRemove:
		items, err := c.AddRemoves(ctx, p)
		return asRaw(items, err)
	case KindSwapV2:
		items, err := c.SwapsV2(ctx, p)
		return asRaw(items, err)
	case KindSwapV3:
		items, err := c.SwapsV3(ctx, p)
		return asRaw(items, err)
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}

func (c *Client) events(ctx context.Context, kind EventKind, p Page, out any) error {
	q, err := EventQuery(kind, p)
	if err != nil {
		return err
	}
	if err := c.Query(ctx, q, out); err != nil {
		return fmt.Errorf("fetch %s page (lower=%d skip=%d): %w", kind, p.LowerBound, p.Skip, err)
	}
	return nil
}

func asRaw[T RawEvent](items []T, err error) ([]RawEvent, error) {
	if err != nil {
		return nil, err
	}
	out := make([]RawEvent, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out, nil
}

// Head returns the latest block the subgraph has indexed.
func (c *Client) Head(ctx context.Context) (int64, error) {
	var out struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}
	if err := c.Do(ctx, "{ _meta { block { number } } }", nil, &out); err != nil {
		return 0, fmt.Errorf("fetch subgraph head: %w", err)
	}
	return out.Meta.Block.Number, nil
}
