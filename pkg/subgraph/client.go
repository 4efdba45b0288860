package subgraph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/pkg/cache"
	"github.com/dexsync/ledgersync/pkg/metrics"
	"github.com/dexsync/ledgersync/pkg/retry"
)

// GraphQLError is returned when the subgraph answers with an errors array.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "subgraph error: " + strings.Join(e.Messages, "; ")
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Client is a typed query layer over one subgraph data source.
type Client struct {
	http     *HTTPClient
	logger   *zap.Logger
	retry    retry.Config
	cache    cache.Cache
	cacheTTL time.Duration
	now      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithCache caches non-paginated lookups (snapshots, metadata) for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(cl *Client) {
		cl.cache = c
		cl.cacheTTL = ttl
	}
}

// WithClock sets the clock that decides which snapshot days are settled enough to cache.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// WithRetry overrides the per-request retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(cl *Client) { cl.retry = cfg }
}

func NewClient(logger *zap.Logger, opts Opts, options ...Option) *Client {
	c := &Client{
		http:   NewHTTPWithOpts(opts),
		logger: logger,
		retry:  retry.UpstreamConfig(),
		now:    time.Now,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Do executes a GraphQL document and unmarshals its data object into out.
func (c *Client) Do(ctx context.Context, doc string, vars map[string]any, out any) error {
	return retry.WithBackoff(ctx, c.retry, c.logger, "subgraph_query", func() error {
		var resp gqlResponse
		if err := c.http.postJSON(ctx, gqlRequest{Query: doc, Variables: vars}, &resp); err != nil {
			return err
		}
		if len(resp.Errors) > 0 {
			msgs := make([]string, 0, len(resp.Errors))
			for _, e := range resp.Errors {
				msgs = append(msgs, e.Message)
			}
			return &GraphQLError{Messages: msgs}
		}
		if len(resp.Data) == 0 || string(resp.Data) == "null" {
			return fmt.Errorf("subgraph returned no data")
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return retry.Permanent(fmt.Errorf("decode subgraph data: %w", err))
		}
		return nil
	})
}

// Query runs a collection query and decodes its items into out (a pointer to a slice).
func (c *Client) Query(ctx context.Context, q Query, out any) error {
	doc, vars, err := q.Render()
	if err != nil {
		return err
	}
	envelope := struct {
		Items any `json:"items"`
	}{Items: out}
	return c.Do(ctx, doc, vars, &envelope)
}

// cachedDo serves doc from the cache when present; otherwise runs it and stores the raw data.
func (c *Client) cachedDo(ctx context.Context, doc string, vars map[string]any, out any) error {
	if c.cache == nil {
		return c.Do(ctx, doc, vars, out)
	}

	key := cacheKey(doc, vars)
	if b, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		if err := json.Unmarshal(b, out); err == nil {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return nil
		}
	} else if err != nil {
		c.logger.Warn("Subgraph cache read failed", zap.Error(err))
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	var raw json.RawMessage
	if err := c.Do(ctx, doc, vars, &raw); err != nil {
		return err
	}
	if err := c.cache.Set(ctx, key, raw, c.cacheTTL); err != nil {
		c.logger.Warn("Subgraph cache write failed", zap.Error(err))
	}
	return json.Unmarshal(raw, out)
}

func cacheKey(doc string, vars map[string]any) string {
	h := sha256.New()
	h.Write([]byte(doc))
	b, _ := json.Marshal(vars)
	h.Write(b)
	return "subgraph:" + hex.EncodeToString(h.Sum(nil))
}
