package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledgersync"

var (
	PagesFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pages_fetched_total",
		Help:      "Upstream pages fetched by sync jobs.",
	}, []string{"chain", "category"})

	EntriesInserted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entries_inserted_total",
		Help:      "Ledger rows inserted (duplicates excluded).",
	}, []string{"chain", "category"})

	RecordsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_skipped_total",
		Help:      "Upstream records dropped at the transform boundary.",
	}, []string{"chain", "reason"})

	RPCFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_fallbacks_total",
		Help:      "Records rebuilt from on-chain logs after a token/amount mismatch.",
	}, []string{"chain", "outcome"})

	PriceBucketFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "price_bucket_failures_total",
		Help:      "Price bucket lookups that failed and degraded to zero values.",
	}, []string{"chain"})

	CursorValue = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cursor_value",
		Help:      "Last persisted cursor per stream.",
	}, []string{"chain", "category"})

	BlockLag = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "block_lag",
		Help:      "Blocks between the subgraph head and the persisted cursor after a run.",
	}, []string{"chain", "category"})

	JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Wall time of sync and snapshot jobs.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"chain", "category", "outcome"})

	SubgraphRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subgraph_requests_total",
		Help:      "GraphQL requests by outcome.",
	}, []string{"outcome"})

	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Subgraph cache lookups by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		PagesFetched, EntriesInserted, RecordsSkipped, RPCFallbacks, PriceBucketFailures,
		CursorValue, BlockLag, JobDuration, SubgraphRequests, CacheLookups,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
