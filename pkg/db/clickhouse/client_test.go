package clickhouse

import (
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
)

func TestExtractReplicas(t *testing.T) {
	assert.Equal(t, []string{"localhost:9000"}, extractReplicas("clickhouse://localhost:9000?sslmode=disable"))
	assert.Equal(t, []string{"h1:9000", "h2:9000"}, extractReplicas("clickhouse://u:p@h1:9000, h2:9000/prices"))
	assert.Equal(t, []string{"localhost:9000"}, extractReplicas("clickhouse://"))
}

func TestExtractCredentials(t *testing.T) {
	u, p := extractCredentials("clickhouse://reader:s3cret@h1:9000/db")
	assert.Equal(t, "reader", u)
	assert.Equal(t, "s3cret", p)

	u, p = extractCredentials("tcp://h1:9000")
	assert.Equal(t, "default", u)
	assert.Equal(t, "", p)

	u, p = extractCredentials("clickhouse://reader@h1:9000")
	assert.Equal(t, "reader", u)
	assert.Equal(t, "", p)
}

func TestParseConnOpenStrategy(t *testing.T) {
	assert.Equal(t, clickhouse.ConnOpenRoundRobin, parseConnOpenStrategy("round_robin"))
	assert.Equal(t, clickhouse.ConnOpenRandom, parseConnOpenStrategy(" Random "))
	assert.Equal(t, clickhouse.ConnOpenInOrder, parseConnOpenStrategy("bogus"))
}
