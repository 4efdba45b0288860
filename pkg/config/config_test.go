package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/stretchr/testify/require"
)

const sample = `
networks:
  - chain: sepolia
    versions: [3]
    subgraphs:
      v3: ["http://sg.local/v3/", "http://sg.local/v3"]
    tokenDecimals:
      "0xABC": 6
`

func TestParseNormalisesNetworks(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	n, err := cfg.Network("Sepolia")
	require.NoError(t, err)
	require.Equal(t, "SEPOLIA", n.Chain)
	require.Equal(t, time.Minute, n.SyncInterval)
	require.Equal(t, time.Hour, n.SnapshotInterval)
	require.Equal(t, int32(6), n.Decimals("0xabc"))
	require.Equal(t, int32(18), n.Decimals("0xdef"))
	require.Equal(t, []ledger.Category{ledger.CategoryJoinExitV3, ledger.CategorySwapsV3, ledger.CategorySnapshotsV3}, n.Categories())
	require.True(t, n.Supports(ledger.CategorySwapsV3))
	require.False(t, n.Supports(ledger.CategorySwapsV2))
}

func TestMissingNetworkIsTyped(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	_, err = cfg.Network("MAINNET")
	require.ErrorIs(t, err, ErrMissingNetwork)

	n, _ := cfg.Network("SEPOLIA")
	_, err = n.Endpoints(SourceV2)
	require.ErrorIs(t, err, ErrMissingNetwork)
}

func TestParseRejectsDuplicates(t *testing.T) {
	_, err := Parse([]byte("networks:\n  - chain: a\n  - chain: A\n"))
	require.Error(t, err)
}

func TestLoadFromEnvUsesEmbeddedDefault(t *testing.T) {
	t.Setenv("NETWORKS_CONFIG", "")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Contains(t, cfg.Chains(nil), "MAINNET")
	require.Equal(t, []string{"GNOSIS"}, cfg.Chains([]string{"gnosis"}))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	t.Setenv("NETWORKS_CONFIG", path)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Equal(t, []string{"SEPOLIA"}, cfg.Chains(nil))
}

func TestSources(t *testing.T) {
	require.Equal(t, SourceCoW, EventSource(1))
	require.Equal(t, SourceV2, EventSource(2))
	require.Equal(t, SourceV3, EventSource(3))
	require.Equal(t, SourceV3Pools, SnapshotSource(3))
	require.Equal(t, SourceV2, SnapshotSource(2))
}
