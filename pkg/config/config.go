package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/utils"
	"gopkg.in/yaml.v3"
)

//go:embed networks.yaml
var defaultNetworks []byte

// ErrMissingNetwork is returned when a job names a chain (or a data source) that has no entry in the
// network table. Callers treat it as fatal, never as a retryable upstream failure.
var ErrMissingNetwork = errors.New("missing network config")

const (
	SourceV2      = "v2"
	SourceV3      = "v3"
	SourceV3Pools = "v3Pools"
	SourceCoW     = "cow"

	defaultTokenDecimals int32 = 18
)

type Config struct {
	Networks []Network `yaml:"networks"`
}

// Network is the per-chain row of the network table.
type Network struct {
	Chain            string              `yaml:"chain"`
	ChainID          int64               `yaml:"chainId"`
	RPCURL           string              `yaml:"rpcUrl"`
	Versions         []int               `yaml:"versions"`
	Subgraphs        map[string][]string `yaml:"subgraphs"`
	SyncInterval     time.Duration       `yaml:"syncInterval"`
	SnapshotInterval time.Duration       `yaml:"snapshotInterval"`
	TokenDecimals    map[string]int32    `yaml:"tokenDecimals"`
}

// Load reads a network table from path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read network config %s: %w", path, err)
	}
	return Parse(b)
}

// LoadFromEnv loads NETWORKS_CONFIG when set, otherwise the embedded default table.
func LoadFromEnv() (*Config, error) {
	if path := utils.Env("NETWORKS_CONFIG", ""); path != "" {
		return Load(path)
	}
	return Parse(defaultNetworks)
}

// Parse decodes and validates a YAML network table.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse network config: %w", err)
	}
	seen := map[string]bool{}
	for i := range cfg.Networks {
		n := &cfg.Networks[i]
		n.Chain = strings.ToUpper(strings.TrimSpace(n.Chain))
		if n.Chain == "" {
			return nil, fmt.Errorf("network #%d: chain is required", i)
		}
		if seen[n.Chain] {
			return nil, fmt.Errorf("network %s declared twice", n.Chain)
		}
		seen[n.Chain] = true
		if n.SyncInterval <= 0 {
			n.SyncInterval = time.Minute
		}
		if n.SnapshotInterval <= 0 {
			n.SnapshotInterval = time.Hour
		}
		lowered := make(map[string]int32, len(n.TokenDecimals))
		for addr, d := range n.TokenDecimals {
			lowered[strings.ToLower(addr)] = d
		}
		n.TokenDecimals = lowered
	}
	return &cfg, nil
}

// Network returns the entry for chain or ErrMissingNetwork.
func (c *Config) Network(chain string) (Network, error) {
	chain = strings.ToUpper(chain)
	for _, n := range c.Networks {
		if n.Chain == chain {
			return n, nil
		}
	}
	return Network{}, fmt.Errorf("%w: chain %s", ErrMissingNetwork, chain)
}

// Chains lists configured chains, optionally restricted to the names in only.
func (c *Config) Chains(only []string) []string {
	allow := map[string]bool{}
	for _, o := range only {
		allow[strings.ToUpper(o)] = true
	}
	out := make([]string, 0, len(c.Networks))
	for _, n := range c.Networks {
		if len(allow) == 0 || allow[n.Chain] {
			out = append(out, n.Chain)
		}
	}
	return out
}

// Categories returns the sync categories enabled on this network.
func (n Network) Categories() []ledger.Category {
	out := make([]ledger.Category, 0)
	for _, v := range n.Versions {
		out = append(out, ledger.CategoriesFor(v)...)
	}
	return out
}

// Supports reports whether category is enabled on this network.
func (n Network) Supports(category ledger.Category) bool {
	for _, c := range n.Categories() {
		if c == category {
			return true
		}
	}
	return false
}

// EventSource returns the subgraph key serving event categories of a protocol version.
func EventSource(version int) string {
	switch version {
	case 1:
		return SourceCoW
	case 3:
		return SourceV3
	default:
		return SourceV2
	}
}

// SnapshotSource returns the subgraph key serving pool snapshots of a protocol version.
func SnapshotSource(version int) string {
	if version == 3 {
		return SourceV3Pools
	}
	return SourceV2
}

// Endpoints returns the subgraph URLs of a data source.
func (n Network) Endpoints(source string) ([]string, error) {
	eps := n.Subgraphs[source]
	if len(eps) == 0 {
		return nil, fmt.Errorf("%w: chain %s has no %s subgraph", ErrMissingNetwork, n.Chain, source)
	}
	return eps, nil
}

// Decimals returns the configured decimals of a token, 18 when unknown.
func (n Network) Decimals(token string) int32 {
	if d, ok := n.TokenDecimals[strings.ToLower(token)]; ok {
		return d
	}
	return defaultTokenDecimals
}
