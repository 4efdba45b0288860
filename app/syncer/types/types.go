// Package types holds the payloads exchanged between schedules, workflows and activities.
package types

import (
	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/snapshot"
	"github.com/dexsync/ledgersync/pkg/syncer"
)

const (
	SyncWorkflowName       = "SyncWorkflow"
	SnapshotWorkflowName   = "SnapshotWorkflow"
	ReenrichWorkflowName   = "ReenrichWorkflow"
	ReloadPoolWorkflowName = "ReloadPoolWorkflow"
)

type SyncInput struct {
	Category ledger.Category `json:"category"`
	Chain    string          `json:"chain"`
}

// SyncOutput reports a finished run. Skipped is set when another run held the lock.
type SyncOutput struct {
	Skipped bool          `json:"skipped"`
	Result  syncer.Result `json:"result"`
}

type SnapshotInput struct {
	Chain   string `json:"chain"`
	Version int    `json:"version"`
}

type SnapshotOutput struct {
	Skipped bool            `json:"skipped"`
	Result  snapshot.Result `json:"result"`
}

type ReenrichInput struct {
	Chain    string          `json:"chain"`
	Category ledger.Category `json:"category"`
	Limit    int             `json:"limit"`
}

type ReenrichOutput struct {
	Skipped bool `json:"skipped"`
	Updated int  `json:"updated"`
}

type ReloadPoolInput struct {
	Chain   string `json:"chain"`
	Version int    `json:"version"`
	PoolID  string `json:"poolId"`
}

type ReloadPoolOutput struct {
	Snapshots int `json:"snapshots"`
}
