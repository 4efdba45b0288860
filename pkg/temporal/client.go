package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/api/enums/v1"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	workflowservicepb "go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/pkg/utils"
)

const (
	DefaultNamespace = "ledgersync"
	DefaultQueue     = "ledgersync"
)

// Schedule and workflow ID patterns.
const (
	SyncScheduleID     = "sync:%s:%s"      // category, chain
	SnapshotScheduleID = "snapshot:%s:%d"  // chain, version
	ReloadWorkflowID   = "reload:%s:%d:%s" // chain, version, pool
)

type Client struct {
	TClient   client.Client
	TSClient  client.ScheduleClient
	Namespace string
	Queue     string
}

type Health struct {
	ConnectionOK bool                      `json:"connection_ok"`
	Pollers      []*taskqueuepb.PollerInfo `json:"pollers"`
}

func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("TEMPORAL_HOSTPORT", "localhost:7233")
	ns := utils.Env("TEMPORAL_NAMESPACE", DefaultNamespace)

	logger.Info("Connecting to Temporal", zap.String("host", host), zap.String("namespace", ns))
	tClient, err := Dial(ctx, host, ns, NewZapAdapter(logger))
	if err != nil {
		return nil, err
	}

	if _, err = tClient.CheckHealth(ctx, nil); err != nil {
		tClient.Close()
		return nil, err
	}

	return &Client{
		TClient:   tClient,
		TSClient:  tClient.ScheduleClient(),
		Namespace: ns,
		Queue:     utils.Env("TEMPORAL_QUEUE", DefaultQueue),
	}, nil
}

// Dial connects to Temporal using the provided hostPort and namespace.
func Dial(ctx context.Context, hostPort, namespace string, logger log.Logger) (client.Client, error) {
	return client.DialContext(
		ctx,
		client.Options{
			HostPort:  hostPort,
			Namespace: namespace,
			Logger:    logger,
		},
	)
}

func (c *Client) Close() {
	if c.TClient != nil {
		c.TClient.Close()
	}
}

func (c *Client) GetSyncScheduleID(category, chain string) string {
	return fmt.Sprintf(SyncScheduleID, category, chain)
}

func (c *Client) GetSnapshotScheduleID(chain string, version int) string {
	return fmt.Sprintf(SnapshotScheduleID, chain, version)
}

// GetScheduleSpec returns a schedule spec for the given interval.
func GetScheduleSpec(interval time.Duration) client.ScheduleSpec {
	return client.ScheduleSpec{Intervals: []client.ScheduleIntervalSpec{{Every: interval}}}
}

// Health reports connectivity and the pollers on the sync queue.
func (c *Client) Health(ctx context.Context) (Health, error) {
	h := Health{}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if _, err := c.TClient.CheckHealth(ctx, nil); err != nil {
		return h, err
	}
	h.ConnectionOK = true

	if svc := c.TClient.WorkflowService(); svc != nil {
		if rep, err := svc.DescribeTaskQueue(ctx, &workflowservicepb.DescribeTaskQueueRequest{
			Namespace:     c.Namespace,
			TaskQueue:     &taskqueuepb.TaskQueue{Name: c.Queue},
			TaskQueueType: enums.TASK_QUEUE_TYPE_WORKFLOW,
		}); err == nil {
			h.Pollers = rep.GetPollers()
		}
	}
	return h, nil
}
