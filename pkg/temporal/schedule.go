package temporal

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

// ScheduleRequest describes one recurring workflow.
type ScheduleRequest struct {
	ID       string
	Interval time.Duration
	Workflow string
	Args     []interface{}
	// Timeout bounds one workflow run.
	Timeout time.Duration
}

// EnsureSchedule creates the schedule when it does not exist yet. Runs never overlap:
// a tick that fires while the previous run is still going is skipped.
func (c *Client) EnsureSchedule(ctx context.Context, logger *zap.Logger, req ScheduleRequest) error {
	h := c.TSClient.GetHandle(ctx, req.ID)
	_, err := h.Describe(ctx)
	if err == nil {
		logger.Debug("Schedule already exists", zap.String("id", req.ID))
		return nil
	}

	var notFound *serviceerror.NotFound
	if !errors.As(err, &notFound) {
		return err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	logger.Info("Creating schedule",
		zap.String("id", req.ID),
		zap.String("workflow", req.Workflow),
		zap.Duration("every", req.Interval))
	_, err = c.TSClient.Create(ctx, client.ScheduleOptions{
		ID:      req.ID,
		Spec:    GetScheduleSpec(req.Interval),
		Overlap: enums.SCHEDULE_OVERLAP_POLICY_SKIP,
		Action: &client.ScheduleWorkflowAction{
			ID:                       req.ID,
			Workflow:                 req.Workflow,
			Args:                     req.Args,
			TaskQueue:                c.Queue,
			WorkflowExecutionTimeout: timeout,
			WorkflowTaskTimeout:      time.Minute,
		},
	})
	return err
}
