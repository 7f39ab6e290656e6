package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

var (
	// ErrMintInFlight is returned when a wallet already has a durable mint
	// running.
	ErrMintInFlight = errors.New("a mint is already in flight for this wallet")

	// ErrMintNotFound is returned for an unknown mint workflow ID.
	ErrMintNotFound = errors.New("mint workflow not found")
)

// MintStatus is the state of a durable mint. Result is set once the
// workflow completed.
type MintStatus struct {
	WorkflowID string              `json:"workflow_id"`
	Status     string              `json:"status"`
	Result     *MintWorkflowResult `json:"result,omitempty"`
}

// Client is a production implementation of Scheduler that talks to Temporal.
// It also starts and awaits durable mints.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

var _ Scheduler = (*Client)(nil)

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// UpsertRefreshSchedule creates the refresh schedule for a machine or, if it
// already exists, updates its interval.
func (c *Client) UpsertRefreshSchedule(ctx context.Context, machine string, interval time.Duration) error {
	id := ScheduleID(machine)
	handle := c.client.ScheduleClient().GetHandle(ctx, id)

	if _, err := handle.Describe(ctx); err != nil {
		c.logger.DebugContext(ctx, "schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)
		return c.createRefreshSchedule(ctx, machine, interval)
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to update schedule",
			"machine", machine,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "refresh schedule updated",
		"machine", machine,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

func (c *Client) createRefreshSchedule(ctx context.Context, machine string, interval time.Duration) error {
	id := ScheduleID(machine)

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: id,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{
				{Every: interval},
			},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        "refresh-snapshot-" + machine,
			Workflow:  RefreshSnapshotWorkflow,
			TaskQueue: c.taskQueue,
			Args:      []interface{}{RefreshSnapshotInput{}},
		},
		Memo: map[string]interface{}{
			"machine":    machine,
			"created_by": "candymint",
		},
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to create schedule",
			"machine", machine,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "refresh schedule created",
		"machine", machine,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// DeleteRefreshSchedule deletes the refresh schedule of a machine.
func (c *Client) DeleteRefreshSchedule(ctx context.Context, machine string) error {
	id := ScheduleID(machine)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.ErrorContext(ctx, "failed to delete schedule",
			"machine", machine,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "refresh schedule deleted",
		"machine", machine,
		"schedule_id", id,
	)
	return nil
}

// StartMint starts a durable mint for input.Wallet on machine and returns
// the workflow ID. A second mint for the same wallet fails while the first
// is still running.
func (c *Client) StartMint(ctx context.Context, machine string, input MintWorkflowInput) (string, error) {
	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        MintWorkflowID(machine, input.Wallet),
		TaskQueue: c.taskQueue,
		// Without both the SDK hands back the running mint instead of an error.
		WorkflowIDConflictPolicy:                 enumspb.WORKFLOW_ID_CONFLICT_POLICY_FAIL,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, MintWorkflow, input)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return "", fmt.Errorf("%w: %s", ErrMintInFlight, MintWorkflowID(machine, input.Wallet))
		}
		return "", fmt.Errorf("failed to start mint workflow: %w", err)
	}

	c.logger.InfoContext(ctx, "mint workflow started",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"wallet", input.Wallet,
	)
	return run.GetID(), nil
}

// AwaitMint blocks until the mint workflow finishes and returns its result.
func (c *Client) AwaitMint(ctx context.Context, workflowID string) (*MintWorkflowResult, error) {
	var result MintWorkflowResult
	if err := c.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("mint workflow %s failed: %w", workflowID, err)
	}
	return &result, nil
}

// MintStatus describes a mint workflow without blocking on it.
func (c *Client) MintStatus(ctx context.Context, workflowID string) (*MintStatus, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrMintNotFound, workflowID)
		}
		return nil, fmt.Errorf("failed to describe mint workflow %s: %w", workflowID, err)
	}

	status := desc.GetWorkflowExecutionInfo().GetStatus()
	out := &MintStatus{
		WorkflowID: workflowID,
		Status:     executionStatus(status),
	}
	if status == enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED {
		result, err := c.AwaitMint(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		out.Result = result
	}
	return out, nil
}

// executionStatus renders WORKFLOW_EXECUTION_STATUS_TIMED_OUT as "timed_out".
func executionStatus(s enumspb.WorkflowExecutionStatus) string {
	name, ok := enumspb.WorkflowExecutionStatus_name[int32(s)]
	if !ok {
		return "unknown"
	}
	return strings.ToLower(strings.TrimPrefix(name, "WORKFLOW_EXECUTION_STATUS_"))
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
