package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// WatchConfig controls late confirmation workflows started by the client.
type WatchConfig struct {
	Network    string
	Commitment string
	Window     time.Duration
	Interval   time.Duration
}

// workflowStarter is the part of client.Client used to start workflows.
type workflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Client starts late confirmation workflows on Temporal.
type Client struct {
	client    client.Client
	starter   workflowStarter
	taskQueue string
	watch     WatchConfig
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, watch WatchConfig, logger *slog.Logger) (*Client, error) {
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
		starter:   c,
		taskQueue: taskQueue,
		watch:     watch,
		logger:    logger,
	}, nil
}

// WatchLate starts a LateConfirmationWorkflow for signature. Watching the
// same signature twice while a watch is running attaches to the existing run.
func (c *Client) WatchLate(ctx context.Context, action, signature, wallet string) error {
	id := WorkflowID(signature)

	window := c.watch.Window
	if window <= 0 {
		window = DefaultLateWindow
	}

	input := LateConfirmationInput{
		Action:     action,
		Signature:  signature,
		Wallet:     wallet,
		Network:    c.watch.Network,
		Commitment: c.watch.Commitment,
		Window:     window,
		Interval:   c.watch.Interval,
	}

	run, err := c.starter.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                c.taskQueue,
		WorkflowExecutionTimeout: window + 5*time.Minute,
	}, LateConfirmationWorkflow, input)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to start late confirmation watch",
			"signature", signature,
			"workflow_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "late confirmation watch started",
		"signature", signature,
		"action", action,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"window", window,
	)
	return nil
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
	if c.client != nil {
		c.client.Close()
	}
}

// WorkflowID is the ID of the late confirmation workflow watching signature.
func WorkflowID(signature string) string {
	return "late-confirm-" + signature
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
