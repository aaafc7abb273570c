package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
)

type fakeRun struct {
	client.WorkflowRun
	id string
}

func (r fakeRun) GetID() string    { return r.id }
func (r fakeRun) GetRunID() string { return "run-1" }

type fakeStarter struct {
	options client.StartWorkflowOptions
	args    []interface{}
	err     error
}

func (f *fakeStarter) ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error) {
	f.options = options
	f.args = args
	if f.err != nil {
		return nil, f.err
	}
	return fakeRun{id: options.ID}, nil
}

func TestClient_WatchLate(t *testing.T) {
	starter := &fakeStarter{}
	c := &Client{
		starter:   starter,
		taskQueue: "late-queue",
		watch: WatchConfig{
			Network:    "devnet",
			Commitment: "confirmed",
			Window:     2 * time.Minute,
			Interval:   5 * time.Second,
		},
		logger: testLogger(),
	}

	err := c.WatchLate(context.Background(), "send", testSignature, "wallet-a")
	require.NoError(t, err)

	assert.Equal(t, "late-confirm-"+testSignature, starter.options.ID)
	assert.Equal(t, "late-queue", starter.options.TaskQueue)
	assert.Equal(t, 7*time.Minute, starter.options.WorkflowExecutionTimeout)

	require.Len(t, starter.args, 1)
	input, ok := starter.args[0].(LateConfirmationInput)
	require.True(t, ok)
	assert.Equal(t, LateConfirmationInput{
		Action:     "send",
		Signature:  testSignature,
		Wallet:     "wallet-a",
		Network:    "devnet",
		Commitment: "confirmed",
		Window:     2 * time.Minute,
		Interval:   5 * time.Second,
	}, input)
}

func TestClient_WatchLateDefaultsWindow(t *testing.T) {
	starter := &fakeStarter{}
	c := &Client{starter: starter, taskQueue: "q", logger: testLogger()}

	require.NoError(t, c.WatchLate(context.Background(), "airdrop", testSignature, "w"))
	input := starter.args[0].(LateConfirmationInput)
	assert.Equal(t, DefaultLateWindow, input.Window)
}

func TestClient_WatchLateError(t *testing.T) {
	starter := &fakeStarter{err: errors.New("namespace not found")}
	c := &Client{starter: starter, taskQueue: "q", logger: testLogger()}

	err := c.WatchLate(context.Background(), "send", testSignature, "w")
	assert.ErrorContains(t, err, "namespace not found")
}
