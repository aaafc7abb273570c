package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/solwallet/service/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

const testSignature = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"

func newWorkflowEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *Activities) {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.CheckSignatureStatus)
	env.RegisterActivity(activities.FetchBalance)
	env.RegisterActivity(activities.RecordLateOutcome)
	return env, activities
}

func baseInput() LateConfirmationInput {
	return LateConfirmationInput{
		Action:     "send",
		Signature:  testSignature,
		Wallet:     "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		Network:    "devnet",
		Commitment: "confirmed",
		Window:     time.Minute,
		Interval:   10 * time.Second,
	}
}

func strPtr(s string) *string { return &s }

func TestLateConfirmationWorkflow(t *testing.T) {
	tests := []struct {
		name         string
		commitment   string
		statuses     []*CheckSignatureResult // last entry repeats
		balanceErr   error
		wantOutcome  string
		wantChecks   int
		wantReason   *string
		wantBalance  *uint64
		wantBalCalls int
	}{
		{
			name: "lands after two misses",
			statuses: []*CheckSignatureResult{
				{},
				{Found: true, Commitment: "processed"},
				{Found: true, Commitment: "confirmed"},
			},
			wantOutcome:  db.OutcomeLateConfirmed,
			wantChecks:   3,
			wantBalance:  func() *uint64 { v := uint64(123); return &v }(),
			wantBalCalls: 1,
		},
		{
			name: "fails on chain",
			statuses: []*CheckSignatureResult{
				{},
				{Found: true, Commitment: "confirmed", Err: strPtr("transaction failed: InstructionError")},
			},
			wantOutcome: db.OutcomeFailed,
			wantChecks:  2,
			wantReason:  strPtr("transaction failed: InstructionError"),
		},
		{
			name:        "never lands",
			statuses:    []*CheckSignatureResult{{}},
			wantOutcome: db.OutcomeExpired,
			wantChecks:  7,
		},
		{
			name:       "finalized required",
			commitment: "finalized",
			statuses: []*CheckSignatureResult{
				{Found: true, Commitment: "confirmed"},
				{Found: true, Commitment: "finalized"},
			},
			wantOutcome:  db.OutcomeLateConfirmed,
			wantChecks:   2,
			wantBalance:  func() *uint64 { v := uint64(123); return &v }(),
			wantBalCalls: 1,
		},
		{
			name:         "balance fetch fails",
			statuses:     []*CheckSignatureResult{{Found: true, Commitment: "finalized"}},
			balanceErr:   errors.New("rpc down"),
			wantOutcome:  db.OutcomeLateConfirmed,
			wantChecks:   1,
			wantBalCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, activities := newWorkflowEnv(t)

			calls := 0
			env.OnActivity(activities.CheckSignatureStatus, mock.Anything, mock.Anything).Return(
				func(ctx context.Context, in CheckSignatureInput) (*CheckSignatureResult, error) {
					i := calls
					if i >= len(tt.statuses) {
						i = len(tt.statuses) - 1
					}
					calls++
					return tt.statuses[i], nil
				})

			balCalls := 0
			env.OnActivity(activities.FetchBalance, mock.Anything, mock.Anything).Return(
				func(ctx context.Context, in FetchBalanceInput) (*FetchBalanceResult, error) {
					balCalls++
					if tt.balanceErr != nil {
						return nil, tt.balanceErr
					}
					return &FetchBalanceResult{Lamports: 123}, nil
				})

			var recorded RecordLateOutcomeInput
			env.OnActivity(activities.RecordLateOutcome, mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) {
					recorded = args.Get(1).(RecordLateOutcomeInput)
				}).
				Return(nil)

			input := baseInput()
			if tt.commitment != "" {
				input.Commitment = tt.commitment
			}
			env.ExecuteWorkflow(LateConfirmationWorkflow, input)

			require.True(t, env.IsWorkflowCompleted())
			require.NoError(t, env.GetWorkflowError())

			var result LateConfirmationResult
			require.NoError(t, env.GetWorkflowResult(&result))
			assert.Equal(t, tt.wantOutcome, result.Outcome)
			assert.Equal(t, tt.wantChecks, result.Checks)
			assert.Equal(t, tt.wantReason, result.Reason)

			assert.Equal(t, tt.wantOutcome, recorded.Outcome)
			assert.Equal(t, testSignature, recorded.Signature)
			assert.Equal(t, "send", recorded.Action)
			assert.Equal(t, tt.wantBalance, recorded.BalanceLamports)
			if tt.balanceErr == nil {
				assert.Equal(t, tt.wantBalCalls, balCalls)
			} else {
				assert.GreaterOrEqual(t, balCalls, 1)
			}
		})
	}
}

func TestLateConfirmationWorkflow_CheckErrorsKeepWatching(t *testing.T) {
	env, activities := newWorkflowEnv(t)

	env.OnActivity(activities.CheckSignatureStatus, mock.Anything, mock.Anything).
		Return(nil, errors.New("rpc unavailable"))
	env.OnActivity(activities.RecordLateOutcome, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(LateConfirmationWorkflow, baseInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result LateConfirmationResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, db.OutcomeExpired, result.Outcome)
	assert.Greater(t, result.Checks, 1)
}

func TestLateConfirmationWorkflow_RecordFailure(t *testing.T) {
	env, activities := newWorkflowEnv(t)

	env.OnActivity(activities.CheckSignatureStatus, mock.Anything, mock.Anything).
		Return(&CheckSignatureResult{Found: true, Commitment: "finalized"}, nil)
	env.OnActivity(activities.FetchBalance, mock.Anything, mock.Anything).
		Return(&FetchBalanceResult{Lamports: 1}, nil)
	env.OnActivity(activities.RecordLateOutcome, mock.Anything, mock.Anything).
		Return(errors.New("database error"))

	env.ExecuteWorkflow(LateConfirmationWorkflow, baseInput())

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
}

func TestLateConfirmationWorkflow_Defaults(t *testing.T) {
	env, activities := newWorkflowEnv(t)

	env.OnActivity(activities.CheckSignatureStatus, mock.Anything, mock.Anything).
		Return(&CheckSignatureResult{}, nil)
	env.OnActivity(activities.RecordLateOutcome, mock.Anything, mock.Anything).Return(nil)

	start := env.Now()
	input := baseInput()
	input.Window = 0
	input.Interval = 0
	env.ExecuteWorkflow(LateConfirmationWorkflow, input)

	require.NoError(t, env.GetWorkflowError())
	var result LateConfirmationResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, db.OutcomeExpired, result.Outcome)
	assert.Equal(t, int(DefaultLateWindow/DefaultLateInterval)+1, result.Checks)
	assert.GreaterOrEqual(t, env.Now().Sub(start), DefaultLateWindow)
}

func TestCommitmentSatisfied(t *testing.T) {
	assert.True(t, commitmentSatisfied("confirmed", "confirmed"))
	assert.True(t, commitmentSatisfied("confirmed", "finalized"))
	assert.True(t, commitmentSatisfied("", "confirmed"))
	assert.False(t, commitmentSatisfied("finalized", "confirmed"))
	assert.True(t, commitmentSatisfied("finalized", "finalized"))
	assert.False(t, commitmentSatisfied("confirmed", "processed"))
	assert.False(t, commitmentSatisfied("confirmed", ""))
}
