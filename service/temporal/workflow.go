package temporal

import (
	"time"

	"github.com/brojonat/solwallet/service/db"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

const (
	DefaultLateWindow   = 10 * time.Minute
	DefaultLateInterval = 10 * time.Second
)

// LateConfirmationWorkflow keeps checking a signature that missed the
// interactive confirmation deadline. It sleeps on workflow timers between
// checks and ends when the transaction lands, fails, or the window elapses.
//
// A late landing is reported as late_confirmed together with a fresh balance.
func LateConfirmationWorkflow(ctx workflow.Context, input LateConfirmationInput) (*LateConfirmationResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("LateConfirmationWorkflow started", "signature", input.Signature, "action", input.Action)

	window := input.Window
	if window <= 0 {
		window = DefaultLateWindow
	}
	interval := input.Interval
	if interval <= 0 {
		interval = DefaultLateInterval
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})

	start := workflow.Now(ctx)
	deadline := start.Add(window)
	result := &LateConfirmationResult{Signature: input.Signature}

	for {
		result.Checks++

		var status *CheckSignatureResult
		err := workflow.ExecuteActivity(ctx, a.CheckSignatureStatus, CheckSignatureInput{Signature: input.Signature}).Get(ctx, &status)
		if err != nil {
			logger.Warn("status check failed", "signature", input.Signature, "error", err)
		} else if status.Found {
			if status.Err != nil {
				result.Outcome = db.OutcomeFailed
				result.Reason = status.Err
				return result, record(ctx, input, result, nil, start)
			}
			if commitmentSatisfied(input.Commitment, status.Commitment) {
				result.Outcome = db.OutcomeLateConfirmed

				var balance *FetchBalanceResult
				var lamports *uint64
				err := workflow.ExecuteActivity(ctx, a.FetchBalance, FetchBalanceInput{Wallet: input.Wallet}).Get(ctx, &balance)
				if err != nil {
					logger.Warn("failed to fetch balance after late confirmation", "wallet", input.Wallet, "error", err)
				} else {
					lamports = &balance.Lamports
				}
				return result, record(ctx, input, result, lamports, start)
			}
		}

		if !workflow.Now(ctx).Before(deadline) {
			result.Outcome = db.OutcomeExpired
			return result, record(ctx, input, result, nil, start)
		}

		if err := workflow.Sleep(ctx, interval); err != nil {
			return result, err
		}
	}
}

func record(ctx workflow.Context, input LateConfirmationInput, result *LateConfirmationResult, lamports *uint64, start time.Time) error {
	logger := workflow.GetLogger(ctx)
	err := workflow.ExecuteActivity(ctx, a.RecordLateOutcome, RecordLateOutcomeInput{
		Action:          input.Action,
		Signature:       input.Signature,
		Wallet:          input.Wallet,
		Outcome:         result.Outcome,
		Reason:          result.Reason,
		BalanceLamports: lamports,
		Checks:          result.Checks,
		Elapsed:         workflow.Now(ctx).Sub(start),
	}).Get(ctx, nil)
	if err != nil {
		logger.Error("failed to record late outcome", "signature", input.Signature, "error", err)
		return err
	}
	logger.Info("LateConfirmationWorkflow completed",
		"signature", input.Signature,
		"outcome", result.Outcome,
		"checks", result.Checks,
	)
	return nil
}

// commitmentSatisfied mirrors the interactive poller: finalized always
// counts, confirmed counts unless finalized was required.
func commitmentSatisfied(required, status string) bool {
	switch status {
	case "finalized":
		return true
	case "confirmed":
		return required != "finalized"
	default:
		return false
	}
}
