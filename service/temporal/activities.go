package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solwallet/service/db"
	"github.com/brojonat/solwallet/service/metrics"
	natspkg "github.com/brojonat/solwallet/service/nats"
	solsvc "github.com/brojonat/solwallet/service/solana"
	"github.com/gagliardetto/solana-go"
)

// LateConfirmationInput contains the input parameters for watching a
// signature after the interactive confirmation deadline passed.
type LateConfirmationInput struct {
	Action     string        `json:"action"`
	Signature  string        `json:"signature"`
	Wallet     string        `json:"wallet"`
	Network    string        `json:"network"`
	Commitment string        `json:"commitment"` // "confirmed" or "finalized"
	Window     time.Duration `json:"window"`
	Interval   time.Duration `json:"interval"`
}

// LateConfirmationResult contains the result of a late confirmation watch.
type LateConfirmationResult struct {
	Signature string  `json:"signature"`
	Outcome   string  `json:"outcome"` // late_confirmed, failed or expired
	Checks    int     `json:"checks"`
	Reason    *string `json:"reason,omitempty"`
}

// CheckSignatureInput contains parameters for the CheckSignatureStatus activity.
type CheckSignatureInput struct {
	Signature string `json:"signature"`
}

// CheckSignatureResult contains the result of a single status query.
type CheckSignatureResult struct {
	Found      bool    `json:"found"`
	Commitment string  `json:"commitment,omitempty"`
	Err        *string `json:"err,omitempty"`
}

// FetchBalanceInput contains parameters for the FetchBalance activity.
type FetchBalanceInput struct {
	Wallet string `json:"wallet"`
}

// FetchBalanceResult contains the wallet balance in lamports.
type FetchBalanceResult struct {
	Lamports uint64 `json:"lamports"`
}

// RecordLateOutcomeInput contains parameters for the RecordLateOutcome activity.
type RecordLateOutcomeInput struct {
	Action          string        `json:"action"`
	Signature       string        `json:"signature"`
	Wallet          string        `json:"wallet"`
	Outcome         string        `json:"outcome"`
	Reason          *string       `json:"reason,omitempty"`
	BalanceLamports *uint64       `json:"balance_lamports,omitempty"`
	Checks          int           `json:"checks"`
	Elapsed         time.Duration `json:"elapsed"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	RecordOutcome(ctx context.Context, params db.RecordOutcomeParams) error
}

// SolanaClientInterface defines the Solana operations needed by activities.
// This allows for easy mocking in tests.
type SolanaClientInterface interface {
	SignatureStatuses(ctx context.Context, signatures ...solana.Signature) ([]solsvc.SignatureStatus, error)
	Balance(ctx context.Context, owner solana.PublicKey) (uint64, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishAction(ctx context.Context, event *natspkg.ActionEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Store and publisher are optional.
type Activities struct {
	store     StoreInterface
	solana    SolanaClientInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	store StoreInterface,
	solanaClient SolanaClientInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		solana:    solanaClient,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// CheckSignatureStatus queries the status of one signature.
func (a *Activities) CheckSignatureStatus(ctx context.Context, input CheckSignatureInput) (*CheckSignatureResult, error) {
	sig, err := solana.SignatureFromBase58(input.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}

	statuses, err := a.solana.SignatureStatuses(ctx, sig)
	if err != nil {
		a.logger.WarnContext(ctx, "failed to query signature status",
			"signature", input.Signature,
			"error", err,
		)
		return nil, fmt.Errorf("failed to query signature status: %w", err)
	}
	if len(statuses) == 0 || !statuses[0].Found {
		return &CheckSignatureResult{}, nil
	}

	status := statuses[0]
	return &CheckSignatureResult{
		Found:      true,
		Commitment: status.Commitment,
		Err:        status.Err,
	}, nil
}

// FetchBalance reads the wallet's native balance.
func (a *Activities) FetchBalance(ctx context.Context, input FetchBalanceInput) (*FetchBalanceResult, error) {
	owner, err := solana.PublicKeyFromBase58(input.Wallet)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet address: %w", err)
	}
	lamports, err := a.solana.Balance(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}
	return &FetchBalanceResult{Lamports: lamports}, nil
}

// RecordLateOutcome stores the final outcome of a watched signature and
// publishes it as an action event. The original action's outcome is
// overwritten with late_confirmed, failed or expired, never with confirmed.
func (a *Activities) RecordLateOutcome(ctx context.Context, input RecordLateOutcomeInput) error {
	if a.metrics != nil {
		a.metrics.RecordConfirmation(input.Outcome, input.Checks, input.Elapsed.Seconds())
	}

	if a.store != nil {
		err := a.store.RecordOutcome(ctx, db.RecordOutcomeParams{
			Signature: input.Signature,
			Outcome:   input.Outcome,
			Reason:    input.Reason,
		})
		switch {
		case errors.Is(err, db.ErrNotFound):
			a.logger.DebugContext(ctx, "no recorded action for signature", "signature", input.Signature)
		case err != nil:
			return fmt.Errorf("failed to record outcome: %w", err)
		}
	}

	if a.publisher != nil {
		event := &natspkg.ActionEvent{
			ID:              natspkg.LateEventID(input.Signature, input.Outcome),
			Action:          input.Action,
			Wallet:          input.Wallet,
			Signature:       input.Signature,
			Outcome:         input.Outcome,
			Level:           levelFor(input.Outcome),
			Message:         lateMessage(input),
			BalanceLamports: input.BalanceLamports,
			PublishedAt:     time.Now().UTC(),
		}
		if err := a.publisher.PublishAction(ctx, event); err != nil {
			return fmt.Errorf("failed to publish late outcome: %w", err)
		}
	}

	a.logger.InfoContext(ctx, "recorded late outcome",
		"signature", input.Signature,
		"action", input.Action,
		"outcome", input.Outcome,
		"checks", input.Checks,
	)
	return nil
}

func levelFor(outcome string) string {
	switch outcome {
	case db.OutcomeLateConfirmed:
		return "success"
	case db.OutcomeExpired:
		return "warning"
	default:
		return "error"
	}
}

func lateMessage(input RecordLateOutcomeInput) string {
	switch input.Outcome {
	case db.OutcomeLateConfirmed:
		return fmt.Sprintf("%s %s confirmed after the deadline", input.Action, input.Signature)
	case db.OutcomeExpired:
		return fmt.Sprintf("%s %s was not confirmed within the watch window", input.Action, input.Signature)
	default:
		reason := "unknown error"
		if input.Reason != nil {
			reason = *input.Reason
		}
		return fmt.Sprintf("%s %s failed: %s", input.Action, input.Signature, reason)
	}
}
