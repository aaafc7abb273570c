package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/brojonat/solwallet/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no action matches the query.
var ErrNotFound = errors.New("action not found")

// Outcome values stored in the outcome column.
const (
	OutcomeSubmitted     = "submitted"
	OutcomeConfirmed     = "confirmed"
	OutcomeTimedOut      = "timed_out"
	OutcomeFailed        = "failed"
	OutcomeSigned        = "signed"
	OutcomeLateConfirmed = "late_confirmed"
	OutcomeExpired       = "expired"
)

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Action is one user action that reached the network.
type Action struct {
	ID          int64
	Action      string // "airdrop", "send", "token_transfer" or "sign"
	Network     string
	Wallet      string
	Signature   string
	Recipient   *string
	Mint        *string // nil for native SOL
	AmountUnits uint64
	Exponent    uint8
	Outcome     string
	Reason      *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RecordSubmissionParams contains the parameters for recording a submission.
type RecordSubmissionParams struct {
	Action      string
	Network     string
	Wallet      string
	Signature   string
	Recipient   *string
	Mint        *string
	AmountUnits uint64
	Exponent    uint8
	Outcome     string // defaults to OutcomeSubmitted
}

// RecordOutcomeParams contains the parameters for recording an outcome.
type RecordOutcomeParams struct {
	Signature string
	Outcome   string
	Reason    *string
}

// ListActionsParams contains pagination parameters.
type ListActionsParams struct {
	Wallet  string
	Network string
	Limit   int32
	Offset  int32
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS actions (
		id           BIGSERIAL PRIMARY KEY,
		action       TEXT NOT NULL,
		network      TEXT NOT NULL,
		wallet       TEXT NOT NULL,
		signature    TEXT NOT NULL UNIQUE,
		recipient    TEXT,
		mint         TEXT,
		amount_units NUMERIC(20, 0) NOT NULL DEFAULT 0,
		exponent     SMALLINT NOT NULL DEFAULT 0,
		outcome      TEXT NOT NULL DEFAULT 'submitted',
		reason       TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS actions_wallet_created_at_idx
		ON actions (wallet, network, created_at DESC)`,
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

const actionColumns = `id, action, network, wallet, signature, recipient, mint,
	amount_units::text, exponent, outcome, reason, created_at, updated_at`

// RecordSubmission inserts an action. Recording the same signature twice
// keeps the first row and returns it.
func (s *Store) RecordSubmission(ctx context.Context, params RecordSubmissionParams) (*Action, error) {
	outcome := params.Outcome
	if outcome == "" {
		outcome = OutcomeSubmitted
	}

	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO actions (action, network, wallet, signature, recipient, mint, amount_units, exponent, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)
		ON CONFLICT (signature) DO UPDATE SET updated_at = actions.updated_at
		RETURNING `+actionColumns,
		params.Action,
		params.Network,
		params.Wallet,
		params.Signature,
		pgtextFromStringPtr(params.Recipient),
		pgtextFromStringPtr(params.Mint),
		strconv.FormatUint(params.AmountUnits, 10),
		int16(params.Exponent),
		outcome,
	)
	action, err := scanAction(row)
	s.record("insert", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to record submission: %w", err)
	}
	return action, nil
}

// RecordOutcome sets the outcome of a previously recorded action.
func (s *Store) RecordOutcome(ctx context.Context, params RecordOutcomeParams) error {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE actions SET outcome = $2, reason = $3, updated_at = now()
		WHERE signature = $1`,
		params.Signature,
		params.Outcome,
		pgtextFromStringPtr(params.Reason),
	)
	s.record("update", start, err)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, params.Signature)
	}
	return nil
}

// GetAction retrieves an action by its signature.
func (s *Store) GetAction(ctx context.Context, signature string) (*Action, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+actionColumns+` FROM actions WHERE signature = $1`, signature)
	action, err := scanAction(row)
	s.record("select", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, signature)
	}
	if err != nil {
		return nil, err
	}
	return action, nil
}

// ListActions returns a wallet's actions, most recent first.
func (s *Store) ListActions(ctx context.Context, params ListActionsParams) ([]*Action, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+actionColumns+` FROM actions
		WHERE wallet = $1 AND network = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		params.Wallet,
		params.Network,
		limit,
		params.Offset,
	)
	if err != nil {
		s.record("select", start, err)
		return nil, err
	}
	defer rows.Close()

	actions := make([]*Action, 0)
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			s.record("select", start, err)
			return nil, err
		}
		actions = append(actions, action)
	}
	err = rows.Err()
	s.record("select", start, err)
	if err != nil {
		return nil, err
	}
	return actions, nil
}

// DeleteActionsOlderThan prunes history.
func (s *Store) DeleteActionsOlderThan(ctx context.Context, before time.Time) (int64, error) {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `DELETE FROM actions WHERE created_at < $1`,
		pgtype.Timestamptz{Time: before, Valid: true})
	s.record("delete", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) record(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, "actions", time.Since(start).Seconds(), err)
	}
}

func scanAction(row pgx.Row) (*Action, error) {
	var (
		a         Action
		recipient pgtype.Text
		mint      pgtype.Text
		reason    pgtype.Text
		amount    string
		exponent  int16
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	err := row.Scan(
		&a.ID,
		&a.Action,
		&a.Network,
		&a.Wallet,
		&a.Signature,
		&recipient,
		&mint,
		&amount,
		&exponent,
		&a.Outcome,
		&reason,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	units, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount_units %q: %w", amount, err)
	}
	a.AmountUnits = units
	a.Exponent = uint8(exponent)
	a.Recipient = stringPtrFromPgtext(recipient)
	a.Mint = stringPtrFromPgtext(mint)
	a.Reason = stringPtrFromPgtext(reason)
	a.CreatedAt = createdAt.Time
	a.UpdatedAt = updatedAt.Time
	return &a, nil
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
