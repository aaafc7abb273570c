package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/solwallet/service/db"
	natspkg "github.com/brojonat/solwallet/service/nats"
	solsvc "github.com/brojonat/solwallet/service/solana"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock Solana Client
type MockSolanaClient struct {
	mock.Mock
}

func (m *MockSolanaClient) SignatureStatuses(ctx context.Context, signatures ...solana.Signature) ([]solsvc.SignatureStatus, error) {
	args := m.Called(ctx, signatures)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]solsvc.SignatureStatus), args.Error(1)
}

func (m *MockSolanaClient) Balance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	args := m.Called(ctx, owner)
	return args.Get(0).(uint64), args.Error(1)
}

// Mock Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) RecordOutcome(ctx context.Context, params db.RecordOutcomeParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckSignatureStatus(t *testing.T) {
	sig := solana.MustSignatureFromBase58(testSignature)

	t.Run("found", func(t *testing.T) {
		sol := new(MockSolanaClient)
		sol.On("SignatureStatuses", mock.Anything, []solana.Signature{sig}).Return([]solsvc.SignatureStatus{
			{Signature: sig, Found: true, Commitment: "confirmed"},
		}, nil)

		acts := NewActivities(nil, sol, nil, nil, testLogger())
		result, err := acts.CheckSignatureStatus(context.Background(), CheckSignatureInput{Signature: testSignature})
		require.NoError(t, err)
		assert.True(t, result.Found)
		assert.Equal(t, "confirmed", result.Commitment)
		assert.Nil(t, result.Err)
		sol.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		sol := new(MockSolanaClient)
		sol.On("SignatureStatuses", mock.Anything, mock.Anything).Return([]solsvc.SignatureStatus{
			{Signature: sig},
		}, nil)

		acts := NewActivities(nil, sol, nil, nil, testLogger())
		result, err := acts.CheckSignatureStatus(context.Background(), CheckSignatureInput{Signature: testSignature})
		require.NoError(t, err)
		assert.False(t, result.Found)
	})

	t.Run("rpc error", func(t *testing.T) {
		sol := new(MockSolanaClient)
		sol.On("SignatureStatuses", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

		acts := NewActivities(nil, sol, nil, nil, testLogger())
		_, err := acts.CheckSignatureStatus(context.Background(), CheckSignatureInput{Signature: testSignature})
		assert.ErrorContains(t, err, "timeout")
	})

	t.Run("invalid signature", func(t *testing.T) {
		acts := NewActivities(nil, new(MockSolanaClient), nil, nil, testLogger())
		_, err := acts.CheckSignatureStatus(context.Background(), CheckSignatureInput{Signature: "nope"})
		assert.ErrorContains(t, err, "invalid signature")
	})
}

func TestFetchBalance(t *testing.T) {
	wallet := "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

	sol := new(MockSolanaClient)
	sol.On("Balance", mock.Anything, solana.MustPublicKeyFromBase58(wallet)).Return(uint64(42), nil)

	acts := NewActivities(nil, sol, nil, nil, testLogger())
	result, err := acts.FetchBalance(context.Background(), FetchBalanceInput{Wallet: wallet})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), result.Lamports)

	_, err = acts.FetchBalance(context.Background(), FetchBalanceInput{Wallet: "bad"})
	assert.ErrorContains(t, err, "invalid wallet address")
}

func TestRecordLateOutcome(t *testing.T) {
	lamports := uint64(5_000_000_000)
	input := RecordLateOutcomeInput{
		Action:          "send",
		Signature:       testSignature,
		Wallet:          "wallet-a",
		Outcome:         db.OutcomeLateConfirmed,
		BalanceLamports: &lamports,
		Checks:          4,
	}

	t.Run("records and publishes", func(t *testing.T) {
		store := new(MockStore)
		store.On("RecordOutcome", mock.Anything, db.RecordOutcomeParams{
			Signature: testSignature,
			Outcome:   db.OutcomeLateConfirmed,
		}).Return(nil)
		pub := natspkg.NewMockPublisher()

		acts := NewActivities(store, new(MockSolanaClient), pub, nil, testLogger())
		require.NoError(t, acts.RecordLateOutcome(context.Background(), input))
		store.AssertExpectations(t)

		events := pub.GetPublishedEventsForWallet("wallet-a")
		require.Len(t, events, 1)
		assert.Equal(t, db.OutcomeLateConfirmed, events[0].Outcome)
		assert.Equal(t, "success", events[0].Level)
		assert.Equal(t, &lamports, events[0].BalanceLamports)
		assert.Contains(t, events[0].Message, "confirmed after the deadline")
		assert.Equal(t, natspkg.LateEventID(testSignature, db.OutcomeLateConfirmed), events[0].ID)
	})

	t.Run("unrecorded action is fine", func(t *testing.T) {
		store := new(MockStore)
		store.On("RecordOutcome", mock.Anything, mock.Anything).Return(db.ErrNotFound)
		pub := natspkg.NewMockPublisher()

		acts := NewActivities(store, new(MockSolanaClient), pub, nil, testLogger())
		require.NoError(t, acts.RecordLateOutcome(context.Background(), input))
		assert.Equal(t, 1, pub.GetPublishedEventCount())
	})

	t.Run("store error", func(t *testing.T) {
		store := new(MockStore)
		store.On("RecordOutcome", mock.Anything, mock.Anything).Return(errors.New("connection reset"))

		acts := NewActivities(store, new(MockSolanaClient), nil, nil, testLogger())
		assert.Error(t, acts.RecordLateOutcome(context.Background(), input))
	})

	t.Run("publish error", func(t *testing.T) {
		pub := natspkg.NewMockPublisher()
		pub.SetPublishError(errors.New("nats down"))

		acts := NewActivities(nil, new(MockSolanaClient), pub, nil, testLogger())
		assert.ErrorContains(t, acts.RecordLateOutcome(context.Background(), input), "nats down")
	})

	t.Run("failure levels", func(t *testing.T) {
		pub := natspkg.NewMockPublisher()
		acts := NewActivities(nil, new(MockSolanaClient), pub, nil, testLogger())

		failed := input
		failed.Outcome = db.OutcomeFailed
		failed.Reason = strPtr("transaction failed: custom program error")
		failed.BalanceLamports = nil
		require.NoError(t, acts.RecordLateOutcome(context.Background(), failed))

		expired := input
		expired.Outcome = db.OutcomeExpired
		expired.BalanceLamports = nil
		require.NoError(t, acts.RecordLateOutcome(context.Background(), expired))

		events := pub.GetPublishedEvents()
		require.Len(t, events, 2)
		assert.Equal(t, "error", events[0].Level)
		assert.Contains(t, events[0].Message, "custom program error")
		assert.Equal(t, "warning", events[1].Level)
	})
}
