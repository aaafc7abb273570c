package nats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/solwallet/service/lifecycle"
	"github.com/brojonat/solwallet/service/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestActionNotifier_Publishes(t *testing.T) {
	pub := NewMockPublisher()
	notifier := NewActionNotifier(pub, testLogger())

	bal := units.Lamports(2_500_000_000)
	notifier.Notify(context.Background(), lifecycle.Notification{
		Action:    lifecycle.ActionSend,
		Level:     lifecycle.LevelSuccess,
		Message:   "Sent 1 SOL",
		Wallet:    "wallet-a",
		Signature: "sig-1",
		Outcome:   "confirmed",
		Amount:    "1",
		Balance:   &bal,
	})
	notifier.Notify(context.Background(), lifecycle.Notification{
		Action:  lifecycle.ActionAirdrop,
		Level:   lifecycle.LevelError,
		Message: "airdrop: network error",
		Wallet:  "wallet-b",
		Outcome: "network_error",
	})

	require.Equal(t, 2, pub.GetPublishedEventCount())

	events := pub.GetPublishedEventsForWallet("wallet-a")
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, "send", e.Action)
	assert.Equal(t, "success", e.Level)
	assert.Equal(t, "sig-1", e.Signature)
	assert.Equal(t, "confirmed", e.Outcome)
	assert.Equal(t, "1", e.Amount)
	require.NotNil(t, e.BalanceLamports)
	assert.Equal(t, uint64(2_500_000_000), *e.BalanceLamports)
	assert.False(t, e.PublishedAt.IsZero())

	other := pub.GetPublishedEventsForWallet("wallet-b")
	require.Len(t, other, 1)
	assert.Nil(t, other[0].BalanceLamports)
}

func TestActionNotifier_PublishErrorIsSwallowed(t *testing.T) {
	pub := NewMockPublisher()
	pub.SetPublishError(errors.New("nats down"))
	notifier := NewActionNotifier(pub, testLogger())

	assert.NotPanics(t, func() {
		notifier.Notify(context.Background(), lifecycle.Notification{Action: lifecycle.ActionSign, Wallet: "w"})
	})
	assert.Zero(t, pub.GetPublishedEventCount())
}

func TestActionNotifier_NilPublisher(t *testing.T) {
	notifier := NewActionNotifier(nil, testLogger())
	assert.NotPanics(t, func() {
		notifier.Notify(context.Background(), lifecycle.Notification{Action: lifecycle.ActionSign})
	})
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "actions.abc", Subject("abc"))
	assert.Equal(t, "actions.*", StreamSubjects)
}

func TestMockPublisher_ResetAndClose(t *testing.T) {
	pub := NewMockPublisher()
	require.NoError(t, pub.PublishAction(context.Background(), &ActionEvent{Wallet: "w"}))
	require.NoError(t, pub.Close())
	assert.True(t, pub.IsClosed())

	pub.Reset()
	assert.False(t, pub.IsClosed())
	assert.Zero(t, pub.GetPublishedEventCount())
}

func TestEventIDs(t *testing.T) {
	a := FromNotification(lifecycle.Notification{Action: lifecycle.ActionSend, Wallet: "w"})
	b := FromNotification(lifecycle.Notification{Action: lifecycle.ActionSend, Wallet: "w"})
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)

	// Late outcome IDs are stable per signature and outcome.
	assert.Equal(t, LateEventID("sig-1", "late_confirmed"), LateEventID("sig-1", "late_confirmed"))
	assert.NotEqual(t, LateEventID("sig-1", "late_confirmed"), LateEventID("sig-1", "expired"))
	assert.NotEqual(t, LateEventID("sig-1", "late_confirmed"), LateEventID("sig-2", "late_confirmed"))
}
