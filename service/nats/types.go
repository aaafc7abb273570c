package nats

import (
	"time"

	"github.com/brojonat/solwallet/service/lifecycle"
	"github.com/google/uuid"
)

// ActionEvent represents the outcome of a wallet action published to NATS.
// This is published to the subject "actions.{wallet}" in JetStream.
type ActionEvent struct {
	// ID is sent as the JetStream message ID, so republishing the same
	// event within the stream's duplicate window is a no-op.
	ID        string `json:"id"`
	Action    string `json:"action"`
	Wallet    string `json:"wallet"`
	Signature string `json:"signature,omitempty"`

	// Outcome is a confirmation state, an error kind, "signed" or
	// "late_confirmed".
	Outcome string `json:"outcome"`
	Level   string `json:"level"`
	Message string `json:"message"`

	Amount          string  `json:"amount,omitempty"`
	BalanceLamports *uint64 `json:"balance_lamports,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject an event for wallet is published on.
func Subject(wallet string) string {
	return SubjectPrefix + wallet
}

// FromNotification converts an orchestrator notification to an event.
func FromNotification(n lifecycle.Notification) *ActionEvent {
	event := &ActionEvent{
		ID:          uuid.NewString(),
		Action:      string(n.Action),
		Wallet:      n.Wallet,
		Signature:   n.Signature,
		Outcome:     n.Outcome,
		Level:       string(n.Level),
		Message:     n.Message,
		Amount:      n.Amount,
		PublishedAt: time.Now().UTC(),
	}
	if n.Balance != nil {
		lamports := n.Balance.Units
		event.BalanceLamports = &lamports
	}
	return event
}

// LateEventID is the ID of the late outcome event for signature. It is
// derived rather than random so a retried publish is deduplicated.
func LateEventID(signature, outcome string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("solwallet:late/"+signature+"/"+outcome)).String()
}
