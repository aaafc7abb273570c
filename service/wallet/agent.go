// Package wallet models the signing agent: the holder of the user's key that
// signs transactions and, optionally, arbitrary messages.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrNotConnected is returned when no agent key is available.
	ErrNotConnected = errors.New("wallet not connected")

	// ErrSigningUnsupported is returned when the agent cannot sign messages.
	ErrSigningUnsupported = errors.New("wallet does not support message signing")
)

// Signing is the message-signing capability of an agent: NoSigning or CanSign.
type Signing interface {
	isSigning()
}

// NoSigning marks an agent that only signs transactions.
type NoSigning struct{}

// CanSign carries the agent's message signing function.
type CanSign struct {
	Sign func(ctx context.Context, message []byte) ([]byte, error)
}

func (NoSigning) isSigning() {}
func (CanSign) isSigning()   {}

// Sender signs a transaction with the agent key and submits it.
type Sender interface {
	SignAndSubmit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Agent is a connected wallet.
type Agent struct {
	Key     solana.PublicKey
	Sender  Sender
	Signing Signing
}

// Connected reports whether the agent has a key and a sender.
func (a Agent) Connected() bool {
	return !a.Key.IsZero() && a.Sender != nil
}

// Submitter hands a signed transaction to the network.
type Submitter interface {
	Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// KeypairAgent is a wallet backed by a local ed25519 keypair.
type KeypairAgent struct {
	key       solana.PrivateKey
	submitter Submitter
	logger    *slog.Logger
}

// NewKeypairAgent creates an agent from a private key.
func NewKeypairAgent(key solana.PrivateKey, submitter Submitter, logger *slog.Logger) *KeypairAgent {
	return &KeypairAgent{
		key:       key,
		submitter: submitter,
		logger:    logger,
	}
}

// LoadKeypairAgent reads a solana-keygen JSON keypair file.
func LoadKeypairAgent(path string, submitter Submitter, logger *slog.Logger) (*KeypairAgent, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w", path, err)
	}
	return NewKeypairAgent(key, submitter, logger), nil
}

// PublicKey returns the agent's address.
func (k *KeypairAgent) PublicKey() solana.PublicKey {
	return k.key.PublicKey()
}

// SignAndSubmit signs tx with the keypair and submits it.
func (k *KeypairAgent) SignAndSubmit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	pub := k.key.PublicKey()
	_, err := tx.Sign(func(signer solana.PublicKey) *solana.PrivateKey {
		if signer.Equals(pub) {
			return &k.key
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	k.logger.DebugContext(ctx, "signed transaction", "signer", pub.String())
	return k.submitter.Submit(ctx, tx)
}

// SignMessage signs an arbitrary message with the keypair.
func (k *KeypairAgent) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	sig, err := k.key.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return sig[:], nil
}

// Agent exposes the keypair as a connected wallet. When messageSigning is
// false the agent reports NoSigning, like a hardware wallet without the feature.
func (k *KeypairAgent) Agent(messageSigning bool) Agent {
	var signing Signing = NoSigning{}
	if messageSigning {
		signing = CanSign{Sign: k.SignMessage}
	}
	return Agent{
		Key:     k.PublicKey(),
		Sender:  k,
		Signing: signing,
	}
}
