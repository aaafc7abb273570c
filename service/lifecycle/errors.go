package lifecycle

import (
	"errors"
	"fmt"

	"github.com/brojonat/solwallet/service/holdings"
	"github.com/brojonat/solwallet/service/sigverify"
	"github.com/brojonat/solwallet/service/txbuilder"
	"github.com/brojonat/solwallet/service/units"
	"github.com/brojonat/solwallet/service/wallet"
)

// Kind classifies an action failure for the presentation layer.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindCapabilityMissing   Kind = "capability_missing"
	KindNetworkError        Kind = "network_error"
	KindTimeout             Kind = "timeout"
	KindOnChainFailure      Kind = "on_chain_failure"
	KindVerificationFailure Kind = "verification_failure"
	KindActionInProgress    Kind = "action_in_progress"
)

var (
	ErrActionInProgress    = errors.New("action already in progress")
	ErrAirdropUnsupported  = errors.New("airdrop is not available on this network")
	ErrInvalidMint         = errors.New("invalid mint")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConfirmationTimeout = errors.New("transaction not confirmed before the deadline; it may still complete")
	ErrTransactionFailed   = errors.New("transaction failed")
)

// ActionError is the only error type returned by Orchestrator actions.
// Signature is set once the action reached the network.
type ActionError struct {
	Action    Action
	Kind      Kind
	Signature string
	Err       error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of an ActionError anywhere in err's chain, or
// KindNetworkError for anything else.
func KindOf(err error) Kind {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindNetworkError
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, ErrActionInProgress):
		return KindActionInProgress
	case errors.Is(err, units.ErrInvalidAmount),
		errors.Is(err, txbuilder.ErrInvalidRecipient),
		errors.Is(err, txbuilder.ErrDecimalsMismatch),
		errors.Is(err, txbuilder.ErrTokenAccountMissing),
		errors.Is(err, holdings.ErrTokenNotFound),
		errors.Is(err, ErrInvalidMint),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrAirdropUnsupported),
		errors.Is(err, sigverify.ErrInvalidEncoding):
		return KindInvalidInput
	case errors.Is(err, wallet.ErrNotConnected),
		errors.Is(err, wallet.ErrSigningUnsupported):
		return KindCapabilityMissing
	case errors.Is(err, sigverify.ErrVerificationFailed):
		return KindVerificationFailure
	case errors.Is(err, ErrConfirmationTimeout):
		return KindTimeout
	case errors.Is(err, ErrTransactionFailed):
		return KindOnChainFailure
	default:
		return KindNetworkError
	}
}
