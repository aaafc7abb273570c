// Package lifecycle runs wallet actions end to end: validate input, build,
// submit, await confirmation, then refresh balances.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brojonat/solwallet/service/confirm"
	"github.com/brojonat/solwallet/service/db"
	"github.com/brojonat/solwallet/service/holdings"
	"github.com/brojonat/solwallet/service/metrics"
	solsvc "github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/sigverify"
	"github.com/brojonat/solwallet/service/txbuilder"
	"github.com/brojonat/solwallet/service/units"
	"github.com/brojonat/solwallet/service/wallet"
	"github.com/gagliardetto/solana-go"
)

// Action names one independently guarded user action.
type Action string

const (
	ActionAirdrop       Action = "airdrop"
	ActionSend          Action = "send"
	ActionTokenTransfer Action = "token_transfer"
	ActionSign          Action = "sign"
)

// Actions lists every action slot.
var Actions = []Action{ActionAirdrop, ActionSend, ActionTokenTransfer, ActionSign}

// Ledger is the subset of the RPC client the orchestrator needs.
type Ledger interface {
	Balance(ctx context.Context, owner solana.PublicKey) (uint64, error)
	LatestRecency(ctx context.Context) (solsvc.Recency, error)
	RequestAirdrop(ctx context.Context, to solana.PublicKey, lamports uint64) (solana.Signature, error)
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
}

// Confirmer waits for a submitted transaction to reach a terminal outcome.
type Confirmer interface {
	Await(ctx context.Context, sig solana.Signature) confirm.Outcome
}

// HoldingsSource enumerates token holdings and keeps the latest snapshot.
type HoldingsSource interface {
	ListHoldings(ctx context.Context, owner solana.PublicKey) ([]holdings.TokenHolding, error)
	Snapshot() []holdings.TokenHolding
	Find(mint solana.PublicKey) (holdings.TokenHolding, error)
}

// Recorder persists action history.
type Recorder interface {
	RecordSubmission(ctx context.Context, params db.RecordSubmissionParams) (*db.Action, error)
	RecordOutcome(ctx context.Context, params db.RecordOutcomeParams) error
}

// LateWatcher keeps watching a signature after the confirmation deadline.
type LateWatcher interface {
	WatchLate(ctx context.Context, action, signature, wallet string) error
}

// Level is the severity of a user notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a user-facing message about an action.
type Notification struct {
	Action    Action
	Level     Level
	Message   string
	Wallet    string
	Signature string
	Outcome   string
	Amount    string
	Balance   *units.Amount
}

// Notifier delivers notifications to the presentation layer.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Result describes a successful action.
type Result struct {
	Action       Action                      `json:"action"`
	Signature    string                      `json:"signature"`
	Outcome      string                      `json:"outcome"`
	Recipient    string                      `json:"recipient,omitempty"`
	Mint         string                      `json:"mint,omitempty"`
	Amount       string                      `json:"amount,omitempty"`
	PublicKey    string                      `json:"public_key,omitempty"`
	Instructions []solsvc.InstructionSummary `json:"instructions,omitempty"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNetwork sets the cluster; airdrops are refused on mainnet.
func WithNetwork(n solsvc.Network) Option {
	return func(o *Orchestrator) { o.network = n }
}

// WithNotifier delivers notifications.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithRecorder persists action history.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLateWatcher hands timed-out signatures to a background watcher.
func WithLateWatcher(w LateWatcher) Option {
	return func(o *Orchestrator) { o.watcher = w }
}

// WithMetrics records action metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator owns the wallet state and runs actions. Each action slot
// admits one invocation at a time; different slots run concurrently.
type Orchestrator struct {
	agent    wallet.Agent
	ledger   Ledger
	poller   Confirmer
	holdings HoldingsSource
	builder  *txbuilder.Builder
	network  solsvc.Network
	logger   *slog.Logger
	metrics  *metrics.Metrics
	notifier Notifier
	recorder Recorder
	watcher  LateWatcher

	slots map[Action]*atomic.Bool

	mu         sync.RWMutex
	balance    *units.Amount
	lastSigned *sigverify.SignedMessagePair
}

// New creates an Orchestrator for agent.
func New(agent wallet.Agent, ledger Ledger, poller Confirmer, hs HoldingsSource, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		agent:    agent,
		ledger:   ledger,
		poller:   poller,
		holdings: hs,
		builder:  txbuilder.NewBuilder(),
		network:  solsvc.Devnet,
		logger:   logger,
		slots:    make(map[Action]*atomic.Bool, len(Actions)),
	}
	for _, a := range Actions {
		o.slots[a] = &atomic.Bool{}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Wallet returns the agent's address.
func (o *Orchestrator) Wallet() solana.PublicKey { return o.agent.Key }

// Network returns the configured cluster.
func (o *Orchestrator) Network() solsvc.Network { return o.network }

// InProgress reports whether an action slot is busy.
func (o *Orchestrator) InProgress(action Action) bool {
	slot, ok := o.slots[action]
	return ok && slot.Load()
}

// Balance returns the last refreshed native balance.
func (o *Orchestrator) Balance() (units.Amount, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.balance == nil {
		return units.Amount{}, false
	}
	return *o.balance, true
}

// Holdings returns the last refreshed token holdings.
func (o *Orchestrator) Holdings() []holdings.TokenHolding {
	return o.holdings.Snapshot()
}

// LastSigned returns the most recent verified message signature.
func (o *Orchestrator) LastSigned() (sigverify.SignedMessagePair, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.lastSigned == nil {
		return sigverify.SignedMessagePair{}, false
	}
	return *o.lastSigned, true
}

// RefreshBalance fetches the native balance and replaces the stored value.
func (o *Orchestrator) RefreshBalance(ctx context.Context) (units.Amount, error) {
	if !o.agent.Connected() {
		return units.Amount{}, wallet.ErrNotConnected
	}
	lamports, err := o.ledger.Balance(ctx, o.agent.Key)
	if err != nil {
		return units.Amount{}, err
	}
	bal := units.Lamports(lamports)
	o.mu.Lock()
	o.balance = &bal
	o.mu.Unlock()
	return bal, nil
}

// RefreshHoldings re-enumerates token holdings.
func (o *Orchestrator) RefreshHoldings(ctx context.Context) ([]holdings.TokenHolding, error) {
	if !o.agent.Connected() {
		return nil, wallet.ErrNotConnected
	}
	return o.holdings.ListHoldings(ctx, o.agent.Key)
}

// Airdrop requests amount SOL of test currency for the wallet.
func (o *Orchestrator) Airdrop(ctx context.Context, amount string) (Result, error) {
	release, err := o.acquire(ActionAirdrop)
	if err != nil {
		return Result{}, err
	}
	defer release()
	start := time.Now()

	if !o.network.SupportsAirdrop() {
		return Result{}, o.fail(ctx, ActionAirdrop, start, "", fmt.Errorf("%w: %s", ErrAirdropUnsupported, o.network))
	}
	if !o.agent.Connected() {
		return Result{}, o.fail(ctx, ActionAirdrop, start, "", wallet.ErrNotConnected)
	}
	lamports, err := units.ToBaseUnits(amount, units.LamportsExponent)
	if err != nil {
		return Result{}, o.fail(ctx, ActionAirdrop, start, "", err)
	}
	req, err := o.builder.BuildAirdrop(txbuilder.AirdropRequest{Recipient: o.agent.Key, Amount: lamports})
	if err != nil {
		return Result{}, o.fail(ctx, ActionAirdrop, start, "", err)
	}

	sig, err := o.ledger.RequestAirdrop(ctx, req.Recipient, req.Amount.Units)
	if err != nil {
		return Result{}, o.fail(ctx, ActionAirdrop, start, "", err)
	}

	o.recordSubmission(ctx, ActionAirdrop, sig, nil, nil, req.Amount)
	result := Result{
		Action:    ActionAirdrop,
		Signature: sig.String(),
		Recipient: req.Recipient.String(),
		Amount:    req.Amount.String(),
	}
	return o.finish(ctx, ActionAirdrop, start, sig, result, func(ctx context.Context) error {
		_, err := o.RefreshBalance(ctx)
		return err
	})
}

// Send transfers amount SOL to recipient.
func (o *Orchestrator) Send(ctx context.Context, recipient, amount string) (Result, error) {
	release, err := o.acquire(ActionSend)
	if err != nil {
		return Result{}, err
	}
	defer release()
	start := time.Now()

	if !o.agent.Connected() {
		return Result{}, o.fail(ctx, ActionSend, start, "", wallet.ErrNotConnected)
	}
	to, err := txbuilder.ParseRecipient(recipient)
	if err != nil {
		return Result{}, o.fail(ctx, ActionSend, start, "", err)
	}
	lamports, err := units.ToBaseUnits(amount, units.LamportsExponent)
	if err != nil {
		return Result{}, o.fail(ctx, ActionSend, start, "", err)
	}

	recency, err := o.ledger.LatestRecency(ctx)
	if err != nil {
		return Result{}, o.fail(ctx, ActionSend, start, "", err)
	}
	prepared, err := o.builder.Build(txbuilder.NativeTransfer{Recipient: to, Amount: lamports}, o.agent.Key, recency)
	if err != nil {
		return Result{}, o.fail(ctx, ActionSend, start, "", err)
	}

	sig, summaries, err := o.submit(ctx, prepared)
	if err != nil {
		return Result{}, o.fail(ctx, ActionSend, start, "", err)
	}

	recipientStr := to.String()
	o.recordSubmission(ctx, ActionSend, sig, &recipientStr, nil, lamports)
	result := Result{
		Action:       ActionSend,
		Signature:    sig.String(),
		Recipient:    recipientStr,
		Amount:       lamports.String(),
		Instructions: summaries,
	}
	return o.finish(ctx, ActionSend, start, sig, result, func(ctx context.Context) error {
		_, err := o.RefreshBalance(ctx)
		return err
	})
}

// SendToken transfers amount of the held token mint to recipient. Holdings
// are re-enumerated first; the mint's largest token account supplies the
// decimals, bounds the amount, and is the account debited.
func (o *Orchestrator) SendToken(ctx context.Context, recipient, mint, amount string) (Result, error) {
	release, err := o.acquire(ActionTokenTransfer)
	if err != nil {
		return Result{}, err
	}
	defer release()
	start := time.Now()
	fail := func(err error) (Result, error) {
		return Result{}, o.fail(ctx, ActionTokenTransfer, start, "", err)
	}

	if !o.agent.Connected() {
		return fail(wallet.ErrNotConnected)
	}
	to, err := txbuilder.ParseRecipient(recipient)
	if err != nil {
		return fail(err)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return fail(fmt.Errorf("%w: %q: %v", ErrInvalidMint, mint, err))
	}
	if _, err := o.holdings.ListHoldings(ctx, o.agent.Key); err != nil {
		return fail(fmt.Errorf("failed to refresh holdings: %w", err))
	}
	holding, err := o.holdings.Find(mintKey)
	if err != nil {
		return fail(err)
	}
	value, err := units.ToBaseUnits(amount, holding.Decimals())
	if err != nil {
		return fail(err)
	}
	if value.Units > holding.Amount.Units {
		return fail(fmt.Errorf("%w: have %s, want %s", ErrInsufficientBalance, holding.DisplayAmount(), value))
	}

	req := txbuilder.TokenTransfer{
		Recipient:      to,
		Mint:           mintKey,
		Source:         holding.Account,
		Amount:         value,
		SourceDecimals: holding.Decimals(),
		TokenProgram:   holding.TokenProgram,
	}
	opts, err := o.tokenAccountOptions(ctx, req)
	if err != nil {
		return fail(err)
	}

	recency, err := o.ledger.LatestRecency(ctx)
	if err != nil {
		return fail(err)
	}
	prepared, err := o.builder.Build(req, o.agent.Key, recency, opts...)
	if err != nil {
		return fail(err)
	}

	sig, summaries, err := o.submit(ctx, prepared)
	if err != nil {
		return fail(err)
	}

	recipientStr, mintStr := to.String(), mintKey.String()
	o.recordSubmission(ctx, ActionTokenTransfer, sig, &recipientStr, &mintStr, value)
	result := Result{
		Action:       ActionTokenTransfer,
		Signature:    sig.String(),
		Recipient:    recipientStr,
		Mint:         mintStr,
		Amount:       value.String(),
		Instructions: summaries,
	}
	return o.finish(ctx, ActionTokenTransfer, start, sig, result, func(ctx context.Context) error {
		_, err := o.RefreshHoldings(ctx)
		return err
	})
}

// tokenAccountOptions checks which associated token accounts exist.
func (o *Orchestrator) tokenAccountOptions(ctx context.Context, req txbuilder.TokenTransfer) ([]txbuilder.BuildOption, error) {
	program := req.TokenProgram
	if program.IsZero() {
		program = solana.TokenProgramID
	}
	source, err := txbuilder.FindAssociatedTokenAddress(o.agent.Key, req.Mint, program)
	if err != nil {
		return nil, err
	}
	dest, err := txbuilder.FindAssociatedTokenAddress(req.Recipient, req.Mint, program)
	if err != nil {
		return nil, err
	}

	var opts []txbuilder.BuildOption
	// A source taken from the fresh holdings listing is known to exist.
	if req.Source.IsZero() {
		sourceExists, err := o.ledger.AccountExists(ctx, source)
		if err != nil {
			return nil, err
		}
		if !sourceExists {
			opts = append(opts, txbuilder.SenderAccountMissing())
		}
	}
	destExists, err := o.ledger.AccountExists(ctx, dest)
	if err != nil {
		return nil, err
	}
	if !destExists {
		opts = append(opts, txbuilder.RecipientAccountMissing())
	}
	return opts, nil
}

// SignMessage asks the agent to sign message and verifies the result locally
// before reporting success.
func (o *Orchestrator) SignMessage(ctx context.Context, message []byte) (Result, error) {
	release, err := o.acquire(ActionSign)
	if err != nil {
		return Result{}, err
	}
	defer release()
	start := time.Now()

	if !o.agent.Connected() {
		return Result{}, o.fail(ctx, ActionSign, start, "", wallet.ErrNotConnected)
	}
	signer, ok := o.agent.Signing.(wallet.CanSign)
	if !ok || signer.Sign == nil {
		return Result{}, o.fail(ctx, ActionSign, start, "", wallet.ErrSigningUnsupported)
	}

	sig, err := signer.Sign(ctx, message)
	if err != nil {
		return Result{}, o.fail(ctx, ActionSign, start, "", err)
	}

	pair, err := sigverify.NewSignedMessagePair(message, sig, o.agent.Key)
	if o.metrics != nil {
		o.metrics.RecordSignatureVerification(err == nil)
	}
	if err != nil {
		return Result{}, o.fail(ctx, ActionSign, start, "", err)
	}

	o.mu.Lock()
	o.lastSigned = &pair
	o.mu.Unlock()

	encoded := pair.EncodedSignature()
	if o.recorder != nil {
		_, err := o.recorder.RecordSubmission(ctx, db.RecordSubmissionParams{
			Action:    string(ActionSign),
			Network:   string(o.network),
			Wallet:    o.agent.Key.String(),
			Signature: encoded,
			Outcome:   db.OutcomeSigned,
		})
		if err != nil {
			o.logger.WarnContext(ctx, "failed to record signature", "error", err)
		}
	}

	o.notify(ctx, Notification{
		Action:    ActionSign,
		Level:     LevelSuccess,
		Message:   fmt.Sprintf("Message signature: %s", encoded),
		Signature: encoded,
		Outcome:   db.OutcomeSigned,
	})
	o.observe(ActionSign, "success", start)

	return Result{
		Action:    ActionSign,
		Signature: encoded,
		Outcome:   db.OutcomeSigned,
		PublicKey: o.agent.Key.String(),
	}, nil
}

func (o *Orchestrator) acquire(action Action) (func(), error) {
	slot := o.slots[action]
	if !slot.CompareAndSwap(false, true) {
		if o.metrics != nil {
			o.metrics.RecordActionRejected(string(action), "in_progress")
		}
		return nil, &ActionError{Action: action, Kind: KindActionInProgress, Err: ErrActionInProgress}
	}
	return func() { slot.Store(false) }, nil
}

func (o *Orchestrator) submit(ctx context.Context, prepared *txbuilder.PreparedTransaction) (solana.Signature, []solsvc.InstructionSummary, error) {
	summaries, err := prepared.Describe()
	if err != nil {
		o.logger.WarnContext(ctx, "failed to describe transaction", "error", err)
	}
	tx, err := prepared.Take()
	if err != nil {
		return solana.Signature{}, nil, err
	}
	sig, err := o.agent.Sender.SignAndSubmit(ctx, tx)
	if err != nil {
		return solana.Signature{}, nil, err
	}
	return sig, summaries, nil
}

// finish waits for the outcome of a submitted transaction and reports it.
func (o *Orchestrator) finish(
	ctx context.Context,
	action Action,
	start time.Time,
	sig solana.Signature,
	result Result,
	refresh func(context.Context) error,
) (Result, error) {
	outcome := o.poller.Await(ctx, sig)
	result.Outcome = string(outcome.State)

	switch outcome.State {
	case confirm.StateConfirmed:
		o.recordOutcome(ctx, sig, db.OutcomeConfirmed, "")
		if err := refresh(ctx); err != nil {
			o.logger.WarnContext(ctx, "refresh after confirmation failed",
				"action", string(action),
				"error", err,
			)
		}
		n := Notification{
			Action:    action,
			Level:     LevelSuccess,
			Message:   successMessage(action, result),
			Signature: result.Signature,
			Outcome:   result.Outcome,
			Amount:    result.Amount,
		}
		if bal, ok := o.Balance(); ok {
			n.Balance = &bal
		}
		o.notify(ctx, n)
		o.observe(action, "success", start)
		return result, nil

	case confirm.StateFailed:
		o.recordOutcome(ctx, sig, db.OutcomeFailed, outcome.Reason)
		return Result{}, o.fail(ctx, action, start, sig.String(), fmt.Errorf("%w: %s", ErrTransactionFailed, outcome.Reason))

	default:
		o.recordOutcome(ctx, sig, db.OutcomeTimedOut, outcome.Reason)
		if o.watcher != nil {
			// The request context may already be done; the watcher outlives it.
			watchCtx := context.WithoutCancel(ctx)
			if err := o.watcher.WatchLate(watchCtx, string(action), sig.String(), o.agent.Key.String()); err != nil {
				o.logger.WarnContext(ctx, "failed to start late confirmation watch",
					"signature", sig.String(),
					"error", err,
				)
			}
		}
		return Result{}, o.fail(ctx, action, start, sig.String(), fmt.Errorf("%w (%s)", ErrConfirmationTimeout, outcome.Reason))
	}
}

func successMessage(action Action, r Result) string {
	switch action {
	case ActionAirdrop:
		return fmt.Sprintf("Airdropped %s SOL", r.Amount)
	case ActionSend:
		return fmt.Sprintf("Sent %s SOL to %s", r.Amount, r.Recipient)
	case ActionTokenTransfer:
		return fmt.Sprintf("Sent %s of %s to %s", r.Amount, r.Mint, r.Recipient)
	default:
		return "Done"
	}
}

// fail wraps err as an ActionError, reports it, and returns it.
func (o *Orchestrator) fail(ctx context.Context, action Action, start time.Time, sig string, err error) error {
	kind := classify(err)
	ae := &ActionError{Action: action, Kind: kind, Signature: sig, Err: err}

	level := LevelError
	if kind == KindTimeout {
		level = LevelWarning
	}
	o.logger.WarnContext(ctx, "action failed",
		"action", string(action),
		"kind", string(kind),
		"signature", sig,
		"error", err,
	)
	o.notify(ctx, Notification{
		Action:    action,
		Level:     level,
		Message:   err.Error(),
		Signature: sig,
		Outcome:   string(kind),
	})
	o.observe(action, string(kind), start)
	return ae
}

func (o *Orchestrator) notify(ctx context.Context, n Notification) {
	if o.notifier == nil {
		return
	}
	n.Wallet = o.agent.Key.String()
	o.notifier.Notify(context.WithoutCancel(ctx), n)
}

func (o *Orchestrator) observe(action Action, result string, start time.Time) {
	if o.metrics != nil {
		o.metrics.RecordAction(string(action), result, time.Since(start).Seconds())
	}
}

func (o *Orchestrator) recordSubmission(ctx context.Context, action Action, sig solana.Signature, recipient, mint *string, amount units.Amount) {
	if o.recorder == nil {
		return
	}
	_, err := o.recorder.RecordSubmission(ctx, db.RecordSubmissionParams{
		Action:      string(action),
		Network:     string(o.network),
		Wallet:      o.agent.Key.String(),
		Signature:   sig.String(),
		Recipient:   recipient,
		Mint:        mint,
		AmountUnits: amount.Units,
		Exponent:    amount.Exponent,
	})
	if err != nil {
		o.logger.WarnContext(ctx, "failed to record submission",
			"signature", sig.String(),
			"error", err,
		)
	}
}

func (o *Orchestrator) recordOutcome(ctx context.Context, sig solana.Signature, outcome, reason string) {
	if o.recorder == nil {
		return
	}
	params := db.RecordOutcomeParams{Signature: sig.String(), Outcome: outcome}
	if reason != "" {
		params.Reason = &reason
	}
	// A disconnected caller must not leave the row at "submitted".
	if err := o.recorder.RecordOutcome(context.WithoutCancel(ctx), params); err != nil && !errors.Is(err, db.ErrNotFound) {
		o.logger.WarnContext(ctx, "failed to record outcome",
			"signature", sig.String(),
			"error", err,
		)
	}
}
