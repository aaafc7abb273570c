// Package confirm polls the ledger until a submitted transaction reaches a
// terminal outcome or its deadline passes.
package confirm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solwallet/service/metrics"
	solsvc "github.com/brojonat/solwallet/service/solana"
	"github.com/gagliardetto/solana-go"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultInterval = time.Second
	DefaultTimeout  = 30 * time.Second
	// DefaultCacheSize bounds how many terminal outcomes are remembered.
	DefaultCacheSize = 4096
)

// State is the position of a handle in the confirmation state machine.
type State string

const (
	StateSubmitted State = "submitted"
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateTimedOut  State = "timed_out"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateTimedOut || s == StateFailed
}

// Commitment is the minimum commitment level accepted as confirmed.
type Commitment string

const (
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// ParseCommitment validates a configured commitment level.
func ParseCommitment(s string) (Commitment, error) {
	switch Commitment(s) {
	case CommitmentConfirmed, CommitmentFinalized:
		return Commitment(s), nil
	default:
		return "", fmt.Errorf("unsupported commitment %q (must be confirmed or finalized)", s)
	}
}

func (c Commitment) satisfiedBy(status string) bool {
	switch status {
	case string(CommitmentFinalized):
		return true
	case string(CommitmentConfirmed):
		return c == CommitmentConfirmed
	default:
		return false
	}
}

// Outcome is the terminal result of Await. Reason is set for TimedOut and Failed.
type Outcome struct {
	Signature solana.Signature
	State     State
	Reason    string
	Polls     int
	Elapsed   time.Duration
}

// StatusSource answers signature status queries.
type StatusSource interface {
	SignatureStatuses(ctx context.Context, signatures ...solana.Signature) ([]solsvc.SignatureStatus, error)
}

// Clock abstracts time so tests can drive the cadence without sleeping.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config controls the polling cadence.
type Config struct {
	Interval   time.Duration
	Timeout    time.Duration
	Commitment Commitment
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithCacheSize changes how many terminal outcomes are remembered. The least
// recently used outcome is evicted first.
func WithCacheSize(n int) Option {
	return func(p *Poller) { p.cacheSize = n }
}

// WithMetrics records confirmation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// Poller runs the confirmation protocol. Terminal outcomes are cached per
// signature in a bounded LRU, and concurrent waits on the same signature
// share one loop.
type Poller struct {
	source    StatusSource
	cfg       Config
	clock     Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cacheSize int

	group singleflight.Group
	cache *lru.Cache[solana.Signature, Outcome]
}

// NewPoller creates a Poller. Zero config fields take the defaults.
func NewPoller(source StatusSource, cfg Config, logger *slog.Logger, opts ...Option) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Commitment == "" {
		cfg.Commitment = CommitmentConfirmed
	}
	p := &Poller{
		source:    source,
		cfg:       cfg,
		clock:     realClock{},
		logger:    logger,
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cacheSize <= 0 {
		p.cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[solana.Signature, Outcome](p.cacheSize)
	if err != nil {
		panic(fmt.Sprintf("confirm: invalid cache size %d: %v", p.cacheSize, err))
	}
	p.cache = cache
	return p
}

// Cached returns the terminal outcome of sig if one is known.
func (p *Poller) Cached(sig solana.Signature) (Outcome, bool) {
	return p.cache.Get(sig)
}

// Await blocks until sig is confirmed, fails on chain, or the deadline
// passes. It never returns a non-terminal outcome.
//
// Waiters on the same signature share one loop. The loop is bounded by the
// deadline rather than by any caller's context, so a caller that gives up
// gets a canceled outcome without cutting the other waiters short.
func (p *Poller) Await(ctx context.Context, sig solana.Signature) Outcome {
	if o, ok := p.Cached(sig); ok {
		return o
	}
	if ctx.Err() != nil {
		return canceled(sig)
	}

	loopCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(sig.String(), func() (interface{}, error) {
		if o, ok := p.Cached(sig); ok {
			return o, nil
		}
		o := p.poll(loopCtx, sig)
		p.cache.Add(sig, o)
		return o, nil
	})

	select {
	case res := <-ch:
		return res.Val.(Outcome)
	case <-ctx.Done():
		return canceled(sig)
	}
}

// canceled says nothing about the transaction, so it is never cached.
func canceled(sig solana.Signature) Outcome {
	return Outcome{Signature: sig, State: StateTimedOut, Reason: ReasonCanceled}
}

const (
	ReasonDeadline = "deadline exceeded"
	ReasonCanceled = "canceled"
)

func (p *Poller) poll(ctx context.Context, sig solana.Signature) Outcome {
	start := p.clock.Now()
	state := StateSubmitted
	polls := 0

	finish := func(s State, reason string) Outcome {
		o := Outcome{
			Signature: sig,
			State:     s,
			Reason:    reason,
			Polls:     polls,
			Elapsed:   p.clock.Now().Sub(start),
		}
		p.logger.InfoContext(ctx, "confirmation finished",
			"signature", sig.String(),
			"state", string(s),
			"reason", reason,
			"polls", polls,
			"elapsed", o.Elapsed.String(),
		)
		if p.metrics != nil {
			p.metrics.RecordConfirmation(string(s), polls, o.Elapsed.Seconds())
		}
		return o
	}

	for {
		polls++
		statuses, err := p.source.SignatureStatuses(ctx, sig)
		switch {
		case err != nil:
			// Transient: keep polling within the same deadline.
			p.logger.WarnContext(ctx, "signature status query failed",
				"signature", sig.String(),
				"poll", polls,
				"error", err,
			)
			if p.metrics != nil {
				p.metrics.RecordRPCRetry("GetSignatureStatuses", "poll_error")
			}
		case len(statuses) > 0 && statuses[0].Found:
			status := statuses[0]
			if status.Err != nil {
				return finish(StateFailed, *status.Err)
			}
			if p.cfg.Commitment.satisfiedBy(status.Commitment) {
				return finish(StateConfirmed, "")
			}
			state = StatePending
		default:
			state = StatePending
		}

		p.logger.DebugContext(ctx, "transaction not yet confirmed",
			"signature", sig.String(),
			"state", string(state),
			"poll", polls,
		)

		if err := p.clock.Sleep(ctx, p.cfg.Interval); err != nil {
			return finish(StateTimedOut, ReasonCanceled)
		}
		if p.clock.Now().Sub(start) >= p.cfg.Timeout {
			return finish(StateTimedOut, ReasonDeadline)
		}
	}
}
