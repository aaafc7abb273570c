// Package holdings enumerates the fungible-token balances held by a wallet.
package holdings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/brojonat/solwallet/service/metrics"
	solsvc "github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/units"
	"github.com/gagliardetto/solana-go"
)

// ErrTokenNotFound is returned by Find when the wallet holds no account for a mint.
var ErrTokenNotFound = errors.New("token not found")

// TokenHolding is one token account of the wallet.
type TokenHolding struct {
	Mint         solana.PublicKey
	Owner        solana.PublicKey
	Account      solana.PublicKey
	TokenProgram solana.PublicKey
	Amount       units.Amount
}

// Decimals is the mint's decimal count.
func (h TokenHolding) Decimals() uint8 { return h.Amount.Exponent }

// DisplayAmount is the exact decimal balance.
func (h TokenHolding) DisplayAmount() string { return units.FromBaseUnits(h.Amount) }

// AccountSource enumerates raw token accounts.
type AccountSource interface {
	TokenAccountsByOwner(ctx context.Context, owner, programID solana.PublicKey) ([]solsvc.TokenAccountRecord, error)
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithToken2022 also enumerates accounts of the Token-2022 program.
func WithToken2022() Option {
	return func(a *Aggregator) {
		a.programs = append(a.programs, solana.Token2022ProgramID)
	}
}

// WithMetrics records the size of each refresh.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// Aggregator keeps the latest holdings snapshot of one or more owners.
type Aggregator struct {
	source   AccountSource
	logger   *slog.Logger
	metrics  *metrics.Metrics
	programs []solana.PublicKey

	mu       sync.RWMutex
	snapshot []TokenHolding
}

// NewAggregator creates an Aggregator over the SPL Token program.
func NewAggregator(source AccountSource, logger *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		source:   source,
		logger:   logger,
		programs: []solana.PublicKey{solana.TokenProgramID},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ListHoldings enumerates owner's token accounts and replaces the snapshot
// with the result. On error the previous snapshot is kept.
func (a *Aggregator) ListHoldings(ctx context.Context, owner solana.PublicKey) ([]TokenHolding, error) {
	fresh := make([]TokenHolding, 0)
	for _, program := range a.programs {
		records, err := a.source.TokenAccountsByOwner(ctx, owner, program)
		if err != nil {
			return nil, fmt.Errorf("failed to list holdings: %w", err)
		}
		for _, rec := range records {
			h, err := toHolding(rec, owner)
			if err != nil {
				a.logger.WarnContext(ctx, "skipping malformed token account",
					"account", rec.Address.String(),
					"error", err,
				)
				continue
			}
			fresh = append(fresh, h)
		}
	}

	a.mu.Lock()
	a.snapshot = fresh
	a.mu.Unlock()

	a.logger.DebugContext(ctx, "refreshed holdings",
		"owner", owner.String(),
		"count", len(fresh),
	)
	if a.metrics != nil {
		a.metrics.RecordTokenHoldings(owner.String(), len(fresh))
	}

	return clone(fresh), nil
}

// Snapshot returns a copy of the latest holdings.
func (a *Aggregator) Snapshot() []TokenHolding {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return clone(a.snapshot)
}

// Find returns the holding for mint from the latest snapshot. When the wallet
// has several accounts for the mint, the one with the largest balance wins.
func (a *Aggregator) Find(mint solana.PublicKey) (TokenHolding, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var (
		best  TokenHolding
		found bool
	)
	for _, h := range a.snapshot {
		if !h.Mint.Equals(mint) {
			continue
		}
		if !found || h.Amount.Units > best.Amount.Units {
			best = h
			found = true
		}
	}
	if !found {
		return TokenHolding{}, fmt.Errorf("%w: %s", ErrTokenNotFound, mint)
	}
	return best, nil
}

// WithoutZero filters out empty token accounts.
func WithoutZero(hs []TokenHolding) []TokenHolding {
	out := make([]TokenHolding, 0, len(hs))
	for _, h := range hs {
		if !h.Amount.IsZero() {
			out = append(out, h)
		}
	}
	return out
}

func toHolding(rec solsvc.TokenAccountRecord, owner solana.PublicKey) (TokenHolding, error) {
	mint, err := solana.PublicKeyFromBase58(rec.Mint)
	if err != nil {
		return TokenHolding{}, fmt.Errorf("invalid mint %q: %w", rec.Mint, err)
	}
	holder := owner
	if rec.Owner != "" {
		holder, err = solana.PublicKeyFromBase58(rec.Owner)
		if err != nil {
			return TokenHolding{}, fmt.Errorf("invalid owner %q: %w", rec.Owner, err)
		}
	}
	raw, err := strconv.ParseUint(rec.Amount, 10, 64)
	if err != nil {
		return TokenHolding{}, fmt.Errorf("invalid amount %q: %w", rec.Amount, err)
	}
	return TokenHolding{
		Mint:         mint,
		Owner:        holder,
		Account:      rec.Address,
		TokenProgram: rec.ProgramID,
		Amount:       units.NewAmount(raw, rec.Decimals),
	}, nil
}

func clone(hs []TokenHolding) []TokenHolding {
	out := make([]TokenHolding, len(hs))
	copy(out, hs)
	return out
}
