package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/solwallet/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)

	GetTokenAccountsByOwner(
		ctx context.Context,
		owner solana.PublicKey,
		conf *rpc.GetTokenAccountsConfig,
		opts *rpc.GetTokenAccountsOpts,
	) (*rpc.GetTokenAccountsResult, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	SendTransactionWithOpts(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	RequestAirdrop(
		ctx context.Context,
		account solana.PublicKey,
		lamports uint64,
		commitment rpc.CommitmentType,
	) (solana.Signature, error)

	GetAccountInfo(
		ctx context.Context,
		account solana.PublicKey,
	) (*rpc.GetAccountInfoResult, error)
}

// Client provides the ledger operations the wallet needs.
// It wraps the RPC client with domain-specific operations.
type Client struct {
	rpc              RPCClient
	logger           *slog.Logger
	metrics          *metrics.Metrics
	endpoint         string // RPC endpoint identifier for metrics (e.g., "devnet", rpc host)
	commitment       rpc.CommitmentType
	maxAttempts      int
	rateLimitBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCommitment sets the commitment used for reads, preflight and airdrops.
func WithCommitment(commitment rpc.CommitmentType) ClientOption {
	return func(c *Client) {
		c.commitment = commitment
	}
}

// WithRateLimitBackoff sets the base backoff applied when a read is rate
// limited. The n-th retry waits base * 2^n.
func WithRateLimitBackoff(base time.Duration) ClientOption {
	return func(c *Client) {
		c.rateLimitBackoff = base
	}
}

// WithMaxAttempts bounds how many times a rate limited read is tried.
func WithMaxAttempts(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "devnet" or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		rpc:              rpcClient,
		logger:           logger,
		metrics:          m,
		endpoint:         endpoint,
		commitment:       rpc.CommitmentConfirmed,
		maxAttempts:      3,
		rateLimitBackoff: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Balance returns the native balance of owner in lamports.
func (c *Client) Balance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	var lamports uint64
	err := c.withRetry(ctx, "GetBalance", func() error {
		out, err := c.rpc.GetBalance(ctx, owner, c.commitment)
		if err != nil {
			return err
		}
		if out == nil {
			return errors.New("empty getBalance response")
		}
		lamports = out.Value
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", owner, err)
	}
	return lamports, nil
}

// parsedTokenAccount mirrors the jsonParsed layout of an SPL token account.
type parsedTokenAccount struct {
	Program string `json:"program"`
	Parsed  struct {
		Type string `json:"type"`
		Info struct {
			Mint        string `json:"mint"`
			Owner       string `json:"owner"`
			TokenAmount struct {
				Amount   string `json:"amount"`
				Decimals uint8  `json:"decimals"`
			} `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

// TokenAccountsByOwner lists every token account owned by owner under the
// given token program. Records that cannot be decoded are skipped with a
// warning rather than failing the whole enumeration.
func (c *Client) TokenAccountsByOwner(
	ctx context.Context,
	owner solana.PublicKey,
	programID solana.PublicKey,
) ([]TokenAccountRecord, error) {
	var out *rpc.GetTokenAccountsResult
	err := c.withRetry(ctx, "GetTokenAccountsByOwner", func() error {
		var err error
		out, err = c.rpc.GetTokenAccountsByOwner(ctx, owner,
			&rpc.GetTokenAccountsConfig{ProgramId: &programID},
			&rpc.GetTokenAccountsOpts{
				Commitment: c.commitment,
				Encoding:   solana.EncodingJSONParsed,
			},
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list token accounts of %s: %w", owner, err)
	}
	if out == nil {
		return []TokenAccountRecord{}, nil
	}

	records := make([]TokenAccountRecord, 0, len(out.Value))
	for _, acc := range out.Value {
		if acc == nil || acc.Account.Data == nil {
			continue
		}
		var parsed parsedTokenAccount
		if err := json.Unmarshal(acc.Account.Data.GetRawJSON(), &parsed); err != nil {
			c.logger.WarnContext(ctx, "skipping undecodable token account",
				"account", acc.Pubkey.String(),
				"error", err,
			)
			continue
		}
		info := parsed.Parsed.Info
		if info.Mint == "" {
			c.logger.WarnContext(ctx, "skipping token account without mint",
				"account", acc.Pubkey.String(),
				"type", parsed.Parsed.Type,
			)
			continue
		}
		records = append(records, TokenAccountRecord{
			Address:   acc.Pubkey,
			ProgramID: programID,
			Mint:      info.Mint,
			Owner:     info.Owner,
			Amount:    info.TokenAmount.Amount,
			Decimals:  info.TokenAmount.Decimals,
		})
	}

	c.logger.DebugContext(ctx, "fetched token accounts",
		"owner", owner.String(),
		"program", programID.String(),
		"count", len(records),
	)
	return records, nil
}

// LatestRecency fetches a fresh blockhash for a new transaction.
func (c *Client) LatestRecency(ctx context.Context) (Recency, error) {
	var recency Recency
	err := c.withRetry(ctx, "GetLatestBlockhash", func() error {
		out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
		if err != nil {
			return err
		}
		if out == nil || out.Value == nil {
			return errors.New("empty getLatestBlockhash response")
		}
		recency = Recency{
			Blockhash:            out.Value.Blockhash,
			LastValidBlockHeight: out.Value.LastValidBlockHeight,
		}
		return nil
	})
	if err != nil {
		return Recency{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	return recency, nil
}

// SignatureStatuses returns one status per requested signature, in order.
// A signature the node has never seen yields Found == false.
func (c *Client) SignatureStatuses(ctx context.Context, signatures ...solana.Signature) ([]SignatureStatus, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, false, signatures...)
	c.record(ctx, "GetSignatureStatuses", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature statuses: %w", err)
	}

	statuses := make([]SignatureStatus, len(signatures))
	for i, sig := range signatures {
		statuses[i] = SignatureStatus{Signature: sig}
		if out == nil || i >= len(out.Value) || out.Value[i] == nil {
			continue
		}
		v := out.Value[i]
		statuses[i].Found = true
		statuses[i].Slot = v.Slot
		statuses[i].Confirmations = v.Confirmations
		statuses[i].Commitment = string(v.ConfirmationStatus)
		if v.Err != nil {
			errMsg := fmt.Sprintf("transaction failed: %v", v.Err)
			statuses[i].Err = &errMsg
		}
	}
	return statuses, nil
}

// Submit sends a signed transaction. It is never retried here: the caller
// owns the decision to rebuild with fresh recency.
func (c *Client) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	c.record(ctx, "SendTransaction", start, err)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to submit transaction: %w", err)
	}
	c.logger.InfoContext(ctx, "submitted transaction", "signature", sig.String())
	return sig, nil
}

// RequestAirdrop asks the cluster faucet for lamports.
func (c *Client) RequestAirdrop(ctx context.Context, to solana.PublicKey, lamports uint64) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.RequestAirdrop(ctx, to, lamports, c.commitment)
	c.record(ctx, "RequestAirdrop", start, err)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to request airdrop: %w", err)
	}
	c.logger.InfoContext(ctx, "requested airdrop",
		"recipient", to.String(),
		"lamports", lamports,
		"signature", sig.String(),
	)
	return sig, nil
}

// AccountExists reports whether an account has been created on chain.
func (c *Client) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	var exists bool
	err := c.withRetry(ctx, "GetAccountInfo", func() error {
		out, err := c.rpc.GetAccountInfo(ctx, account)
		if errors.Is(err, rpc.ErrNotFound) {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		exists = out != nil && out.Value != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to get account info of %s: %w", account, err)
	}
	return exists, nil
}

// withRetry runs an idempotent read, backing off when the node rate limits us.
func (c *Client) withRetry(ctx context.Context, method string, call func() error) error {
	var err error
	for attempt := range c.maxAttempts {
		start := time.Now()
		err = call()
		c.record(ctx, method, start, err)
		if err == nil || !isRateLimited(err) || attempt == c.maxAttempts-1 {
			return err
		}

		backoff := c.rateLimitBackoff * time.Duration(1<<uint(attempt))
		c.logger.WarnContext(ctx, "rate limited, sleeping before retry",
			"method", method,
			"attempt", attempt+1,
			"backoff_seconds", backoff.Seconds(),
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry(method, "rate_limit")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

func (c *Client) record(ctx context.Context, method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		c.logger.DebugContext(ctx, "rpc call failed",
			"method", method,
			"endpoint", c.endpoint,
			"error", err,
		)
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
	}
}

func isRateLimited(err error) bool {
	return strings.Contains(err.Error(), "429")
}
