package solana

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	balance       uint64
	tokenAccounts *rpc.GetTokenAccountsResult
	blockhash     *rpc.GetLatestBlockhashResult
	statuses      *rpc.GetSignatureStatusesResult
	sendSig       solana.Signature
	airdropSig    solana.Signature
	accountInfo   *rpc.GetAccountInfoResult
	accountErr    error

	// errs are returned, one per call, before falling back to err.
	errs  []error
	err   error
	calls int

	lastSendOpts  rpc.TransactionOpts
	lastProgramID *solana.PublicKey
}

func (m *mockRPCClient) nextErr() error {
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return err
	}
	return m.err
}

func (m *mockRPCClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	return &rpc.GetBalanceResult{Value: m.balance}, nil
}

func (m *mockRPCClient) GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	m.lastProgramID = conf.ProgramId
	return m.tokenAccounts, nil
}

func (m *mockRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	return m.blockhash, nil
}

func (m *mockRPCClient) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	return m.statuses, nil
}

func (m *mockRPCClient) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	if err := m.nextErr(); err != nil {
		return solana.Signature{}, err
	}
	m.lastSendOpts = opts
	return m.sendSig, nil
}

func (m *mockRPCClient) RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64, commitment rpc.CommitmentType) (solana.Signature, error) {
	if err := m.nextErr(); err != nil {
		return solana.Signature{}, err
	}
	return m.airdropSig, nil
}

func (m *mockRPCClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	return m.accountInfo, nil
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(mock, "test", nil, logger, WithRateLimitBackoff(time.Millisecond))
}

var testWallet = solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")

func testSignature(seed byte) solana.Signature {
	var sig solana.Signature
	sig[0] = seed
	sig[63] = seed
	return sig
}

func TestBalance(t *testing.T) {
	mock := &mockRPCClient{balance: 1500000000}
	client := newTestClient(mock)

	lamports, err := client.Balance(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500000000), lamports)
}

func TestBalance_RetriesWhenRateLimited(t *testing.T) {
	mock := &mockRPCClient{
		balance: 42,
		errs:    []error{errors.New("rpc call getBalance() on https://api.devnet.solana.com: HTTP error: 429 Too Many Requests")},
	}
	client := newTestClient(mock)

	lamports, err := client.Balance(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), lamports)
	assert.Equal(t, 2, mock.calls)
}

func TestBalance_GivesUpAfterMaxAttempts(t *testing.T) {
	mock := &mockRPCClient{err: errors.New("429 Too Many Requests")}
	client := newTestClient(mock)

	_, err := client.Balance(context.Background(), testWallet)
	require.Error(t, err)
	assert.Equal(t, 3, mock.calls)
}

func TestBalance_DoesNotRetryOtherErrors(t *testing.T) {
	mock := &mockRPCClient{err: errors.New("connection refused")}
	client := newTestClient(mock)

	_, err := client.Balance(context.Background(), testWallet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 1, mock.calls)
}

const tokenAccountsJSON = `{
  "context": {"slot": 1234},
  "value": [
    {
      "pubkey": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
      "account": {
        "lamports": 2039280,
        "owner": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
        "executable": false,
        "data": {
          "program": "spl-token",
          "parsed": {
            "type": "account",
            "info": {
              "isNative": false,
              "mint": "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
              "owner": "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
              "state": "initialized",
              "tokenAmount": {"amount": "1000000", "decimals": 6, "uiAmountString": "1"}
            }
          },
          "space": 165
        }
      }
    },
    {
      "pubkey": "7UX2i7SucgLMQcfZ75s3VXmZZY4YRUyJN9X1RgfMoDUi",
      "account": {
        "lamports": 2039280,
        "owner": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
        "executable": false,
        "data": {
          "program": "spl-token",
          "parsed": {
            "type": "account",
            "info": {
              "mint": "So11111111111111111111111111111111111111112",
              "owner": "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
              "tokenAmount": {"amount": "0", "decimals": 9}
            }
          },
          "space": 165
        }
      }
    }
  ]
}`

func TestTokenAccountsByOwner(t *testing.T) {
	var result rpc.GetTokenAccountsResult
	require.NoError(t, json.Unmarshal([]byte(tokenAccountsJSON), &result))

	mock := &mockRPCClient{tokenAccounts: &result}
	client := newTestClient(mock)

	records, err := client.TokenAccountsByOwner(context.Background(), testWallet, solana.TokenProgramID)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.NotNil(t, mock.lastProgramID)
	assert.True(t, mock.lastProgramID.Equals(solana.TokenProgramID))

	assert.Equal(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", records[0].Address.String())
	assert.Equal(t, "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", records[0].Mint)
	assert.Equal(t, testWallet.String(), records[0].Owner)
	assert.Equal(t, "1000000", records[0].Amount)
	assert.Equal(t, uint8(6), records[0].Decimals)
	assert.True(t, records[0].ProgramID.Equals(solana.TokenProgramID))

	// Zero balances are reported, not dropped.
	assert.Equal(t, "0", records[1].Amount)
	assert.Equal(t, uint8(9), records[1].Decimals)
}

func TestTokenAccountsByOwner_SkipsAccountsWithoutData(t *testing.T) {
	const body = `{
  "context": {"slot": 1},
  "value": [
    null,
    {
      "pubkey": "7UX2i7SucgLMQcfZ75s3VXmZZY4YRUyJN9X1RgfMoDUi",
      "account": {"lamports": 2039280, "owner": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", "executable": false}
    }
  ]
}`
	var result rpc.GetTokenAccountsResult
	require.NoError(t, json.Unmarshal([]byte(body), &result))

	client := newTestClient(&mockRPCClient{tokenAccounts: &result})
	records, err := client.TokenAccountsByOwner(context.Background(), testWallet, solana.TokenProgramID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTokenAccountsByOwner_Empty(t *testing.T) {
	mock := &mockRPCClient{tokenAccounts: &rpc.GetTokenAccountsResult{}}
	client := newTestClient(mock)

	records, err := client.TokenAccountsByOwner(context.Background(), testWallet, solana.TokenProgramID)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestLatestRecency(t *testing.T) {
	hash := solana.Hash{1, 2, 3}
	mock := &mockRPCClient{
		blockhash: &rpc.GetLatestBlockhashResult{
			Value: &rpc.LatestBlockhashResult{Blockhash: hash, LastValidBlockHeight: 3090},
		},
	}
	client := newTestClient(mock)

	recency, err := client.LatestRecency(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hash, recency.Blockhash)
	assert.Equal(t, uint64(3090), recency.LastValidBlockHeight)
}

func TestLatestRecency_EmptyResponse(t *testing.T) {
	mock := &mockRPCClient{blockhash: &rpc.GetLatestBlockhashResult{}}
	client := newTestClient(mock)

	_, err := client.LatestRecency(context.Background())
	assert.Error(t, err)
}

func TestSignatureStatuses(t *testing.T) {
	unknown := testSignature(1)
	confirmed := testSignature(2)
	failed := testSignature(3)

	mock := &mockRPCClient{
		statuses: &rpc.GetSignatureStatusesResult{
			Value: []*rpc.SignatureStatusesResult{
				nil,
				{Slot: 100, ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
				{Slot: 101, ConfirmationStatus: rpc.ConfirmationStatusProcessed, Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}},
			},
		},
	}
	client := newTestClient(mock)

	statuses, err := client.SignatureStatuses(context.Background(), unknown, confirmed, failed)
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	assert.Equal(t, unknown, statuses[0].Signature)
	assert.False(t, statuses[0].Found)

	assert.True(t, statuses[1].Found)
	assert.Equal(t, "confirmed", statuses[1].Commitment)
	assert.Equal(t, uint64(100), statuses[1].Slot)
	assert.Nil(t, statuses[1].Err)

	assert.True(t, statuses[2].Found)
	require.NotNil(t, statuses[2].Err)
	assert.Contains(t, *statuses[2].Err, "InstructionError")
}

func TestSignatureStatuses_Error(t *testing.T) {
	mock := &mockRPCClient{err: errors.New("node unhealthy")}
	client := newTestClient(mock)

	_, err := client.SignatureStatuses(context.Background(), solana.Signature{})
	require.Error(t, err)
	assert.Equal(t, 1, mock.calls, "status queries are retried by the poller, not the client")
}

func TestSubmit(t *testing.T) {
	sig := testSignature(7)
	mock := &mockRPCClient{sendSig: sig}
	client := newTestClient(mock)

	got, err := client.Submit(context.Background(), &solana.Transaction{})
	require.NoError(t, err)
	assert.Equal(t, sig, got)
	assert.Equal(t, rpc.CommitmentConfirmed, mock.lastSendOpts.PreflightCommitment)
}

func TestSubmit_NotRetried(t *testing.T) {
	mock := &mockRPCClient{err: errors.New("429 Too Many Requests")}
	client := newTestClient(mock)

	_, err := client.Submit(context.Background(), &solana.Transaction{})
	require.Error(t, err)
	assert.Equal(t, 1, mock.calls)
}

func TestRequestAirdrop(t *testing.T) {
	sig := testSignature(8)
	mock := &mockRPCClient{airdropSig: sig}
	client := newTestClient(mock)

	got, err := client.RequestAirdrop(context.Background(), testWallet, solana.LAMPORTS_PER_SOL)
	require.NoError(t, err)
	assert.Equal(t, sig, got)
}

func TestAccountExists(t *testing.T) {
	t.Run("existing account", func(t *testing.T) {
		mock := &mockRPCClient{accountInfo: &rpc.GetAccountInfoResult{Value: &rpc.Account{Lamports: 1}}}
		exists, err := newTestClient(mock).AccountExists(context.Background(), testWallet)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("missing account", func(t *testing.T) {
		mock := &mockRPCClient{accountErr: rpc.ErrNotFound}
		exists, err := newTestClient(mock).AccountExists(context.Background(), testWallet)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("rpc failure", func(t *testing.T) {
		mock := &mockRPCClient{err: errors.New("connection reset")}
		_, err := newTestClient(mock).AccountExists(context.Background(), testWallet)
		assert.Error(t, err)
	})
}
