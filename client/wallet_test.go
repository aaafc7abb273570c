package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalance_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/balance", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"wallet":   "wallet123",
			"network":  "devnet",
			"lamports": 1500000000,
			"sol":      "1.5",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	bal, err := client.Balance(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "wallet123", bal.Wallet)
	assert.Equal(t, "devnet", bal.Network)
	assert.Equal(t, uint64(1500000000), bal.Lamports)
	assert.Equal(t, "1.5", bal.SOL)
	assert.False(t, bal.Stale)
}

func TestHoldings_NonzeroQuery(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"holdings": []map[string]interface{}{
				{"mint": "mint1", "account": "ata1", "token_program": "tp", "amount": "1.25", "units": 1250000, "decimals": 6},
			},
			"count": 1,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	hs, err := client.Holdings(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, "nonzero=true", gotQuery)
	require.Len(t, hs, 1)
	assert.Equal(t, "mint1", hs[0].Mint)
	assert.Equal(t, "1.25", hs[0].Amount)
	assert.Equal(t, uint8(6), hs[0].Decimals)
}

func TestSend_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/transfers", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "recipient123", body["recipient"])
		assert.Equal(t, "0.5", body["amount"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"action":    "send",
			"signature": "sig-abc",
			"outcome":   "confirmed",
			"recipient": "recipient123",
			"amount":    "0.5",
			"instructions": []map[string]interface{}{
				{"program": "system", "kind": "transfer", "amount": 500000000},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	result, err := client.Send(context.Background(), "recipient123", "0.5")
	require.NoError(t, err)

	assert.Equal(t, "send", result.Action)
	assert.Equal(t, "sig-abc", result.Signature)
	assert.Equal(t, "confirmed", result.Outcome)
	require.Len(t, result.Instructions, 1)
	assert.Equal(t, "transfer", result.Instructions[0].Kind)
	assert.Equal(t, uint64(500000000), result.Instructions[0].Amount)
}

func TestSendToken_RequestBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/token-transfers", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"recipient": "r", "mint": "m", "amount": "2"}, body)

		json.NewEncoder(w).Encode(map[string]string{"action": "token_transfer", "signature": "s", "outcome": "confirmed"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	result, err := client.SendToken(context.Background(), "r", "m", "2")
	require.NoError(t, err)
	assert.Equal(t, "token_transfer", result.Action)
}

func TestAction_ErrorResponse(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantKind    string
		wantSig     string
		wantMessage string
	}{
		{
			name:        "timeout with signature",
			status:      http.StatusGatewayTimeout,
			body:        `{"error":"send: transaction not confirmed before the deadline","kind":"timeout","signature":"sig-late"}`,
			wantKind:    "timeout",
			wantSig:     "sig-late",
			wantMessage: "not confirmed before the deadline",
		},
		{
			name:        "action in progress",
			status:      http.StatusConflict,
			body:        `{"error":"send: action already in progress","kind":"action_in_progress"}`,
			wantKind:    "action_in_progress",
			wantMessage: "already in progress",
		},
		{
			name:        "plain validation error",
			status:      http.StatusBadRequest,
			body:        `{"error":"invalid recipient: address is required"}`,
			wantMessage: "address is required",
		},
		{
			name:        "non JSON body",
			status:      http.StatusBadGateway,
			body:        `upstream gone`,
			wantMessage: "status 502: upstream gone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, nil, nil)
			result, err := client.Send(context.Background(), "r", "1")
			require.Error(t, err)
			assert.Nil(t, result)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantKind, apiErr.Kind)
			assert.Equal(t, tt.wantSig, apiErr.Signature)
			assert.Contains(t, apiErr.Message, tt.wantMessage)
		})
	}
}

func TestSignMessage_AndVerify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/api/v1/signatures":
			assert.Equal(t, "hex:68656c6c6f", body["message"])
			json.NewEncoder(w).Encode(map[string]string{"action": "sign", "signature": "sig", "outcome": "signed", "public_key": "pk"})
		case "/api/v1/signatures/verify":
			assert.Equal(t, "sig", body["signature"])
			assert.Equal(t, "pk", body["public_key"])
			json.NewEncoder(w).Encode(map[string]bool{"valid": true})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	result, err := client.SignMessage(context.Background(), "hex:68656c6c6f")
	require.NoError(t, err)
	assert.Equal(t, "pk", result.PublicKey)

	valid, err := client.Verify(context.Background(), "hex:68656c6c6f", result.Signature, result.PublicKey)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestHistory_Query(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/history", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "20", r.URL.Query().Get("offset"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"actions": []map[string]interface{}{
				{"action": "airdrop", "signature": "s1", "amount": "1", "outcome": "late_confirmed", "created_at": time.Now(), "updated_at": time.Now()},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	actions, err := client.History(context.Background(), 10, 20)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "late_confirmed", actions[0].Outcome)
	assert.Nil(t, actions[0].Recipient)
}

func TestReceive_Query(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/receive", r.URL.Path)
		assert.Equal(t, "1.5", r.URL.Query().Get("amount"))
		assert.Equal(t, "Coffee", r.URL.Query().Get("label"))
		assert.False(t, r.URL.Query().Has("mint"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"wallet":  "wallet123",
			"network": "devnet",
			"uri":     "solana:wallet123?amount=1.5&label=Coffee",
			"qr_code": "iVBORw0KGgo=",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	pr, err := client.Receive(context.Background(), ReceiveParams{Amount: "1.5", Label: "Coffee"})
	require.NoError(t, err)
	assert.Equal(t, "solana:wallet123?amount=1.5&label=Coffee", pr.URI)
	assert.Equal(t, "devnet", pr.Network)
	assert.NotEmpty(t, pr.QRCode)
}

func TestInProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"in_progress": map[string]bool{"send": true, "airdrop": false},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	status, err := client.InProgress(context.Background())
	require.NoError(t, err)
	assert.True(t, status["send"])
	assert.False(t, status["airdrop"])
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	assert.NoError(t, NewClient(server.URL+"/", nil, nil).Health(context.Background()))
}

func streamServer(t *testing.T, events ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/actions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")

		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		fmt.Fprintf(w, "event: connected\ndata: {\"wallet\":\"wallet123\"}\n\n")
		fmt.Fprintf(w, ": keepalive\n\n")
		for _, e := range events {
			fmt.Fprintf(w, "event: action\ndata: %s\n\n", e)
		}
		flusher.Flush()

		<-r.Context().Done()
	}))
}

func TestAwait_MatchingEvent(t *testing.T) {
	server := streamServer(t,
		`{"action":"send","wallet":"wallet123","signature":"other","outcome":"confirmed","level":"success","message":"sent"}`,
		`{"action":"send","wallet":"wallet123","signature":"wanted","outcome":"late_confirmed","level":"success","message":"confirmed after the deadline"}`,
	)
	defer server.Close()

	client := NewClient(server.URL, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event, err := client.Await(ctx, func(e *Event) bool { return e.Signature == "wanted" })
	require.NoError(t, err)
	assert.Equal(t, "late_confirmed", event.Outcome)
	assert.Equal(t, "success", event.Level)
}

func TestAwait_NilMatcherTakesFirstAction(t *testing.T) {
	server := streamServer(t, `{"action":"airdrop","wallet":"wallet123","level":"warning","message":"slow"}`)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event, err := NewClient(server.URL, nil, nil).Await(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "airdrop", event.Action)
}

func TestAwait_Timeout(t *testing.T) {
	server := streamServer(t, `{"action":"send","wallet":"wallet123","signature":"other","level":"success","message":"m"}`)
	defer server.Close()

	client := NewClient(server.URL, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	event, err := client.Await(ctx, func(e *Event) bool { return e.Signature == "never" })
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Nil(t, event)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestAwait_StreamClosed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).Await(context.Background(), nil)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestAwait_NotConfigured(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).Await(context.Background(), nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}
