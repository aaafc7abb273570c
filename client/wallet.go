package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Balance is the wallet's native balance.
type Balance struct {
	Wallet   string `json:"wallet"`
	Network  string `json:"network"`
	Lamports uint64 `json:"lamports"`
	SOL      string `json:"sol"`
	Stale    bool   `json:"stale,omitempty"`
}

// Holding is one token the wallet holds.
type Holding struct {
	Mint         string `json:"mint"`
	Account      string `json:"account"`
	TokenProgram string `json:"token_program"`
	Amount       string `json:"amount"`
	Units        uint64 `json:"units"`
	Decimals     uint8  `json:"decimals"`
}

// Instruction summarizes one instruction of a submitted transaction.
type Instruction struct {
	Program     string `json:"program"`
	Kind        string `json:"kind"`
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination,omitempty"`
	Mint        string `json:"mint,omitempty"`
	Authority   string `json:"authority,omitempty"`
	Amount      uint64 `json:"amount,omitempty"`
	Decimals    *uint8 `json:"decimals,omitempty"`
}

// Result is the outcome of a completed action.
type Result struct {
	Action       string        `json:"action"`
	Signature    string        `json:"signature"`
	Outcome      string        `json:"outcome"`
	Recipient    string        `json:"recipient,omitempty"`
	Mint         string        `json:"mint,omitempty"`
	Amount       string        `json:"amount,omitempty"`
	PublicKey    string        `json:"public_key,omitempty"`
	Instructions []Instruction `json:"instructions,omitempty"`
}

// Action is a recorded action from the wallet's history.
type Action struct {
	Action    string    `json:"action"`
	Signature string    `json:"signature"`
	Recipient *string   `json:"recipient,omitempty"`
	Mint      *string   `json:"mint,omitempty"`
	Amount    string    `json:"amount"`
	Outcome   string    `json:"outcome"`
	Reason    *string   `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PaymentRequest is a Solana Pay request for paying the wallet.
type PaymentRequest struct {
	Wallet  string `json:"wallet"`
	Network string `json:"network"`
	URI     string `json:"uri"`
	QRCode  string `json:"qr_code"`
}

// ReceiveParams describes the payment being requested. All fields are
// optional; an empty Mint requests SOL.
type ReceiveParams struct {
	Amount  string
	Mint    string
	Label   string
	Message string
	Memo    string
}

// Event is an action notification delivered over the stream endpoint.
type Event struct {
	ID              string    `json:"id"`
	Action          string    `json:"action"`
	Wallet          string    `json:"wallet"`
	Signature       string    `json:"signature,omitempty"`
	Outcome         string    `json:"outcome,omitempty"`
	Level           string    `json:"level"`
	Message         string    `json:"message"`
	Amount          string    `json:"amount,omitempty"`
	BalanceLamports *uint64   `json:"balance_lamports,omitempty"`
	PublishedAt     time.Time `json:"published_at"`
}

// APIError is a non-2xx response from the server. Kind and Signature are
// set for action failures.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
	Signature  string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("request failed (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("request failed: %s", e.Message)
}

// Client is the HTTP client for the solwallet service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new wallet service client. Actions block until the
// transaction settles, so the default timeout is generous.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Balance refreshes and returns the wallet's native balance.
func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	var b Balance
	if err := c.get(ctx, "/api/v1/balance", &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Holdings re-enumerates the wallet's token accounts.
func (c *Client) Holdings(ctx context.Context, nonzero bool) ([]Holding, error) {
	path := "/api/v1/holdings"
	if nonzero {
		path += "?nonzero=true"
	}

	var response struct {
		Holdings []Holding `json:"holdings"`
	}
	if err := c.get(ctx, path, &response); err != nil {
		return nil, err
	}
	return response.Holdings, nil
}

// Airdrop requests test currency. amount is in SOL.
func (c *Client) Airdrop(ctx context.Context, amount string) (*Result, error) {
	return c.action(ctx, "/api/v1/airdrop", map[string]string{"amount": amount})
}

// Send transfers native SOL to recipient.
func (c *Client) Send(ctx context.Context, recipient, amount string) (*Result, error) {
	return c.action(ctx, "/api/v1/transfers", map[string]string{
		"recipient": recipient,
		"amount":    amount,
	})
}

// SendToken transfers a held token to recipient.
func (c *Client) SendToken(ctx context.Context, recipient, mint, amount string) (*Result, error) {
	return c.action(ctx, "/api/v1/token-transfers", map[string]string{
		"recipient": recipient,
		"mint":      mint,
		"amount":    amount,
	})
}

// SignMessage asks the wallet to sign message. Prefix with "hex:" or
// "base58:" to send binary data.
func (c *Client) SignMessage(ctx context.Context, message string) (*Result, error) {
	return c.action(ctx, "/api/v1/signatures", map[string]string{"message": message})
}

// Verify checks a detached signature against a public key.
func (c *Client) Verify(ctx context.Context, message, signature, publicKey string) (bool, error) {
	var response struct {
		Valid bool `json:"valid"`
	}
	err := c.post(ctx, "/api/v1/signatures/verify", map[string]string{
		"message":    message,
		"signature":  signature,
		"public_key": publicKey,
	}, &response)
	if err != nil {
		return false, err
	}
	return response.Valid, nil
}

// InProgress reports which action slots are busy.
func (c *Client) InProgress(ctx context.Context) (map[string]bool, error) {
	var response struct {
		InProgress map[string]bool `json:"in_progress"`
	}
	if err := c.get(ctx, "/api/v1/actions", &response); err != nil {
		return nil, err
	}
	return response.InProgress, nil
}

// History lists recorded actions, newest first.
func (c *Client) History(ctx context.Context, limit, offset int) ([]Action, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var response struct {
		Actions []Action `json:"actions"`
	}
	if err := c.get(ctx, path, &response); err != nil {
		return nil, err
	}
	return response.Actions, nil
}

// Receive builds a payment request URI and QR code for the wallet.
func (c *Client) Receive(ctx context.Context, params ReceiveParams) (*PaymentRequest, error) {
	q := url.Values{}
	for k, v := range map[string]string{
		"amount":  params.Amount,
		"mint":    params.Mint,
		"label":   params.Label,
		"message": params.Message,
		"memo":    params.Memo,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	path := "/api/v1/receive"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var pr PaymentRequest
	if err := c.get(ctx, path, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// ErrStreamClosed is returned by Await when the server ends the stream
// before a matching event arrives.
var ErrStreamClosed = errors.New("event stream closed")

// Await blocks until an action event satisfying matcher arrives on the
// stream, or ctx is done. A nil matcher accepts the first event.
func (c *Client) Await(ctx context.Context, matcher func(*Event) bool) (*Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/stream/actions", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long lived; the caller's context bounds it instead.
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var eventType string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			eventType = ""
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if eventType != "action" {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var event Event
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				c.logger.Warn("failed to parse event", "error", err)
				continue
			}
			if matcher == nil || matcher(&event) {
				return &event, nil
			}
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read failed: %w", err)
	}
	return nil, ErrStreamClosed
}

func (c *Client) action(ctx context.Context, path string, body interface{}) (*Result, error) {
	var result Result
	if err := c.post(ctx, path, body, &result); err != nil {
		return nil, err
	}
	c.logger.Debug("action completed",
		"action", result.Action,
		"signature", result.Signature,
		"outcome", result.Outcome,
	)
	return &result, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error     string `json:"error"`
		Kind      string `json:"kind"`
		Signature string `json:"signature"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    errResp.Error,
		Kind:       errResp.Kind,
		Signature:  errResp.Signature,
	}
}
