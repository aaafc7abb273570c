package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/solwallet/service/db"
	"github.com/brojonat/solwallet/service/holdings"
	"github.com/brojonat/solwallet/service/lifecycle"
	"github.com/brojonat/solwallet/service/metrics"
	"github.com/brojonat/solwallet/service/sigverify"
	"github.com/brojonat/solwallet/service/units"
	"github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 100     // Solana addresses are at most 44 chars, give buffer
	maxMessageLength   = 64 * 1024
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// balanceResponse is the JSON response format for the native balance.
type balanceResponse struct {
	Wallet   string `json:"wallet"`
	Network  string `json:"network"`
	Lamports uint64 `json:"lamports"`
	SOL      string `json:"sol"`
	Stale    bool   `json:"stale,omitempty"`
}

// handleGetBalance returns a handler that refreshes and returns the native balance.
// GET /api/v1/balance
//
// When the refresh fails and a previous balance is known, the previous value
// is returned marked stale.
func handleGetBalance(wallet WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := balanceResponse{
			Wallet:  wallet.Wallet().String(),
			Network: string(wallet.Network()),
		}

		bal, err := wallet.RefreshBalance(r.Context())
		if err != nil {
			cached, ok := wallet.Balance()
			if !ok {
				logger.ErrorContext(r.Context(), "failed to refresh balance", "error", err)
				writeError(w, fmt.Sprintf("failed to fetch balance: %v", err), http.StatusBadGateway)
				return
			}
			logger.WarnContext(r.Context(), "serving stale balance", "error", err)
			bal = cached
			resp.Stale = true
		}

		resp.Lamports = bal.Units
		resp.SOL = bal.String()
		writeJSON(w, resp, http.StatusOK)
	})
}

// holdingResponse is the JSON response format for a token holding.
type holdingResponse struct {
	Mint         string `json:"mint"`
	Account      string `json:"account"`
	TokenProgram string `json:"token_program"`
	Amount       string `json:"amount"`
	Units        uint64 `json:"units"`
	Decimals     uint8  `json:"decimals"`
}

func holdingToResponse(h holdings.TokenHolding) holdingResponse {
	return holdingResponse{
		Mint:         h.Mint.String(),
		Account:      h.Account.String(),
		TokenProgram: h.TokenProgram.String(),
		Amount:       h.DisplayAmount(),
		Units:        h.Amount.Units,
		Decimals:     h.Decimals(),
	}
}

// handleListHoldings returns a handler that re-enumerates the wallet's token accounts.
// GET /api/v1/holdings?nonzero=true
func handleListHoldings(wallet WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nonzero := false
		if v := r.URL.Query().Get("nonzero"); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, "invalid nonzero parameter: must be a boolean", http.StatusBadRequest)
				return
			}
			nonzero = parsed
		}

		hs, err := wallet.RefreshHoldings(r.Context())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list holdings", "error", err)
			writeActionError(w, err)
			return
		}
		if nonzero {
			hs = holdings.WithoutZero(hs)
		}

		resp := make([]holdingResponse, len(hs))
		for i, h := range hs {
			resp[i] = holdingToResponse(h)
		}

		logger.DebugContext(r.Context(), "holdings listed", "count", len(resp))

		writeJSON(w, map[string]interface{}{
			"wallet":   wallet.Wallet().String(),
			"holdings": resp,
			"count":    len(resp),
		}, http.StatusOK)
	})
}

// handleAirdrop returns a handler that requests test currency.
// POST /api/v1/airdrop {"amount": "1"}
func handleAirdrop(wallet WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount string `json:"amount"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		result, err := wallet.Airdrop(r.Context(), req.Amount)
		if err != nil {
			writeActionError(w, err)
			return
		}
		writeJSON(w, result, http.StatusOK)
	})
}

// handleTransfer returns a handler that sends native SOL.
// POST /api/v1/transfers {"recipient": "...", "amount": "0.5"}
func handleTransfer(wallet WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Recipient string `json:"recipient"`
			Amount    string `json:"amount"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}
		if err := validateAddress(req.Recipient); err != nil {
			writeError(w, "invalid recipient: "+err.Error(), http.StatusBadRequest)
			return
		}

		result, err := wallet.Send(r.Context(), req.Recipient, req.Amount)
		if err != nil {
			writeActionError(w, err)
			return
		}
		writeJSON(w, result, http.StatusOK)
	})
}

// handleTokenTransfer returns a handler that sends a held token.
// POST /api/v1/token-transfers {"recipient": "...", "mint": "...", "amount": "1.25"}
func handleTokenTransfer(wallet WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Recipient string `json:"recipient"`
			Mint      string `json:"mint"`
			Amount    string `json:"amount"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}
		if err := validateAddress(req.Recipient); err != nil {
			writeError(w, "invalid recipient: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateAddress(req.Mint); err != nil {
			writeError(w, "invalid mint: "+err.Error(), http.StatusBadRequest)
			return
		}

		result, err := wallet.SendToken(r.Context(), req.Recipient, req.Mint, req.Amount)
		if err != nil {
			writeActionError(w, err)
			return
		}
		writeJSON(w, result, http.StatusOK)
	})
}

// handleSignMessage returns a handler that signs and verifies a message.
// POST /api/v1/signatures {"message": "hello"}
//
// Messages prefixed with "hex:" or "base58:" are decoded first.
func handleSignMessage(wallet WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Message string `json:"message"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}
		if len(req.Message) > maxMessageLength {
			writeError(w, fmt.Sprintf("message too long: maximum length is %d bytes", maxMessageLength), http.StatusBadRequest)
			return
		}
		message, err := sigverify.DecodeMessage(req.Message)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		result, err := wallet.SignMessage(r.Context(), message)
		if err != nil {
			writeActionError(w, err)
			return
		}
		writeJSON(w, result, http.StatusOK)
	})
}

// handleVerifySignature returns a handler that checks a detached signature.
// POST /api/v1/signatures/verify {"message": "...", "signature": "...", "public_key": "..."}
func handleVerifySignature(m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Message   string `json:"message"`
			Signature string `json:"signature"`
			PublicKey string `json:"public_key"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		message, err := sigverify.DecodeMessage(req.Message)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		sig, err := sigverify.DecodeSignature(req.Signature)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		key, err := solana.PublicKeyFromBase58(req.PublicKey)
		if err != nil {
			writeError(w, "invalid public_key: "+err.Error(), http.StatusBadRequest)
			return
		}

		valid := sigverify.Verify(message, sig, key)
		if m != nil {
			m.RecordSignatureVerification(valid)
		}
		writeJSON(w, map[string]bool{"valid": valid}, http.StatusOK)
	})
}

// handleActionStatus returns a handler that reports which action slots are busy.
// GET /api/v1/actions
func handleActionStatus(wallet WalletService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := make(map[string]bool, len(lifecycle.Actions))
		for _, a := range lifecycle.Actions {
			status[string(a)] = wallet.InProgress(a)
		}
		writeJSON(w, map[string]interface{}{
			"in_progress": status,
		}, http.StatusOK)
	})
}

// actionResponse is the JSON response format for a recorded action.
type actionResponse struct {
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

func actionToResponse(a *db.Action) actionResponse {
	return actionResponse{
		Action:    a.Action,
		Signature: a.Signature,
		Recipient: a.Recipient,
		Mint:      a.Mint,
		Amount:    units.NewAmount(a.AmountUnits, a.Exponent).String(),
		Outcome:   a.Outcome,
		Reason:    a.Reason,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// handleListHistory returns a handler that lists the wallet's recorded actions.
// GET /api/v1/history?limit=N&offset=N
func handleListHistory(store HistoryStore, wallet WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		// Parse limit (default 50, max 500)
		limit := int32(50)
		if limitStr := query.Get("limit"); limitStr != "" {
			parsedLimit, err := strconv.Atoi(limitStr)
			if err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedLimit < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsedLimit > 500 {
				writeError(w, "limit cannot exceed 500", http.StatusBadRequest)
				return
			}
			limit = int32(parsedLimit)
		}

		offset := int32(0)
		if offsetStr := query.Get("offset"); offsetStr != "" {
			parsedOffset, err := strconv.Atoi(offsetStr)
			if err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedOffset < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			offset = int32(parsedOffset)
		}

		actions, err := store.ListActions(r.Context(), db.ListActionsParams{
			Wallet:  wallet.Wallet().String(),
			Network: string(wallet.Network()),
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list actions", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]actionResponse, len(actions))
		for i := range actions {
			resp[i] = actionToResponse(actions[i])
		}

		writeJSON(w, map[string]interface{}{
			"actions": resp,
			"count":   len(resp),
			"limit":   limit,
			"offset":  offset,
		}, http.StatusOK)
	})
}

// decodeBody decodes a size-limited JSON body into v. On failure it writes
// the error response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.DebugContext(r.Context(), "failed to decode request", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// statusForKind maps an action failure kind to an HTTP status.
func statusForKind(kind lifecycle.Kind) int {
	switch kind {
	case lifecycle.KindInvalidInput:
		return http.StatusBadRequest
	case lifecycle.KindActionInProgress:
		return http.StatusConflict
	case lifecycle.KindCapabilityMissing, lifecycle.KindOnChainFailure:
		return http.StatusUnprocessableEntity
	case lifecycle.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// writeActionError writes an action failure with its kind and, when the
// transaction reached the network, its signature.
func writeActionError(w http.ResponseWriter, err error) {
	kind := lifecycle.KindOf(err)
	body := map[string]string{
		"error": err.Error(),
		"kind":  string(kind),
	}
	var ae *lifecycle.ActionError
	if errors.As(err, &ae) && ae.Signature != "" {
		body["signature"] = ae.Signature
	}
	writeJSON(w, body, statusForKind(kind))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress rejects obviously malformed addresses before they reach
// the wallet.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
