package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/brojonat/solwallet/service/receive"
	"github.com/gagliardetto/solana-go"
)

const (
	qrCodeSize      = 256
	maxLabelLength  = 256
	maxReceiveQuery = 2048
)

type receiveResponse struct {
	Wallet  string `json:"wallet"`
	Network string `json:"network"`
	URI     string `json:"uri"`
	QRCode  string `json:"qr_code"` // base64 PNG
}

// handleReceiveRequest returns a handler that builds a Solana Pay request
// for paying the wallet.
// GET /api/v1/receive?amount=1.5&mint=...&label=...&message=...&memo=...
//
// With format=png the QR code image is returned instead of JSON.
func handleReceiveRequest(wallet WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.RawQuery) > maxReceiveQuery {
			writeError(w, "query too long", http.StatusBadRequest)
			return
		}
		q := r.URL.Query()

		req := receive.Request{
			Recipient: wallet.Wallet(),
			Amount:    q.Get("amount"),
			Label:     q.Get("label"),
			Message:   q.Get("message"),
			Memo:      q.Get("memo"),
		}
		for _, s := range []string{req.Label, req.Message, req.Memo} {
			if len(s) > maxLabelLength {
				writeError(w, fmt.Sprintf("label, message and memo are limited to %d bytes", maxLabelLength), http.StatusBadRequest)
				return
			}
		}

		if m := q.Get("mint"); m != "" {
			if err := validateAddress(m); err != nil {
				writeError(w, fmt.Sprintf("invalid mint: %v", err), http.StatusBadRequest)
				return
			}
			mint, err := solana.PublicKeyFromBase58(m)
			if err != nil {
				writeError(w, fmt.Sprintf("invalid mint: %v", err), http.StatusBadRequest)
				return
			}
			req.Mint = &mint
			// Known decimals bound the amount's precision.
			for _, h := range wallet.Holdings() {
				if h.Mint.Equals(mint) {
					d := h.Decimals()
					req.Decimals = &d
					break
				}
			}
		}

		uri, err := req.URI()
		if err != nil {
			if errors.Is(err, receive.ErrInvalidRequest) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		png, err := receive.QRCodePNG(uri, qrCodeSize)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to render QR code", "error", err)
			writeError(w, "failed to render QR code", http.StatusInternalServerError)
			return
		}

		if q.Get("format") == "png" {
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			w.Write(png)
			return
		}

		writeJSON(w, receiveResponse{
			Wallet:  wallet.Wallet().String(),
			Network: string(wallet.Network()),
			URI:     uri,
			QRCode:  base64.StdEncoding.EncodeToString(png),
		}, http.StatusOK)
	})
}
