// Package receive builds Solana Pay transfer requests asking a payer to send
// funds to the wallet, and renders them as QR codes.
package receive

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/brojonat/solwallet/service/units"
	"github.com/gagliardetto/solana-go"
	"github.com/skip2/go-qrcode"
)

// ErrInvalidRequest is returned for requests that cannot be encoded.
var ErrInvalidRequest = errors.New("invalid receive request")

// Request is a Solana Pay transfer request. Every field but Recipient is
// optional.
type Request struct {
	Recipient solana.PublicKey
	// Amount is in SOL, or in token units when Mint is set.
	Amount string
	Mint   *solana.PublicKey
	// Decimals of Mint, when known, bounds the precision of Amount.
	Decimals *uint8
	Label    string
	Message  string
	Memo     string
}

// URI encodes the request as a solana: URI.
func (r Request) URI() (string, error) {
	if r.Recipient.IsZero() {
		return "", fmt.Errorf("%w: recipient is required", ErrInvalidRequest)
	}

	params := url.Values{}
	if r.Amount != "" {
		amount, err := r.canonicalAmount()
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		params.Set("amount", amount)
	}
	if r.Mint != nil {
		params.Set("spl-token", r.Mint.String())
	}
	if r.Label != "" {
		params.Set("label", r.Label)
	}
	if r.Message != "" {
		params.Set("message", r.Message)
	}
	if r.Memo != "" {
		params.Set("memo", r.Memo)
	}

	uri := "solana:" + r.Recipient.String()
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}
	return uri, nil
}

func (r Request) canonicalAmount() (string, error) {
	decimals := units.LamportsExponent
	if r.Mint != nil {
		if r.Decimals == nil {
			// Unknown mint precision: any positive decimal will do.
			amount, err := units.Canonical(r.Amount)
			if err != nil {
				return "", err
			}
			if amount == "0" {
				return "", fmt.Errorf("%w: %q must be greater than zero", units.ErrInvalidAmount, r.Amount)
			}
			return amount, nil
		}
		decimals = *r.Decimals
	}
	amount, err := units.ToBaseUnits(r.Amount, decimals)
	if err != nil {
		return "", err
	}
	return units.FromBaseUnits(amount), nil
}

// QRCodePNG renders data as a size x size PNG with medium error correction.
func QRCodePNG(data string, size int) ([]byte, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}
	png, err := qr.PNG(size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code as PNG: %w", err)
	}
	return png, nil
}

// QRCodeText renders data as a QR code drawn with block characters, two
// modules per line, for terminals.
func QRCodeText(data string) (string, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}
	return qr.ToSmallString(false), nil
}
