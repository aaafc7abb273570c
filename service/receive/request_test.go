package receive

import (
	"bytes"
	"net/url"
	"strings"
	"testing"

	"github.com/brojonat/solwallet/service/units"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testRecipient = solana.MustPublicKeyFromBase58("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")
	testMint      = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
)

func u8(v uint8) *uint8 { return &v }

func TestURI(t *testing.T) {
	tests := []struct {
		name   string
		req    Request
		want   string
		params url.Values
	}{
		{
			name: "address only",
			req:  Request{Recipient: testRecipient},
			want: "solana:" + testRecipient.String(),
		},
		{
			name:   "sol amount is canonical",
			req:    Request{Recipient: testRecipient, Amount: "001.50"},
			params: url.Values{"amount": {"1.5"}},
		},
		{
			name:   "token with known decimals",
			req:    Request{Recipient: testRecipient, Amount: "12.25", Mint: &testMint, Decimals: u8(6)},
			params: url.Values{"amount": {"12.25"}, "spl-token": {testMint.String()}},
		},
		{
			name:   "token with unknown decimals",
			req:    Request{Recipient: testRecipient, Amount: "0.000000000000001", Mint: &testMint},
			params: url.Values{"amount": {"0.000000000000001"}, "spl-token": {testMint.String()}},
		},
		{
			name: "label message memo",
			req:  Request{Recipient: testRecipient, Label: "Coffee shop", Message: "Thanks & enjoy", Memo: "order-42"},
			params: url.Values{
				"label":   {"Coffee shop"},
				"message": {"Thanks & enjoy"},
				"memo":    {"order-42"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri, err := tt.req.URI()
			require.NoError(t, err)
			if tt.want != "" {
				assert.Equal(t, tt.want, uri)
				return
			}

			prefix := "solana:" + testRecipient.String() + "?"
			require.True(t, strings.HasPrefix(uri, prefix), uri)
			got, err := url.ParseQuery(strings.TrimPrefix(uri, prefix))
			require.NoError(t, err)
			assert.Equal(t, tt.params, got)
		})
	}
}

func TestURI_Rejects(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{name: "no recipient", req: Request{Amount: "1"}},
		{name: "zero sol", req: Request{Recipient: testRecipient, Amount: "0"}},
		{name: "too precise for sol", req: Request{Recipient: testRecipient, Amount: "0.0000000001"}},
		{name: "too precise for mint", req: Request{Recipient: testRecipient, Amount: "0.0000001", Mint: &testMint, Decimals: u8(6)}},
		{name: "zero token", req: Request{Recipient: testRecipient, Amount: "0.00", Mint: &testMint}},
		{name: "negative", req: Request{Recipient: testRecipient, Amount: "-1"}},
		{name: "exponent", req: Request{Recipient: testRecipient, Amount: "1e3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.URI()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	_, err := Request{Recipient: testRecipient, Amount: "abc"}.URI()
	assert.ErrorIs(t, err, units.ErrInvalidAmount)
}

func TestQRCodePNG(t *testing.T) {
	png, err := QRCodePNG("solana:"+testRecipient.String(), 256)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")))
}

func TestQRCodeText(t *testing.T) {
	text, err := QRCodeText("solana:" + testRecipient.String())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	assert.Greater(t, len(lines), 10)
}
