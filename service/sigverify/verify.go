// Package sigverify re-verifies wallet signatures locally.
package sigverify

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// ErrVerificationFailed is returned when a signature does not verify against
// the claimed key and message.
var ErrVerificationFailed = errors.New("signature verification failed")

const signatureLength = 64

// ErrInvalidEncoding is returned by the decoders for malformed input.
var ErrInvalidEncoding = errors.New("invalid encoding")

// Verify reports whether signature is a valid ed25519 signature of message by
// key. Malformed signatures verify as false.
func Verify(message, signature []byte, key solana.PublicKey) bool {
	if len(signature) != signatureLength || key.IsZero() {
		return false
	}
	var sig solana.Signature
	copy(sig[:], signature)
	return sig.Verify(key, message)
}

// SignedMessagePair is a message together with a signature that has been
// verified against Signer. It can only be built with NewSignedMessagePair.
type SignedMessagePair struct {
	message   []byte
	signature solana.Signature
	signer    solana.PublicKey
}

// NewSignedMessagePair verifies the signature before constructing the pair.
func NewSignedMessagePair(message, signature []byte, signer solana.PublicKey) (SignedMessagePair, error) {
	if !Verify(message, signature, signer) {
		return SignedMessagePair{}, fmt.Errorf("%w: signer %s", ErrVerificationFailed, signer)
	}
	pair := SignedMessagePair{
		message: append([]byte(nil), message...),
		signer:  signer,
	}
	copy(pair.signature[:], signature)
	return pair, nil
}

// Message returns a copy of the signed message.
func (p SignedMessagePair) Message() []byte { return append([]byte(nil), p.message...) }

// Signature returns the verified signature.
func (p SignedMessagePair) Signature() solana.Signature { return p.signature }

// Signer returns the key the signature verified against.
func (p SignedMessagePair) Signer() solana.PublicKey { return p.signer }

// EncodedSignature returns the base58 rendering of the signature.
func (p SignedMessagePair) EncodedSignature() string { return EncodeSignature(p.signature[:]) }

// EncodeSignature renders a signature as base58, the form wallets display.
func EncodeSignature(signature []byte) string {
	return base58.Encode(signature)
}

// DecodeSignature accepts a base58 or hex (optionally 0x-prefixed) encoded
// 64-byte signature.
func DecodeSignature(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty signature", ErrInvalidEncoding)
	}

	if raw, ok := decodeHex(s); ok {
		return raw, nil
	}

	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if len(raw) != signatureLength {
		return nil, fmt.Errorf("%w: signature is %d bytes, want %d", ErrInvalidEncoding, len(raw), signatureLength)
	}
	return raw, nil
}

// decodeHex only accepts strings that are unambiguously hex: 128 hex digits,
// or any hex digits behind a 0x prefix.
func decodeHex(s string) ([]byte, bool) {
	prefixed := strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
	if prefixed {
		s = s[2:]
	} else if len(s) != 2*signatureLength {
		return nil, false
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != signatureLength {
		return nil, false
	}
	return raw, true
}

// DecodeMessage interprets a message argument. Plain text is used as UTF-8
// bytes; "base58:" and "hex:" prefixes select a binary encoding.
func DecodeMessage(s string) ([]byte, error) {
	switch {
	case strings.HasPrefix(s, "base58:"):
		raw, err := base58.Decode(strings.TrimPrefix(s, "base58:"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
		}
		return raw, nil
	case strings.HasPrefix(s, "hex:"):
		raw, err := hex.DecodeString(strings.TrimPrefix(s, "hex:"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
		}
		return raw, nil
	default:
		return []byte(s), nil
	}
}
