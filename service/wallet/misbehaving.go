package wallet

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Misbehavior selects how a MisbehavingSigner corrupts its output.
type Misbehavior string

const (
	// FlipBit returns the real signature with one bit flipped.
	FlipBit Misbehavior = "flip_bit"
	// WrongKey signs with a different key than the one the agent claims.
	WrongKey Misbehavior = "wrong_key"
	// WrongMessage signs a different message than the one requested.
	WrongMessage Misbehavior = "wrong_message"
)

// MisbehavingSigner returns a signing capability whose signatures never
// verify. It is used to exercise the verification path.
func MisbehavingSigner(inner CanSign, mode Misbehavior) (CanSign, error) {
	switch mode {
	case FlipBit:
		return CanSign{Sign: func(ctx context.Context, message []byte) ([]byte, error) {
			sig, err := inner.Sign(ctx, message)
			if err != nil {
				return nil, err
			}
			out := append([]byte(nil), sig...)
			if len(out) > 0 {
				out[0] ^= 0x01
			}
			return out, nil
		}}, nil
	case WrongKey:
		other, err := solana.NewRandomPrivateKey()
		if err != nil {
			return CanSign{}, fmt.Errorf("failed to generate key: %w", err)
		}
		return CanSign{Sign: func(ctx context.Context, message []byte) ([]byte, error) {
			sig, err := other.Sign(message)
			if err != nil {
				return nil, err
			}
			return sig[:], nil
		}}, nil
	case WrongMessage:
		return CanSign{Sign: func(ctx context.Context, message []byte) ([]byte, error) {
			return inner.Sign(ctx, append(append([]byte(nil), message...), '!'))
		}}, nil
	default:
		return CanSign{}, fmt.Errorf("unknown misbehavior %q", mode)
	}
}
