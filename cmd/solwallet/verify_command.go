package main

import (
	"fmt"
	"io"

	"github.com/brojonat/solwallet/service/sigverify"
	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// verifyCommand checks a signature offline; it needs neither a keypair nor
// an RPC endpoint.
func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Verify an ed25519 signature locally",
		ArgsUsage: "MESSAGE SIGNATURE PUBKEY",
		Description: `MESSAGE accepts the same hex: and base58: prefixes as sign.
SIGNATURE may be base58 or hex. Exits non-zero when the signature is invalid.`,
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return fmt.Errorf("requires exactly three arguments: message, signature and public key")
			}

			message, err := sigverify.DecodeMessage(c.Args().Get(0))
			if err != nil {
				return cli.Exit(err.Error(), exitInvalidInput)
			}
			signature, err := sigverify.DecodeSignature(c.Args().Get(1))
			if err != nil {
				return cli.Exit(err.Error(), exitInvalidInput)
			}
			key, err := solana.PublicKeyFromBase58(c.Args().Get(2))
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid public key: %v", err), exitInvalidInput)
			}

			valid := sigverify.Verify(message, signature, key)
			out := map[string]interface{}{"valid": valid, "public_key": key.String()}
			if err := render(c, out, func(w io.Writer) {
				if valid {
					fmt.Fprintf(w, "✓ Signature is valid for %s\n", key)
				} else {
					fmt.Fprintf(w, "✗ Signature is NOT valid for %s\n", key)
				}
			}); err != nil {
				return err
			}
			if !valid {
				return cli.Exit("", exitVerificationFail)
			}
			return nil
		},
	}
}

// validateAddressArg rejects arguments that are not base58 public keys.
func validateAddressArg(s string) error {
	if _, err := solana.PublicKeyFromBase58(s); err != nil {
		return cli.Exit(fmt.Sprintf("invalid address %q: %v", s, err), exitInvalidInput)
	}
	return nil
}
