package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solwallet/client"
	"github.com/brojonat/solwallet/service/lifecycle"
	"github.com/brojonat/solwallet/service/receive"
	"github.com/urfave/cli/v2"
)

func remoteCommands() *cli.Command {
	return &cli.Command{
		Name:  "remote",
		Usage: "Drive the wallet of a running solwallet server",
		Subcommands: []*cli.Command{
			{
				Name:  "balance",
				Usage: "Refresh and show the SOL balance",
				Action: remoteAction(func(c *cli.Context, cl *client.Client) error {
					bal, err := cl.Balance(c.Context)
					if err != nil {
						return remoteExit(err)
					}
					return render(c, bal, func(w io.Writer) {
						fmt.Fprintf(w, "%s SOL\n", bal.SOL)
						fmt.Fprintf(w, "  Wallet:  %s\n", bal.Wallet)
						fmt.Fprintf(w, "  Network: %s\n", bal.Network)
						if bal.Stale {
							fmt.Fprintf(w, "  (stale: refresh failed, showing last known value)\n")
						}
					})
				}),
			},
			{
				Name:  "holdings",
				Usage: "List token holdings",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "nonzero", Usage: "Hide empty token accounts"},
				},
				Action: remoteAction(func(c *cli.Context, cl *client.Client) error {
					hs, err := cl.Holdings(c.Context, c.Bool("nonzero"))
					if err != nil {
						return remoteExit(err)
					}
					rows := make([]holdingRow, len(hs))
					for i, h := range hs {
						rows[i] = holdingRow(h)
					}
					return render(c, hs, func(w io.Writer) { printHoldings(w, rows) })
				}),
			},
			{
				Name:      "airdrop",
				Usage:     "Request test SOL",
				ArgsUsage: "AMOUNT",
				Action: remoteAction(func(c *cli.Context, cl *client.Client) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: amount in SOL")
					}
					result, err := cl.Airdrop(c.Context, c.Args().First())
					return printRemoteResult(c, result, err)
				}),
			},
			{
				Name:      "send",
				Usage:     "Send native SOL",
				ArgsUsage: "RECIPIENT AMOUNT",
				Action: remoteAction(func(c *cli.Context, cl *client.Client) error {
					if c.NArg() != 2 {
						return fmt.Errorf("requires exactly two arguments: recipient and amount in SOL")
					}
					result, err := cl.Send(c.Context, c.Args().Get(0), c.Args().Get(1))
					return printRemoteResult(c, result, err)
				}),
			},
			{
				Name:      "send-token",
				Usage:     "Send a held SPL token",
				ArgsUsage: "RECIPIENT MINT AMOUNT",
				Action: remoteAction(func(c *cli.Context, cl *client.Client) error {
					if c.NArg() != 3 {
						return fmt.Errorf("requires exactly three arguments: recipient, mint and amount")
					}
					result, err := cl.SendToken(c.Context, c.Args().Get(0), c.Args().Get(1), c.Args().Get(2))
					return printRemoteResult(c, result, err)
				}),
			},
			{
				Name:      "sign",
				Usage:     "Sign a message with the server's wallet",
				ArgsUsage: "MESSAGE",
				Action: remoteAction(func(c *cli.Context, cl *client.Client) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: message")
					}
					result, err := cl.SignMessage(c.Context, c.Args().First())
					return printRemoteResult(c, result, err)
				}),
			},
			{
				Name:      "verify",
				Usage:     "Verify a signature on the server",
				ArgsUsage: "MESSAGE SIGNATURE PUBKEY",
				Action: remoteAction(func(c *cli.Context, cl *client.Client) error {
					if c.NArg() != 3 {
						return fmt.Errorf("requires exactly three arguments: message, signature and public key")
					}
					valid, err := cl.Verify(c.Context, c.Args().Get(0), c.Args().Get(1), c.Args().Get(2))
					if err != nil {
						return remoteExit(err)
					}
					if err := render(c, map[string]bool{"valid": valid}, func(w io.Writer) {
						if valid {
							fmt.Fprintln(w, "✓ Signature is valid")
						} else {
							fmt.Fprintln(w, "✗ Signature is NOT valid")
						}
					}); err != nil {
						return err
					}
					if !valid {
						return cli.Exit("", exitVerificationFail)
					}
					return nil
				}),
			},
			{
				Name:  "actions",
				Usage: "Show which actions are in progress",
				Action: remoteAction(func(c *cli.Context, cl *client.Client) error {
					busy, err := cl.InProgress(c.Context)
					if err != nil {
						return remoteExit(err)
					}
					return render(c, busy, func(w io.Writer) {
						for _, a := range lifecycle.Actions {
							state := "idle"
							if busy[string(a)] {
								state = "in progress"
							}
							fmt.Fprintf(w, "%-15s %s\n", a, state)
						}
					})
				}),
			},
			{
				Name:  "history",
				Usage: "List recorded actions, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum number of actions", Value: 50},
					&cli.IntFlag{Name: "offset", Usage: "Number of actions to skip"},
				},
				Action: remoteAction(func(c *cli.Context, cl *client.Client) error {
					actions, err := cl.History(c.Context, c.Int("limit"), c.Int("offset"))
					if err != nil {
						return remoteExit(err)
					}
					return render(c, actions, func(w io.Writer) {
						tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
						fmt.Fprintln(tw, "SIGNATURE\tACTION\tAMOUNT\tOUTCOME\tCREATED")
						for _, a := range actions {
							fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
								truncate(a.Signature, 16), a.Action, a.Amount, a.Outcome,
								a.CreatedAt.Format(time.RFC3339))
						}
						tw.Flush()
						fmt.Fprintf(w, "\nTotal: %d actions\n", len(actions))
					})
				}),
			},
			{
				Name:  "receive",
				Usage: "Build a Solana Pay request for paying the server's wallet",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "amount", Usage: "Requested amount (SOL, or token units with --mint)"},
					&cli.StringFlag{Name: "mint", Usage: "Request a token instead of SOL"},
					&cli.StringFlag{Name: "label", Usage: "Payee label"},
					&cli.StringFlag{Name: "message", Usage: "Message shown to the payer"},
					&cli.StringFlag{Name: "memo", Usage: "Memo attached to the payment"},
					&cli.BoolFlag{Name: "qr", Usage: "Print the QR code to the terminal"},
				},
				Action: remoteAction(func(c *cli.Context, cl *client.Client) error {
					pr, err := cl.Receive(c.Context, client.ReceiveParams{
						Amount:  c.String("amount"),
						Mint:    c.String("mint"),
						Label:   c.String("label"),
						Message: c.String("message"),
						Memo:    c.String("memo"),
					})
					if err != nil {
						var apiErr *client.APIError
						if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
							return cli.Exit(err.Error(), exitInvalidInput)
						}
						return remoteExit(err)
					}
					var qr string
					if c.Bool("qr") {
						if qr, err = receive.QRCodeText(pr.URI); err != nil {
							return err
						}
					}
					return render(c, pr, func(w io.Writer) {
						fmt.Fprintln(w, pr.URI)
						if qr != "" {
							fmt.Fprint(w, qr)
						}
					})
				}),
			},
			awaitCommand(),
		},
	}
}

// awaitCommand blocks until an action event matching all filters arrives.
func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:  "await",
		Usage: "Wait for a matching action event from the server's stream",
		Description: `Blocks until an action event matches every given filter, prints it and
exits. Exits non-zero on timeout.

Examples:
  solwallet remote await --signature 5VERv8... --timeout 2m
  solwallet remote await --action send --jq-match '.outcome == "late_confirmed"'`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "signature", Usage: "Only match events for this signature"},
			&cli.StringFlag{Name: "action", Usage: "Only match this action (airdrop, send, token_transfer, sign)"},
			&cli.StringSliceFlag{
				Name:  "jq-match",
				Usage: "Only match events for which this jq expression is truthy (repeatable)",
			},
			&cli.DurationFlag{Name: "timeout", Usage: "How long to wait", Value: 5 * time.Minute},
		},
		Action: remoteAction(func(c *cli.Context, cl *client.Client) error {
			filters, err := compileFilters(c.StringSlice("jq-match"))
			if err != nil {
				return err
			}
			signature := c.String("signature")
			action := c.String("action")

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			event, err := cl.Await(ctx, func(e *client.Event) bool {
				if signature != "" && e.Signature != signature {
					return false
				}
				if action != "" && e.Action != action {
					return false
				}
				return matchesAll(filters, e)
			})
			if errors.Is(err, context.DeadlineExceeded) {
				return cli.Exit(fmt.Sprintf("no matching event within %s", c.Duration("timeout")), exitTimeout)
			}
			if err != nil {
				return remoteExit(err)
			}

			return render(c, event, func(w io.Writer) {
				fmt.Fprintf(w, "[%s] %s\n", event.Level, event.Message)
				fmt.Fprintf(w, "  Action:    %s\n", event.Action)
				fmt.Fprintf(w, "  Outcome:   %s\n", event.Outcome)
				if event.Signature != "" {
					fmt.Fprintf(w, "  Signature: %s\n", event.Signature)
				}
			})
		}),
	}
}

func remoteAction(fn func(c *cli.Context, cl *client.Client) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		serverURL := c.String("server-url")
		if serverURL == "" {
			return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
		}
		return fn(c, client.NewClient(serverURL, nil, cliLogger(c)))
	}
}

// remoteExit maps server action failures to the same exit codes the local
// wallet commands use.
func remoteExit(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Kind != "" {
		return cli.Exit(err.Error(), exitCodeFor(lifecycle.Kind(apiErr.Kind)))
	}
	return err
}

func printRemoteResult(c *cli.Context, result *client.Result, err error) error {
	if err != nil {
		return remoteExit(err)
	}
	return render(c, result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s %s\n", result.Action, result.Outcome)
		fmt.Fprintf(w, "  Signature: %s\n", result.Signature)
		if result.Recipient != "" {
			fmt.Fprintf(w, "  Recipient: %s\n", result.Recipient)
		}
		if result.Mint != "" {
			fmt.Fprintf(w, "  Mint:      %s\n", result.Mint)
		}
		if result.Amount != "" {
			fmt.Fprintf(w, "  Amount:    %s\n", result.Amount)
		}
		if result.PublicKey != "" {
			fmt.Fprintf(w, "  Signer:    %s\n", result.PublicKey)
		}
	})
}
