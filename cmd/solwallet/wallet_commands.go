package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/brojonat/solwallet/service/config"
	"github.com/brojonat/solwallet/service/holdings"
	"github.com/brojonat/solwallet/service/lifecycle"
	"github.com/brojonat/solwallet/service/receive"
	"github.com/brojonat/solwallet/service/sigverify"
	"github.com/urfave/cli/v2"
)

func walletCommands() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Run wallet actions locally with the configured keypair",
		Description: `Every action waits for the transaction to settle before returning.

Configuration comes from the environment (SOLANA_NETWORK, SOLANA_RPC_URLS,
WALLET_KEYPAIR_PATH, CONFIRM_TIMEOUT, ...). When --database-url is set the
actions are also recorded to the history table.`,
		Subcommands: []*cli.Command{
			{
				Name:  "address",
				Usage: "Print the wallet address",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "qr", Usage: "Also print a Solana Pay QR code"},
					&cli.StringFlag{Name: "amount", Usage: "Requested SOL amount encoded in the QR code"},
					&cli.StringFlag{Name: "label", Usage: "Payee label encoded in the QR code"},
				},
				Action: walletAction(runAddress),
			},
			{
				Name:   "balance",
				Usage:  "Show the native SOL balance",
				Action: walletAction(runBalance),
			},
			{
				Name:  "holdings",
				Usage: "List token holdings",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "nonzero",
						Usage: "Hide empty token accounts",
					},
				},
				Action: walletAction(runHoldings),
			},
			{
				Name:      "airdrop",
				Usage:     "Request test SOL (devnet, testnet and localnet only)",
				ArgsUsage: "AMOUNT",
				Action: walletAction(func(c *cli.Context, w *lifecycle.Orchestrator) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: amount in SOL")
					}
					result, err := w.Airdrop(c.Context, c.Args().First())
					return printResult(c, result, err)
				}),
			},
			{
				Name:      "send",
				Usage:     "Send native SOL",
				ArgsUsage: "RECIPIENT AMOUNT",
				Action: walletAction(func(c *cli.Context, w *lifecycle.Orchestrator) error {
					if c.NArg() != 2 {
						return fmt.Errorf("requires exactly two arguments: recipient and amount in SOL")
					}
					result, err := w.Send(c.Context, c.Args().Get(0), c.Args().Get(1))
					return printResult(c, result, err)
				}),
			},
			{
				Name:      "send-token",
				Usage:     "Send a held SPL token",
				ArgsUsage: "RECIPIENT MINT AMOUNT",
				Action: walletAction(func(c *cli.Context, w *lifecycle.Orchestrator) error {
					if c.NArg() != 3 {
						return fmt.Errorf("requires exactly three arguments: recipient, mint and amount")
					}
					result, err := w.SendToken(c.Context, c.Args().Get(0), c.Args().Get(1), c.Args().Get(2))
					return printResult(c, result, err)
				}),
			},
			{
				Name:      "sign",
				Usage:     "Sign a message (prefix with hex: or base58: for binary data)",
				ArgsUsage: "MESSAGE",
				Action: walletAction(func(c *cli.Context, w *lifecycle.Orchestrator) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: message")
					}
					message, err := sigverify.DecodeMessage(c.Args().First())
					if err != nil {
						return cli.Exit(err.Error(), exitInvalidInput)
					}
					result, err := w.SignMessage(c.Context, message)
					return printResult(c, result, err)
				}),
			},
		},
	}
}

// walletAction loads the local wallet and runs fn with it.
func walletAction(fn func(c *cli.Context, w *lifecycle.Orchestrator) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger := cliLogger(c)
		opts := []lifecycle.Option{
			lifecycle.WithNotifier(&writerNotifier{w: c.App.ErrWriter}),
		}

		if c.String("database-url") != "" {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()
			opts = append(opts, lifecycle.WithRecorder(store))
		}

		stack, err := lifecycle.Assemble(cfg, nil, logger, opts...)
		if err != nil {
			return err
		}
		return fn(c, stack.Orchestrator)
	}
}

func runAddress(c *cli.Context, w *lifecycle.Orchestrator) error {
	out := map[string]string{
		"wallet":  w.Wallet().String(),
		"network": string(w.Network()),
	}
	if !c.Bool("qr") && c.String("amount") == "" && c.String("label") == "" {
		return render(c, out, func(wr io.Writer) {
			fmt.Fprintln(wr, w.Wallet().String())
		})
	}

	uri, err := receive.Request{
		Recipient: w.Wallet(),
		Amount:    c.String("amount"),
		Label:     c.String("label"),
	}.URI()
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	out["uri"] = uri

	var qr string
	if c.Bool("qr") {
		if qr, err = receive.QRCodeText(uri); err != nil {
			return err
		}
	}
	return render(c, out, func(wr io.Writer) {
		fmt.Fprintln(wr, w.Wallet().String())
		fmt.Fprintln(wr, uri)
		if qr != "" {
			fmt.Fprint(wr, qr)
		}
	})
}

func runBalance(c *cli.Context, w *lifecycle.Orchestrator) error {
	bal, err := w.RefreshBalance(c.Context)
	if err != nil {
		return actionExit(err)
	}
	out := map[string]interface{}{
		"wallet":   w.Wallet().String(),
		"network":  string(w.Network()),
		"lamports": bal.Units,
		"sol":      bal.String(),
	}
	return render(c, out, func(wr io.Writer) {
		fmt.Fprintf(wr, "%s SOL\n", bal.String())
		fmt.Fprintf(wr, "  Wallet:  %s\n", w.Wallet())
		fmt.Fprintf(wr, "  Network: %s\n", w.Network())
	})
}

type holdingRow struct {
	Mint         string `json:"mint"`
	Account      string `json:"account"`
	TokenProgram string `json:"token_program"`
	Amount       string `json:"amount"`
	Units        uint64 `json:"units"`
	Decimals     uint8  `json:"decimals"`
}

func runHoldings(c *cli.Context, w *lifecycle.Orchestrator) error {
	hs, err := w.RefreshHoldings(c.Context)
	if err != nil {
		return actionExit(err)
	}
	if c.Bool("nonzero") {
		hs = holdings.WithoutZero(hs)
	}

	rows := make([]holdingRow, len(hs))
	for i, h := range hs {
		rows[i] = holdingRow{
			Mint:         h.Mint.String(),
			Account:      h.Account.String(),
			TokenProgram: h.TokenProgram.String(),
			Amount:       h.DisplayAmount(),
			Units:        h.Amount.Units,
			Decimals:     h.Decimals(),
		}
	}
	return render(c, rows, func(wr io.Writer) { printHoldings(wr, rows) })
}

func printHoldings(w io.Writer, rows []holdingRow) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MINT\tAMOUNT\tDECIMALS\tACCOUNT")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.Mint, r.Amount, r.Decimals, r.Account)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nTotal: %d tokens\n", len(rows))
}

func printResult(c *cli.Context, result lifecycle.Result, err error) error {
	if err != nil {
		return actionExit(err)
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
		for _, ix := range result.Instructions {
			fmt.Fprintf(w, "  Instruction: %s/%s\n", ix.Program, ix.Kind)
		}
	})
}

// Exit codes by failure kind.
const (
	exitFailure          = 1
	exitInvalidInput     = 2
	exitInProgress       = 3
	exitCapability       = 4
	exitTimeout          = 5
	exitOnChainFailure   = 6
	exitVerificationFail = 7
)

func exitCodeFor(kind lifecycle.Kind) int {
	switch kind {
	case lifecycle.KindInvalidInput:
		return exitInvalidInput
	case lifecycle.KindActionInProgress:
		return exitInProgress
	case lifecycle.KindCapabilityMissing:
		return exitCapability
	case lifecycle.KindTimeout:
		return exitTimeout
	case lifecycle.KindOnChainFailure:
		return exitOnChainFailure
	case lifecycle.KindVerificationFailure:
		return exitVerificationFail
	default:
		return exitFailure
	}
}

// actionExit turns an action error into a cli exit error whose code tells
// scripts what kind of failure happened.
func actionExit(err error) error {
	kind := lifecycle.KindOf(err)
	return cli.Exit(fmt.Sprintf("%v [%s]", err, kind), exitCodeFor(kind))
}

// writerNotifier prints action notifications, one per line.
type writerNotifier struct {
	w io.Writer
}

func (n *writerNotifier) Notify(ctx context.Context, note lifecycle.Notification) {
	if n.w == nil {
		return
	}
	fmt.Fprintf(n.w, "[%s] %s\n", note.Level, note.Message)
}

func cliLogger(c *cli.Context) *slog.Logger {
	level := slog.LevelError
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	w := c.App.ErrWriter
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
