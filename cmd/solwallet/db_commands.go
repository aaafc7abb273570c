package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solwallet/service/db"
	"github.com/brojonat/solwallet/service/units"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the action history schema",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(c.Context); err != nil {
				return fmt.Errorf("failed to migrate: %w", err)
			}
			fmt.Fprintln(c.App.Writer, "✓ Schema is up to date")
			return nil
		},
	}
}

// actionRow is the CLI view of a recorded action.
type actionRow struct {
	Action    string    `json:"action"`
	Network   string    `json:"network"`
	Wallet    string    `json:"wallet"`
	Signature string    `json:"signature"`
	Recipient *string   `json:"recipient,omitempty"`
	Mint      *string   `json:"mint,omitempty"`
	Amount    string    `json:"amount"`
	Outcome   string    `json:"outcome"`
	Reason    *string   `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toActionRow(a *db.Action) actionRow {
	return actionRow{
		Action:    a.Action,
		Network:   a.Network,
		Wallet:    a.Wallet,
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

func listActionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-actions",
		Usage:   "List recorded actions for a wallet, newest first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "wallet",
				Aliases:  []string{"w"},
				Usage:    "Wallet address",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "network",
				Usage:   "Network the actions ran on",
				EnvVars: []string{"SOLANA_NETWORK"},
				Value:   "devnet",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Maximum number of actions to show",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of actions to skip",
			},
		},
		Action: func(c *cli.Context) error {
			if c.Int("limit") < 1 || c.Int("offset") < 0 {
				return fmt.Errorf("limit must be positive and offset non-negative")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			actions, err := store.ListActions(c.Context, db.ListActionsParams{
				Wallet:  c.String("wallet"),
				Network: c.String("network"),
				Limit:   int32(c.Int("limit")),
				Offset:  int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list actions: %w", err)
			}

			rows := make([]actionRow, len(actions))
			for i, a := range actions {
				rows[i] = toActionRow(a)
			}
			return render(c, rows, func(w io.Writer) { printActions(w, rows) })
		},
	}
}

func printActions(w io.Writer, rows []actionRow) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SIGNATURE\tACTION\tAMOUNT\tOUTCOME\tRECIPIENT\tCREATED")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncate(r.Signature, 16),
			r.Action,
			r.Amount,
			r.Outcome,
			formatOptionalAddress(r.Recipient),
			r.CreatedAt.Format(time.RFC3339),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nTotal: %d actions\n", len(rows))
}

func getActionCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-action",
		Usage:     "Show one recorded action",
		ArgsUsage: "SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			action, err := store.GetAction(c.Context, c.Args().First())
			if errors.Is(err, db.ErrNotFound) {
				return cli.Exit(err.Error(), exitFailure)
			}
			if err != nil {
				return fmt.Errorf("failed to get action: %w", err)
			}

			row := toActionRow(action)
			return render(c, row, func(w io.Writer) {
				fmt.Fprintf(w, "Signature:  %s\n", row.Signature)
				fmt.Fprintf(w, "Action:     %s\n", row.Action)
				fmt.Fprintf(w, "Network:    %s\n", row.Network)
				fmt.Fprintf(w, "Wallet:     %s\n", row.Wallet)
				fmt.Fprintf(w, "Recipient:  %s\n", formatOptionalAddress(row.Recipient))
				if row.Mint != nil {
					fmt.Fprintf(w, "Mint:       %s\n", *row.Mint)
				}
				fmt.Fprintf(w, "Amount:     %s\n", row.Amount)
				fmt.Fprintf(w, "Outcome:    %s\n", row.Outcome)
				if row.Reason != nil {
					fmt.Fprintf(w, "Reason:     %s\n", *row.Reason)
				}
				fmt.Fprintf(w, "Created:    %s\n", row.CreatedAt.Format(time.RFC3339))
				fmt.Fprintf(w, "Updated:    %s\n", row.UpdatedAt.Format(time.RFC3339))
			})
		},
	}
}

func pruneActionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete actions older than a cutoff",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:     "older-than",
				Usage:    "Delete actions created before now minus this duration (e.g. 720h)",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			age := c.Duration("older-than")
			if age <= 0 {
				return fmt.Errorf("older-than must be positive")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			before := time.Now().Add(-age)
			n, err := store.DeleteActionsOlderThan(c.Context, before)
			if err != nil {
				return fmt.Errorf("failed to prune actions: %w", err)
			}

			out := map[string]interface{}{"deleted": n, "before": before.UTC()}
			return render(c, out, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Deleted %d actions created before %s\n", n, before.UTC().Format(time.RFC3339))
			})
		},
	}
}

// getStore connects to the database named by --database-url.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool, nil), pool.Close, nil
}

func formatOptionalAddress(addr *string) string {
	if addr != nil && *addr != "" {
		return *addr
	}
	return "-"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
