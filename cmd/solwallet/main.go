package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "solwallet",
		Usage: "Solana wallet transaction lifecycle CLI",
		Description: `Drive a Solana wallet from the command line.

The wallet commands load the keypair at WALLET_KEYPAIR_PATH and talk to the
configured RPC endpoints directly. The remote commands go through a running
solwallet server instead. verify needs no network at all.`,
		Version:     fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// -v is --verbose; version info lives under "server version".
		HideVersion: true,
		Before: func(c *cli.Context) error {
			_ = godotenv.Load()
			_ = godotenv.Overload(".env.local")
			return nil
		},
		Commands: []*cli.Command{
			walletCommands(),
			remoteCommands(),
			verifyCommand(),
			{
				Name:  "db",
				Usage: "Action history database commands",
				Subcommands: []*cli.Command{
					migrateCommand(),
					listActionsCommand(),
					getActionCommand(),
					pruneActionsCommand(),
				},
			},
			{
				Name:  "nats",
				Usage: "Action event stream commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			{
				Name:  "temporal",
				Usage: "Late confirmation workflow commands",
				Subcommands: []*cli.Command{
					describeLateCommand(),
				},
			},
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "solwallet server URL",
				EnvVars: []string{"SOLWALLET_SERVER_URL", "SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "Filter JSON output through a jq expression (implies JSON)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log to stderr at debug level",
			},
		},
	}
}
