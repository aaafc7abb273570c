package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/solwallet/service/nats"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand streams action events for a wallet straight from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Stream action events for a wallet",
		ArgsUsage: "WALLET",
		Description: `Subscribe to action events published to NATS JetStream.

Events are published to the subject actions.{wallet}. Use --jq-match to only
print events matching every filter.

Example:
  solwallet nats subscribe 7xKX... --jq-match '.level == "error"'`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "solwallet-cli",
			},
			&cli.BoolFlag{
				Name:  "replay",
				Usage: "Deliver retained events from the start of the stream",
			},
			&cli.StringSliceFlag{
				Name:  "jq-match",
				Usage: "Only print events for which this jq expression is truthy (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			wallet := c.Args().First()
			if err := validateAddressArg(wallet); err != nil {
				return err
			}

			filters, err := compileFilters(c.StringSlice("jq-match"))
			if err != nil {
				return err
			}

			nc, js, err := natspkg.Connect(c.String("nats-url"), "solwallet-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			cfg := jetstream.ConsumerConfig{
				FilterSubject: natspkg.Subject(wallet),
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: jetstream.DeliverNewPolicy,
			}
			if c.Bool("replay") {
				cfg.DeliverPolicy = jetstream.DeliverAllPolicy
			}
			if c.Bool("durable") {
				cfg.Durable = c.String("consumer-name")
				cfg.Name = c.String("consumer-name")
			} else {
				cfg.InactiveThreshold = time.Minute
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, cfg)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			jsonOutput := c.Bool("json")
			if !jsonOutput {
				fmt.Fprintf(c.App.ErrWriter, "📡 Subscribing to: %s\n", cfg.FilterSubject)
				fmt.Fprintf(c.App.ErrWriter, "Waiting for events... (Ctrl-C to exit)\n\n")
			}

			msgs := make(chan jetstream.Msg, 16)
			consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
				msgs <- msg
			})
			if err != nil {
				return fmt.Errorf("failed to consume: %w", err)
			}
			defer consumeCtx.Stop()

			count := 0
			for {
				select {
				case msg := <-msgs:
					if printEvent(c.App.Writer, c.App.ErrWriter, msg.Data(), filters, jsonOutput) {
						count++
					}
					_ = msg.Ack()
				case <-ctx.Done():
					if !jsonOutput {
						fmt.Fprintf(c.App.ErrWriter, "\n✅ Received %d events\n", count)
					}
					return nil
				}
			}
		},
	}
}

// printEvent decodes one event and prints it when it passes filters. It
// reports whether the event was printed.
func printEvent(w, errw io.Writer, data []byte, filters []*gojq.Code, jsonOutput bool) bool {
	var event natspkg.ActionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		fmt.Fprintf(errw, "Error parsing event: %v\n", err)
		return false
	}
	if !matchesAll(filters, &event) {
		return false
	}

	if jsonOutput {
		out, _ := json.Marshal(event)
		fmt.Fprintln(w, string(out))
		return true
	}

	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "[%s] %s\n", event.Level, event.Message)
	fmt.Fprintf(w, "Action:       %s\n", event.Action)
	fmt.Fprintf(w, "Outcome:      %s\n", event.Outcome)
	if event.Signature != "" {
		fmt.Fprintf(w, "Signature:    %s\n", event.Signature)
	}
	if event.Amount != "" {
		fmt.Fprintf(w, "Amount:       %s\n", event.Amount)
	}
	if event.BalanceLamports != nil {
		fmt.Fprintf(w, "Balance:      %d lamports\n", *event.BalanceLamports)
	}
	fmt.Fprintf(w, "Published:    %s\n\n", event.PublishedAt.Format(time.RFC3339))
	return true
}

// inspectStreamCommand shows information about the action event stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the action event JetStream stream",
		Action: func(c *cli.Context) error {
			nc, js, err := natspkg.Connect(c.String("nats-url"), "solwallet-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			return render(c, info, func(w io.Writer) {
				fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
				fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
				fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
				fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
				fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
				fmt.Fprintf(w, "First Seq:    %d\n", info.State.FirstSeq)
				fmt.Fprintf(w, "Last Seq:     %d\n", info.State.LastSeq)
				fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
				fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
				fmt.Fprintf(w, "Storage:      %s\n", info.Config.Storage)
			})
		},
	}
}
