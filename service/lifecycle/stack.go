package lifecycle

import (
	"fmt"
	"log/slog"

	"github.com/brojonat/solwallet/service/config"
	"github.com/brojonat/solwallet/service/confirm"
	"github.com/brojonat/solwallet/service/holdings"
	"github.com/brojonat/solwallet/service/metrics"
	solsvc "github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/wallet"
)

// Stack is a keypair wallet wired to one RPC endpoint.
type Stack struct {
	Orchestrator *Orchestrator
	Client       *solsvc.Client
	Poller       *confirm.Poller
	Holdings     *holdings.Aggregator
	Agent        *wallet.KeypairAgent
	Endpoint     string
}

// Assemble builds the RPC client, confirmation poller, holdings aggregator
// and keypair agent described by cfg, and an Orchestrator over them.
// Extra options (notifier, recorder, late watcher) are applied last.
func Assemble(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger, opts ...Option) (*Stack, error) {
	if err := cfg.RequireKeypair(); err != nil {
		return nil, err
	}

	endpoint, err := solsvc.SelectRandomEndpoint(cfg.RPCURLs)
	if err != nil {
		return nil, fmt.Errorf("failed to select RPC endpoint: %w", err)
	}

	client := solsvc.NewClient(solsvc.NewRPCClient(endpoint), solsvc.EndpointLabel(endpoint), m, logger,
		solsvc.WithMaxAttempts(cfg.RPCMaxAttempts),
	)

	poller := confirm.NewPoller(client, confirm.Config{
		Interval:   cfg.ConfirmPollInterval,
		Timeout:    cfg.ConfirmTimeout,
		Commitment: cfg.ConfirmCommitment,
	}, logger, confirm.WithMetrics(m))

	var holdingOpts []holdings.Option
	if cfg.IncludeToken2022 {
		holdingOpts = append(holdingOpts, holdings.WithToken2022())
	}
	holdingOpts = append(holdingOpts, holdings.WithMetrics(m))
	aggregator := holdings.NewAggregator(client, logger, holdingOpts...)

	agent, err := wallet.LoadKeypairAgent(cfg.KeypairPath, client, logger)
	if err != nil {
		return nil, err
	}

	all := append([]Option{WithNetwork(cfg.Network), WithMetrics(m)}, opts...)
	orch := New(agent.Agent(cfg.MessageSigning), client, poller, aggregator, logger, all...)

	logger.Info("wallet assembled",
		"wallet", agent.PublicKey().String(),
		"network", string(cfg.Network),
		"rpc_endpoint", solsvc.EndpointLabel(endpoint),
		"message_signing", cfg.MessageSigning,
	)

	return &Stack{
		Orchestrator: orch,
		Client:       client,
		Poller:       poller,
		Holdings:     aggregator,
		Agent:        agent,
		Endpoint:     endpoint,
	}, nil
}
