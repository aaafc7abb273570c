package solana

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Network identifies which Solana cluster the wallet talks to.
type Network string

const (
	Devnet   Network = "devnet"
	Testnet  Network = "testnet"
	Mainnet  Network = "mainnet"
	Localnet Network = "localnet"
)

// ParseNetwork validates a network name. "mainnet-beta" is accepted as an
// alias for mainnet.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "devnet":
		return Devnet, nil
	case "testnet":
		return Testnet, nil
	case "mainnet", "mainnet-beta":
		return Mainnet, nil
	case "localnet", "localhost":
		return Localnet, nil
	default:
		return "", fmt.Errorf("unknown network %q (must be devnet, testnet, mainnet or localnet)", s)
	}
}

// DefaultRPCURL returns the public RPC endpoint of the cluster.
func (n Network) DefaultRPCURL() string {
	switch n {
	case Mainnet:
		return rpc.MainNetBeta_RPC
	case Testnet:
		return rpc.TestNet_RPC
	case Localnet:
		return rpc.LocalNet_RPC
	default:
		return rpc.DevNet_RPC
	}
}

// SupportsAirdrop reports whether the cluster hands out test currency.
func (n Network) SupportsAirdrop() bool {
	return n != Mainnet
}

// Recency is the recent-blockhash token a transaction must carry. A
// transaction is rejected by the cluster once the block height passes
// LastValidBlockHeight.
type Recency struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// SignatureStatus is our domain view of a getSignatureStatuses entry.
// Found is false when the node has no record of the signature yet.
type SignatureStatus struct {
	Signature     solana.Signature
	Found         bool
	Slot          uint64
	Confirmations *uint64
	Commitment    string  // "processed", "confirmed" or "finalized"
	Err           *string // nil if the transaction succeeded
}

// TokenAccountRecord is one raw token account owned by a wallet, as reported
// by the jsonParsed encoding. Amount is the integer base-unit string exactly
// as the node returned it.
type TokenAccountRecord struct {
	Address   solana.PublicKey
	ProgramID solana.PublicKey
	Mint      string
	Owner     string
	Amount    string
	Decimals  uint8
}
