// Package txbuilder assembles the instructions and transaction envelope for a
// wallet action. It has no side effects: it never talks to the network.
package txbuilder

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	solsvc "github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/units"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

var (
	// ErrInvalidRecipient is returned when a recipient does not parse as a public key.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrTokenAccountMissing is returned when the sender has no token account for the mint.
	ErrTokenAccountMissing = errors.New("sender token account missing")

	// ErrDecimalsMismatch is returned when a token amount was scaled with the wrong exponent.
	ErrDecimalsMismatch = errors.New("amount exponent does not match token decimals")

	// ErrAlreadySubmitted is returned on the second hand-off of a PreparedTransaction.
	ErrAlreadySubmitted = errors.New("prepared transaction already submitted")
)

// Request is one of NativeTransfer, TokenTransfer or AirdropRequest.
type Request interface {
	Kind() string
	isRequest()
}

// NativeTransfer moves lamports from the fee payer to Recipient.
type NativeTransfer struct {
	Recipient solana.PublicKey
	Amount    units.Amount
}

// TokenTransfer moves Amount base units of Mint from Source to the
// recipient's associated token account. Source defaults to the fee payer's
// associated token account and TokenProgram to the legacy SPL Token program.
type TokenTransfer struct {
	Recipient      solana.PublicKey
	Mint           solana.PublicKey
	Source         solana.PublicKey
	Amount         units.Amount
	SourceDecimals uint8
	TokenProgram   solana.PublicKey
}

// AirdropRequest asks the cluster faucet for Amount lamports.
type AirdropRequest struct {
	Recipient solana.PublicKey
	Amount    units.Amount
}

func (NativeTransfer) Kind() string { return "native_transfer" }
func (TokenTransfer) Kind() string  { return "token_transfer" }
func (AirdropRequest) Kind() string { return "airdrop" }

func (NativeTransfer) isRequest() {}
func (TokenTransfer) isRequest()  {}
func (AirdropRequest) isRequest() {}

func (t TokenTransfer) program() solana.PublicKey {
	if t.TokenProgram.IsZero() {
		return solana.TokenProgramID
	}
	return t.TokenProgram
}

// ParseRecipient validates a user-supplied address.
func ParseRecipient(s string) (solana.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return solana.PublicKey{}, fmt.Errorf("%w: empty address", ErrInvalidRecipient)
	}
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %q: %v", ErrInvalidRecipient, s, err)
	}
	return key, nil
}

// FindAssociatedTokenAddress derives the associated token account of wallet
// for mint under the given token program (SPL Token or Token-2022).
func FindAssociatedTokenAddress(wallet, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{
			wallet[:],
			tokenProgram[:],
			mint[:],
		},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return addr, nil
}

type buildOptions struct {
	recipientAccountMissing bool
	senderAccountMissing    bool
}

// BuildOption adjusts a single Build call with facts looked up on chain.
type BuildOption func(*buildOptions)

// RecipientAccountMissing prepends a CreateIdempotent instruction for the
// recipient's associated token account.
func RecipientAccountMissing() BuildOption {
	return func(o *buildOptions) { o.recipientAccountMissing = true }
}

// SenderAccountMissing makes a token transfer fail with ErrTokenAccountMissing.
func SenderAccountMissing() BuildOption {
	return func(o *buildOptions) { o.senderAccountMissing = true }
}

// Builder turns requests into prepared transactions.
type Builder struct{}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build assembles the transaction for req with feePayer as payer and signer.
// AirdropRequest is not a transaction; use BuildAirdrop for it.
func (b *Builder) Build(req Request, feePayer solana.PublicKey, recency solsvc.Recency, opts ...BuildOption) (*PreparedTransaction, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	if feePayer.IsZero() {
		return nil, errors.New("fee payer is required")
	}
	if recency.Blockhash.IsZero() {
		return nil, errors.New("recent blockhash is required")
	}

	var (
		instructions []solana.Instruction
		err          error
	)
	switch r := req.(type) {
	case NativeTransfer:
		instructions, err = nativeTransferInstructions(r, feePayer)
	case TokenTransfer:
		instructions, err = tokenTransferInstructions(r, feePayer, o)
	case AirdropRequest:
		return nil, fmt.Errorf("airdrop requests are not transactions")
	default:
		return nil, fmt.Errorf("unsupported request type %T", req)
	}
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(instructions, recency.Blockhash, solana.TransactionPayer(feePayer))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return &PreparedTransaction{
		kind:         req.Kind(),
		tx:           tx,
		feePayer:     feePayer,
		recency:      recency,
		instructions: instructions,
	}, nil
}

// BuildAirdrop validates an airdrop envelope.
func (b *Builder) BuildAirdrop(req AirdropRequest) (AirdropRequest, error) {
	if req.Recipient.IsZero() {
		return AirdropRequest{}, fmt.Errorf("%w: empty address", ErrInvalidRecipient)
	}
	if err := checkAmount(req.Amount, units.LamportsExponent); err != nil {
		return AirdropRequest{}, err
	}
	return req, nil
}

func nativeTransferInstructions(r NativeTransfer, feePayer solana.PublicKey) ([]solana.Instruction, error) {
	if r.Recipient.IsZero() {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidRecipient)
	}
	if err := checkAmount(r.Amount, units.LamportsExponent); err != nil {
		return nil, err
	}
	return []solana.Instruction{
		system.NewTransferInstruction(r.Amount.Units, feePayer, r.Recipient).Build(),
	}, nil
}

func tokenTransferInstructions(r TokenTransfer, feePayer solana.PublicKey, o buildOptions) ([]solana.Instruction, error) {
	if r.Recipient.IsZero() {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidRecipient)
	}
	if r.Mint.IsZero() {
		return nil, errors.New("mint is required")
	}
	if err := checkAmount(r.Amount, r.SourceDecimals); err != nil {
		return nil, err
	}
	if o.senderAccountMissing {
		return nil, fmt.Errorf("%w: no account for mint %s", ErrTokenAccountMissing, r.Mint)
	}

	program := r.program()
	source := r.Source
	if source.IsZero() {
		ata, err := FindAssociatedTokenAddress(feePayer, r.Mint, program)
		if err != nil {
			return nil, err
		}
		source = ata
	}
	dest, err := FindAssociatedTokenAddress(r.Recipient, r.Mint, program)
	if err != nil {
		return nil, err
	}

	instructions := make([]solana.Instruction, 0, 2)
	if o.recipientAccountMissing {
		instructions = append(instructions, createIdempotentInstruction(feePayer, dest, r.Recipient, r.Mint, program))
	}

	var transfer solana.Instruction = token.NewTransferCheckedInstruction(
		r.Amount.Units,
		r.SourceDecimals,
		source,
		r.Mint,
		dest,
		feePayer,
		[]solana.PublicKey{},
	).Build()
	if !program.Equals(solana.TokenProgramID) {
		if transfer, err = withProgram(transfer, program); err != nil {
			return nil, err
		}
	}
	instructions = append(instructions, transfer)
	return instructions, nil
}

// createIdempotentInstruction creates the recipient's associated token
// account, succeeding as a no-op when it already exists.
func createIdempotentInstruction(payer, ata, owner, mint, tokenProgram solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		[]*solana.AccountMeta{
			{PublicKey: payer, IsSigner: true, IsWritable: true},
			{PublicKey: ata, IsSigner: false, IsWritable: true},
			{PublicKey: owner, IsSigner: false, IsWritable: false},
			{PublicKey: mint, IsSigner: false, IsWritable: false},
			{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
			{PublicKey: tokenProgram, IsSigner: false, IsWritable: false},
		},
		[]byte{solsvc.AssociatedTokenCreateIdempotentInstruction},
	)
}

// withProgram re-targets an SPL Token instruction at Token-2022, which shares
// the instruction layout.
func withProgram(ix solana.Instruction, program solana.PublicKey) (solana.Instruction, error) {
	data, err := ix.Data()
	if err != nil {
		return nil, fmt.Errorf("failed to encode instruction for %s: %w", program, err)
	}
	return solana.NewInstruction(program, ix.Accounts(), data), nil
}

func checkAmount(a units.Amount, exponent uint8) error {
	if a.IsZero() {
		return fmt.Errorf("%w: must be greater than zero", units.ErrInvalidAmount)
	}
	if a.Exponent != exponent {
		return fmt.Errorf("%w: amount has %d decimals, token has %d", ErrDecimalsMismatch, a.Exponent, exponent)
	}
	return nil
}

// PreparedTransaction is an immutable, single-use transaction ready for
// signing and submission.
type PreparedTransaction struct {
	kind         string
	tx           *solana.Transaction
	feePayer     solana.PublicKey
	recency      solsvc.Recency
	instructions []solana.Instruction
	taken        atomic.Bool
}

// Kind is the request kind the transaction was built from.
func (p *PreparedTransaction) Kind() string { return p.kind }

// FeePayer returns the account paying fees.
func (p *PreparedTransaction) FeePayer() solana.PublicKey { return p.feePayer }

// Recency returns the blockhash the transaction was built against.
func (p *PreparedTransaction) Recency() solsvc.Recency { return p.recency }

// Instructions returns a copy of the ordered instruction list.
func (p *PreparedTransaction) Instructions() []solana.Instruction {
	out := make([]solana.Instruction, len(p.instructions))
	copy(out, p.instructions)
	return out
}

// Message returns the serialized message that the signer signs.
func (p *PreparedTransaction) Message() ([]byte, error) {
	return p.tx.Message.MarshalBinary()
}

// Describe decodes the instructions for display.
func (p *PreparedTransaction) Describe() ([]solsvc.InstructionSummary, error) {
	return solsvc.DescribeTransaction(p.tx)
}

// Take hands the transaction off for signing and submission. Only the first
// call succeeds.
func (p *PreparedTransaction) Take() (*solana.Transaction, error) {
	if !p.taken.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubmitted
	}
	return p.tx, nil
}
