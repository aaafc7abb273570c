package solana

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) solana.PublicKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key.PublicKey()
}

func TestDescribeTransaction_SOLTransfer(t *testing.T) {
	from := newKey(t)
	to := newKey(t)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000000000, from, to).Build()},
		solana.Hash{9},
		solana.TransactionPayer(from),
	)
	require.NoError(t, err)

	summaries, err := DescribeTransaction(tx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.Equal(t, "system", s.Program)
	assert.Equal(t, "transfer", s.Kind)
	assert.Equal(t, from.String(), s.Source)
	assert.Equal(t, to.String(), s.Destination)
	assert.Equal(t, uint64(1000000000), s.Amount)
}

func TestDescribeTransaction_TransferChecked(t *testing.T) {
	owner := newKey(t)
	mint := newKey(t)
	source := newKey(t)
	dest := newKey(t)

	ix := token.NewTransferCheckedInstruction(2500000, 6, source, mint, dest, owner, []solana.PublicKey{}).Build()
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{9}, solana.TransactionPayer(owner))
	require.NoError(t, err)

	summaries, err := DescribeTransaction(tx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.Equal(t, "spl-token", s.Program)
	assert.Equal(t, "transfer_checked", s.Kind)
	assert.Equal(t, uint64(2500000), s.Amount)
	require.NotNil(t, s.Decimals)
	assert.Equal(t, uint8(6), *s.Decimals)
	assert.Equal(t, source.String(), s.Source)
	assert.Equal(t, mint.String(), s.Mint)
	assert.Equal(t, dest.String(), s.Destination)
	assert.Equal(t, owner.String(), s.Authority)
}

func TestDescribeTransaction_CreateIdempotent(t *testing.T) {
	payer := newKey(t)
	wallet := newKey(t)
	mint := newKey(t)
	ata := newKey(t)

	ix := solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		[]*solana.AccountMeta{
			solana.Meta(payer).WRITE().SIGNER(),
			solana.Meta(ata).WRITE(),
			solana.Meta(wallet),
			solana.Meta(mint),
			solana.Meta(solana.SystemProgramID),
			solana.Meta(solana.TokenProgramID),
		},
		[]byte{AssociatedTokenCreateIdempotentInstruction},
	)
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{9}, solana.TransactionPayer(payer))
	require.NoError(t, err)

	summaries, err := DescribeTransaction(tx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.Equal(t, "associated-token-account", s.Program)
	assert.Equal(t, "create_idempotent", s.Kind)
	assert.Equal(t, payer.String(), s.Source)
	assert.Equal(t, ata.String(), s.Destination)
	assert.Equal(t, wallet.String(), s.Authority)
	assert.Equal(t, mint.String(), s.Mint)
}

func TestDescribeTransaction_UnknownProgram(t *testing.T) {
	payer := newKey(t)
	program := newKey(t)

	ix := solana.NewInstruction(program, []*solana.AccountMeta{solana.Meta(payer).SIGNER()}, []byte("hello"))
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{9}, solana.TransactionPayer(payer))
	require.NoError(t, err)

	summaries, err := DescribeTransaction(tx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "unknown", summaries[0].Kind)
	assert.Equal(t, program.String(), summaries[0].Program)
}

func TestParseSystemTransfer_ShortData(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], SystemProgramTransferInstruction)

	_, err := parseSystemTransfer(solana.CompiledInstruction{Data: data, Accounts: []uint16{0, 1}}, nil)
	assert.Error(t, err)
}

func TestParseSystemTransfer_NonTransfer(t *testing.T) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, 0) // CreateAccount

	summary, err := parseSystemTransfer(solana.CompiledInstruction{Data: data}, nil)
	require.NoError(t, err)
	assert.Equal(t, "unknown", summary.Kind)
}

func TestParseTokenTransfer_MissingAccounts(t *testing.T) {
	data := make([]byte, 10)
	data[0] = TokenProgramTransferCheckedInstruction

	keys := []solana.PublicKey{newKey(t), newKey(t)}
	_, err := parseTokenTransfer(solana.CompiledInstruction{Data: data, Accounts: []uint16{0, 1}}, keys)
	assert.Error(t, err)
}

func TestDescribeTransaction_Nil(t *testing.T) {
	_, err := DescribeTransaction(nil)
	assert.Error(t, err)
}
