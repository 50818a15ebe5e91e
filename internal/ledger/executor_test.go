package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

type fakeRPC struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey][]byte
	sendErr  error
	statuses []*rpc.SignatureStatusesResult
	polls    int
	sent     []*solana.Transaction
	balance  uint64
	tokenAmt string
	tokenErr error
}

func (f *fakeRPC) GetAccountInfoWithOpts(_ context.Context, account solana.PublicKey, _ *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	data, ok := f.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(data)}}, nil
}

func (f *fakeRPC) GetBalance(context.Context, solana.PublicKey, rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return &rpc.GetBalanceResult{Value: f.balance}, nil
}

func (f *fakeRPC) GetTokenAccountBalance(context.Context, solana.PublicKey, rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return &rpc.GetTokenAccountBalanceResult{Value: &rpc.UiTokenAmount{Amount: f.tokenAmt}}, nil
}

func (f *fakeRPC) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{1, 2, 3}}}, nil
}

func (f *fakeRPC) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if opts.SkipPreflight {
		panic("preflight must stay enabled")
	}
	f.sent = append(f.sent, tx)
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	return tx.Signatures[0], nil
}

func (f *fakeRPC) GetSignatureStatuses(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	f.polls++
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{f.statuses[i]}}, nil
}

func newTestClient(t *testing.T, f *fakeRPC) *Client {
	t.Helper()
	keeper, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	p := testProgram()
	p.Keeper = keeper.PublicKey()
	return newClient(f, p, keeper, Config{
		PollInterval:   5 * time.Millisecond,
		ConfirmTimeout: 200 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSubmit_Confirmed(t *testing.T) {
	f := &fakeRPC{statuses: []*rpc.SignatureStatusesResult{
		nil,
		{ConfirmationStatus: rpc.ConfirmationStatusProcessed},
		{ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
	}}
	c := newTestClient(t, f)

	out := c.CheckVictory(context.Background(), solana.NewWallet().PublicKey().String())
	require.Nil(t, out.Err)
	assert.True(t, out.Success)
	assert.NotEmpty(t, out.TxID)
	require.Len(t, f.sent, 1)
	assert.Equal(t, c.program.Keeper, f.sent[0].Message.AccountKeys[0])
	assert.GreaterOrEqual(t, f.polls, 3)
}

func TestSubmit_StatusError(t *testing.T) {
	f := &fakeRPC{statuses: []*rpc.SignatureStatusesResult{{
		Err: map[string]any{"InstructionError": []any{float64(0), map[string]any{"Custom": float64(6004)}}},
	}}}
	c := newTestClient(t, f)

	out := c.WithdrawForListing(context.Background(), solana.NewWallet().PublicKey().String())
	assert.False(t, out.Success)
	require.NotNil(t, out.Err)
	assert.Equal(t, domain.CodeAlreadyFinalized, out.Err.Code)
	assert.NotEmpty(t, out.TxID)
}

func TestSubmit_PreflightRejected(t *testing.T) {
	f := &fakeRPC{sendErr: &jsonrpc.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed",
		Data:    map[string]any{"err": "BlockhashNotFound"},
	}}
	c := newTestClient(t, f)

	out := c.CheckVictory(context.Background(), solana.NewWallet().PublicKey().String())
	require.NotNil(t, out.Err)
	assert.Equal(t, domain.CodeBlockhashNotFound, out.Err.Code)
	assert.Empty(t, out.TxID)
}

func TestSubmit_ConfirmSurvivesCancellation(t *testing.T) {
	f := &fakeRPC{statuses: []*rpc.SignatureStatusesResult{
		nil, nil,
		{ConfirmationStatus: rpc.ConfirmationStatusFinalized},
	}}
	c := newTestClient(t, f)

	// The fake RPC ignores ctx, so the send goes through and only the
	// confirmation wait observes the cancelled context.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := c.CheckVictory(ctx, solana.NewWallet().PublicKey().String())
	require.Nil(t, out.Err)
	assert.True(t, out.Success)
}

func TestSubmit_ConfirmDeadline(t *testing.T) {
	f := &fakeRPC{statuses: []*rpc.SignatureStatusesResult{nil}}
	c := newTestClient(t, f)

	out := c.CheckVictory(context.Background(), solana.NewWallet().PublicKey().String())
	assert.False(t, out.Success)
	require.NotNil(t, out.Err)
	assert.True(t, out.Err.Transport)
	assert.NotEmpty(t, out.TxID)
}

func TestReadState(t *testing.T) {
	f := &fakeRPC{accounts: map[solana.PublicKey][]byte{}}
	c := newTestClient(t, f)
	mint := solana.NewWallet().PublicKey()

	_, found, err := c.ReadState(context.Background(), mint.String())
	require.NoError(t, err)
	assert.False(t, found)

	raw, err := EncodeBattleState(domain.BattleState{AssetID: mint.String(), Status: domain.StatusInBattle, Deposited: 5})
	require.NoError(t, err)
	addr, err := c.program.StateAddress(mint)
	require.NoError(t, err)
	f.accounts[addr] = raw

	st, found, err := c.ReadState(context.Background(), mint.String())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.StatusInBattle, st.Status)
	assert.Equal(t, uint64(5), st.Deposited)

	_, _, err = c.ReadState(context.Background(), "not-base58-!!")
	assert.ErrorIs(t, err, domain.ErrInvalidAsset)
}

func TestTokenBalance(t *testing.T) {
	f := &fakeRPC{tokenAmt: "123456"}
	c := newTestClient(t, f)
	mint := solana.NewWallet().PublicKey().String()

	got, err := c.TokenBalance(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), got)

	f.tokenErr = &jsonrpc.RPCError{Code: -32602, Message: "could not find account"}
	got, err = c.TokenBalance(context.Background(), mint)
	require.NoError(t, err)
	assert.Zero(t, got)
}
