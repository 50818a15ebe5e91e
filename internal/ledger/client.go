package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

// rpcAPI is the subset of the JSON-RPC client the keeper uses.
type rpcAPI interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

var _ rpcAPI = (*rpc.Client)(nil)

// Config holds the settings needed to talk to the ledger.
type Config struct {
	RPCURL         string
	ProgramID      string
	Treasury       string
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
}

// Client reads battle state accounts and submits keeper instructions. All of
// its submissions are signed by a single keeper key.
type Client struct {
	rpc            rpcAPI
	program        Program
	keeper         solana.PrivateKey
	pollInterval   time.Duration
	confirmTimeout time.Duration
	logger         *slog.Logger
}

// NewClient dials nothing; the RPC client is HTTP and connects lazily.
func NewClient(cfg Config, keeper solana.PrivateKey, logger *slog.Logger) (*Client, error) {
	if len(keeper) == 0 {
		return nil, fmt.Errorf("ledger: new client: %w", domain.ErrNoKeeper)
	}
	programID, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse program id: %w", err)
	}
	treasury, err := solana.PublicKeyFromBase58(cfg.Treasury)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse treasury: %w", err)
	}
	return newClient(rpc.New(cfg.RPCURL), Program{
		ID:       programID,
		Treasury: treasury,
		Keeper:   keeper.PublicKey(),
	}, keeper, cfg, logger), nil
}

func newClient(api rpcAPI, program Program, keeper solana.PrivateKey, cfg Config, logger *slog.Logger) *Client {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	confirm := cfg.ConfirmTimeout
	if confirm <= 0 {
		confirm = 90 * time.Second
	}
	return &Client{
		rpc:            api,
		program:        program,
		keeper:         keeper,
		pollInterval:   poll,
		confirmTimeout: confirm,
		logger:         logger.With(slog.String("component", "ledger")),
	}
}

// KeeperAddress returns the keeper's public address.
func (c *Client) KeeperAddress() string {
	return c.program.Keeper.String()
}

// ParseAsset validates an asset identifier and returns its mint address.
func ParseAsset(assetID string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(assetID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %q: %v", domain.ErrInvalidAsset, assetID, err)
	}
	if pk.IsZero() {
		return solana.PublicKey{}, fmt.Errorf("%w: zero address", domain.ErrInvalidAsset)
	}
	return pk, nil
}

// LoadKeeper parses a keeper secret given either as a base58 string or as the
// path of a keygen JSON file. The inline secret wins when both are set.
func LoadKeeper(secret, path string) (solana.PrivateKey, error) {
	switch {
	case secret != "":
		pk, err := solana.PrivateKeyFromBase58(secret)
		if err != nil {
			return nil, fmt.Errorf("ledger: parse keeper secret: %w", err)
		}
		return pk, nil
	case path != "":
		pk, err := solana.PrivateKeyFromSolanaKeygenFile(path)
		if err != nil {
			return nil, fmt.Errorf("ledger: load keeper file: %w", err)
		}
		return pk, nil
	default:
		return nil, domain.ErrNoKeeper
	}
}
