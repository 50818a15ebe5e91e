package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

// ReadState fetches and decodes the battle state for assetID. A missing
// account is reported with found=false and no error.
func (c *Client) ReadState(ctx context.Context, assetID string) (domain.BattleState, bool, error) {
	mint, err := ParseAsset(assetID)
	if err != nil {
		return domain.BattleState{}, false, err
	}
	addr, err := c.program.StateAddress(mint)
	if err != nil {
		return domain.BattleState{}, false, err
	}

	out, err := c.rpc.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return domain.BattleState{}, false, nil
	}
	if err != nil {
		return domain.BattleState{}, false, &domain.PipelineError{
			Kind: domain.KindTransient,
			Msg:  "read battle state " + assetID,
			Err:  err,
		}
	}
	if out == nil || out.Value == nil || out.Value.Data == nil {
		return domain.BattleState{}, false, nil
	}

	st, err := DecodeBattleState(mint, out.Value.Data.GetBinary())
	if err != nil {
		return domain.BattleState{}, false, fmt.Errorf("ledger: read state %s: %w", assetID, err)
	}
	return st, true, nil
}

// NativeBalance returns the keeper's native balance in base units.
func (c *Client) NativeBalance(ctx context.Context) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, c.program.Keeper, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("ledger: keeper balance: %w", err)
	}
	return out.Value, nil
}

// TokenBalance returns the keeper's balance of assetID. A keeper without a
// token account for the mint holds zero.
func (c *Client) TokenBalance(ctx context.Context, assetID string) (uint64, error) {
	mint, err := ParseAsset(assetID)
	if err != nil {
		return 0, err
	}
	ata, _, err := solana.FindAssociatedTokenAddress(c.program.Keeper, mint)
	if err != nil {
		return 0, fmt.Errorf("ledger: derive keeper token account: %w", err)
	}
	out, err := c.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == -32602 {
			return 0, nil
		}
		return 0, fmt.Errorf("ledger: keeper token balance: %w", err)
	}
	if out == nil || out.Value == nil {
		return 0, nil
	}
	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ledger: parse token amount %q: %w", out.Value.Amount, err)
	}
	return amount, nil
}
