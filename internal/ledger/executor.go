package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

// CheckVictory submits check_victory_conditions for assetID.
func (c *Client) CheckVictory(ctx context.Context, assetID string) domain.TxOutcome {
	mint, err := ParseAsset(assetID)
	if err != nil {
		return failedBuild(err)
	}
	ix, err := c.program.CheckVictory(mint)
	if err != nil {
		return failedBuild(err)
	}
	return c.Submit(ctx, ix)
}

// FinalizeDuel submits finalize_duel for winnerID against loserID.
func (c *Client) FinalizeDuel(ctx context.Context, winnerID, loserID string) domain.TxOutcome {
	winner, err := ParseAsset(winnerID)
	if err != nil {
		return failedBuild(err)
	}
	loser, err := ParseAsset(loserID)
	if err != nil {
		return failedBuild(err)
	}
	ix, err := c.program.FinalizeDuel(winner, loser)
	if err != nil {
		return failedBuild(err)
	}
	return c.Submit(ctx, ix)
}

// WithdrawForListing submits withdraw_for_listing for assetID.
func (c *Client) WithdrawForListing(ctx context.Context, assetID string) domain.TxOutcome {
	mint, err := ParseAsset(assetID)
	if err != nil {
		return failedBuild(err)
	}
	ix, err := c.program.WithdrawForListing(mint)
	if err != nil {
		return failedBuild(err)
	}
	return c.Submit(ctx, ix)
}

// Submit signs ix with the keeper key, sends it with preflight and waits for
// confirmed commitment. Once the transaction is on the wire the wait no longer
// follows ctx; it is bounded by the confirmation timeout instead.
func (c *Client) Submit(ctx context.Context, ix Instruction) domain.TxOutcome {
	log := c.logger.With(slog.String("instruction", ix.Name))

	bh, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return domain.TxOutcome{Err: decodeRPCError(err)}
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{c.program.Build(ix)},
		bh.Value.Blockhash,
		solana.TransactionPayer(c.program.Keeper),
	)
	if err != nil {
		return failedBuild(err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.program.Keeper) {
			return &c.keeper
		}
		return nil
	}); err != nil {
		return failedBuild(err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		le := decodeRPCError(err)
		log.Warn("send rejected", slog.String("error", le.Error()))
		return domain.TxOutcome{Err: le}
	}

	txID := sig.String()
	log.Info("transaction sent", slog.String("tx", txID))
	return c.confirm(context.WithoutCancel(ctx), sig, log)
}

func (c *Client) confirm(ctx context.Context, sig solana.Signature, log *slog.Logger) domain.TxOutcome {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	txID := sig.String()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		switch {
		case err != nil:
			log.Debug("signature status poll failed", slog.String("tx", txID), slog.String("error", err.Error()))
		case out != nil && len(out.Value) > 0 && out.Value[0] != nil:
			st := out.Value[0]
			if st.Err != nil {
				le := DecodeTxError(st.Err)
				log.Warn("transaction failed", slog.String("tx", txID), slog.String("error", le.Error()))
				return domain.TxOutcome{TxID: txID, Err: le}
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				log.Info("transaction confirmed", slog.String("tx", txID))
				return domain.TxOutcome{Success: true, TxID: txID}
			}
		}

		select {
		case <-ctx.Done():
			return domain.TxOutcome{TxID: txID, Err: &domain.LedgerError{
				Transport: true,
				Message:   "confirmation not observed before deadline",
			}}
		case <-ticker.C:
		}
	}
}

func failedBuild(err error) domain.TxOutcome {
	return domain.TxOutcome{Err: &domain.LedgerError{Code: domain.CodeUnknown, Message: err.Error()}}
}
