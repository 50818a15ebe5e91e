package battle

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
	"github.com/alanyoungcy/battlekeeper/internal/ledger"
)

// PoolAdapter lists a winner on the AMM, funding the pool from the keeper.
type PoolAdapter struct {
	amm    PoolService
	funds  KeeperFunds
	params Params
	logger *slog.Logger
}

// NewPoolAdapter creates a PoolAdapter.
func NewPoolAdapter(amm PoolService, funds KeeperFunds, params Params, logger *slog.Logger) *PoolAdapter {
	return &PoolAdapter{
		amm:    amm,
		funds:  funds,
		params: params,
		logger: logger.With(slog.String("component", "pool_adapter")),
	}
}

// Ensure makes sure a pool exists for assetID. withdrawn is the native value
// released by the withdrawal step; zero means it is unknown and the keeper's
// spendable balance is used instead.
func (a *PoolAdapter) Ensure(ctx context.Context, assetID string, withdrawn uint64) (domain.Pool, domain.StepResult, *domain.PipelineError) {
	res := domain.StepResult{Step: domain.StepCreatePool}
	fail := func(kind domain.ErrorKind, err error, format string, args ...any) (domain.Pool, domain.StepResult, *domain.PipelineError) {
		perr := domain.NewPipelineError(kind, domain.StepCreatePool, domain.StatusListed, format, args...)
		perr.Err = err
		res.Kind = kind
		res.Error = perr.Error()
		return domain.Pool{}, res, perr
	}

	if pool, found, err := a.amm.FindPool(ctx, assetID); err != nil {
		return fail(domain.KindTransient, err, "look up existing pool")
	} else if found {
		a.logger.Info("pool already exists", slog.String("asset", assetID), slog.String("pool", pool.ID))
		res.Success, res.Skipped = true, true
		return pool, res, nil
	}

	tokens, err := a.funds.TokenBalance(ctx, assetID)
	if err != nil {
		return fail(domain.KindTransient, err, "read keeper token balance")
	}
	if tokens == 0 {
		return fail(domain.KindPrecondition, nil, "NoTokenBalance: keeper holds none of %s", assetID)
	}

	native, err := a.funds.NativeBalance(ctx)
	if err != nil {
		return fail(domain.KindTransient, err, "read keeper balance")
	}
	var spendable uint64
	if native > a.params.FeeReserve {
		spendable = native - a.params.FeeReserve
	}
	contribution := spendable
	if withdrawn > 0 && withdrawn < contribution {
		contribution = withdrawn
	}
	if contribution == 0 {
		return fail(domain.KindFatal, domain.ErrUnderfunded,
			"KeeperUnderfunded: balance %d does not cover fee reserve %d", native, a.params.FeeReserve)
	}

	spec, err := a.poolSpec(assetID, tokens, contribution)
	if err != nil {
		return fail(domain.KindFatal, err, "order pool mints")
	}

	pool, createErr := a.amm.CreatePool(ctx, spec)
	if createErr == nil {
		a.logger.Info("pool created",
			slog.String("asset", assetID),
			slog.String("pool", pool.ID),
			slog.Uint64("tokens", tokens),
			slog.Uint64("native", contribution),
		)
		res.Success = true
		res.TxID = pool.TxID
		return pool, res, nil
	}

	// The create may have landed even though the response was lost.
	if existing, found, err := a.amm.FindPool(ctx, assetID); err == nil && found {
		a.logger.Warn("pool create reported failure but pool exists",
			slog.String("asset", assetID),
			slog.String("pool", existing.ID),
			slog.String("error", createErr.Error()),
		)
		res.Success, res.Skipped = true, true
		return existing, res, nil
	}

	switch {
	case errors.Is(createErr, domain.ErrUnderfunded):
		return fail(domain.KindFatal, createErr, "KeeperUnderfunded: AMM rejected funding")
	case errors.Is(createErr, domain.ErrPoolRejected):
		return fail(domain.KindPrecondition, createErr, "AMM rejected pool")
	default:
		return fail(domain.KindTransient, createErr, "create pool")
	}
}

// poolSpec orders the pair by raw mint bytes; the smaller mint is side A.
func (a *PoolAdapter) poolSpec(assetID string, tokens, native uint64) (domain.PoolSpec, error) {
	asset, err := ledger.ParseAsset(assetID)
	if err != nil {
		return domain.PoolSpec{}, err
	}
	wrapped, err := ledger.ParseAsset(a.params.NativeMint)
	if err != nil {
		return domain.PoolSpec{}, err
	}

	spec := domain.PoolSpec{Creator: a.funds.KeeperAddress()}
	if bytes.Compare(asset[:], wrapped[:]) < 0 {
		spec.MintA, spec.AmountA = assetID, tokens
		spec.MintB, spec.AmountB = a.params.NativeMint, native
	} else {
		spec.MintA, spec.AmountA = a.params.NativeMint, native
		spec.MintB, spec.AmountB = assetID, tokens
	}
	return spec, nil
}
