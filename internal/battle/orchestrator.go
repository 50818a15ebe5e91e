package battle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
	"github.com/alanyoungcy/battlekeeper/internal/ledger"
	"github.com/alanyoungcy/battlekeeper/internal/metrics"
)

// maxPasses bounds the read/act loop of one run. A full pipeline needs four.
const maxPasses = 8

// Orchestrator runs the finalization pipeline for one asset at a time. Each
// pass re-reads the ledger and derives the next step from what it observes,
// so a run can start from any status and resume after any failure.
type Orchestrator struct {
	ledger  Ledger
	pools   *PoolAdapter
	index   Index
	locks   domain.LockManager
	params  Params
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	l Ledger,
	pools *PoolAdapter,
	index Index,
	locks domain.LockManager,
	params Params,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		ledger:  l,
		pools:   pools,
		index:   index,
		locks:   locks,
		params:  params,
		metrics: m,
		logger:  logger.With(slog.String("component", "orchestrator")),
		now:     time.Now,
	}
}

// LeaseKey is the lock key guarding one asset's pipeline.
func LeaseKey(assetID string) string {
	return "battle:" + assetID
}

// Execute drives assetID as far through the pipeline as the ledger allows.
// It never panics past its boundary; every failure is reported in the result
// with the failed step and the last observed status.
func (o *Orchestrator) Execute(ctx context.Context, assetID string) (res domain.ExecuteResult) {
	res = domain.ExecuteResult{
		RunID:     uuid.NewString(),
		AssetID:   assetID,
		Steps:     []domain.StepResult{},
		StartedAt: o.now(),
	}
	log := o.logger.With(slog.String("asset", assetID), slog.String("run", res.RunID))

	r := &run{o: o, parent: ctx, assetID: assetID, res: &res, log: log}

	defer func() {
		if p := recover(); p != nil {
			log.Error("pipeline panic", slog.Any("panic", p))
			res.Fail(domain.NewPipelineError(domain.KindFatal, "", r.highest, "internal error: %v", p))
		}
		res.FinishedAt = o.now()
		o.finish(ctx, &res, r.completed, log)
	}()

	if _, err := ledger.ParseAsset(assetID); err != nil {
		perr := domain.NewPipelineError(domain.KindFatal, "", domain.StatusCreated, "malformed asset id")
		perr.Err = err
		res.Fail(perr)
		return res
	}

	unlock, err := o.locks.Acquire(ctx, LeaseKey(assetID), o.params.LeaseTTL())
	if err != nil {
		kind := domain.KindTransient
		if errors.Is(err, domain.ErrLockHeld) {
			kind = domain.KindBusy
		}
		perr := domain.NewPipelineError(kind, "", domain.StatusCreated, "acquire lease")
		perr.Err = err
		res.Fail(perr)
		return res
	}
	defer unlock()

	runCtx, cancel := context.WithTimeout(ctx, o.params.RunBudget)
	defer cancel()
	r.ctx = runCtx

	// The index only records statuses the ledger has confirmed, so a lower
	// ledger read is stale and is waited out rather than acted on.
	if idx, ok := o.index.Lookup(runCtx, assetID); ok {
		r.highest = min(idx.Status, domain.StatusListed)
	}

	log.Info("pipeline started", slog.String("floor", r.highest.String()))
	if perr := r.drive(); perr != nil {
		res.Fail(perr)
		return res
	}
	res.Success = true
	return res
}

func (o *Orchestrator) finish(ctx context.Context, res *domain.ExecuteResult, completed bool, log *slog.Logger) {
	detached := context.WithoutCancel(ctx)
	elapsed := res.FinishedAt.Sub(res.StartedAt)

	if res.Success {
		o.metrics.ObserveRun("success", elapsed)
		if completed {
			o.index.RecordCompletion(detached, res)
		}
		log.Info("pipeline finished",
			slog.String("status", res.FinalStatus.String()),
			slog.String("pool", res.PoolID),
			slog.Int("submissions", res.Submissions()),
			slog.Duration("elapsed", elapsed),
		)
		return
	}

	o.metrics.ObserveRun(res.ErrorKind.String(), elapsed)
	if res.Err != nil && res.Err.Kind != domain.KindBusy {
		o.index.RecordFailure(detached, res)
	}
	level := slog.LevelWarn
	if res.Err != nil && res.Err.Fatal() {
		level = slog.LevelError
	}
	log.Log(ctx, level, "pipeline stopped",
		slog.String("step", string(res.FailedStep)),
		slog.String("kind", res.ErrorKind.String()),
		slog.String("status", res.FinalStatus.String()),
		slog.String("error", res.Error),
	)
}

// run holds the state of one Execute invocation.
type run struct {
	o       *Orchestrator
	ctx     context.Context
	parent  context.Context
	assetID string
	res     *domain.ExecuteResult
	log     *slog.Logger

	highest   domain.BattleStatus
	completed bool
}

func (r *run) drive() *domain.PipelineError {
	var withdrawn uint64
	withdrawDone := false

	for pass := 0; pass < maxPasses; pass++ {
		st, perr := r.readAtLeast(r.highest, "")
		if perr != nil {
			return perr
		}

		switch st.Status {
		case domain.StatusPoolCreated:
			return nil

		case domain.StatusListed:
			if idx, ok := r.o.index.Lookup(r.ctx, r.assetID); ok &&
				idx.Status == domain.StatusPoolCreated && idx.PoolID != "" {
				r.res.FinalStatus = domain.StatusPoolCreated
				r.res.PoolID = idx.PoolID
				r.res.PoolURL = idx.PoolURL
				return nil
			}
			if !withdrawDone {
				skipped, perr := r.withdraw(st)
				if perr != nil {
					return perr
				}
				// A skipped withdrawal released nothing this run, so the
				// pool is funded from the keeper's balance.
				if !skipped {
					withdrawn = st.Deposited
				}
				withdrawDone = true
			}
			return r.createPool(st, withdrawn)

		case domain.StatusVictoryPending:
			if perr := r.finalize(st); perr != nil {
				return perr
			}

		case domain.StatusInBattle:
			th := r.o.params.Thresholds
			if !th.VictoryAchieved(st.Deposited, st.Volume) {
				return domain.NewPipelineError(domain.KindPrecondition, domain.StepCheckVictory, st.Status,
					"ThresholdsNotMet: deposited %d/%d volume %d/%d",
					st.Deposited, th.MinDeposited(), st.Volume, th.MinVolume)
			}
			if perr := r.checkVictory(st); perr != nil {
				return perr
			}

		default:
			return domain.NewPipelineError(domain.KindPrecondition, "", st.Status, "NotInBattle")
		}
	}
	return domain.NewPipelineError(domain.KindTransient, "", r.highest, "no terminal state after %d passes", maxPasses)
}

func (r *run) checkVictory(st domain.BattleState) *domain.PipelineError {
	out := r.o.ledger.CheckVictory(r.ctx, r.assetID)
	sr, perr := r.step(domain.StepCheckVictory, st.Status, out)
	if perr != nil {
		return perr
	}
	_, outcome, perr := r.settle(domain.StepCheckVictory, domain.StatusVictoryPending, sr)
	r.o.index.RecordStep(r.ctx, outcome)
	return perr
}

func (r *run) finalize(st domain.BattleState) *domain.PipelineError {
	if !st.HasOpponent() {
		return domain.NewPipelineError(domain.KindPrecondition, domain.StepFinalize, st.Status, "NoOpponent")
	}
	opp, found, err := r.o.ledger.ReadState(r.ctx, st.OpponentID)
	if err != nil {
		return r.readErr(err, domain.StepFinalize)
	}
	if !found {
		return domain.NewPipelineError(domain.KindPrecondition, domain.StepFinalize, st.Status,
			"NotInitialized: opponent %s", st.OpponentID)
	}

	report := ExpectPlunder(r.o.params, st.Deposited, opp.Deposited)
	report.WinnerID = r.assetID
	report.LoserID = opp.AssetID

	out := r.o.ledger.FinalizeDuel(r.ctx, r.assetID, opp.AssetID)
	sr, perr := r.step(domain.StepFinalize, st.Status, out)
	if perr != nil {
		return perr
	}

	next, outcome, perr := r.settle(domain.StepFinalize, domain.StatusListed, sr)
	if perr == nil && !sr.Skipped {
		r.verify(&report, next, opp.AssetID)
		outcome.Plunder = &report
	}
	r.o.index.RecordStep(r.ctx, outcome)
	return perr
}

// verify compares the post-finalize balances with the expected transfer. A
// mismatch is reported but never blocks the pipeline.
func (r *run) verify(report *domain.PlunderReport, winner domain.BattleState, loserID string) {
	loser, found, err := r.o.ledger.ReadState(r.ctx, loserID)
	if err != nil || !found {
		r.log.Warn("plunder verification skipped", slog.String("loser", loserID))
		r.res.Plunder = report
		return
	}
	r.o.index.CorrectStatus(r.ctx, loser)
	if !VerifyPlunder(r.o.params, report, winner.Deposited, loser.Deposited) {
		r.o.metrics.ObserveMismatch()
		r.log.Warn("plunder mismatch",
			slog.Uint64("winner_expected", report.WinnerExpected),
			slog.Uint64("winner_actual", report.WinnerActual),
			slog.Uint64("loser_expected", report.LoserExpected),
			slog.Uint64("loser_actual", report.LoserActual),
		)
	}
	r.res.Plunder = report
}

func (r *run) withdraw(st domain.BattleState) (bool, *domain.PipelineError) {
	out := r.o.ledger.WithdrawForListing(r.ctx, r.assetID)
	sr, perr := r.step(domain.StepWithdraw, st.Status, out)
	if perr != nil {
		return false, perr
	}
	r.o.index.RecordStep(r.ctx, domain.StepOutcome{
		AssetID: r.assetID,
		Step:    domain.StepWithdraw,
		Status:  domain.StatusListed,
		TxID:    sr.TxID,
		Skipped: sr.Skipped,
		At:      r.o.now(),
	})
	return sr.Skipped, nil
}

func (r *run) createPool(st domain.BattleState, withdrawn uint64) *domain.PipelineError {
	pool, sr, perr := r.o.pools.Ensure(r.ctx, r.assetID, withdrawn)
	r.record(sr)
	if perr != nil {
		if r.ctx.Err() != nil {
			return r.ctxErr(domain.StepCreatePool)
		}
		perr.Status = st.Status
		return perr
	}

	r.res.FinalStatus = domain.StatusPoolCreated
	r.res.PoolID = pool.ID
	r.res.PoolURL = pool.URL
	r.completed = true
	r.o.index.RecordStep(r.ctx, domain.StepOutcome{
		AssetID: r.assetID,
		Step:    domain.StepCreatePool,
		Status:  domain.StatusPoolCreated,
		TxID:    pool.TxID,
		Skipped: sr.Skipped,
		PoolID:  pool.ID,
		PoolURL: pool.URL,
		At:      r.o.now(),
	})
	return nil
}

// step classifies a ledger outcome and appends it to the run.
func (r *run) step(step domain.Step, status domain.BattleStatus, out domain.TxOutcome) (domain.StepResult, *domain.PipelineError) {
	sr, perr := classifyTx(step, status, out)
	if perr != nil && perr.Kind == domain.KindTransient && r.ctx.Err() != nil {
		perr = r.ctxErr(step)
		sr.Kind = perr.Kind
		sr.Error = perr.Error()
	}
	r.record(sr)
	return sr, perr
}

func (r *run) record(sr domain.StepResult) {
	r.res.Steps = append(r.res.Steps, sr)
	outcome := "success"
	switch {
	case sr.Skipped:
		outcome = "skipped"
	case !sr.Success:
		outcome = sr.Kind.String()
	}
	r.o.metrics.ObserveStep(string(sr.Step), outcome)
}

// settle waits for a mutating step to become visible on the read path and
// builds the index outcome for it.
func (r *run) settle(step domain.Step, target domain.BattleStatus, sr domain.StepResult) (domain.BattleState, domain.StepOutcome, *domain.PipelineError) {
	outcome := domain.StepOutcome{
		AssetID: r.assetID,
		Step:    step,
		Status:  target,
		TxID:    sr.TxID,
		Skipped: sr.Skipped,
		At:      r.o.now(),
	}
	next, perr := r.readAtLeast(target, step)
	if perr != nil {
		return next, outcome, perr
	}
	outcome.Status = next.Status
	outcome.Deposited = next.Deposited
	outcome.Volume = next.Volume
	return next, outcome, nil
}

// readAtLeast reads the asset's state, polling every PollInterval until the
// status reaches want or PropagationTimeout elapses.
func (r *run) readAtLeast(want domain.BattleStatus, step domain.Step) (domain.BattleState, *domain.PipelineError) {
	deadline := r.o.now().Add(r.o.params.PropagationTimeout)
	for {
		st, found, err := r.o.ledger.ReadState(r.ctx, r.assetID)
		if err != nil {
			return st, r.readErr(err, step)
		}
		if !found {
			return st, domain.NewPipelineError(domain.KindPrecondition, step, r.highest, "NotInitialized")
		}
		if st.Status >= want {
			if st.Status > r.highest {
				r.highest = st.Status
			}
			r.res.FinalStatus = r.highest
			return st, nil
		}
		r.log.Debug("waiting for status",
			slog.String("want", want.String()),
			slog.String("observed", st.Status.String()),
		)
		if !r.o.now().Before(deadline) {
			return st, domain.NewPipelineError(domain.KindTransient, step, r.highest,
				"status %s not observed within %s (last read %s)", want, r.o.params.PropagationTimeout, st.Status)
		}

		t := time.NewTimer(r.o.params.PollInterval)
		select {
		case <-r.ctx.Done():
			t.Stop()
			return st, r.ctxErr(step)
		case <-t.C:
		}
	}
}

func (r *run) readErr(err error, step domain.Step) *domain.PipelineError {
	if r.ctx.Err() != nil {
		return r.ctxErr(step)
	}
	kind := domain.KindTransient
	if errors.Is(err, domain.ErrUnknownLayout) || errors.Is(err, domain.ErrInvalidAsset) {
		kind = domain.KindFatal
	} else if pe, ok := domain.AsPipelineError(err); ok {
		kind = pe.Kind
	}
	perr := domain.NewPipelineError(kind, step, r.highest, "read ledger state")
	perr.Err = err
	return perr
}

// ctxErr distinguishes an exhausted run budget from caller cancellation.
func (r *run) ctxErr(step domain.Step) *domain.PipelineError {
	if r.parent.Err() != nil {
		perr := domain.NewPipelineError(domain.KindTransient, step, r.highest, "cancelled")
		perr.Err = r.parent.Err()
		return perr
	}
	perr := domain.NewPipelineError(domain.KindTimeout, step, r.highest, "run budget %s exhausted", r.o.params.RunBudget)
	perr.Err = context.DeadlineExceeded
	return perr
}
