package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/battlekeeper/internal/battle"
	"github.com/alanyoungcy/battlekeeper/internal/domain"
	"github.com/alanyoungcy/battlekeeper/internal/metrics"
	"github.com/alanyoungcy/battlekeeper/internal/notify"
)

// EventChannel is the pub/sub channel and stream that carries pipeline events.
const EventChannel = "battle_events"

// RewardReasonBattleWon is the reward ledger reason for a completed battle.
const RewardReasonBattleWon = "battle_won"

// Alerter sends operator notifications filtered by event.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// IndexWriterDeps groups the stores and sinks the index writer fans out to.
// Bus, Blobs and Alerter are optional.
type IndexWriterDeps struct {
	Assets        domain.AssetStore
	Winners       domain.WinnerStore
	Rewards       domain.RewardStore
	Notifications domain.NotificationStore
	Activity      domain.ActivityStore
	Bus           domain.SignalBus
	Blobs         domain.BlobWriter
	Alerter       Alerter
}

// IndexWriter mirrors pipeline progress into the index. Every write is best
// effort: failures are logged and counted and never reach the pipeline.
type IndexWriter struct {
	deps         IndexWriterDeps
	rewardPoints int64
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

var _ battle.Index = (*IndexWriter)(nil)

// NewIndexWriter creates an IndexWriter.
func NewIndexWriter(deps IndexWriterDeps, rewardPoints int64, m *metrics.Metrics, logger *slog.Logger) *IndexWriter {
	return &IndexWriter{
		deps:         deps,
		rewardPoints: rewardPoints,
		metrics:      m,
		logger:       logger.With(slog.String("component", "index_writer")),
		now:          time.Now,
	}
}

// Lookup returns the cached row for assetID.
func (w *IndexWriter) Lookup(ctx context.Context, assetID string) (domain.IndexedAsset, bool) {
	a, err := w.deps.Assets.Get(ctx, assetID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			w.fail(ctx, "lookup", err, slog.String("asset", assetID))
		}
		return domain.IndexedAsset{}, false
	}
	return a, true
}

// ListActive returns the assets a scan should revisit.
func (w *IndexWriter) ListActive(ctx context.Context) ([]domain.IndexedAsset, error) {
	assets, err := w.deps.Assets.ListByStatus(ctx, battle.ActiveStatuses())
	if err != nil {
		return nil, fmt.Errorf("index_writer: list active: %w", err)
	}
	return assets, nil
}

// RecordStep stores one successful or already-done step.
func (w *IndexWriter) RecordStep(ctx context.Context, o domain.StepOutcome) {
	if o.At.IsZero() {
		o.At = w.now()
	}
	if err := w.deps.Assets.RecordStep(ctx, o); err != nil {
		w.fail(ctx, "record_step", err, slog.String("asset", o.AssetID), slog.String("step", string(o.Step)))
	}

	detail := map[string]any{
		"step":    o.Step,
		"status":  o.Status.String(),
		"tx_id":   o.TxID,
		"skipped": o.Skipped,
	}
	if o.PoolID != "" {
		detail["pool_id"] = o.PoolID
	}
	if o.Plunder != nil {
		detail["plunder"] = o.Plunder
	}
	w.logActivity(ctx, o.AssetID, "step_"+string(o.Step), detail)
	w.publish(ctx, "step_completed", o.AssetID, detail)

	if p := o.Plunder; p != nil && p.Verified && !p.Matched {
		w.alert(ctx, notify.EventPlunderMismatch, notify.FormatMismatch(*p))
	}
}

// RecordCompletion writes the winner record, reward, user notifications and
// run archive for a run that created the winner's pool.
func (w *IndexWriter) RecordCompletion(ctx context.Context, run *domain.ExecuteResult) {
	winner, _ := w.Lookup(ctx, run.AssetID)
	winner.AssetID = run.AssetID

	loserID := winner.OpponentID
	if loserID == "" && run.Plunder != nil {
		loserID = run.Plunder.LoserID
	}
	var loser domain.IndexedAsset
	if loserID != "" {
		loser, _ = w.Lookup(ctx, loserID)
		loser.AssetID = loserID
	}

	rec := buildWinnerRecord(winner, loser, run)
	if err := w.deps.Winners.Upsert(ctx, rec); err != nil {
		w.fail(ctx, "winner_upsert", err, slog.String("asset", run.AssetID))
	}

	if winner.CreatorWallet != "" {
		entry, created, err := w.deps.Rewards.Append(ctx, domain.RewardEntry{
			Wallet:   winner.CreatorWallet,
			BattleID: run.AssetID,
			Reason:   RewardReasonBattleWon,
			Points:   w.rewardPoints,
		})
		switch {
		case err != nil:
			w.fail(ctx, "reward_append", err, slog.String("wallet", winner.CreatorWallet))
		case created:
			w.logger.InfoContext(ctx, "reward granted",
				slog.String("wallet", entry.Wallet),
				slog.Int64("points", entry.Points),
				slog.Int64("running_total", entry.RunningTotal),
			)
		}
	}

	w.notifyCreator(ctx, winner.CreatorWallet, domain.Notification{
		Kind:    "battle_won",
		Title:   fmt.Sprintf("%s won its battle", displayName(winner)),
		Body:    fmt.Sprintf("%s is now listed. Pool: %s", displayName(winner), rec.PoolURL),
		AssetID: winner.AssetID,
	})
	if loser.AssetID != "" {
		w.notifyCreator(ctx, loser.CreatorWallet, domain.Notification{
			Kind:    "battle_lost",
			Title:   fmt.Sprintf("%s lost its battle", displayName(loser)),
			Body:    fmt.Sprintf("%s was defeated by %s.", displayName(loser), displayName(winner)),
			AssetID: loser.AssetID,
		})
	}

	w.logActivity(ctx, run.AssetID, "battle_completed", map[string]any{
		"run_id":  run.RunID,
		"pool_id": run.PoolID,
		"loser":   loserID,
	})
	w.publish(ctx, "battle_completed", run.AssetID, map[string]any{"pool_id": run.PoolID, "pool_url": run.PoolURL})
	w.archiveRun(ctx, run)
	w.alert(ctx, notify.EventBattleCompleted, notify.FormatCompletion(rec))
}

// RecordFailure logs a failed run and alerts operators when it needs them.
func (w *IndexWriter) RecordFailure(ctx context.Context, run *domain.ExecuteResult) {
	w.logActivity(ctx, run.AssetID, "pipeline_failed", map[string]any{
		"run_id": run.RunID,
		"step":   run.FailedStep,
		"kind":   run.ErrorKind.String(),
		"status": run.FinalStatus.String(),
		"error":  run.Error,
	})
	if run.Err != nil && run.Err.Fatal() {
		w.alert(ctx, notify.EventPipelineFatal, notify.FormatFailure(*run))
	}
}

// CorrectStatus updates the cached status to what the ledger reports. The
// store refuses regressions.
func (w *IndexWriter) CorrectStatus(ctx context.Context, st domain.BattleState) {
	changed, err := w.deps.Assets.AdvanceStatus(ctx, st.AssetID, st.Status, st.Deposited, st.Volume)
	if err != nil {
		w.fail(ctx, "correct_status", err, slog.String("asset", st.AssetID))
		return
	}
	if !changed {
		return
	}
	w.logActivity(ctx, st.AssetID, "status_corrected", map[string]any{"status": st.Status.String()})
}

// RecordScan publishes a scan summary and alerts when the scan did anything.
func (w *IndexWriter) RecordScan(ctx context.Context, res domain.ScanResult) {
	executed, failed, quarantined := 0, 0, 0
	for _, o := range res.Processed {
		switch o.Action {
		case domain.ScanActionExecuted:
			executed++
			if !o.Success {
				failed++
			}
		case domain.ScanActionQuarantined:
			quarantined++
		}
	}
	w.publish(ctx, "scan_completed", "", map[string]any{
		"scanned":     res.Scanned,
		"executed":    executed,
		"failed":      failed,
		"quarantined": quarantined,
	})
	if executed > 0 || quarantined > 0 {
		w.alert(ctx, notify.EventScanSummary, notify.FormatScan(res))
	}
}

func (w *IndexWriter) notifyCreator(ctx context.Context, wallet string, n domain.Notification) {
	if wallet == "" {
		return
	}
	n.Wallet = wallet
	n.CreatedAt = w.now()
	if err := w.deps.Notifications.Create(ctx, n); err != nil {
		w.fail(ctx, "notification", err, slog.String("wallet", wallet))
	}
}

func (w *IndexWriter) logActivity(ctx context.Context, assetID, action string, detail map[string]any) {
	if err := w.deps.Activity.Log(ctx, assetID, action, detail); err != nil {
		w.fail(ctx, "activity", err, slog.String("asset", assetID), slog.String("action", action))
	}
}

func (w *IndexWriter) publish(ctx context.Context, event, assetID string, detail map[string]any) {
	if w.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":     event,
		"asset_id":  assetID,
		"detail":    detail,
		"timestamp": w.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		w.fail(ctx, "publish", err)
		return
	}
	if err := w.deps.Bus.Publish(ctx, EventChannel, payload); err != nil {
		w.fail(ctx, "publish", err, slog.String("event", event))
	}
	if err := w.deps.Bus.StreamAppend(ctx, EventChannel, payload); err != nil {
		w.fail(ctx, "stream_append", err, slog.String("event", event))
	}
}

func (w *IndexWriter) archiveRun(ctx context.Context, run *domain.ExecuteResult) {
	if w.deps.Blobs == nil {
		return
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		w.fail(ctx, "archive_run", err)
		return
	}
	path := RunArchivePath(run.AssetID, run.FinishedAt)
	if err := w.deps.Blobs.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		w.fail(ctx, "archive_run", err, slog.String("path", path))
	}
}

func (w *IndexWriter) alert(ctx context.Context, event, msg string) {
	if w.deps.Alerter == nil {
		return
	}
	if err := w.deps.Alerter.Notify(ctx, event, notify.Title(event), msg); err != nil {
		w.fail(ctx, "alert", err, slog.String("event", event))
	}
}

func (w *IndexWriter) fail(ctx context.Context, op string, err error, attrs ...any) {
	w.metrics.ObserveIndexFailure(op)
	args := append([]any{slog.String("op", op), slog.String("error", err.Error())}, attrs...)
	w.logger.WarnContext(ctx, "index write failed", args...)
}

// RunArchivePath is the object key a completed run report is stored under.
func RunArchivePath(assetID string, at time.Time) string {
	return fmt.Sprintf("runs/%s/%d.json", assetID, at.Unix())
}

func buildWinnerRecord(winner, loser domain.IndexedAsset, run *domain.ExecuteResult) domain.WinnerRecord {
	rec := domain.WinnerRecord{
		WinnerID:      winner.AssetID,
		WinnerName:    winner.Name,
		WinnerSymbol:  winner.Symbol,
		WinnerCreator: winner.CreatorWallet,
		LoserID:       loser.AssetID,
		LoserName:     loser.Name,
		LoserSymbol:   loser.Symbol,
		LoserCreator:  loser.CreatorWallet,
		FinalDeposit:  winner.Deposited,
		FinalVolume:   winner.Volume,
		Spoils:        winner.Spoils,
		PlatformFee:   winner.PlatformFee,
		PoolID:        run.PoolID,
		PoolURL:       run.PoolURL,
		VictoryTx:     winner.VictoryTx,
		FinalizeTx:    winner.FinalizeTx,
		WithdrawTx:    winner.WithdrawTx,
		PoolTx:        winner.PoolTx,
		CompletedAt:   run.FinishedAt,
	}
	if run.Plunder != nil {
		rec.Spoils = run.Plunder.Spoils
		rec.PlatformFee = run.Plunder.PlatformFee
		if rec.LoserID == "" {
			rec.LoserID = run.Plunder.LoserID
		}
	}
	for _, s := range run.Steps {
		if s.TxID == "" {
			continue
		}
		switch s.Step {
		case domain.StepCheckVictory:
			rec.VictoryTx = s.TxID
		case domain.StepFinalize:
			rec.FinalizeTx = s.TxID
		case domain.StepWithdraw:
			rec.WithdrawTx = s.TxID
		case domain.StepCreatePool:
			rec.PoolTx = s.TxID
		}
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now()
	}
	return rec
}

func displayName(a domain.IndexedAsset) string {
	switch {
	case a.Symbol != "":
		return "$" + a.Symbol
	case a.Name != "":
		return a.Name
	case len(a.AssetID) > 8:
		return a.AssetID[:4] + "…" + a.AssetID[len(a.AssetID)-4:]
	}
	return a.AssetID
}
