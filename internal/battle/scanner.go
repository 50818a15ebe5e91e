package battle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
	"github.com/alanyoungcy/battlekeeper/internal/metrics"
)

// activeStatuses are the index statuses the scanner revisits.
var activeStatuses = []domain.BattleStatus{
	domain.StatusInBattle,
	domain.StatusVictoryPending,
	domain.StatusListed,
}

// ActiveStatuses returns the statuses a scan covers.
func ActiveStatuses() []domain.BattleStatus {
	return append([]domain.BattleStatus(nil), activeStatuses...)
}

// StateReader reads ledger state.
type StateReader interface {
	ReadState(ctx context.Context, assetID string) (domain.BattleState, bool, error)
}

// Executor runs the pipeline for one asset.
type Executor interface {
	Execute(ctx context.Context, assetID string) domain.ExecuteResult
}

// Scanner discovers battles that are ready to finalize and runs them one at a
// time. Assets that fail fatally are quarantined in memory until the process
// restarts or an on-demand execution succeeds.
type Scanner struct {
	exec    Executor
	reader  StateReader
	index   Index
	params  Params
	metrics *metrics.Metrics
	logger  *slog.Logger

	scanMu sync.Mutex

	mu         sync.Mutex
	quarantine map[string]string
}

// NewScanner creates a Scanner.
func NewScanner(exec Executor, reader StateReader, index Index, params Params, m *metrics.Metrics, logger *slog.Logger) *Scanner {
	return &Scanner{
		exec:       exec,
		reader:     reader,
		index:      index,
		params:     params,
		metrics:    m,
		logger:     logger.With(slog.String("component", "scanner")),
		quarantine: make(map[string]string),
	}
}

// Scan makes one sequential pass over every active asset in the index.
func (s *Scanner) Scan(ctx context.Context) (domain.ScanResult, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	start := time.Now()
	result := domain.ScanResult{StartedAt: start, Processed: []domain.ScanOutcome{}}

	assets, err := s.index.ListActive(ctx)
	if err != nil {
		return result, fmt.Errorf("battle: scan: list active assets: %w", err)
	}
	result.Scanned = len(assets)

	for _, a := range assets {
		if ctx.Err() != nil {
			break
		}
		out := s.visit(ctx, a)
		s.metrics.ObserveScan(out.Action)
		result.Processed = append(result.Processed, out)
	}
	result.Duration = time.Since(start)

	s.logger.Info("scan complete",
		slog.Int("scanned", result.Scanned),
		slog.Int("processed", len(result.Processed)),
		slog.Duration("elapsed", result.Duration),
	)
	s.index.RecordScan(ctx, result)
	return result, nil
}

func (s *Scanner) visit(ctx context.Context, cached domain.IndexedAsset) domain.ScanOutcome {
	id := cached.AssetID
	out := domain.ScanOutcome{AssetID: id, Status: cached.Status}

	if reason, ok := s.quarantined(id); ok {
		out.Action = domain.ScanActionQuarantined
		out.Error = reason
		return out
	}

	st, found, err := s.reader.ReadState(ctx, id)
	if err != nil {
		out.Action = domain.ScanActionReadFailed
		out.Error = err.Error()
		out.ErrorKind = domain.KindTransient
		if errors.Is(err, domain.ErrUnknownLayout) {
			out.ErrorKind = domain.KindFatal
		}
		s.logger.Warn("ledger read failed", slog.String("asset", id), slog.String("error", err.Error()))
		return out
	}
	if !found {
		out.Action = domain.ScanActionSkipped
		out.Error = "NotInitialized"
		return out
	}

	if st.Status < cached.Status {
		s.logger.Warn("stale ledger read ignored",
			slog.String("asset", id),
			slog.String("cached", cached.Status.String()),
			slog.String("observed", st.Status.String()),
		)
		out.Action = domain.ScanActionStale
		return out
	}

	if !s.eligible(st) {
		out.Status = st.Status
		if st.Status != cached.Status {
			s.index.CorrectStatus(ctx, st)
			out.Action = domain.ScanActionCorrected
		} else {
			out.Action = domain.ScanActionSkipped
		}
		out.Success = true
		return out
	}

	res := s.exec.Execute(ctx, id)
	s.afterExecute(id, res)
	out.Action = domain.ScanActionExecuted
	out.Success = res.Success
	out.Status = res.FinalStatus
	out.PoolID = res.PoolID
	out.Error = res.Error
	out.ErrorKind = res.ErrorKind
	return out
}

func (s *Scanner) eligible(st domain.BattleState) bool {
	switch st.Status {
	case domain.StatusInBattle:
		return s.params.Thresholds.VictoryAchieved(st.Deposited, st.Volume)
	case domain.StatusVictoryPending, domain.StatusListed:
		return true
	}
	return false
}

// Execute runs the pipeline for assetID on demand. It bypasses the
// quarantine and lifts it on success.
func (s *Scanner) Execute(ctx context.Context, assetID string) domain.ExecuteResult {
	res := s.exec.Execute(ctx, assetID)
	s.afterExecute(assetID, res)
	return res
}

func (s *Scanner) afterExecute(assetID string, res domain.ExecuteResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case res.Success:
		if _, ok := s.quarantine[assetID]; ok {
			delete(s.quarantine, assetID)
			s.logger.Info("asset released from quarantine", slog.String("asset", assetID))
		}
	case res.Err != nil && res.Err.Fatal():
		s.quarantine[assetID] = res.Error
		s.logger.Error("asset quarantined", slog.String("asset", assetID), slog.String("error", res.Error))
	}
}

func (s *Scanner) quarantined(assetID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason, ok := s.quarantine[assetID]
	return reason, ok
}

// Quarantined lists the assets currently held back, sorted.
func (s *Scanner) Quarantined() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.quarantine))
	for id := range s.quarantine {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunLoop scans immediately, then on every tick and every trigger until ctx
// is cancelled.
func (s *Scanner) RunLoop(ctx context.Context, interval time.Duration, trigger <-chan struct{}) error {
	s.scanAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scanner loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.scanAndLog(ctx)
		case <-trigger:
			s.scanAndLog(ctx)
		}
	}
}

func (s *Scanner) scanAndLog(ctx context.Context) {
	if _, err := s.Scan(ctx); err != nil {
		s.logger.Error("scan failed", slog.String("error", err.Error()))
	}
}
