package battle

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

func (h *harness) scanner() *Scanner {
	return NewScanner(h.orch, h.ledger, h.index, h.params, h.metrics, discardLogger())
}

func outcomeFor(res domain.ScanResult, id string) domain.ScanOutcome {
	for _, o := range res.Processed {
		if o.AssetID == id {
			return o
		}
	}
	return domain.ScanOutcome{}
}

func TestScan_ExecutesEligible(t *testing.T) {
	h := newHarness(t)
	winner, loser := h.battle(domain.StatusInBattle, 37_800_000_000, 42_000_000_000, 10_000_000_000)
	s := h.scanner()

	res, err := s.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Scanned)
	w := outcomeFor(res, winner)
	assert.Equal(t, domain.ScanActionExecuted, w.Action)
	assert.True(t, w.Success)
	assert.Equal(t, domain.StatusPoolCreated, w.Status)
	assert.NotEmpty(t, w.PoolID)

	// The loser is listed as active but has not met the thresholds.
	l := outcomeFor(res, loser)
	assert.Contains(t, []string{domain.ScanActionSkipped, domain.ScanActionCorrected}, l.Action)
	assert.Equal(t, 1, h.index.scans)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ScanAssetsTotal.WithLabelValues(domain.ScanActionExecuted)))
}

func TestScan_StaleReadNotWritten(t *testing.T) {
	h := newHarness(t)
	id := newAssetID()
	h.ledger.put(domain.BattleState{AssetID: id, Status: domain.StatusInBattle})
	h.index.seed(domain.IndexedAsset{AssetID: id, Status: domain.StatusListed})
	s := h.scanner()

	res, err := s.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.ScanActionStale, outcomeFor(res, id).Action)
	assert.Empty(t, h.index.corrections)
	assert.Equal(t, domain.StatusListed, h.index.asset(id).Status)
	assert.Zero(t, h.ledger.total())
}

func TestScan_CorrectsCache(t *testing.T) {
	h := newHarness(t)
	id := newAssetID()
	h.ledger.put(domain.BattleState{AssetID: id, Status: domain.StatusPoolCreated})
	h.index.seed(domain.IndexedAsset{AssetID: id, Status: domain.StatusListed})
	s := h.scanner()

	res, err := s.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.ScanActionCorrected, outcomeFor(res, id).Action)
	require.Len(t, h.index.corrections, 1)
	assert.Equal(t, domain.StatusPoolCreated, h.index.asset(id).Status)
}

func TestScan_BelowThresholdSkipped(t *testing.T) {
	h := newHarness(t)
	winner, _ := h.battle(domain.StatusInBattle, 1, 1, 1)
	s := h.scanner()

	res, err := s.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.ScanActionSkipped, outcomeFor(res, winner).Action)
	assert.Zero(t, h.ledger.count(domain.StepCheckVictory))
}

func TestScan_QuarantinesFatal(t *testing.T) {
	h := newHarness(t)
	winner, _ := h.battle(domain.StatusVictoryPending, 37_800_000_000, 42_000_000_000, 10_000_000_000)
	h.ledger.alwaysFail[domain.StepFinalize] = &domain.LedgerError{Code: domain.CodeUnauthorized}
	s := h.scanner()

	first, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ScanActionExecuted, outcomeFor(first, winner).Action)
	assert.Equal(t, domain.KindFatal, outcomeFor(first, winner).ErrorKind)
	assert.Equal(t, []string{winner}, s.Quarantined())

	second, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ScanActionQuarantined, outcomeFor(second, winner).Action)
	assert.Equal(t, 1, h.ledger.count(domain.StepFinalize), "quarantined asset is not retried")

	// An operator fixes the cause and runs it on demand.
	delete(h.ledger.alwaysFail, domain.StepFinalize)
	res := s.Execute(context.Background(), winner)
	require.True(t, res.Success, res.Error)
	assert.Empty(t, s.Quarantined())
}

func TestScan_TransientNotQuarantined(t *testing.T) {
	h := newHarness(t)
	h.battle(domain.StatusVictoryPending, 37_800_000_000, 42_000_000_000, 10_000_000_000)
	h.ledger.alwaysFail[domain.StepFinalize] = &domain.LedgerError{Transport: true}
	s := h.scanner()

	_, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.Quarantined())

	_, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, h.ledger.count(domain.StepFinalize))
}

func TestRunLoop_Trigger(t *testing.T) {
	h := newHarness(t)
	s := h.scanner()
	trigger := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunLoop(ctx, time.Hour, trigger) }()

	trigger <- struct{}{}
	trigger <- struct{}{}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not stop")
	}
	h.index.mu.Lock()
	defer h.index.mu.Unlock()
	assert.GreaterOrEqual(t, h.index.scans, 2)
}
