package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubRunner struct {
	result  domain.ExecuteResult
	scan    domain.ScanResult
	scanErr error
	ctxErr  error
	asset   string
}

func (s *stubRunner) Scan(ctx context.Context) (domain.ScanResult, error) {
	s.ctxErr = ctx.Err()
	return s.scan, s.scanErr
}

func (s *stubRunner) Execute(ctx context.Context, assetID string) domain.ExecuteResult {
	s.ctxErr = ctx.Err()
	s.asset = assetID
	res := s.result
	res.AssetID = assetID
	return res
}

func (s *stubRunner) Quarantined() []string { return []string{"A", "B"} }

func newMux(h *BattleHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/battles/{assetId}/execute", h.Execute)
	mux.HandleFunc("POST /api/battles/scan", h.Scan)
	mux.HandleFunc("GET /api/battles/quarantined", h.Quarantined)
	return mux
}

func failed(kind domain.ErrorKind, wrapped error) domain.ExecuteResult {
	var res domain.ExecuteResult
	perr := domain.NewPipelineError(kind, domain.StepFinalize, domain.StatusVictoryPending, "boom")
	perr.Err = wrapped
	res.Fail(perr)
	return res
}

func TestBattleHandler_ExecuteStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		result domain.ExecuteResult
		want   int
	}{
		{"success", domain.ExecuteResult{Success: true, FinalStatus: domain.StatusPoolCreated}, http.StatusOK},
		{"busy", failed(domain.KindBusy, domain.ErrLockHeld), http.StatusConflict},
		{"precondition", failed(domain.KindPrecondition, nil), http.StatusUnprocessableEntity},
		{"transient", failed(domain.KindTransient, nil), http.StatusServiceUnavailable},
		{"timeout", failed(domain.KindTimeout, nil), http.StatusServiceUnavailable},
		{"fatal", failed(domain.KindFatal, nil), http.StatusInternalServerError},
		{"mismatch", failed(domain.KindMismatch, nil), http.StatusInternalServerError},
		{"invalid asset", failed(domain.KindFatal, fmt.Errorf("%w: zero", domain.ErrInvalidAsset)), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &stubRunner{result: tc.result}
			mux := newMux(NewBattleHandler(runner, discard()))

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/battles/Asset111/execute", nil))

			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, "Asset111", runner.asset)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "Asset111", body["asset_id"])
			assert.Equal(t, tc.result.Success, body["success"])
		})
	}
}

func TestBattleHandler_ExecuteSurvivesClientCancel(t *testing.T) {
	runner := &stubRunner{result: domain.ExecuteResult{Success: true}}
	mux := newMux(NewBattleHandler(runner, discard()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/battles/Asset111/execute", nil).WithContext(ctx)
	mux.ServeHTTP(httptest.NewRecorder(), req)

	assert.NoError(t, runner.ctxErr)
}

func TestBattleHandler_Scan(t *testing.T) {
	runner := &stubRunner{scan: domain.ScanResult{
		Scanned: 2,
		Processed: []domain.ScanOutcome{
			{AssetID: "A", Action: domain.ScanActionExecuted, Success: true},
		},
	}}
	mux := newMux(NewBattleHandler(runner, discard()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/battles/scan", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.ScanResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Scanned)
	require.Len(t, got.Processed, 1)
	assert.Equal(t, domain.ScanActionExecuted, got.Processed[0].Action)

	runner.scanErr = errors.New("index down")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/battles/scan", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBattleHandler_Quarantined(t *testing.T) {
	mux := newMux(NewBattleHandler(&stubRunner{}, discard()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/battles/quarantined", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":2,"assets":["A","B"]}`, rec.Body.String())
}

func TestHealthHandler(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	bad := PingFunc(func(context.Context) error { return errors.New("refused") })

	h := NewHealthHandler(map[string]Pinger{"postgres": ok}, discard())
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewHealthHandler(map[string]Pinger{"postgres": ok, "redis": bad}, discard())
	rec = httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Dependencies["postgres"])
	assert.Equal(t, "error: refused", body.Dependencies["redis"])
}
