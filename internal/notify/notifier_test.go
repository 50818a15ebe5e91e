package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_Filter(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventPipelineFatal, " " + EventPlunderMismatch}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), EventScanSummary, "scan", "x"))
	require.NoError(t, n.Notify(context.Background(), EventPlunderMismatch, "mismatch", "x"))
	require.NoError(t, n.NotifyAll(context.Background(), "all", "x"))

	assert.Equal(t, []string{"mismatch", "all"}, s.titles)
	assert.False(t, n.Enabled(EventBattleCompleted))
}

func TestNotifier_NoFilterAllowsAll(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quietLogger())

	require.NoError(t, n.Notify(context.Background(), EventScanSummary, "scan", "x"))
	assert.Len(t, s.titles, 1)
}

func TestNotifier_OneSenderFails(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), EventBattleCompleted, "done", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.titles, 1)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42").WithAPIBase(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
}

func TestFormatMismatch(t *testing.T) {
	msg := FormatMismatch(domain.PlunderReport{
		WinnerID:       "W",
		LoserID:        "L",
		WinnerExpected: 23_750_000_000,
		WinnerActual:   23_800_000_000,
		LoserExpected:  5_000_000_000,
		LoserActual:    5_000_000_000,
	})
	assert.Contains(t, msg, "expected 23.750000000 observed 23.800000000")
	assert.Contains(t, msg, "Loser L")
}

func TestFormatScan(t *testing.T) {
	msg := FormatScan(domain.ScanResult{
		Scanned: 3,
		Processed: []domain.ScanOutcome{
			{AssetID: "A", Action: domain.ScanActionExecuted, Success: true},
			{AssetID: "B", Action: domain.ScanActionExecuted, ErrorKind: domain.KindFatal},
			{AssetID: "C", Action: domain.ScanActionQuarantined},
		},
	})
	assert.Contains(t, msg, "executed: 2")
	assert.Contains(t, msg, "quarantined: 1")
	assert.Contains(t, msg, "failed B: fatal")
}
