package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingArchiver struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (r *recordingArchiver) ArchiveActivity(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cutoffs = append(r.cutoffs, before)
	return 3, r.err
}

func (r *recordingArchiver) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cutoffs)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiver_CutoffIsDayAligned(t *testing.T) {
	a := NewArchiver(&recordingArchiver{}, 30, discardLogger())
	a.now = func() time.Time { return time.Date(2026, 6, 15, 17, 42, 5, 0, time.UTC) }

	assert.Equal(t, time.Date(2026, 5, 16, 0, 0, 0, 0, time.UTC), a.Cutoff())
}

func TestArchiver_Run(t *testing.T) {
	rec := &recordingArchiver{}
	a := NewArchiver(rec, 7, discardLogger())
	a.now = func() time.Time { return time.Date(2026, 6, 15, 1, 0, 0, 0, time.UTC) }

	require.NoError(t, a.Run(context.Background()))
	require.Len(t, rec.cutoffs, 1)
	assert.Equal(t, time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC), rec.cutoffs[0])

	rec.err = errors.New("s3 down")
	assert.ErrorContains(t, a.Run(context.Background()), "s3 down")
}

func TestArchiver_RunCron(t *testing.T) {
	rec := &recordingArchiver{}
	a := NewArchiver(rec, 7, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunCron(ctx, "* * * * * *") }()

	require.Eventually(t, func() bool { return rec.calls() > 0 }, 3*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("RunCron did not return after cancel")
	}
}

func TestArchiver_RunCronRejectsBadSpec(t *testing.T) {
	a := NewArchiver(&recordingArchiver{}, 7, discardLogger())
	err := a.RunCron(context.Background(), "not a cron")
	assert.ErrorContains(t, err, "parse cron spec")
}
