package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
	putErr  error
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type memActivity struct {
	rows    []domain.ActivityEntry
	logged  []string
	deletes int
}

func (m *memActivity) Log(_ context.Context, _ string, action string, _ map[string]any) error {
	m.logged = append(m.logged, action)
	return nil
}

func (m *memActivity) List(context.Context, domain.ListOpts) ([]domain.ActivityEntry, error) {
	return m.rows, nil
}

func (m *memActivity) ListBefore(_ context.Context, before time.Time) ([]domain.ActivityEntry, error) {
	var out []domain.ActivityEntry
	for _, r := range m.rows {
		if r.CreatedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memActivity) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	m.deletes++
	var keep []domain.ActivityEntry
	var n int64
	for _, r := range m.rows {
		if r.CreatedAt.Before(before) {
			n++
			continue
		}
		keep = append(keep, r)
	}
	m.rows = keep
	return n, nil
}

func newArchiverFixture() (*ActivityArchiver, *memBlobs, *memActivity) {
	blobs := &memBlobs{objects: map[string][]byte{}}
	activity := &memActivity{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewArchiver(blobs, blobs, activity, logger), blobs, activity
}

func TestArchiveActivity(t *testing.T) {
	cutoff := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	a, blobs, activity := newArchiverFixture()
	activity.rows = []domain.ActivityEntry{
		{ID: 1, AssetID: "A", Action: "step_check_victory", CreatedAt: cutoff.Add(-48 * time.Hour)},
		{ID: 2, AssetID: "A", Action: "battle_completed", CreatedAt: cutoff.Add(-time.Hour)},
		{ID: 3, AssetID: "B", Action: "status_corrected", CreatedAt: cutoff.Add(time.Hour)},
	}

	n, err := a.ArchiveActivity(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	body, ok := blobs.objects["archive/activity/2026-05-01.jsonl"]
	require.True(t, ok)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"step_check_victory"`)

	require.Len(t, activity.rows, 1)
	assert.Equal(t, int64(3), activity.rows[0].ID)
	assert.Equal(t, []string{"activity_archived"}, activity.logged)
}

func TestArchiveActivity_ExistingObjectIsNotRewritten(t *testing.T) {
	cutoff := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	a, blobs, activity := newArchiverFixture()
	blobs.objects["archive/activity/2026-05-01.jsonl"] = []byte("original\n")
	activity.rows = []domain.ActivityEntry{{ID: 1, Action: "x", CreatedAt: cutoff.Add(-time.Hour)}}

	n, err := a.ArchiveActivity(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, "original\n", string(blobs.objects["archive/activity/2026-05-01.jsonl"]))
	assert.Empty(t, activity.rows)
}

func TestArchiveActivity_NothingToDo(t *testing.T) {
	a, blobs, activity := newArchiverFixture()

	n, err := a.ArchiveActivity(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
	assert.Zero(t, activity.deletes)
}

func TestArchiveActivity_UploadFailureKeepsRows(t *testing.T) {
	cutoff := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	a, blobs, activity := newArchiverFixture()
	blobs.putErr = errors.New("503 slow down")
	activity.rows = []domain.ActivityEntry{{ID: 1, Action: "x", CreatedAt: cutoff.Add(-time.Hour)}}

	_, err := a.ArchiveActivity(context.Background(), cutoff)
	require.Error(t, err)
	assert.Len(t, activity.rows, 1)
	assert.Zero(t, activity.deletes)
}

func TestClientKeyAndEndpoint(t *testing.T) {
	c := &Client{prefix: normalisePrefix("/battlekeeper/devnet/")}
	assert.Equal(t, "battlekeeper/devnet/runs/A/1.json", c.key("runs/A/1.json"))
	assert.Equal(t, "runs/A/1.json", (&Client{prefix: normalisePrefix("")}).key("/runs/A/1.json"))

	assert.Equal(t, "https://minio.local:9000", normaliseEndpoint("minio.local:9000", true))
	assert.Equal(t, "http://minio.local:9000", normaliseEndpoint("minio.local:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}
