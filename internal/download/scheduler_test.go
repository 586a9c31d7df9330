package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jfaulkner/pinharvest/internal/clock/system"
	"github.com/jfaulkner/pinharvest/internal/config"
	"github.com/jfaulkner/pinharvest/internal/id/uuid"
	"github.com/jfaulkner/pinharvest/internal/pin"
	"github.com/jfaulkner/pinharvest/internal/storage/sqlite"
)

const testKeyword = "cats"

func testCfg() config.DownloadConfig {
	return config.DownloadConfig{
		Workers:               2,
		QueueDepth:            16,
		PollTimeoutMs:         20,
		PageSize:              2,
		FetchTimeoutSec:       5,
		MaxAttemptsPerURL:     2,
		BackoffInitialMs:      1,
		BackoffMaxMs:          2,
		ForbiddenBackoffMinMs: 1,
		ForbiddenBackoffMaxMs: 2,
		MinFileSize:           32,
	}
}

func newStore(t *testing.T) (*sqlite.Store, string, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlite.Open(dir, testKeyword, system.New(), uuid.New(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	sessionID, err := store.CreateSession(context.Background(), testKeyword, 10, dir, true)
	require.NoError(t, err)
	return store, dir, sessionID
}

func sizedURL(id string) string {
	return fmt.Sprintf("https://i.pinimg.com/736x/aa/bb/%s.jpg", id)
}

func originalsURL(id string) string {
	return fmt.Sprintf("https://i.pinimg.com/originals/aa/bb/%s.jpg", id)
}

func saveImagePin(t *testing.T, repo pin.Repository, sessionID, id string) {
	t.Helper()
	p := pin.Pin{
		ID:              id,
		ImageURLs:       map[string]string{"736x": sizedURL(id)},
		LargestImageURL: sizedURL(id),
	}
	saved, err := repo.SavePin(context.Background(), p, testKeyword, sessionID)
	require.NoError(t, err)
	require.True(t, saved)
}

func loadPin(t *testing.T, repo pin.Repository, id string) pin.Pin {
	t.Helper()
	pins, err := repo.LoadPinsByQuery(context.Background(), testKeyword, 100, 0)
	require.NoError(t, err)
	for _, p := range pins {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("pin %s not found", id)
	return pin.Pin{}
}

func TestProduceCreatesTasksAndJobs(t *testing.T) {
	t.Parallel()

	store, dir, sessionID := newStore(t)
	for _, id := range []string{"p1", "p2", "p3"} {
		saveImagePin(t, store, sessionID, id)
	}

	sched := NewScheduler(store, testCfg(), testKeyword, dir, zap.NewNop())
	jobs := make(chan Job, 16)
	report, err := sched.Produce(context.Background(), jobs)
	require.NoError(t, err)
	close(jobs)

	require.Equal(t, 3, report.Enqueued)
	require.Zero(t, report.AlreadyPresent)

	byPin := map[string]Job{}
	for job := range jobs {
		byPin[job.PinID] = job
	}
	require.Len(t, byPin, 3)

	j := byPin["p1"]
	require.Equal(t, originalsURL("p1"), j.Candidates[0])
	require.Contains(t, j.Candidates, sizedURL("p1"))
	require.Equal(t, filepath.Join(sched.ImagesDir(), "p1.jpg"), j.Path)
	require.Equal(t, pin.TaskStatusPending, j.Task.Status)

	task, err := store.GetDownloadTaskByPinAndURL(context.Background(), "p1", originalsURL("p1"))
	require.NoError(t, err)
	require.NotNil(t, task)
}

func TestProduceSkipsFilesAlreadyOnDisk(t *testing.T) {
	t.Parallel()

	store, dir, sessionID := newStore(t)
	saveImagePin(t, store, sessionID, "p1")

	sched := NewScheduler(store, testCfg(), testKeyword, dir, zap.NewNop())
	dest := ExpectedPath(sched.ImagesDir(), "p1", originalsURL("p1"))
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, os.WriteFile(dest, jpegBody(), 0o644))

	jobs := make(chan Job, 4)
	report, err := sched.Produce(context.Background(), jobs)
	require.NoError(t, err)

	require.Zero(t, report.Enqueued)
	require.Equal(t, 1, report.AlreadyPresent)

	task, err := store.GetDownloadTaskByPinAndURL(context.Background(), "p1", originalsURL("p1"))
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, pin.TaskStatusCompleted, task.Status)
	require.Equal(t, dest, task.LocalPath)

	require.True(t, loadPin(t, store, "p1").Downloaded)
}

func TestProduceResetsCompletedTaskWithMissingFile(t *testing.T) {
	t.Parallel()

	store, dir, sessionID := newStore(t)
	saveImagePin(t, store, sessionID, "p1")

	ctx := context.Background()
	taskID, err := store.CreateDownloadTask(ctx, "p1", originalsURL("p1"))
	require.NoError(t, err)
	require.NoError(t, store.UpdateDownloadTaskStatus(ctx, taskID, pin.TaskStatusCompleted, "/gone/p1.jpg", 4096, ""))

	sched := NewScheduler(store, testCfg(), testKeyword, dir, zap.NewNop())
	jobs := make(chan Job, 4)
	report, err := sched.Produce(ctx, jobs)
	require.NoError(t, err)

	require.Equal(t, 1, report.Healed)
	require.Equal(t, 1, report.Enqueued)

	task, err := store.GetDownloadTaskByPinAndURL(ctx, "p1", originalsURL("p1"))
	require.NoError(t, err)
	require.Equal(t, pin.TaskStatusPending, task.Status)
}

func TestProduceSkipsPinsWithoutImages(t *testing.T) {
	t.Parallel()

	store, dir, sessionID := newStore(t)
	saved, err := store.SavePin(context.Background(), pin.Pin{ID: "bare"}, testKeyword, sessionID)
	require.NoError(t, err)
	require.True(t, saved)

	sched := NewScheduler(store, testCfg(), testKeyword, dir, zap.NewNop())
	jobs := make(chan Job, 4)
	report, err := sched.Produce(context.Background(), jobs)
	require.NoError(t, err)
	require.Zero(t, report.Enqueued)
}

func TestExpectedPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		url  string
		want string
	}{
		{"https://i.pinimg.com/originals/a/b/c.png", "p1.png"},
		{"https://i.pinimg.com/originals/a/b/c.jpeg?x=1", "p1.jpeg"},
		{"https://i.pinimg.com/originals/a/b/c.webp", "p1.webp"},
		{"https://i.pinimg.com/originals/a/b/c.svg", "p1.jpg"},
		{"https://i.pinimg.com/originals/a/b/c", "p1.jpg"},
		{"", "p1.jpg"},
	}
	for _, tc := range cases {
		require.Equal(t, filepath.Join("/out", tc.want), ExpectedPath("/out", "p1", tc.url), tc.url)
	}
}

func TestFileValid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	good := filepath.Join(dir, "good.jpg")
	require.NoError(t, os.WriteFile(good, jpegBody(), 0o644))
	require.True(t, fileValid(good, 32))

	small := filepath.Join(dir, "small.jpg")
	require.NoError(t, os.WriteFile(small, jpegBody()[:8], 0o644))
	require.False(t, fileValid(small, 32))

	html := filepath.Join(dir, "fake.jpg")
	require.NoError(t, os.WriteFile(html, append([]byte("<html>blocked</html>"), make([]byte, 40)...), 0o644))
	require.False(t, fileValid(html, 32))

	require.False(t, fileValid(filepath.Join(dir, "missing.jpg"), 32))
}

func TestDetectImageExt(t *testing.T) {
	t.Parallel()

	ext, ok := detectImageExt(jpegBody())
	require.True(t, ok)
	require.Equal(t, "jpg", ext)

	ext, ok = detectImageExt([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0})
	require.True(t, ok)
	require.Equal(t, "png", ext)

	ext, ok = detectImageExt([]byte("GIF89a......"))
	require.True(t, ok)
	require.Equal(t, "gif", ext)

	ext, ok = detectImageExt([]byte("RIFF\x00\x00\x00\x00WEBPVP8 "))
	require.True(t, ok)
	require.Equal(t, "webp", ext)

	_, ok = detectImageExt([]byte("<html>"))
	require.False(t, ok)
}
