package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/jfaulkner/pinharvest/internal/config"
	"github.com/jfaulkner/pinharvest/internal/pin"
)

// Job is one unit of work handed to the pool: a persisted task plus the
// ordered candidate URLs and the destination path.
type Job struct {
	Task       pin.DownloadTask
	PinID      string
	Candidates []string
	Path       string
}

// ScheduleReport summarizes one producer pass.
type ScheduleReport struct {
	Enqueued       int
	AlreadyPresent int
	Healed         int
	NoImage        int
}

// Scheduler walks the pin store in pages and turns every pin with an
// image into a durable download task, skipping work the filesystem
// already proves done.
type Scheduler struct {
	repo    pin.Repository
	cfg     config.DownloadConfig
	keyword string
	baseDir string
	logger  *zap.Logger
}

// NewScheduler builds a producer for one keyword partition.
func NewScheduler(repo pin.Repository, cfg config.DownloadConfig, keyword, baseDir string, logger *zap.Logger) *Scheduler {
	return &Scheduler{repo: repo, cfg: cfg, keyword: keyword, baseDir: baseDir, logger: logger}
}

// ImagesDir returns the asset directory for this partition.
func (s *Scheduler) ImagesDir() string {
	return filepath.Join(s.baseDir, s.keyword, "images")
}

// Produce pages through pins with images and sends one Job per pin that
// still needs its asset. It does not close the channel; the caller owns
// channel lifetime.
func (s *Scheduler) Produce(ctx context.Context, jobs chan<- Job) (ScheduleReport, error) {
	var report ScheduleReport

	dir := s.ImagesDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return report, fmt.Errorf("create images dir: %w", err)
	}

	pageSize := s.cfg.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}

	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		pins, err := s.repo.LoadPinsWithImages(ctx, s.keyword, pageSize, offset)
		if err != nil {
			return report, fmt.Errorf("load pins page at offset %d: %w", offset, err)
		}
		if len(pins) == 0 {
			return report, nil
		}
		for _, p := range pins {
			if err := s.schedulePin(ctx, p, dir, jobs, &report); err != nil {
				return report, err
			}
		}
		if len(pins) < pageSize {
			return report, nil
		}
	}
}

func (s *Scheduler) schedulePin(ctx context.Context, p pin.Pin, dir string, jobs chan<- Job, report *ScheduleReport) error {
	resolved := pin.ResolveCandidates(p.ImageURLs, p.LargestImageURL)
	if len(resolved) == 0 {
		report.NoImage++
		return nil
	}
	canonical := pin.OriginalURL(resolved[0])
	candidates := attemptChain(resolved)
	dest := ExpectedPath(dir, p.ID, canonical)
	present := fileValid(dest, s.cfg.MinFileSize)

	task, err := s.ensureTask(ctx, p.ID, canonical)
	if err != nil {
		return err
	}

	if present {
		report.AlreadyPresent++
		if task.Status != pin.TaskStatusCompleted {
			size := fileSize(dest)
			if err := s.repo.UpdateDownloadTaskStatus(ctx, task.ID, pin.TaskStatusCompleted, dest, size, ""); err != nil {
				return err
			}
		}
		if !p.Downloaded {
			if err := s.repo.MarkPinDownloaded(ctx, p.ID, dest); err != nil {
				return err
			}
		}
		return nil
	}

	if task.Status == pin.TaskStatusCompleted {
		// The store says done but the file is gone or corrupt. Reset so
		// the pool re-fetches instead of trusting the stale record.
		s.logger.Warn("completed task has no valid file on disk, resetting",
			zap.Int64("task_id", task.ID),
			zap.String("pin_id", p.ID),
			zap.String("path", dest))
		if err := s.repo.UpdateDownloadTaskStatus(ctx, task.ID, pin.TaskStatusPending, "", 0, "file missing on disk"); err != nil {
			return err
		}
		task.Status = pin.TaskStatusPending
		report.Healed++
	}

	select {
	case jobs <- Job{Task: *task, PinID: p.ID, Candidates: candidates, Path: dest}:
		report.Enqueued++
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) ensureTask(ctx context.Context, pinID, imageURL string) (*pin.DownloadTask, error) {
	task, err := s.repo.GetDownloadTaskByPinAndURL(ctx, pinID, imageURL)
	if err != nil {
		return nil, err
	}
	if task != nil {
		return task, nil
	}
	if _, err := s.repo.CreateDownloadTask(ctx, pinID, imageURL); err != nil {
		return nil, err
	}
	task, err = s.repo.GetDownloadTaskByPinAndURL(ctx, pinID, imageURL)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("download task for pin %s vanished after create", pinID)
	}
	return task, nil
}

// attemptChain turns the resolved URL list into the fixed attempt order:
// the best URL's full-resolution form and sized fallbacks first, then any
// remaining distinct stored URLs.
func attemptChain(resolved []string) []string {
	chain := pin.ExpandFallbacks(resolved[0])
	seen := make(map[string]struct{}, len(chain)+len(resolved))
	for _, u := range chain {
		seen[u] = struct{}{}
	}
	for _, u := range resolved[1:] {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		chain = append(chain, u)
	}
	return chain
}

var imageExts = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"webp": true,
}

// ExpectedPath returns the asset path for a pin: <dir>/<pin_id>.<ext>,
// with the extension taken from the URL when it is a known image type
// and jpg otherwise.
func ExpectedPath(dir, pinID, imageURL string) string {
	ext := "jpg"
	if u, err := url.Parse(imageURL); err == nil {
		if e := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), ".")); imageExts[e] {
			ext = e
		}
	}
	return filepath.Join(dir, pinID+"."+ext)
}

// fileValid reports whether path holds a plausible image of at least
// minSize bytes. Partial writes and HTML interstitials saved by older
// runs fail the signature check and get re-downloaded.
func fileValid(path string, minSize int64) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() < minSize {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, 16)
	n, err := io.ReadFull(f, head)
	if err != nil && n < 12 {
		return false
	}
	_, ok := detectImageExt(head[:n])
	return ok
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// detectImageExt sniffs the leading bytes for a known image signature.
func detectImageExt(data []byte) (string, bool) {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "jpg", true
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "png", true
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return "gif", true
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "webp", true
	default:
		return "", false
	}
}
