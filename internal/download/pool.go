package download

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jfaulkner/pinharvest/internal/config"
	"github.com/jfaulkner/pinharvest/internal/metrics"
	"github.com/jfaulkner/pinharvest/internal/pin"
	"github.com/jfaulkner/pinharvest/internal/ratelimit"
)

// Stats aggregates pool outcomes. Workers update it through the pool's
// mutex, never through unsynchronized counters.
type Stats struct {
	Completed int
	Failed    int
	Bytes     int64
}

// Pool drains download jobs with a bounded set of workers. Fetchers are
// tried in order per attempt; the usual pairing is an anonymous fetcher
// first and a session-credentialed one second.
type Pool struct {
	repo     pin.Repository
	fetchers []pin.Fetcher
	cfg      config.DownloadConfig
	limiter  *ratelimit.Limiter
	logger   *zap.Logger

	sem chan struct{}

	mu    sync.Mutex
	stats Stats
}

// NewPool builds a pool. At least one fetcher is required.
func NewPool(repo pin.Repository, fetchers []pin.Fetcher, cfg config.DownloadConfig, logger *zap.Logger) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 15
	}
	cfg.Workers = workers
	return &Pool{
		repo:     repo,
		fetchers: fetchers,
		cfg:      cfg,
		limiter:  ratelimit.New(ratelimit.Config{DefaultRPS: cfg.HostRPS, DefaultBurst: cfg.HostBurst}),
		logger:   logger,
		sem:      make(chan struct{}, workers),
	}
}

// Run consumes jobs until the channel closes or the context ends, then
// returns the aggregate stats.
func (p *Pool) Run(ctx context.Context, jobs <-chan Job) Stats {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, jobs)
		}()
	}
	wg.Wait()
	return p.Snapshot()
}

// Snapshot returns a copy of the current counters.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Pool) worker(ctx context.Context, jobs <-chan Job) {
	poll := p.cfg.PollTimeout()
	if poll <= 0 {
		poll = time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			p.sem <- struct{}{}
			p.process(ctx, job)
			<-p.sem
		case <-time.After(poll):
			// Idle poll; go around and re-check the context.
		}
	}
}

func (p *Pool) process(ctx context.Context, job Job) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if err := p.repo.UpdateDownloadTaskStatus(ctx, job.Task.ID, pin.TaskStatusDownloading, "", 0, ""); err != nil {
		p.logger.Warn("mark task downloading failed", zap.Int64("task_id", job.Task.ID), zap.Error(err))
	}

	start := time.Now()
	res, derr := p.download(ctx, job.Candidates)
	if derr != nil {
		p.fail(ctx, job, derr)
		return
	}

	if err := writeAtomic(job.Path, res.Body); err != nil {
		p.fail(ctx, job, &pin.DownloadError{Kind: pin.DownloadConnectionFailed, URL: res.URL, Err: err})
		return
	}

	size := int64(len(res.Body))
	if err := p.repo.UpdateDownloadTaskStatus(ctx, job.Task.ID, pin.TaskStatusCompleted, job.Path, size, ""); err != nil {
		p.logger.Error("record completed task failed", zap.Int64("task_id", job.Task.ID), zap.Error(err))
		return
	}
	if err := p.repo.MarkPinDownloaded(ctx, job.PinID, job.Path); err != nil {
		p.logger.Warn("mark pin downloaded failed", zap.String("pin_id", job.PinID), zap.Error(err))
	}

	metrics.ObserveDownload("success")
	metrics.ObserveDownloadComplete(size, time.Since(start))
	p.mu.Lock()
	p.stats.Completed++
	p.stats.Bytes += size
	p.mu.Unlock()

	p.logger.Debug("asset downloaded",
		zap.String("pin_id", job.PinID),
		zap.String("url", res.URL),
		zap.Int64("bytes", size))
}

func (p *Pool) fail(ctx context.Context, job Job, derr *pin.DownloadError) {
	if err := p.repo.UpdateDownloadTaskStatus(ctx, job.Task.ID, pin.TaskStatusFailed, "", 0, derr.Error()); err != nil {
		p.logger.Error("record failed task failed", zap.Int64("task_id", job.Task.ID), zap.Error(err))
	}
	metrics.ObserveDownload("failed")
	p.mu.Lock()
	p.stats.Failed++
	p.mu.Unlock()
	p.logger.Warn("asset download failed",
		zap.String("pin_id", job.PinID),
		zap.Error(derr))
}

// download walks the candidate URLs in order. 404 means the size
// variant does not exist, so the URL is abandoned after one attempt;
// 403 rotates headers and backs off before retrying the same URL;
// timeouts and connection failures retry with exponential backoff up to
// the per-URL attempt cap. A body that is not a real image abandons the
// URL immediately.
func (p *Pool) download(ctx context.Context, candidates []string) (*pin.FetchResult, *pin.DownloadError) {
	maxAttempts := p.cfg.MaxAttemptsPerURL
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	base := time.Duration(p.cfg.BackoffInitialMs) * time.Millisecond
	ceiling := time.Duration(p.cfg.BackoffMaxMs) * time.Millisecond
	forbiddenMin := time.Duration(p.cfg.ForbiddenBackoffMinMs) * time.Millisecond
	forbiddenMax := time.Duration(p.cfg.ForbiddenBackoffMaxMs) * time.Millisecond

	var lastErr *pin.DownloadError
	for _, candidate := range candidates {
		headers := RandomHeaders()
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, &pin.DownloadError{Kind: pin.DownloadConnectionFailed, URL: candidate, Err: err}
			}

			res, derr := p.fetchOnce(ctx, candidate, headers)
			if derr == nil {
				return res, nil
			}
			lastErr = derr

			switch {
			case derr.Permanent():
				// The variant does not exist; no retry can change that.
			case derr.Kind == pin.DownloadHTTPStatus && derr.Status == http.StatusForbidden:
				if attempt < maxAttempts {
					metrics.ObserveDownloadRetry()
					headers = RandomHeaders()
					if err := ratelimit.Jitter(ctx, forbiddenMin, forbiddenMax); err != nil {
						return nil, lastErr
					}
					continue
				}
			case derr.Kind == pin.DownloadTimeout || derr.Kind == pin.DownloadConnectionFailed,
				derr.Kind == pin.DownloadHTTPStatus && derr.Status >= 500:
				if attempt < maxAttempts {
					metrics.ObserveDownloadRetry()
					select {
					case <-time.After(ratelimit.Backoff(attempt, base, ceiling)):
					case <-ctx.Done():
						return nil, lastErr
					}
					continue
				}
			case derr.Kind == pin.DownloadInvalidContent:
				// Interstitial or truncated body; the same URL will keep
				// serving it, move to the next size.
			}
			break
		}
	}
	if lastErr == nil {
		lastErr = &pin.DownloadError{Kind: pin.DownloadExhausted}
	}
	return nil, &pin.DownloadError{Kind: pin.DownloadExhausted, Err: lastErr}
}

// fetchOnce tries each configured fetcher in order and returns the first
// usable image response. Every attempt first takes a token from the
// target host's bucket so the workers share one pace per host.
func (p *Pool) fetchOnce(ctx context.Context, rawURL string, headers http.Header) (*pin.FetchResult, *pin.DownloadError) {
	var lastErr *pin.DownloadError
	for _, f := range p.fetchers {
		if err := p.limiter.Wait(ctx, rawURL); err != nil {
			return nil, &pin.DownloadError{Kind: pin.DownloadConnectionFailed, URL: rawURL, Err: err}
		}
		res, err := f.Fetch(ctx, rawURL, headers)
		derr := classify(rawURL, res, err, p.cfg.MinFileSize)
		if derr == nil {
			return res, nil
		}
		lastErr = derr
		if derr.Permanent() {
			// Every client will get the same 404.
			break
		}
	}
	return nil, lastErr
}

// writeAtomic lands the body under a temp name and renames it into
// place, so readers never observe a partial file.
func writeAtomic(dest string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Run wires a scheduler and a pool together over a bounded queue and
// blocks until every scheduled job has been resolved.
func Run(ctx context.Context, repo pin.Repository, fetchers []pin.Fetcher, cfg config.DownloadConfig, keyword, baseDir string, logger *zap.Logger) (ScheduleReport, Stats, error) {
	sched := NewScheduler(repo, cfg, keyword, baseDir, logger)
	pool := NewPool(repo, fetchers, cfg, logger)

	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 100
	}
	jobs := make(chan Job, depth)

	var (
		report  ScheduleReport
		prodErr error
		done    = make(chan struct{})
	)
	go func() {
		defer close(done)
		report, prodErr = sched.Produce(ctx, jobs)
		close(jobs)
	}()

	stats := pool.Run(ctx, jobs)
	<-done
	if prodErr != nil && ctx.Err() == nil {
		return report, stats, prodErr
	}
	return report, stats, ctx.Err()
}
