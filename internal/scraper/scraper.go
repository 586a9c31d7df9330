// Package scraper is the top-level orchestrator: it takes a keyword and a
// target count and drives locking, persistence, session resolution,
// acquisition and asset download end to end.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jfaulkner/pinharvest/internal/acquire"
	"github.com/jfaulkner/pinharvest/internal/browser"
	"github.com/jfaulkner/pinharvest/internal/clock/system"
	"github.com/jfaulkner/pinharvest/internal/config"
	"github.com/jfaulkner/pinharvest/internal/download"
	"github.com/jfaulkner/pinharvest/internal/id/uuid"
	"github.com/jfaulkner/pinharvest/internal/lock"
	"github.com/jfaulkner/pinharvest/internal/pin"
	"github.com/jfaulkner/pinharvest/internal/session"
	"github.com/jfaulkner/pinharvest/internal/storage/sqlite"
)

// Report summarizes one Scrape run.
type Report struct {
	Keyword     string
	SessionID   string
	Resumed     bool
	Strategy    string
	Added       int
	Duplicates  int
	TotalCached int
	Status      pin.SessionStatus
	Schedule    download.ScheduleReport
	Downloads   download.Stats
	Elapsed     time.Duration
}

// Scraper wires the subsystems together for one process. Construction is
// cheap; all heavy resources are opened per Scrape call and released
// before it returns.
type Scraper struct {
	cfg    config.Config
	logger *zap.Logger
	clock  pin.Clock

	lock       pin.ProcessLock
	openRepo   func(keyword string) (pin.Repository, error)
	newBrowser func() pin.Browser
	newFetcher func() (pin.Fetcher, error)
}

// New builds a Scraper with production factories.
func New(cfg config.Config, logger *zap.Logger) *Scraper {
	clk := system.New()
	s := &Scraper{
		cfg:    cfg,
		logger: logger,
		clock:  clk,
		lock:   lock.New(cfg.Output.Dir, logger),
	}
	s.openRepo = func(keyword string) (pin.Repository, error) {
		return sqlite.Open(cfg.Output.Dir, keyword, clk, uuid.New(), logger)
	}
	s.newBrowser = func() pin.Browser {
		return browser.New(browser.Config{
			Headless:   cfg.Browser.Headless,
			Proxy:      cfg.Browser.Proxy,
			UserAgent:  cfg.Browser.UserAgent,
			NavTimeout: time.Duration(cfg.Browser.NavTimeoutSec) * time.Second,
		}, logger)
	}
	s.newFetcher = func() (pin.Fetcher, error) {
		return download.NewCollyFetcher(cfg.FetchTimeout(), cfg.Browser.Proxy)
	}
	return s
}

// Scrape acquires up to target pins for the keyword (or search URL) and,
// when configured, downloads their assets. It returns the pins now cached
// for the keyword, capped at target.
func (s *Scraper) Scrape(ctx context.Context, keywordOrURL string, target int) ([]pin.Pin, Report, error) {
	start := time.Now()

	query, keyword, err := NormalizeKeyword(keywordOrURL)
	if err != nil {
		return nil, Report{}, err
	}
	report := Report{Keyword: keyword}
	log := s.logger.With(zap.String("keyword", keyword))

	ok, err := s.lock.Acquire(keyword)
	if err != nil {
		return nil, report, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, report, fmt.Errorf("keyword %q: %w", keyword, pin.ErrLockContention)
	}
	defer func() {
		if err := s.lock.Release(keyword); err != nil {
			log.Warn("release run lock failed", zap.Error(err))
		}
	}()

	repo, err := s.openRepo(keyword)
	if err != nil {
		return nil, report, err
	}
	defer repo.Close()

	mgr := session.New(repo, log)
	decision, err := mgr.StartOrResume(ctx, keyword, target, s.cfg.Output.Dir, s.cfg.Output.DownloadImages)
	if err != nil {
		return nil, report, err
	}
	report.SessionID = decision.SessionID
	report.Resumed = decision.Resumed
	report.Status = pin.SessionStatusCompleted

	var creds *pin.Credentials
	if !decision.Satisfied {
		res, runErr := s.runAcquisition(ctx, repo, log, keyword, query, decision)
		report.Added = res.Added
		report.Duplicates = res.Duplicates
		report.Strategy = res.Strategy.String()
		creds = res.Credentials

		// Session finalization must survive the cancellation that may
		// have ended acquisition.
		finCtx := context.WithoutCancel(ctx)
		switch {
		case runErr == nil:
			if err := mgr.Complete(finCtx, decision.SessionID, keyword); err != nil {
				return nil, report, err
			}
		case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
			report.Status = pin.SessionStatusInterrupted
			if err := mgr.Interrupt(finCtx, decision.SessionID, keyword); err != nil {
				log.Error("mark session interrupted failed", zap.Error(err))
			}
			report.Elapsed = time.Since(start)
			return nil, report, runErr
		default:
			report.Status = pin.SessionStatusFailed
			if err := mgr.Fail(finCtx, decision.SessionID, keyword); err != nil {
				log.Error("mark session failed failed", zap.Error(err))
			}
			report.Elapsed = time.Since(start)
			return nil, report, runErr
		}
	} else {
		log.Info("target already satisfied from cache", zap.Int("target", target))
	}

	if s.cfg.Output.DownloadImages {
		if err := s.runDownloads(ctx, repo, log, keyword, creds, &report); err != nil {
			report.Elapsed = time.Since(start)
			return nil, report, err
		}
	}

	report.TotalCached, err = repo.CountPins(ctx, keyword)
	if err != nil {
		return nil, report, err
	}
	pins, err := repo.LoadPinsByQuery(ctx, keyword, target, 0)
	if err != nil {
		return nil, report, err
	}
	report.Elapsed = time.Since(start)

	log.Info("scrape finished",
		zap.String("status", string(report.Status)),
		zap.Int("added", report.Added),
		zap.Int("total_cached", report.TotalCached),
		zap.Int("downloads_completed", report.Downloads.Completed),
		zap.Duration("elapsed", report.Elapsed))
	return pins, report, nil
}

func (s *Scraper) runAcquisition(ctx context.Context, repo pin.Repository, log *zap.Logger, keyword, query string, decision session.Decision) (acquire.Result, error) {
	br := s.newBrowser()
	if err := br.Start(ctx); err != nil {
		return acquire.Result{}, fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if err := br.Close(); err != nil {
			log.Warn("browser close failed", zap.Error(err))
		}
	}()

	fetcher, err := s.newFetcher()
	if err != nil {
		return acquire.Result{}, err
	}

	coord := acquire.New(br, repo, fetcher, s.acquireConfig(), log)
	return coord.Run(ctx, keyword, acquire.SearchURL(query), decision.SessionID, decision.Remaining)
}

func (s *Scraper) runDownloads(ctx context.Context, repo pin.Repository, log *zap.Logger, keyword string, creds *pin.Credentials, report *Report) error {
	anon, err := s.newFetcher()
	if err != nil {
		return err
	}
	fetchers := []pin.Fetcher{anon}
	if creds != nil {
		fetchers = append(fetchers, download.NewSessionFetcher(anon, creds))
	}

	schedule, stats, err := download.Run(ctx, repo, fetchers, s.cfg.Download, keyword, s.cfg.Output.Dir, log)
	report.Schedule = schedule
	report.Downloads = stats
	if err != nil {
		return fmt.Errorf("download assets: %w", err)
	}
	if schedule.Healed > 0 {
		log.Warn("healed tasks whose files had gone missing", zap.Int("healed", schedule.Healed))
	}
	return nil
}

func (s *Scraper) acquireConfig() acquire.Config {
	a := s.cfg.Acquire
	return acquire.Config{
		SmallTarget:           a.SmallTarget,
		MediumTarget:          a.MediumTarget,
		SmallScrollBudget:     a.SmallScrollBudget,
		MediumScrollBudget:    a.MediumScrollBudget,
		StagnantScrollLimit:   a.StagnantScrollLimit,
		ExpansionScrollBudget: a.ExpansionScrollBudget,
		ExpansionStagnantMax:  a.ExpansionStagnantMax,
		FruitlessSeedLimit:    a.FruitlessSeedLimit,
		APIPageSize:           a.APIPageSize,
		APIDelayMin:           time.Duration(a.APIDelayMinMs) * time.Millisecond,
		APIDelayMax:           time.Duration(a.APIDelayMaxMs) * time.Millisecond,
		SelectorTimeout:       time.Duration(s.cfg.Browser.SelectorTimeoutSec) * time.Second,
	}
}

// NormalizeKeyword accepts a plain keyword or a search URL and returns the
// human search query alongside the filesystem-safe partition key.
func NormalizeKeyword(input string) (string, string, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return "", "", errors.New("keyword is required")
	}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", "", fmt.Errorf("parse search url: %w", err)
		}
		if q := u.Query().Get("q"); q != "" {
			raw = q
		} else {
			segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
			if len(segments) == 0 {
				return "", "", fmt.Errorf("no keyword in url %q", input)
			}
			raw = segments[len(segments)-1]
		}
	}
	return raw, pin.SanitizeKeyword(raw), nil
}
