// Package acquire drives harvesting: strategy selection, scroll-extraction
// of rendered pages, credential-captured API paging, and the hybrid
// expansion phase over pin detail pages.
package acquire

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/jfaulkner/pinharvest/internal/extract"
	"github.com/jfaulkner/pinharvest/internal/metrics"
	"github.com/jfaulkner/pinharvest/internal/pin"
	"github.com/jfaulkner/pinharvest/internal/ratelimit"
)

// pinGridSelector matches the search grid across site revisions.
const pinGridSelector = "div[data-test-id='pin'], div[data-test-id='pin-card'], div[role='listitem']"

const (
	scrollStep       = 1200
	recoveryUpStep   = -600
	recoveryDownStep = 2400
)

// Config bounds one coordinator run.
type Config struct {
	SmallTarget           int
	MediumTarget          int
	SmallScrollBudget     int
	MediumScrollBudget    int
	StagnantScrollLimit   int
	ExpansionScrollBudget int
	ExpansionStagnantMax  int
	FruitlessSeedLimit    int
	APIPageSize           int
	APIDelayMin           time.Duration
	APIDelayMax           time.Duration
	SelectorTimeout       time.Duration
}

// Result aggregates what one run produced.
type Result struct {
	Added           int
	Duplicates      int
	PersistFailures int
	APIPages        int
	Strategy        Strategy
	// Credentials captured during API paging, reusable by later
	// session-authenticated fetches. Nil when no capture happened.
	Credentials *pin.Credentials
}

// Coordinator harvests records for one session. It is single-goroutine: one
// browser drives sequential navigation and scrolling.
type Coordinator struct {
	browser pin.Browser
	repo    pin.Repository
	fetcher pin.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New creates a Coordinator. fetcher may be nil, which disables API mode.
func New(browser pin.Browser, repo pin.Repository, fetcher pin.Fetcher, cfg Config, logger *zap.Logger) *Coordinator {
	return &Coordinator{browser: browser, repo: repo, fetcher: fetcher, cfg: cfg, logger: logger}
}

// SearchURL builds the search page URL for a keyword.
func SearchURL(keyword string) string {
	return "https://www.pinterest.com/search/pins/?q=" + url.QueryEscape(keyword)
}

// Run harvests up to remaining new records for the session. Every record is
// persisted individually the moment it is extracted; the returned Result
// reflects only durably written rows.
func (c *Coordinator) Run(ctx context.Context, keyword, searchURL, sessionID string, remaining int) (Result, error) {
	res := Result{Strategy: ChooseStrategy(remaining, c.cfg.SmallTarget, c.cfg.MediumTarget)}
	if remaining <= 0 {
		return res, nil
	}

	ids, err := c.repo.PinIDs(ctx, keyword)
	if err != nil {
		return res, fmt.Errorf("seed baseline ids: %w", err)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}

	c.logger.Info("acquisition starting",
		zap.String("strategy", res.Strategy.String()),
		zap.Int("remaining", remaining),
		zap.Int("baseline", len(seen)))

	var phase1Seeds []string

	if res.Strategy == StrategyHybrid && c.fetcher != nil {
		seeds, err := c.runAPIPhase(ctx, keyword, searchURL, sessionID, seen, remaining, &res)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			// API mode is an optimization; its failure downgrades to scroll.
			c.logger.Warn("api phase failed, falling back to scroll",
				zap.Error(&pin.AcquisitionError{Phase: "api paging", Err: err}))
		}
		phase1Seeds = append(phase1Seeds, seeds...)
	}

	if res.Added < remaining {
		policy := ScrollPolicy{MaxScrolls: c.scrollBudget(res.Strategy), StagnantLimit: c.cfg.StagnantScrollLimit}
		seeds, err := c.harvestPage(ctx, searchURL, policy, "search", keyword, sessionID, seen, remaining, &res)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			// The failure ends this phase only; rows already written stay
			// counted and later phases still run.
			c.logger.Warn("search scroll phase ended early",
				zap.Error(&pin.AcquisitionError{Phase: "search scroll", Err: err}))
		}
		phase1Seeds = append(phase1Seeds, seeds...)
	}

	if res.Strategy == StrategyHybrid && res.Added < remaining {
		if err := c.runExpansionPhase(ctx, keyword, sessionID, seen, remaining, phase1Seeds, &res); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, &pin.AcquisitionError{Phase: "expansion", Err: err}
		}
	}

	c.logger.Info("acquisition finished",
		zap.Int("added", res.Added),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("persist_failures", res.PersistFailures))
	return res, nil
}

func (c *Coordinator) scrollBudget(s Strategy) int {
	if s == StrategyScroll {
		return c.cfg.SmallScrollBudget
	}
	return c.cfg.MediumScrollBudget
}

// harvestPage navigates to pageURL and runs one scroll-extract loop under
// the given policy. It returns the IDs of records it added.
func (c *Coordinator) harvestPage(ctx context.Context, pageURL string, policy ScrollPolicy, phase, keyword, sessionID string, seen map[string]struct{}, want int, res *Result) ([]string, error) {
	if err := c.browser.Navigate(ctx, pageURL); err != nil {
		return nil, err
	}
	found, err := c.browser.WaitForSelector(ctx, pinGridSelector, c.cfg.SelectorTimeout)
	if err != nil {
		return nil, err
	}
	if !found {
		// Extraction may still succeed from embedded state JSON.
		c.logger.Debug("pin grid never appeared", zap.String("url", pageURL))
	}

	machine := NewScrollMachine(policy)
	var added []string
	for {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		html, err := c.browser.PageSource(ctx)
		if err != nil {
			return added, err
		}
		pins, err := extract.Pins(html)
		if err != nil {
			return added, err
		}
		newIDs := c.persistNew(ctx, pins, keyword, sessionID, seen, res)
		added = append(added, newIDs...)
		metrics.ObserveScroll(phase)

		state := machine.Observe(len(newIDs))
		if res.Added >= want || machine.Done() {
			return added, nil
		}

		switch state {
		case StateScrolling:
			if err := c.browser.Scroll(ctx, scrollStep); err != nil {
				return added, err
			}
			if err := ratelimit.Jitter(ctx, 600*time.Millisecond, 1200*time.Millisecond); err != nil {
				return added, err
			}
		case StateStalled:
			// Give lazy loading a longer settle before re-extracting.
			if err := ratelimit.Jitter(ctx, 1500*time.Millisecond, 2500*time.Millisecond); err != nil {
				return added, err
			}
		case StateRecovering:
			if err := c.browser.Scroll(ctx, recoveryUpStep); err != nil {
				return added, err
			}
			if err := c.browser.Scroll(ctx, recoveryDownStep); err != nil {
				return added, err
			}
			if err := ratelimit.Jitter(ctx, 1000*time.Millisecond, 2000*time.Millisecond); err != nil {
				return added, err
			}
		}
	}
}

// runAPIPhase captures credentials from one rendered page and pages the
// search API with the opaque bookmark cursor echoed back verbatim.
func (c *Coordinator) runAPIPhase(ctx context.Context, keyword, searchURL, sessionID string, seen map[string]struct{}, want int, res *Result) ([]string, error) {
	creds, err := c.browser.CaptureCredentials(ctx, searchURL)
	if err != nil {
		return nil, err
	}
	c.logger.Info("credentials captured", zap.String("api_url", creds.APIURL))
	res.Credentials = creds

	// The search URL carries the human query; the keyword argument is the
	// sanitized partition key and may differ (underscores for spaces).
	query := keyword
	if u, err := url.Parse(searchURL); err == nil {
		if q := u.Query().Get("q"); q != "" {
			query = q
		}
	}

	var (
		added    []string
		bookmark string
		first    = true
	)
	for res.Added < want {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		reqURL, headers, err := buildAPIRequest(creds, query, bookmark, c.cfg.APIPageSize)
		if err != nil {
			return added, err
		}
		fres, err := c.fetcher.Fetch(ctx, reqURL, headers)
		if err != nil {
			return added, err
		}
		if fres.StatusCode != 200 {
			return added, fmt.Errorf("api page returned HTTP %d", fres.StatusCode)
		}
		page, err := parseAPIResponse(fres.Body)
		if err != nil {
			return added, err
		}
		res.APIPages++
		metrics.ObserveAPIPage()

		pins := make([]pin.Pin, 0, len(page.records))
		for _, record := range page.records {
			pins = append(pins, extract.FromAPI(record))
		}
		newIDs := c.persistNew(ctx, pins, keyword, sessionID, seen, res)
		added = append(added, newIDs...)

		if len(newIDs) == 0 && !first {
			c.logger.Debug("api page yielded nothing new, stopping")
			break
		}
		first = false
		if page.exhausted() {
			break
		}
		bookmark = page.bookmark

		if err := ratelimit.Jitter(ctx, c.cfg.APIDelayMin, c.cfg.APIDelayMax); err != nil {
			return added, err
		}
	}
	return added, nil
}

// runExpansionPhase walks a FIFO queue of seed pins, scrolling each seed's
// detail page for related records. Newly found pins join the queue. The
// phase ends on target, queue exhaustion, or too many consecutive seeds
// yielding nothing.
func (c *Coordinator) runExpansionPhase(ctx context.Context, keyword, sessionID string, seen map[string]struct{}, want int, seeds []string, res *Result) error {
	queue := append([]string(nil), seeds...)
	visited := make(map[string]struct{}, len(queue))
	policy := ScrollPolicy{MaxScrolls: c.cfg.ExpansionScrollBudget, StagnantLimit: c.cfg.ExpansionStagnantMax}

	fruitless := 0
	for len(queue) > 0 && res.Added < want {
		if err := ctx.Err(); err != nil {
			return err
		}
		if fruitless >= c.cfg.FruitlessSeedLimit {
			c.logger.Info("expansion exhausted", zap.Int("fruitless_seeds", fruitless))
			return nil
		}

		seed := queue[0]
		queue = queue[1:]
		if _, done := visited[seed]; done {
			continue
		}
		visited[seed] = struct{}{}

		detailURL := "https://www.pinterest.com/pin/" + seed + "/"
		newIDs, err := c.harvestPage(ctx, detailURL, policy, "expansion", keyword, sessionID, seen, want, res)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			// One bad seed never ends the phase.
			c.logger.Warn("seed expansion failed",
				zap.String("seed", seed),
				zap.Error(&pin.AcquisitionError{Phase: "expansion", Err: err}))
			fruitless++
			continue
		}
		if len(newIDs) == 0 {
			fruitless++
			continue
		}
		fruitless = 0
		queue = append(queue, newIDs...)
	}
	return nil
}

// persistNew writes each unseen record immediately and returns the IDs that
// became new rows. Per-pin persistence failures are logged and counted,
// never propagated.
func (c *Coordinator) persistNew(ctx context.Context, pins []pin.Pin, keyword, sessionID string, seen map[string]struct{}, res *Result) []string {
	var added []string
	for _, p := range pins {
		if p.ID == "" {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			res.Duplicates++
			continue
		}
		saved, err := c.repo.SavePin(ctx, p, keyword, sessionID)
		if err != nil {
			res.PersistFailures++
			metrics.ObservePinSaved("error")
			c.logger.Warn("pin write skipped",
				zap.String("pin_id", p.ID),
				zap.Error(&pin.PersistenceError{Op: "save pin", Err: err}))
			continue
		}
		seen[p.ID] = struct{}{}
		if saved {
			res.Added++
			added = append(added, p.ID)
			metrics.ObservePinSaved("saved")
		} else {
			res.Duplicates++
			metrics.ObservePinSaved("duplicate")
		}
	}
	return added
}
