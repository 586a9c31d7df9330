// Package browser implements pin.Browser on chromedp and headless Chrome.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/jfaulkner/pinharvest/internal/pin"
)

// searchAPIMarker identifies the frontend's paginated search request; the
// first request containing it is the template for API-mode harvesting.
const searchAPIMarker = "BaseSearchResource"

// Config controls the managed Chrome instance.
type Config struct {
	Headless   bool
	Proxy      string
	UserAgent  string
	NavTimeout time.Duration
}

// Chrome owns one browser process and a single page used for navigation,
// scrolling and credential capture. It is not safe for concurrent use; the
// acquisition loop is single-goroutine.
type Chrome struct {
	cfg    Config
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New creates an unstarted Chrome wrapper.
func New(cfg Config, logger *zap.Logger) *Chrome {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	return &Chrome{cfg: cfg, logger: logger}
}

// Start launches the browser process and opens the working tab.
func (c *Chrome) Start(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if c.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if c.cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(c.cfg.Proxy))
	}
	if c.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	c.allocCancel = allocCancel
	c.browserCtx = browserCtx
	c.browserCancel = browserCancel

	// An empty Run starts the process so later calls fail fast if Chrome is
	// missing.
	if err := c.run(ctx, c.cfg.NavTimeout, network.Enable()); err != nil {
		c.Close()
		return fmt.Errorf("start browser: %w", err)
	}
	c.logger.Debug("browser started", zap.Bool("headless", c.cfg.Headless))
	return nil
}

// Navigate loads url in the working tab and waits for the document body.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	err := c.run(ctx, c.cfg.NavTimeout,
		c.headerSetup(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Scroll moves the viewport down by pixels.
func (c *Chrome) Scroll(ctx context.Context, pixels int) error {
	script := fmt.Sprintf("window.scrollBy(0, %d)", pixels)
	if err := c.run(ctx, c.cfg.NavTimeout, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

// PageSource returns the rendered DOM of the working tab.
func (c *Chrome) PageSource(ctx context.Context) (string, error) {
	var html string
	err := c.run(ctx, c.cfg.NavTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err != nil {
		return "", fmt.Errorf("page source: %w", err)
	}
	return html, nil
}

// WaitForSelector waits until the selector is visible. It returns false
// without error on timeout so callers can treat absence as a signal.
func (c *Chrome) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	err := c.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	return false, fmt.Errorf("wait for %s: %w", selector, err)
}

// CaptureCredentials loads one real search page while listening for the
// frontend's own paginated search request, then snapshots its URL, headers
// and cookies as the template for API-mode paging.
func (c *Chrome) CaptureCredentials(ctx context.Context, searchURL string) (*pin.Credentials, error) {
	if c.browserCtx == nil {
		return nil, errors.New("browser not started")
	}

	var (
		mu       sync.Mutex
		captured *pin.Credentials
	)
	listenCtx, stopListening := context.WithCancel(c.browserCtx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, func(ev any) {
		req, ok := ev.(*network.EventRequestWillBeSent)
		if !ok || req.Request == nil {
			return
		}
		if !strings.Contains(req.Request.URL, searchAPIMarker) {
			return
		}
		headers := http.Header{}
		for k, v := range req.Request.Headers {
			headers.Set(k, fmt.Sprint(v))
		}
		mu.Lock()
		if captured == nil {
			captured = &pin.Credentials{
				APIURL:  req.Request.URL,
				Headers: headers,
			}
		}
		mu.Unlock()
	})

	if err := c.Navigate(ctx, searchURL); err != nil {
		return nil, err
	}

	// The frontend fires the search request during or shortly after load.
	deadline := time.Now().Add(c.cfg.NavTimeout)
	for {
		mu.Lock()
		got := captured
		mu.Unlock()
		if got != nil {
			break
		}
		if time.Now().After(deadline) {
			return nil, &pin.AcquisitionError{Phase: "credential capture", Err: errors.New("search API request never observed")}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	cookies, err := c.cookies(ctx)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	captured.Cookies = cookies
	captured.DataTemplate = pin.ParseRequestData(captured.APIURL)
	return captured, nil
}

// Close tears down the tab and the browser process.
func (c *Chrome) Close() error {
	if c.browserCancel != nil {
		c.browserCancel()
		c.browserCancel = nil
	}
	if c.allocCancel != nil {
		c.allocCancel()
		c.allocCancel = nil
	}
	return nil
}

func (c *Chrome) cookies(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	err := c.run(ctx, c.cfg.NavTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return fmt.Errorf("get cookies: %w", err)
		}
		for _, ck := range cookies {
			out[ck.Name] = ck.Value
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Chrome) headerSetup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if c.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// run executes actions against the working tab with a timeout, honoring the
// caller's context for cancellation.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if c.browserCtx == nil {
		return errors.New("browser not started")
	}
	runCtx, cancel := context.WithTimeout(c.browserCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
