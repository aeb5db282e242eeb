// Package headless renders standard detail pages of the public portal with a
// headless browser and parses the certifier and training grids out of them.
package headless

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
	"github.com/chromedp/chromedp/kb"

	"github.com/JakeFAU/renec-harvester/internal/metrics"
)

const (
	// DefaultPortalURL is the single page app listing standards.
	DefaultPortalURL = "https://conocer.gob.mx/conocer/#/renec"

	searchInputSelector = `input[type="text"], input[placeholder*="Buscar"], input[placeholder*="buscar"]`
)

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	PortalURL         string
	// Settle is the pause after each navigation step while the app renders.
	Settle time.Duration
	// Visible runs the browser with a window, for debugging selectors.
	Visible bool
}

// PortalError reports that the portal shell itself answered with an error.
type PortalError struct {
	URL  string
	Code int
}

func (e *PortalError) Error() string {
	return fmt.Sprintf("portal %s answered %d", e.URL, e.Code)
}

// Temporary reports whether a later attempt may succeed.
func (e *PortalError) Temporary() bool {
	return e.Code >= http.StatusInternalServerError || e.Code == http.StatusTooManyRequests
}

// Renderer searches a standard on the portal, opens its detail view and
// returns the parsed grids.
type Renderer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a renderer backed by chromedp. The browser starts
// lazily on the first render.
func NewChromedp(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.PortalURL == "" {
		cfg.PortalURL = DefaultPortalURL
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 2 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Visible {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (f *Renderer) Close() {
	f.allocCancel()
}

// Detail renders the detail view of the standard with the given code.
func (f *Renderer) Detail(ctx context.Context, code string) (Detail, error) {
	code = strings.TrimSpace(code)
	if code == "" || strings.ContainsAny(code, `"'<>`) {
		return Detail{}, fmt.Errorf("invalid standard code %q", code)
	}
	if err := f.acquire(ctx); err != nil {
		return Detail{}, err
	}
	defer f.release()
	metrics.IncRenderSlots()
	defer metrics.DecRenderSlots()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout())
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var html string
	if err := chromedp.Run(taskCtx, f.actions(code, &html)...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Detail{}, fmt.Errorf("render %s: %w", code, ctxErr)
		}
		if status, url := meta.snapshot(); status >= http.StatusBadRequest {
			return Detail{}, &PortalError{URL: url, Code: status}
		}
		return Detail{}, fmt.Errorf("chromedp run: %w", err)
	}
	detail, err := ParseDetail(strings.NewReader(html))
	if err != nil {
		return Detail{}, err
	}
	if detail.Empty() {
		return Detail{}, errors.New("detail view rendered without content")
	}
	return detail, nil
}

func (f *Renderer) actions(code string, html *string) []chromedp.Action {
	return []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(f.cfg.PortalURL),
		chromedp.WaitVisible(searchInputSelector, chromedp.ByQuery),
		chromedp.SendKeys(searchInputSelector, code+kb.Enter, chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Click(resultXPath(code), chromedp.BySearch, chromedp.NodeVisible),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.OuterHTML("html", html, chromedp.ByQuery),
	}
}

// resultXPath matches the search result entry carrying code.
func resultXPath(code string) string {
	return fmt.Sprintf(`//*[not(self::input) and not(self::script) and contains(normalize-space(text()), "%s")]`, code)
}

func (f *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		headers := http.Header{"Accept-Language": {"es-MX", "es;q=0.9"}}
		if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

func (f *Renderer) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Renderer) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Renderer) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

// responseMeta remembers the status of the portal document.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		headers[key] = strings.Join(values, ",")
	}
	return headers
}
