// Package collyfetcher implements the CONOCER JSON API client using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/renec-harvester/internal/hash/sha256"
	"github.com/JakeFAU/renec-harvester/internal/metrics"
	"github.com/JakeFAU/renec-harvester/internal/renec"
)

const (
	// DefaultBaseURL is the backend serving committee and standard records.
	DefaultBaseURL = "https://conocer.gob.mx/CONOCERBACKCITAS"
	// DefaultUserAgent mimics the browser the public portal expects.
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

	defaultTimeout = 30 * time.Second
	portalOrigin   = "https://conocer.gob.mx"
)

// Config controls collector behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// DetectChanges stamps every record with a digest of its upstream payload
	// so incremental runs can spot edited records.
	DetectChanges bool
}

// StatusError reports an unexpected HTTP status from the API.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.Code)
}

// Temporary reports whether a later attempt may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= http.StatusInternalServerError || e.Code == http.StatusTooManyRequests
}

// Client fetches committees, the standards index and standard descriptions.
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
	hasher        *sha256.Hasher
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type response struct {
	status int
	body   []byte
}

// New builds a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())

	return &Client{
		cfg:           cfg,
		baseCollector: c,
		hasher:        sha256.New(),
	}
}

// Committee fetches one committee by numeric id. Ids the API does not know
// yield an empty harvest.
func (c *Client) Committee(ctx context.Context, id string) (renec.Harvest, error) {
	n, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil || n <= 0 {
		return renec.Harvest{}, fmt.Errorf("invalid committee id %q", id)
	}
	url := fmt.Sprintf("%s/comites/%d", c.cfg.BaseURL, n)
	res, err := c.do(ctx, "committee", http.MethodGet, url, nil)
	if err != nil {
		return renec.Harvest{}, err
	}
	switch res.status {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound, http.StatusConflict:
		return renec.Harvest{}, nil
	default:
		return renec.Harvest{}, &StatusError{URL: url, Code: res.status}
	}

	payload, ok, err := decodeEnvelope(res.body)
	if err != nil {
		return renec.Harvest{}, fmt.Errorf("decode committee %d: %w", n, err)
	}
	if !ok {
		return renec.Harvest{}, nil
	}
	var wire committeeWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return renec.Harvest{}, fmt.Errorf("decode committee %d: %w", n, err)
	}
	com := wire.toCommittee(n)
	if com.Name == "" && len(com.Standards) == 0 {
		return renec.Harvest{}, nil
	}
	if com.SourceVersion, err = c.version(payload); err != nil {
		return renec.Harvest{}, err
	}
	return renec.Harvest{Committees: []renec.Committee{com}}, nil
}

// ListStandards returns every standard in the upstream index, sorted by code.
func (c *Client) ListStandards(ctx context.Context) ([]renec.IndexEntry, error) {
	url := c.cfg.BaseURL + "/sectoresProductivos/getEstandaresAll"
	res, err := c.do(ctx, "index", http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if res.status != http.StatusOK {
		return nil, &StatusError{URL: url, Code: res.status}
	}
	payload, ok, err := decodeEnvelope(res.body)
	if err != nil {
		return nil, fmt.Errorf("decode standards index: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("decode standards index: %w", err)
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([]renec.IndexEntry, 0, len(rows))
	for _, raw := range rows {
		var wire indexWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("decode standards index row: %w", err)
		}
		code := first(wire.Codigo, wire.Clave)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		version, err := c.version(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, renec.IndexEntry{Code: code, Title: first(wire.Titulo, wire.Nombre), Version: version})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// Standard fetches the description of one standard. The endpoint is picky
// about the request body, so the known variants are tried in turn. It returns
// renec.ErrNotFound when no variant yields a record.
func (c *Client) Standard(ctx context.Context, code string) (renec.ECStandard, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return renec.ECStandard{}, errors.New("empty standard code")
	}
	url := c.cfg.BaseURL + "/sectoresProductivos/getDescEstandar/" + code
	codeBody, err := json.Marshal(map[string]string{"codigo": code})
	if err != nil {
		return renec.ECStandard{}, fmt.Errorf("encode request body: %w", err)
	}

	var lastErr error
	for _, body := range [][]byte{nil, []byte("{}"), codeBody} {
		res, err := c.do(ctx, "standard", http.MethodPost, url, body)
		if err != nil {
			return renec.ECStandard{}, err
		}
		switch {
		case res.status == http.StatusNotFound:
			return renec.ECStandard{}, fmt.Errorf("standard %s: %w", code, renec.ErrNotFound)
		case res.status != http.StatusOK:
			lastErr = &StatusError{URL: url, Code: res.status}
			continue
		}
		payload, ok, err := decodeEnvelope(res.body)
		if err != nil {
			lastErr = fmt.Errorf("decode standard %s: %w", code, err)
			continue
		}
		if !ok {
			continue
		}
		std, ok, err := decodeStandard(payload, code)
		if err != nil {
			lastErr = fmt.Errorf("decode standard %s: %w", code, err)
			continue
		}
		if !ok {
			continue
		}
		if std.SourceVersion, err = c.version(payload); err != nil {
			return renec.ECStandard{}, err
		}
		return std, nil
	}
	if lastErr != nil {
		return renec.ECStandard{}, lastErr
	}
	return renec.ECStandard{}, fmt.Errorf("standard %s: %w", code, renec.ErrNotFound)
}

func (c *Client) version(payload json.RawMessage) (string, error) {
	if !c.cfg.DetectChanges {
		return "", nil
	}
	v, err := c.hasher.HashJSON(payload)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	return v, nil
}

func (c *Client) do(ctx context.Context, endpoint, method, url string, body []byte) (response, error) {
	var (
		res      response
		fetchErr error
	)
	collector := c.baseCollector.Clone()
	collector.UserAgent = c.cfg.UserAgent
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(c.cfg.Timeout)
	configureCollectorHooks(collector, &res, &fetchErr)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	visit := func() error {
		return collector.Request(method, url, reader, nil, c.headers(body != nil))
	}
	start := time.Now()
	err := runCollector(ctx, visit, &fetchErr)
	metrics.ObserveUpstream(endpoint, res.status, time.Since(start))
	if err != nil {
		return response{}, fmt.Errorf("%s %s: %w", method, url, err)
	}
	return res, nil
}

func (c *Client) headers(withBody bool) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "es-MX,es;q=0.9,en;q=0.8")
	h.Set("Origin", portalOrigin)
	h.Set("Referer", portalOrigin+"/conocer/")
	h.Set("User-Agent", c.cfg.UserAgent)
	if withBody {
		h.Set("Content-Type", "application/json")
	}
	return h
}

func configureCollectorHooks(hooks collectorHooks, res *response, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*res = response{status: r.StatusCode, body: append([]byte(nil), r.Body...)}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			*res = response{status: r.StatusCode, body: append([]byte(nil), r.Body...)}
			return
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, visit func() error, fetchErr *error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("colly fetch canceled: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
