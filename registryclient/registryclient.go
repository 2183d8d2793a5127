// Package registryclient is the HTTP client for a gem registry's JSON API
// (spec.md §4.D): per-gem version listing, detailed metadata for a single
// release, and the legacy bulk index. It pools connections per host, honors
// proxy configuration the way the rest of the Go ecosystem does, and caches
// the version listing in memory so the resolver's repeated queries for the
// same gem are O(1) after the first fetch.
package registryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http/httpproxy"
	"golang.org/x/time/rate"

	"github.com/vgem/vgem/bindex"
	"github.com/vgem/vgem/internal/vgerr"
	"github.com/vgem/vgem/obslog"
)

// VersionRecord is one entry in a gem's version listing, as returned by
// the versions endpoint.
type VersionRecord struct {
	Number       string            `json:"number"`
	Platform     string            `json:"platform"`
	RubyVersion  string            `json:"ruby_version"`
	Dependencies VersionDepListing `json:"dependencies"`
}

// VersionDepListing splits a version's dependencies by runtime/development,
// mirroring the registry's own grouping. Only Runtime feeds the resolver.
type VersionDepListing struct {
	Runtime     []DependencySpec `json:"runtime"`
	Development []DependencySpec `json:"development"`
}

// DependencySpec is a single named, range-constrained dependency as the
// registry reports it (range not yet parsed: the resolver parses it lazily
// through its own requirement cache).
type DependencySpec struct {
	Name         string `json:"name"`
	Requirements string `json:"requirements"`
}

// Metadata is the detailed per-release document, used for post-install
// messages and `gem info`-shaped commands, not by the resolver itself.
type Metadata struct {
	Name               string   `json:"name"`
	Version            string   `json:"number"`
	Platform           string   `json:"platform"`
	Authors            string   `json:"authors"`
	Summary            string   `json:"summary"`
	Homepage           string   `json:"homepage_uri"`
	Licenses           []string `json:"licenses"`
	PostInstallMessage string   `json:"post_install_message"`
}

// NotFoundError reports a 404 from the registry, or a cache-only miss.
type NotFoundError struct {
	Gem      string
	Location string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("gem not found: %s (searched %s)", e.Gem, e.Location)
}

// HTTPError reports a non-2xx, non-404 response.
type HTTPError struct {
	Gem    string
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d error fetching %s from %s", e.Status, e.Gem, e.URL)
}

// DiskCache is the persistent read-through cache a [Client] may be built
// with (spec.md SPEC_FULL.md §4.O); see package diskcache for the concrete
// SQLite-backed implementation.
type DiskCache interface {
	Get(ctx context.Context, source, name string) ([]VersionRecord, bool)
	Put(ctx context.Context, source, name string, records []VersionRecord)
}

// Options configures a [Client]. The zero value is usable: it talks to
// BaseURL with a 10s timeout, 5 redirects, no proxy override, and no disk
// cache.
type Options struct {
	BaseURL            string
	Timeout            time.Duration // default 10s
	MaxRedirects       int           // default 5
	ProxyURL           string        // overrides environment-derived proxy
	CACertPath         string
	ClientCertPath     string
	InsecureSkipVerify bool
	CacheOnly          bool
	IncludePrerelease  bool
	RateLimit          rate.Limit // requests/sec; 0 means unlimited
	Disk               DiskCache
}

// Client is a registry HTTP client with connection pooling and an
// in-memory version-listing cache, spec.md §4.D.
type Client struct {
	baseURL   string
	http      *http.Client
	cacheOnly bool
	prerelase bool
	limiter   *rate.Limiter
	disk      DiskCache

	mu    sync.RWMutex
	cache map[string][]VersionRecord

	bulkMu    sync.Mutex
	bulkCache []bindex.Record
}

// New constructs a Client per opts.
func New(opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	maxRedirects := opts.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = 5
	}

	transport, err := buildTransport(opts)
	if err != nil {
		return nil, vgerr.New(vgerr.KindInternal, "registryclient.New", "building transport", err)
	}

	hc := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(opts.RateLimit, 1)
	}

	return &Client{
		baseURL:   opts.BaseURL,
		http:      hc,
		cacheOnly: opts.CacheOnly,
		prerelase: opts.IncludePrerelease,
		limiter:   limiter,
		disk:      opts.Disk,
		cache:     make(map[string][]VersionRecord),
	}, nil
}

// buildTransport wires proxy resolution through golang.org/x/net/http/httpproxy
// so NO_PROXY semantics match the wider Go ecosystem, rather than hand
// parsing environment variables.
func buildTransport(opts Options) (*http.Transport, error) {
	cfg := httpproxy.FromEnvironment()
	if opts.ProxyURL != "" {
		cfg.HTTPProxy = opts.ProxyURL
		cfg.HTTPSProxy = opts.ProxyURL
	}

	t := &http.Transport{
		MaxIdleConnsPerHost: 10,
		Proxy: func(req *http.Request) (*url.URL, error) {
			return cfg.ProxyFunc()(req.URL)
		},
	}

	if opts.CACertPath != "" || opts.ClientCertPath != "" || opts.InsecureSkipVerify {
		tlsCfg, err := buildTLSConfig(opts)
		if err != nil {
			return nil, err
		}
		t.TLSClientConfig = tlsCfg
	}
	return t, nil
}

// FetchVersions implements spec.md §4.D's fetch_versions: GET
// /api/v1/versions/{name}.json, with the in-memory cache, optional disk
// cache, cache-only short-circuit, and post-cache prerelease filtering.
func (c *Client) FetchVersions(ctx context.Context, name string) ([]VersionRecord, error) {
	ctx, span := obslog.StartSpan(ctx, "registryclient", "FetchVersions")
	defer span.End()

	if records, ok := c.memGet(name); ok {
		return c.filterPrerelease(records), nil
	}

	if c.disk != nil {
		if records, ok := c.disk.Get(ctx, c.baseURL, name); ok {
			c.memPut(name, records)
			return c.filterPrerelease(records), nil
		}
	}

	if c.cacheOnly {
		return nil, &NotFoundError{Gem: name, Location: "cache"}
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/api/v1/versions/%s.json", c.baseURL, url.PathEscape(name))
	body, status, err := c.get(ctx, u)
	if err != nil {
		return nil, vgerr.New(vgerr.KindNetwork, "registryclient.FetchVersions", name, err)
	}
	if status == http.StatusNotFound {
		return nil, &NotFoundError{Gem: name, Location: c.baseURL}
	}
	if status < 200 || status >= 300 {
		return nil, &HTTPError{Gem: name, Status: status, URL: u}
	}

	var records []VersionRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, vgerr.New(vgerr.KindParse, "registryclient.FetchVersions", "decoding version listing for "+name, err)
	}

	c.memPut(name, records)
	if c.disk != nil {
		c.disk.Put(ctx, c.baseURL, name, records)
	}
	return c.filterPrerelease(records), nil
}

// FetchGemInfo implements fetch_gem_info: GET
// /api/v2/rubygems/{name}/versions/{version}.json.
func (c *Client) FetchGemInfo(ctx context.Context, name, version string) (Metadata, error) {
	ctx, span := obslog.StartSpan(ctx, "registryclient", "FetchGemInfo")
	defer span.End()

	if err := c.wait(ctx); err != nil {
		return Metadata{}, err
	}

	u := fmt.Sprintf("%s/api/v2/rubygems/%s/versions/%s.json", c.baseURL, url.PathEscape(name), url.PathEscape(version))
	body, status, err := c.get(ctx, u)
	if err != nil {
		return Metadata{}, vgerr.New(vgerr.KindNetwork, "registryclient.FetchGemInfo", name, err)
	}
	if status == http.StatusNotFound {
		return Metadata{}, &NotFoundError{Gem: name + "-" + version, Location: c.baseURL}
	}
	if status < 200 || status >= 300 {
		return Metadata{}, &HTTPError{Gem: name, Status: status, URL: u}
	}

	var m Metadata
	if err := json.Unmarshal(body, &m); err != nil {
		return Metadata{}, vgerr.New(vgerr.KindParse, "registryclient.FetchGemInfo", "decoding metadata for "+name, err)
	}
	return m, nil
}

// FetchBulkIndex implements fetch_bulk_index: GET the binary index
// resource, decode per §4.C, cache in-process for the client's lifetime.
func (c *Client) FetchBulkIndex(ctx context.Context, prerelease bool) ([]bindex.Record, error) {
	ctx, span := obslog.StartSpan(ctx, "registryclient", "FetchBulkIndex")
	defer span.End()

	c.bulkMu.Lock()
	defer c.bulkMu.Unlock()
	if c.bulkCache != nil {
		return c.bulkCache, nil
	}

	name := "specs.4.8.gz"
	if prerelease {
		name = "prerelease_specs.4.8.gz"
	}
	u := fmt.Sprintf("%s/%s", c.baseURL, name)

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, vgerr.New(vgerr.KindNetwork, "registryclient.FetchBulkIndex", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Gem: name, Status: resp.StatusCode, URL: u}
	}

	records, err := bindex.Decode(resp.Body)
	if err != nil {
		return nil, vgerr.New(vgerr.KindArchive, "registryclient.FetchBulkIndex", "decoding bulk index", err)
	}
	c.bulkCache = records
	return records, nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) memGet(name string) ([]VersionRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.cache[name]
	return r, ok
}

func (c *Client) memPut(name string, records []VersionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[name] = records
}

// filterPrerelease drops hyphenated (prerelease) version numbers unless
// the client was constructed with IncludePrerelease.
func (c *Client) filterPrerelease(records []VersionRecord) []VersionRecord {
	if c.prerelase {
		return records
	}
	out := make([]VersionRecord, 0, len(records))
	for _, r := range records {
		if !isPrerelease(r.Number) {
			out = append(out, r)
		}
	}
	return out
}

func isPrerelease(number string) bool {
	for i := 0; i < len(number); i++ {
		if number[i] == '-' {
			return true
		}
	}
	return false
}
