// Package collyfetcher downloads a seed page with gocolly and lists the hrefs
// of its anchors for link discovery.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/link-content-scraper/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Headers are added to every seed request.
	Headers http.Header
}

// Discoverer implements crawler.LinkDiscoverer using the Colly collector.
type Discoverer struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Discoverer.
func New(cfg Config) *Discoverer {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Discoverer{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// pageState accumulates collector callbacks for one visit.
type pageState struct {
	mu   sync.Mutex
	page crawler.SeedPage
	err  error
}

// Discover fetches seedURL and returns its markup and raw anchor hrefs in
// document order. Relative hrefs are returned as written; filtering is left
// to the caller. Error statuses are still parsed.
func (d *Discoverer) Discover(ctx context.Context, seedURL string) (crawler.SeedPage, error) {
	state := &pageState{}
	collector := d.buildCollector()
	d.configureCollectorHooks(collector, state)

	if err := d.runCollector(ctx, collector, seedURL, state); err != nil {
		return crawler.SeedPage{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.page, nil
}

func (d *Discoverer) buildCollector() *colly.Collector {
	collector := d.baseCollector.Clone()
	if d.cfg.UserAgent != "" {
		collector.UserAgent = d.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	timeout := d.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	transport := d.transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	collector.WithTransport(transport)
	return collector
}

func (d *Discoverer) configureCollectorHooks(hooks collectorHooks, state *pageState) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range d.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.mu.Lock()
		defer state.mu.Unlock()
		state.page.URL = r.Request.URL.String()
		state.page.StatusCode = r.StatusCode
		state.page.Body = append([]byte(nil), r.Body...)
	})

	hooks.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := strings.TrimSpace(e.Attr("href"))
		if href == "" {
			return
		}
		state.mu.Lock()
		defer state.mu.Unlock()
		state.page.Links = append(state.page.Links, href)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		state.mu.Lock()
		defer state.mu.Unlock()
		state.err = err
	})
}

func (d *Discoverer) runCollector(ctx context.Context, collector *colly.Collector, url string, state *pageState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly discover canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		state.mu.Lock()
		defer state.mu.Unlock()
		if state.err != nil {
			return fmt.Errorf("colly response failed: %w", state.err)
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
