package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sethvargo/go-retry"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36 Edg/138.0.0.0"

// UserAgent returns the browser identity presented to crawled sites, shared
// with the robots.txt client.
func UserAgent() string {
	return userAgent
}

// stealthHeaders presents a real top-level browser navigation.
var stealthHeaders = []string{
	"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8",
	"Accept-Encoding", "gzip, deflate, br",
	"Accept-Language", "en-US,en;q=0.9",
	"Cache-Control", "no-cache",
	"Pragma", "no-cache",
	"Sec-CH-UA", `"Not)A;Brand";v="8", "Chromium";v="138", "Microsoft Edge";v="138"`,
	"Sec-CH-UA-Mobile", "?0",
	"Sec-CH-UA-Platform", `"macOS"`,
	"Sec-Fetch-Dest", "document",
	"Sec-Fetch-Mode", "navigate",
	"Sec-Fetch-Site", "none",
	"Sec-Fetch-User", "?1",
	"Upgrade-Insecure-Requests", "1",
}

var blockedMarkers = []string{
	"captcha",
	"access denied",
	"verify you are human",
	"are you a robot",
	"cloudflare",
	"challenge-platform",
}

// Result is a successful page fetch.
type Result struct {
	URL            string
	HTML           string
	Status         int
	DiscoveredURLs []string
	Duration       time.Duration
}

// Fetcher renders pages in a real browser, waits for client-side content to
// settle, and discovers same-origin documentation links.
type Fetcher struct {
	browserURL string
	prefix     string
	robots     *Robots
	settle     time.Duration
	timeout    time.Duration
}

// Options configures the fetcher. Prefix is the canonicalized documentation
// root; discovered links outside it are dropped. Robots may be nil to skip
// the politeness gate.
type Options struct {
	BrowserURL string
	Prefix     string
	Robots     *Robots
}

func New(opts Options) *Fetcher {
	return &Fetcher{
		browserURL: opts.BrowserURL,
		prefix:     opts.Prefix,
		robots:     opts.Robots,
		settle:     3 * time.Second,
		timeout:    15 * time.Second,
	}
}

// Fetch loads one URL. Transient and blocked failures are retried up to
// three attempts with exponential backoff before surfacing.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	if f.robots != nil {
		allowed, err := f.robots.Allowed(ctx, rawURL)
		if err == nil && !allowed {
			return nil, &Error{Kind: KindPermanent, URL: rawURL, Err: fmt.Errorf("disallowed by robots.txt")}
		}
	}

	var result *Result
	backoff := retry.WithMaxRetries(2, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := f.fetchOnce(ctx, rawURL)
		if err != nil {
			var fe *Error
			if errors.As(err, &fe) && fe.Retryable() {
				return retry.RetryableError(err)
			}
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (*Result, error) {
	start := time.Now()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Kind: KindPermanent, URL: rawURL, Err: err}
	}

	browser := rod.New().Context(ctx).Timeout(f.timeout)
	if f.browserURL != "" {
		browser = browser.ControlURL(f.browserURL)
	}
	if err := browser.Connect(); err != nil {
		return nil, &Error{Kind: KindTransient, URL: rawURL, Err: fmt.Errorf("connect browser: %w", err)}
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, &Error{Kind: KindTransient, URL: rawURL, Err: fmt.Errorf("create page: %w", err)}
	}
	defer page.Close()

	if err := f.preparePage(page); err != nil {
		return nil, &Error{Kind: KindTransient, URL: rawURL, Err: err}
	}

	var response proto.NetworkResponseReceived
	wait := page.WaitEvent(&response)

	if err := page.Navigate(u.String()); err != nil {
		return nil, &Error{Kind: classifyNavError(err), URL: rawURL, Err: err}
	}
	wait()

	if err := page.WaitLoad(); err != nil {
		return nil, &Error{Kind: KindTransient, URL: rawURL, Err: fmt.Errorf("wait load: %w", err)}
	}

	// Client-side rendering settle window.
	select {
	case <-time.After(f.settle):
	case <-ctx.Done():
		return nil, &Error{Kind: KindTransient, URL: rawURL, Err: ctx.Err()}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, &Error{Kind: KindTransient, URL: rawURL, Err: fmt.Errorf("read html: %w", err)}
	}

	status := 0
	if response.Response != nil {
		status = response.Response.Status
	}
	if kind, bad := classifyStatus(status); bad {
		return nil, &Error{Kind: kind, URL: rawURL, Err: fmt.Errorf("status %d", status)}
	}
	if IsBlockedBody(html) {
		return nil, &Error{Kind: KindBlocked, URL: rawURL, Err: fmt.Errorf("challenge page detected")}
	}

	return &Result{
		URL:            rawURL,
		HTML:           html,
		Status:         status,
		DiscoveredURLs: discoverLinks(u, f.prefix, html),
		Duration:       time.Since(start),
	}, nil
}

func (f *Fetcher) preparePage(page *rod.Page) error {
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             1920,
		Height:            1080,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}

	if err := (proto.NetworkSetUserAgentOverride{UserAgent: userAgent}).Call(page); err != nil {
		return fmt.Errorf("set user agent: %w", err)
	}

	if _, err := page.SetExtraHeaders(stealthHeaders); err != nil {
		return fmt.Errorf("set headers: %w", err)
	}

	// Suppress the automation fingerprint before any page script runs.
	_, err := page.EvalOnNewDocument(`Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`)
	if err != nil {
		return fmt.Errorf("suppress automation flag: %w", err)
	}
	return nil
}

func discoverLinks(base *url.URL, prefix, html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return FilterLinks(base, prefix, hrefs)
}

// IsBlockedBody applies the challenge-page heuristic: a suspiciously short
// body containing anti-bot markers.
func IsBlockedBody(html string) bool {
	if len(html) >= 500 {
		return false
	}
	lower := strings.ToLower(html)
	for _, m := range blockedMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func classifyStatus(status int) (Kind, bool) {
	switch {
	case status == 0 || status < 400:
		return "", false
	case status == http.StatusTooManyRequests:
		return KindTransient, true
	case status < 500:
		return KindPermanent, true
	default:
		return KindTransient, true
	}
}

func classifyNavError(err error) Kind {
	msg := err.Error()
	if strings.Contains(msg, "ERR_NAME_NOT_RESOLVED") {
		return KindPermanent
	}
	return KindTransient
}
