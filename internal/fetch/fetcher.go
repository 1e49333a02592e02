// Package fetch performs the enrichment scrape against a resolved official
// domain. It is the only component that touches the business's website, and
// it only ever receives targets that passed the official-source resolver.
package fetch

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
)

// contactPaths are the pages most likely to carry contact details, probed
// after the homepage. Bounded by Options.MaxPages.
var contactPaths = []string{"/contact", "/contact-us", "/contato", "/fale-conosco", "/about", "/sobre"}

const maxBodyBytes = 512 * 1024

// Options configures the fetcher.
type Options struct {
	UserAgent string
	// MaxAttempts caps retries per page on transient failures.
	MaxAttempts int
	// Deadline bounds the total wall clock per task, all pages included.
	Deadline time.Duration
	// MaxPages bounds how many pages of the site are fetched.
	MaxPages int
	// PerHostRate throttles requests to a single host.
	PerHostRate rate.Limit
	PerHostBurst int
	// BreakerThreshold is the consecutive transient-failure count that opens
	// a host's circuit.
	BreakerThreshold int
	// BreakerReset is how long an open circuit waits before a probe.
	BreakerReset time.Duration
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = "prospector/1.0"
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Deadline <= 0 {
		o.Deadline = 60 * time.Second
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 4
	}
	if o.PerHostRate <= 0 {
		o.PerHostRate = 2
	}
	if o.PerHostBurst <= 0 {
		o.PerHostBurst = 2
	}
	if o.BreakerThreshold <= 0 {
		o.BreakerThreshold = 5
	}
	if o.BreakerReset <= 0 {
		o.BreakerReset = 30 * time.Second
	}
	return o
}

// Fetcher scrapes contact data from official sites with bounded retry,
// per-host rate limiting, and robots consent checking.
type Fetcher struct {
	opts   Options
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*resilience.CircuitBreaker

	// baseURL overrides the https://{domain} scheme+host for tests.
	baseURL string
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	opts = opts.withDefaults()
	return &Fetcher{
		opts: opts,
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

// WithBaseURL points the fetcher at a fixed base URL instead of
// https://{target.Domain}. Test hook for httptest servers.
func (f *Fetcher) WithBaseURL(u string) *Fetcher {
	f.baseURL = u
	return f
}

// Fetch scrapes target and returns the extracted enrichment data. Transient
// page failures are retried with backoff; fatal conditions (robots denial,
// TLS failure, 4xx on the homepage, anti-bot block) end the fetch at once.
func (f *Fetcher) Fetch(ctx context.Context, target model.ResolvedTarget) (*model.EnrichmentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Deadline)
	defer cancel()

	base := f.baseURL
	if base == "" {
		base = "https://" + target.Domain
	}

	log := zap.L().With(zap.String("domain", target.Domain))

	allowed, err := f.robotsAllowed(ctx, base)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: robots check")
	}
	if !allowed {
		return nil, resilience.Fatal(eris.Errorf("fetch: robots.txt disallows scraping %s", target.Domain))
	}

	result := &model.EnrichmentResult{Domain: target.Domain, FetchedAt: time.Now().UTC()}
	seen := make(map[string]bool)

	pages := make([]string, 0, 1+len(contactPaths))
	pages = append(pages, base)
	for _, p := range contactPaths {
		pages = append(pages, base+p)
	}

	for i, pageURL := range pages {
		if result.PagesFetched >= f.opts.MaxPages {
			break
		}
		if ctx.Err() != nil {
			break
		}

		body, fetchErr := f.fetchPage(ctx, pageURL)
		if fetchErr != nil {
			// The homepage must load for the fetch to count; secondary
			// contact paths are best-effort probes.
			if i == 0 {
				return nil, fetchErr
			}
			log.Debug("fetch: contact path unavailable", zap.String("url", pageURL), zap.Error(fetchErr))
			continue
		}
		result.PagesFetched++

		for _, email := range ExtractEmails(body) {
			if seen["email:"+email] {
				continue
			}
			seen["email:"+email] = true
			result.Emails = append(result.Emails, email)
			result.Sources = append(result.Sources, model.FieldSource{Field: "email", Value: email, SourceURL: pageURL})
		}
		for _, phone := range ExtractPhones(body) {
			if seen["phone:"+phone] {
				continue
			}
			seen["phone:"+phone] = true
			result.Phones = append(result.Phones, phone)
			result.Sources = append(result.Sources, model.FieldSource{Field: "phone", Value: phone, SourceURL: pageURL})
		}
	}

	if result.PagesFetched == 0 {
		return nil, eris.Errorf("fetch: no pages fetched for %s", target.Domain)
	}

	log.Info("fetch: complete",
		zap.Int("pages", result.PagesFetched),
		zap.Int("emails", len(result.Emails)),
		zap.Int("phones", len(result.Phones)),
	)
	return result, nil
}

// fetchPage retrieves one URL with retry on transient failures. The host's
// circuit breaker sits inside the retry loop; once it opens the remaining
// attempts fail fast without touching the host.
func (f *Fetcher) fetchPage(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", resilience.Fatal(eris.Wrap(err, "fetch: parse url"))
	}
	lim, breaker := f.hostControls(u.Host)

	retryCfg := resilience.RetryConfig{
		MaxAttempts:    f.opts.MaxAttempts,
		InitialBackoff: 250 * time.Millisecond,
		OnRetry:        resilience.RetryLogger("fetch", pageURL),
	}

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (string, error) {
		if err := lim.Wait(ctx); err != nil {
			return "", err
		}
		var body string
		execErr := breaker.Execute(ctx, func(ctx context.Context) error {
			var getErr error
			body, getErr = f.doGet(ctx, pageURL)
			return getErr
		})
		return body, execErr
	})
}

// hostControls returns the rate limiter and circuit breaker for a host,
// creating them on first sight.
func (f *Fetcher) hostControls(host string) (*rate.Limiter, *resilience.CircuitBreaker) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(f.opts.PerHostRate, f.opts.PerHostBurst)
		f.limiters[host] = lim
	}
	cb, ok := f.breakers[host]
	if !ok {
		cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: f.opts.BreakerThreshold,
			ResetTimeout:     f.opts.BreakerReset,
			// Only transient failures say anything about the host's health;
			// a page that is plainly gone must not open the circuit.
			ShouldTrip: resilience.IsTransient,
		})
		f.breakers[host] = cb
	}
	return lim, cb
}

func (f *Fetcher) doGet(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", resilience.Fatal(eris.Wrap(err, "fetch: create request"))
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", eris.Wrap(err, "fetch: read body")
	}
	body = decodeBody(resp, body)

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return "", resilience.Fatal(eris.Errorf("fetch: blocked (%s)", blockType))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return string(body), nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return "", resilience.Transient(eris.Errorf("fetch: status %d", resp.StatusCode), resp.StatusCode)
	default:
		return "", resilience.Fatal(eris.Errorf("fetch: status %d", resp.StatusCode))
	}
}

// classifyTransportError separates retryable network failures from fatal
// ones (certificate problems, DNS says the domain does not exist).
func classifyTransportError(err error) error {
	var certErr *x509.CertificateInvalidError
	var hostErr x509.HostnameError
	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) || errors.As(err, &unknownAuth) {
		return resilience.Fatal(eris.Wrap(err, "fetch: certificate invalid"))
	}
	if strings.Contains(err.Error(), "x509:") || strings.Contains(err.Error(), "certificate") {
		return resilience.Fatal(eris.Wrap(err, "fetch: certificate invalid"))
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return resilience.Fatal(eris.Wrap(err, "fetch: domain unreachable"))
	}

	if resilience.IsTransient(err) {
		return resilience.Transient(eris.Wrap(err, "fetch: request"), 0)
	}
	return eris.Wrap(err, "fetch: request")
}

// decodeBody converts a page body to UTF-8 using the charset the response
// declares. Missing, UTF-8, or unrecognized charsets pass the bytes through
// untouched.
func decodeBody(resp *http.Response, body []byte) []byte {
	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return body
	}
	name := params["charset"]
	if name == "" || strings.EqualFold(name, "utf-8") {
		return body
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return body
	}
	decoded, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(body)))
	if err != nil {
		return body
	}
	return decoded
}
