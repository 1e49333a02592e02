package fetch

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
)

// robotsAllowed fetches {base}/robots.txt and reports whether the site
// consents to our crawling at all. An explicit "Disallow: /" for * or for
// our user agent is a consent denial and terminates the task without retry.
// A missing or unreadable robots.txt counts as allowed; only an explicit
// denial blocks.
func (f *Fetcher) robotsAllowed(ctx context.Context, base string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/robots.txt", nil)
	if err != nil {
		return false, eris.Wrap(err, "fetch: robots request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		// Unreachable robots endpoint is not a denial; the page fetch will
		// surface real connectivity problems with proper classification.
		return true, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return true, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return true, nil
	}

	return robotsPermitsRoot(string(body), f.opts.UserAgent), nil
}

// robotsPermitsRoot parses the minimal subset of robots.txt the fetcher
// needs: whether the root path is disallowed for * or for our agent.
func robotsPermitsRoot(robots, userAgent string) bool {
	agent := strings.ToLower(userAgent)
	if i := strings.IndexByte(agent, '/'); i > 0 {
		agent = agent[:i]
	}

	appliesToUs := false
	scanner := bufio.NewScanner(strings.NewReader(robots))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field = strings.ToLower(strings.TrimSpace(field))
		value = strings.TrimSpace(value)

		switch field {
		case "user-agent":
			ua := strings.ToLower(value)
			appliesToUs = ua == "*" || strings.Contains(agent, ua)
		case "disallow":
			if appliesToUs && value == "/" {
				return false
			}
		}
	}
	return true
}
