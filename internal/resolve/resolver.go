// Package resolve validates that a candidate's claimed website is the
// business's own official site and extracts the single canonical domain the
// fetcher may contact.
//
// This is the compliance-critical boundary of the pipeline: the resolver can
// only ever narrow to one provider-verified domain. It never guesses, never
// falls back to search results, and rejects aggregator or social-media
// presences outright.
package resolve

import (
	"net/url"
	"strings"

	"github.com/sells-group/prospector/internal/model"
)

// Resolution is the tagged result of resolving a candidate. Exactly one of
// the two variants holds: Verified with a Target, or Unverifiable with a
// Reason.
type Resolution struct {
	Verified bool
	Target   model.ResolvedTarget
	Reason   string
}

func verified(target model.ResolvedTarget) Resolution {
	return Resolution{Verified: true, Target: target}
}

func unverifiable(reason string) Resolution {
	return Resolution{Reason: reason}
}

// aggregatorDomains are directory, social, and platform hosts that are never
// a business's official site. Matched by suffix so subdomains are covered.
var aggregatorDomains = []string{
	"facebook.com",
	"instagram.com",
	"linkedin.com",
	"twitter.com",
	"x.com",
	"google.com",
	"yelp.com",
	"tripadvisor.com",
	"yellowpages.com",
	"foursquare.com",
	"whatsapp.com",
	"wa.me",
	"blogspot.com",
	"wixsite.com",
}

// Resolve validates rec's claimed website against the provider evidence.
func Resolve(rec model.CandidateRecord) Resolution {
	if rec.ClaimedWebsite == "" {
		return unverifiable("no claimed website")
	}

	domain, err := CanonicalDomain(rec.ClaimedWebsite)
	if err != nil || domain == "" {
		return unverifiable("claimed website is not a valid URL")
	}

	if isAggregator(domain) {
		return unverifiable("claimed website is an aggregator or social profile: " + domain)
	}

	// The domain must be attested by the lookup provider for this business.
	var evidence []string
	matched := false
	for _, ev := range rec.Evidence {
		evDomain, evErr := CanonicalDomain(ev)
		if evErr != nil || evDomain == "" {
			continue
		}
		evidence = append(evidence, evDomain)
		if evDomain == domain {
			matched = true
		}
	}
	if !matched {
		return unverifiable("claimed website not present in provider evidence")
	}

	return verified(model.ResolvedTarget{Domain: domain, Evidence: evidence})
}

// CanonicalDomain extracts the canonical host from a URL or bare domain:
// lowercase, port stripped, leading "www." stripped.
func CanonicalDomain(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	return host, nil
}

func isAggregator(domain string) bool {
	for _, agg := range aggregatorDomains {
		if domain == agg || strings.HasSuffix(domain, "."+agg) {
			return true
		}
	}
	return false
}
