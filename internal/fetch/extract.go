package fetch

import (
	"regexp"
	"strings"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	// Loose international phone pattern; normalization happens downstream.
	phoneRe = regexp.MustCompile(`\+?\d[\d\s().-]{7,14}\d`)
)

// junkEmailFragments filters matches that are assets or placeholders, not
// contact addresses.
var junkEmailFragments = []string{
	"example.com",
	"yourdomain",
	"email.com",
	"sentry",
	".png",
	".jpg",
	".gif",
	".svg",
	".webp",
	".js",
	".css",
}

// ExtractEmails returns deduplicated, lowercased email addresses found in a
// page body, junk filtered.
func ExtractEmails(body string) []string {
	var out []string
	seen := make(map[string]bool)

	for _, m := range emailRe.FindAllString(body, -1) {
		email := strings.ToLower(m)
		if seen[email] || isJunkEmail(email) {
			continue
		}
		seen[email] = true
		out = append(out, email)
	}
	return out
}

func isJunkEmail(email string) bool {
	for _, frag := range junkEmailFragments {
		if strings.Contains(email, frag) {
			return true
		}
	}
	return false
}

// ExtractPhones returns deduplicated phone number candidates found in a
// page body. Matches with too few digits are dropped.
func ExtractPhones(body string) []string {
	var out []string
	seen := make(map[string]bool)

	for _, m := range phoneRe.FindAllString(body, -1) {
		digits := 0
		for _, r := range m {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits < 8 || digits > 15 {
			continue
		}
		norm := strings.Join(strings.Fields(m), " ")
		if seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	return out
}
