package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractEmails(t *testing.T) {
	body := `
		Contact: Sales@AcmeBakery.com or support@acmebakery.com.
		<img src="logo@2x.png"> tracker@sentry.io noreply@example.com
		support@acmebakery.com
	`
	emails := ExtractEmails(body)
	assert.Equal(t, []string{"sales@acmebakery.com", "support@acmebakery.com"}, emails)
}

func TestExtractPhones(t *testing.T) {
	body := `Call +1 (555) 010-0123 or 555 010 0199. Order #12 is ready. Year 2024.`
	phones := ExtractPhones(body)
	assert.Len(t, phones, 2)
}

func TestRobotsPermitsRoot(t *testing.T) {
	cases := []struct {
		name   string
		robots string
		want   bool
	}{
		{"empty", "", true},
		{"wildcard deny all", "User-agent: *\nDisallow: /\n", false},
		{"wildcard allow", "User-agent: *\nDisallow:\n", true},
		{"path-scoped disallow", "User-agent: *\nDisallow: /admin\n", true},
		{"our agent denied", "User-agent: prospector\nDisallow: /\n", false},
		{"other agent denied", "User-agent: otherbot\nDisallow: /\n\nUser-agent: *\nDisallow:\n", true},
		{"comments ignored", "# deny everything\nUser-agent: *\nDisallow: /private # staff only\n", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, robotsPermitsRoot(tc.robots, "prospector/1.0"))
		})
	}
}
