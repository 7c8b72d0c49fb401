package fetch

import "strings"

// Phrases that interstitial challenge pages are known to carry in their title
// or body. Matching is case-insensitive.
var challengeMarkers = []string{
	"just a moment",
	"please wait",
	"checking your browser",
	"cloudflare",
	"ddos protection",
	"access denied",
	"security check",
	"performance & security",
	"ray id",
}

// ChallengeDetector distinguishes anti-automation interstitial pages from
// genuine page loads using a phrase heuristic.
type ChallengeDetector struct {
	MinBodyBytes int
}

// NewChallengeDetector builds a detector; threshold defaults to 1000 bytes,
// below which a body is considered implausibly short for a listing page.
func NewChallengeDetector(minBodyBytes int) *ChallengeDetector {
	if minBodyBytes <= 0 {
		minBodyBytes = 1000
	}
	return &ChallengeDetector{MinBodyBytes: minBodyBytes}
}

// IsChallenge reports whether the title or body looks like an interstitial
// challenge page.
func (d *ChallengeDetector) IsChallenge(title, body string) bool {
	title = strings.ToLower(title)
	body = strings.ToLower(body)
	for _, marker := range challengeMarkers {
		if strings.Contains(title, marker) || strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// TooShort reports whether the body is implausibly small to be a real
// listing page.
func (d *ChallengeDetector) TooShort(body []byte) bool {
	return len(body) < d.MinBodyBytes
}
