package fetch

import (
	"crypto/rand"
	"math/big"
	"sync"
)

// Identity is one browser-like client profile applied to outgoing requests.
type Identity struct {
	UserAgent      string
	AcceptLanguage string
	Accept         string
}

var defaultIdentities = []Identity{
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	},
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/120.0",
		AcceptLanguage: "en-US,en;q=0.5",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		AcceptLanguage: "en-US,en;q=0.9",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	},
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36 Edg/119.0.0.0",
		AcceptLanguage: "en-US,en;q=0.9",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	},
}

// identityPool rotates through client identities between fetch attempts so
// consecutive requests do not present the same fingerprint.
type identityPool struct {
	mu         sync.Mutex
	identities []Identity
	next       int
}

func newIdentityPool(identities []Identity) *identityPool {
	if len(identities) == 0 {
		identities = defaultIdentities
	}
	p := &identityPool{identities: identities}
	p.next = randomIndex(len(identities))
	return p
}

// Rotate returns the next identity in the pool, advancing the cursor.
func (p *identityPool) Rotate() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.identities[p.next%len(p.identities)]
	p.next++
	return id
}

func randomIndex(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
