package acme

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
)

const challengePathPrefix = "/.well-known/acme-challenge/"

// HTTP01Provider answers the HTTP-01 challenge for the dashboard's single
// hostname. The teacher's gateway served this route for an arbitrary set of
// proxied domains; here there is exactly one hostname to prove control of,
// so Present rejects any other domain outright instead of silently tracking
// challenges lego would never be asked to validate. CleanUp removes the
// token without checking the domain.
type HTTP01Provider struct {
	client     *Client
	challenges map[string]string
	mu         sync.RWMutex
}

// Present records the keyAuth for domain's token, rejecting any domain other
// than the client's configured hostname.
func (p *HTTP01Provider) Present(domain, token, keyAuth string) error {
	if domain != p.client.hostname {
		return fmt.Errorf("acme: refusing HTTP-01 challenge for %s, dashboard hostname is %s", domain, p.client.hostname)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.challenges == nil {
		p.challenges = make(map[string]string)
	}

	p.challenges[token] = keyAuth
	return nil
}

// CleanUp removes the HTTP-01 challenge
func (p *HTTP01Provider) CleanUp(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.challenges, token)
	return nil
}

// ServeHTTP serves HTTP-01 challenge requests at
// /.well-known/acme-challenge/{token}, to be mounted on the dashboard's own
// plain-HTTP listener ahead of the TLS upgrade.
func (p *HTTP01Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, challengePathPrefix) {
		http.NotFound(w, r)
		return
	}

	token := strings.TrimPrefix(r.URL.Path, challengePathPrefix)
	if token == "" {
		http.NotFound(w, r)
		return
	}

	p.mu.RLock()
	keyAuth, exists := p.challenges[token]
	p.mu.RUnlock()

	if !exists {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, keyAuth)
}

// GetChallengeResponse returns the challenge response for a token
func (p *HTTP01Provider) GetChallengeResponse(token string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keyAuth, exists := p.challenges[token]
	return keyAuth, exists
}
