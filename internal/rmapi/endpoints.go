// Package rmapi implements the signed HTTP client for the payment provider's
// open API: token exchange, order creation and order queries.
package rmapi

import (
	"net/url"
	"strings"
)

// Usage selects which provider domain a request targets.
type Usage string

const (
	// UsageOAuth targets the token-exchange domain.
	UsageOAuth Usage = "oauth"
	// UsageAPI targets the open API domain.
	UsageAPI Usage = "api"
)

var domains = map[Usage]string{
	UsageOAuth: "oauth.revenuemonster.my",
	UsageAPI:   "open.revenuemonster.my",
}

// Endpoints resolves fully-qualified provider URLs. Sandbox mode prefixes
// every domain with sb-.
type Endpoints struct {
	sandbox   bool
	overrides map[Usage]string
}

// NewEndpoints returns an endpoint resolver for the given environment.
func NewEndpoints(sandbox bool) Endpoints {
	return Endpoints{sandbox: sandbox}
}

// WithOverride returns a copy of the resolver routing the given usage to
// baseURL instead of the provider domain. Used for test servers.
func (e Endpoints) WithOverride(usage Usage, baseURL string) Endpoints {
	overrides := make(map[Usage]string, len(e.overrides)+1)
	for k, v := range e.overrides {
		overrides[k] = v
	}
	overrides[usage] = strings.TrimRight(baseURL, "/")
	e.overrides = overrides
	return e
}

// URL builds the request URL for the usage, API version and path.
func (e Endpoints) URL(usage Usage, version, path string) string {
	path = strings.Trim(path, "/")
	if base, ok := e.overrides[usage]; ok {
		return base + "/" + version + "/" + path
	}
	domain, ok := domains[usage]
	if !ok {
		domain = domains[UsageAPI]
	}
	if e.sandbox {
		domain = "sb-" + domain
	}
	return "https://" + domain + "/" + version + "/" + path
}

// NormalizeURL reduces a callback URL to scheme, host, path and a
// re-encoded query, dropping fragments and user info so the signed payload
// carries a stable form.
func NormalizeURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	var b strings.Builder
	if parsed.Scheme != "" {
		b.WriteString(parsed.Scheme)
		b.WriteString("://")
	}
	b.WriteString(parsed.Host)
	b.WriteString(parsed.EscapedPath())
	if parsed.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(parsed.Query().Encode())
	}
	return b.String()
}
