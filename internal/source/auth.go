package source

import "net/http"

// DefaultAPIKeyHeader is the header the camera API reads the key from.
const DefaultAPIKeyHeader = "Safie-API-Key"

// Authenticator decorates outgoing requests with credentials.
type Authenticator interface {
	Apply(req *http.Request)
}

// APIKeyAuth sends a static key in a custom header.
type APIKeyAuth struct {
	Header string
	Key    string `masq:"secret"`
}

// Apply implements Authenticator.
func (a APIKeyAuth) Apply(req *http.Request) {
	header := a.Header
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	req.Header.Set(header, a.Key)
}

// BearerAuth sends an OAuth2 access token.
type BearerAuth struct {
	Token string `masq:"secret"`
}

// Apply implements Authenticator.
func (a BearerAuth) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.Token)
}

// Transport applies an Authenticator to every request before handing it to
// Base.
type Transport struct {
	Auth Authenticator
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Auth == nil {
		return base.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request.
	clone := req.Clone(req.Context())
	t.Auth.Apply(clone)
	return base.RoundTrip(clone)
}
