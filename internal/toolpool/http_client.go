package toolpool

import (
	"net/http"
	"time"
)

// bearerRoundTripper injects a bearer token into every outbound request,
// grounded on the teacher's mcpclient.go headerRoundTripper.
type bearerRoundTripper struct {
	base   http.RoundTripper
	bearer string
}

func (t *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if t.bearer != "" {
		r.Header.Set("Authorization", "Bearer "+t.bearer)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}

// buildToolServerHTTPClient wraps an *http.Client with bearer-token injection
// for a named tool server's Streamable HTTP transport.
func buildToolServerHTTPClient(bearer string) *http.Client {
	return &http.Client{
		Transport: &bearerRoundTripper{bearer: bearer},
		Timeout:   30 * time.Second,
	}
}
