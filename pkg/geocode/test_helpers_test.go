package geocode

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
)

// newRewriteClient creates an HTTP client that sends requests whose URL
// starts with targetPrefix to the test server instead.
func newRewriteClient(testServerURL, targetPrefix string) *http.Client {
	return &http.Client{
		Transport: &rewriteTransport{
			base:         http.DefaultTransport,
			testServer:   testServerURL,
			targetPrefix: targetPrefix,
		},
	}
}

type rewriteTransport struct {
	base         http.RoundTripper
	testServer   string
	targetPrefix string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	orig := req.URL.String()
	if !strings.HasPrefix(orig, t.targetPrefix) {
		return t.base.RoundTrip(req)
	}
	parsed, err := req.URL.Parse(t.testServer + orig[len(t.targetPrefix):])
	if err != nil {
		return nil, err
	}
	newReq := req.Clone(req.Context())
	newReq.URL = parsed
	newReq.Host = parsed.Host
	return t.base.RoundTrip(newReq)
}

// stubProvider is a Provider with canned answers.
type stubProvider struct {
	name      string
	available bool
	result    *Result
	err       error
	calls     atomic.Int32
}

func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) Available() bool { return s.available }
func (s *stubProvider) Geocode(context.Context, AddressInput) (*Result, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	r := *s.result
	return &r, nil
}
