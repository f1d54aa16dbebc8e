package request

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Class is the caching strategy selected for a request. It is derived, never stored.
type Class string

const (
	ClassStatic            Class = "static"
	ClassFreshnessBoundApi Class = "freshness_bound_api"
	ClassGenericApi        Class = "generic_api"
	ClassDynamic           Class = "dynamic"
	ClassShareTarget       Class = "share_target"
)

// Source tells where a response body came from.
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceStale       Source = "stale"
	SourceShell       Source = "shell"
	SourceSynthesized Source = "synthesized"
	SourceRedirect    Source = "redirect"
	SourceQueued      Source = "queued"
)

// Request is an outbound application request after upstream resolution.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// New builds a request from an absolute URL string.
func New(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Request{Method: strings.ToUpper(method), URL: u, Header: http.Header{}}, nil
}

// IsRead reports whether the request may be served from or written to cache.
func (r *Request) IsRead() bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead
}

// AcceptsHTML reports whether the caller would accept an HTML document.
func (r *Request) AcceptsHTML() bool {
	if r.Header == nil {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// Response has the same shape whether it came from the network, the cache,
// or was synthesized locally.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Source Source
	Class  Class

	// Err is the network failure behind a degraded response, if any.
	Err error `json:"-"`
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Fetcher performs real network calls. A returned error means the network
// attempt failed; any HTTP status, including 5xx, is a response.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
