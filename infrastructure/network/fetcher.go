package network

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/AzielCF/az-offline/offline/domain/request"
	"github.com/valyala/fasthttp"
)

// hopHeaders are connection-scoped and never forwarded in either direction.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Accept-Encoding":     true,
}

type Config struct {
	Timeout         time.Duration
	MaxConnsPerHost int
	UserAgent       string
}

// Fetcher performs real upstream calls with a shared fasthttp client.
type Fetcher struct {
	client  *fasthttp.Client
	timeout time.Duration
}

func NewFetcher(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "az-offline"
	}
	return &Fetcher{
		client: &fasthttp.Client{
			Name:            cfg.UserAgent,
			MaxConnsPerHost: cfg.MaxConnsPerHost,
			ReadTimeout:     cfg.Timeout,
			WriteTimeout:    cfg.Timeout,
			// Proxied paths go out exactly as the application escaped them.
			DisablePathNormalizing: true,
		},
		timeout: cfg.Timeout,
	}
}

// Fetch returns an error only when no HTTP response was obtained.
func (f *Fetcher) Fetch(ctx context.Context, r *request.Request) (*request.Response, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.URL.String())
	req.Header.SetMethod(r.Method)
	for k, vals := range r.Header {
		if hopHeaders[http.CanonicalHeaderKey(k)] || strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if len(r.Body) > 0 {
		req.SetBody(r.Body)
	}

	if err := f.do(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.Method, r.URL.Redacted(), err)
	}

	out := &request.Response{
		Status: resp.StatusCode(),
		Header: http.Header{},
		Body:   append([]byte(nil), resp.Body()...),
		Source: request.SourceNetwork,
	}
	resp.Header.VisitAll(func(key, value []byte) {
		k := http.CanonicalHeaderKey(string(key))
		if !hopHeaders[k] {
			out.Header.Add(k, string(value))
		}
	})
	return out, nil
}

func (f *Fetcher) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		return f.client.DoDeadline(req, resp, deadline)
	}
	if f.timeout > 0 {
		return f.client.DoTimeout(req, resp, f.timeout)
	}
	return f.client.Do(req, resp)
}

// CloseIdle drops pooled upstream connections.
func (f *Fetcher) CloseIdle() {
	f.client.CloseIdleConnections()
}
