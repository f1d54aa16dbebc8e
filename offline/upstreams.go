package offline

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/AzielCF/az-offline/core/config"
)

type upstream struct {
	mount string
	base  *url.URL
}

// Upstreams maps gateway paths onto upstream base URLs. The longest matching
// mount wins; the empty mount catches everything else.
type Upstreams struct {
	entries []upstream
}

func NewUpstreams(cfgs []config.UpstreamConfig) (*Upstreams, error) {
	u := &Upstreams{}
	for _, c := range cfgs {
		base, err := url.Parse(c.BaseURL)
		if err != nil || base.Scheme == "" || base.Host == "" {
			return nil, fmt.Errorf("upstream %q: invalid base url %q", c.Mount, c.BaseURL)
		}
		u.entries = append(u.entries, upstream{mount: strings.Trim(c.Mount, "/"), base: base})
	}
	sort.SliceStable(u.entries, func(i, j int) bool {
		return len(u.entries[i].mount) > len(u.entries[j].mount)
	})
	return u, nil
}

// Resolve turns a gateway path and raw query into an absolute upstream URL.
// path is the escaped request path; escapes such as %2F reach the upstream
// unchanged.
func (u *Upstreams) Resolve(path, rawQuery string) (*url.URL, bool) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for _, e := range u.entries {
		rest, ok := stripMount(path, e.mount)
		if !ok {
			continue
		}
		out := *e.base
		escaped := strings.TrimSuffix(e.base.EscapedPath(), "/") + rest
		if decoded, err := url.PathUnescape(escaped); err == nil {
			out.Path = decoded
			out.RawPath = escaped
		} else {
			out.Path = escaped
			out.RawPath = ""
		}
		out.RawQuery = rawQuery
		out.Fragment = ""
		return &out, true
	}
	return nil, false
}

func stripMount(path, mount string) (string, bool) {
	if mount == "" {
		return path, true
	}
	prefix := "/" + mount
	if path == prefix {
		return "/", true
	}
	if strings.HasPrefix(path, prefix+"/") {
		return path[len(prefix):], true
	}
	return "", false
}

func (u *Upstreams) Len() int {
	return len(u.entries)
}
