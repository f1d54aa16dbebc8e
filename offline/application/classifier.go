package application

import (
	"path"
	"strings"
	"time"

	"github.com/AzielCF/az-offline/offline/domain/cache"
	"github.com/AzielCF/az-offline/offline/domain/request"
)

// DefaultFreshTTL applies to volatile rules that do not set their own TTL.
const DefaultFreshTTL = 30 * time.Second

// VolatileRule routes matching requests to the freshness-bound strategy.
// Host may be exact or a "*.example.com" wildcard; empty matches any host.
type VolatileRule struct {
	Host         string
	PathPrefix   string
	RequireQuery string
	TTL          time.Duration
}

func (r VolatileRule) matches(req *request.Request) bool {
	if r.Host != "" && !hostMatches(r.Host, req.URL.Hostname()) {
		return false
	}
	if r.PathPrefix != "" && !strings.HasPrefix(req.URL.Path, r.PathPrefix) {
		return false
	}
	if r.RequireQuery != "" && !req.URL.Query().Has(r.RequireQuery) {
		return false
	}
	return true
}

type ClassifierConfig struct {
	AppHost          string
	ShareTargetPath  string
	APIPrefixes      []string
	APIHosts         []string
	StaticExtensions []string
	Manifest         []string
	Volatile         []VolatileRule
	DefaultTTL       time.Duration
}

// Classifier maps a request to exactly one class. It holds no mutable state.
type Classifier struct {
	cfg       ClassifierConfig
	manifest  map[string]struct{}
	staticExt map[string]struct{}
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultFreshTTL
	}
	c := &Classifier{
		cfg:       cfg,
		manifest:  make(map[string]struct{}, len(cfg.Manifest)),
		staticExt: make(map[string]struct{}, len(cfg.StaticExtensions)),
	}
	for _, raw := range cfg.Manifest {
		if req, err := request.New("GET", raw); err == nil {
			c.manifest[cache.NormalizeURL(req.URL)] = struct{}{}
		}
	}
	for _, ext := range cfg.StaticExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.staticExt[ext] = struct{}{}
	}
	return c
}

func (c *Classifier) Classify(req *request.Request) request.Class {
	if req == nil || req.URL == nil {
		return request.ClassGenericApi
	}
	host := req.URL.Hostname()
	sameOrigin := c.cfg.AppHost == "" || strings.EqualFold(host, c.cfg.AppHost)

	if c.cfg.ShareTargetPath != "" && sameOrigin && req.URL.Path == c.cfg.ShareTargetPath {
		return request.ClassShareTarget
	}
	if !req.IsRead() {
		return request.ClassGenericApi
	}
	if _, ok := c.volatileRule(req); ok {
		return request.ClassFreshnessBoundApi
	}
	if c.isAPI(req, host) {
		return request.ClassGenericApi
	}
	if c.isStatic(req) {
		return request.ClassStatic
	}
	if sameOrigin {
		return request.ClassDynamic
	}
	return request.ClassGenericApi
}

// TTLFor returns the freshness window of a freshness-bound request.
func (c *Classifier) TTLFor(req *request.Request) time.Duration {
	if rule, ok := c.volatileRule(req); ok && rule.TTL > 0 {
		return rule.TTL
	}
	return c.cfg.DefaultTTL
}

// InManifest reports whether the URL is one of the install assets.
func (c *Classifier) InManifest(req *request.Request) bool {
	_, ok := c.manifest[cache.NormalizeURL(req.URL)]
	return ok
}

func (c *Classifier) volatileRule(req *request.Request) (VolatileRule, bool) {
	for _, rule := range c.cfg.Volatile {
		if rule.matches(req) {
			return rule, true
		}
	}
	return VolatileRule{}, false
}

func (c *Classifier) isAPI(req *request.Request, host string) bool {
	for _, h := range c.cfg.APIHosts {
		if hostMatches(h, host) {
			return true
		}
	}
	for _, p := range c.cfg.APIPrefixes {
		if strings.HasPrefix(req.URL.Path, p) {
			return true
		}
	}
	return false
}

func (c *Classifier) isStatic(req *request.Request) bool {
	if c.InManifest(req) {
		return true
	}
	ext := strings.ToLower(path.Ext(req.URL.Path))
	if ext == "" {
		return false
	}
	_, ok := c.staticExt[ext]
	return ok
}

func hostMatches(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	host = strings.ToLower(host)
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return pattern == host
}
