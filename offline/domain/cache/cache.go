package cache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// StoreKind identifies the logical purpose of a store.
type StoreKind string

const (
	KindStatic  StoreKind = "static"
	KindDynamic StoreKind = "dynamic"
	KindMeta    StoreKind = "meta"
)

// MetaStore is unversioned and survives activation.
const MetaStore = "meta"

// StoreName builds the versioned store identifier, e.g. "static-v3".
func StoreName(kind StoreKind, version int) string {
	return fmt.Sprintf("%s-v%d", kind, version)
}

// CacheKey is a normalized (method, url) pair.
type CacheKey struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

func (k CacheKey) String() string {
	return k.Method + " " + k.URL
}

// NewKey normalizes method and URL so equivalent requests share an entry.
func NewKey(method string, u *url.URL) CacheKey {
	return CacheKey{Method: strings.ToUpper(method), URL: NormalizeURL(u)}
}

// LogicalKey addresses an entry by a fixed name rather than a request shape.
func LogicalKey(name string) CacheKey {
	return CacheKey{Method: "GET", URL: "logical://" + name}
}

// NormalizeURL lower-cases scheme and host, strips default ports, sorts the
// query and drops the fragment.
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	host := strings.ToLower(n.Host)
	if (n.Scheme == "http" && strings.HasSuffix(host, ":80")) ||
		(n.Scheme == "https" && strings.HasSuffix(host, ":443")) {
		host = host[:strings.LastIndex(host, ":")]
	}
	n.Host = host
	n.Fragment = ""
	n.RawFragment = ""
	if n.Path == "" {
		n.Path = "/"
	}

	q := n.Query()
	if len(q) == 0 {
		n.RawQuery = ""
	} else {
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			vals := append([]string(nil), q[k]...)
			sort.Strings(vals)
			for _, v := range vals {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		n.RawQuery = strings.Join(parts, "&")
	}
	return n.String()
}

// CacheEntry is immutable once stored; writers replace it wholesale. Header
// keeps every value of a multi-valued field.
type CacheEntry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Age reports how long ago the entry was stored relative to now.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// FreshAt reports whether the entry is younger than ttl.
func (e *CacheEntry) FreshAt(now time.Time, ttl time.Duration) bool {
	return e.Age(now) < ttl
}

// StoreStats summarizes a single store.
type StoreStats struct {
	Name      string `json:"name"`
	Entries   int    `json:"entries"`
	TotalSize int64  `json:"total_size"`
	HumanSize string `json:"human_size"`
}

// Backend is the storage contract behind the registry.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns (nil, nil) when the store or key does not exist.
	Get(ctx context.Context, store string, key CacheKey) (*CacheEntry, error)

	// Put replaces the entry atomically and creates the store if needed.
	Put(ctx context.Context, store string, key CacheKey, entry *CacheEntry) error

	Delete(ctx context.Context, store string, key CacheKey) error

	// CreateStore registers an empty store. Existing stores are left untouched.
	CreateStore(ctx context.Context, store string) error

	// DeleteStore removes a store and all its entries. Missing stores are not an error.
	DeleteStore(ctx context.Context, store string) error

	ListStores(ctx context.Context) ([]string, error)

	Keys(ctx context.Context, store string) ([]CacheKey, error)
}
