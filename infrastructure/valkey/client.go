package valkey

import (
	"context"
	"fmt"
	"strings"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"
)

// DefaultConnectTimeout bounds the startup ping.
const DefaultConnectTimeout = 5 * time.Second

type Config struct {
	Address        string
	Password       string
	DB             int
	KeyPrefix      string
	ConnectTimeout time.Duration
}

// Client is the shared Valkey connection of the gateway. Every key and
// channel it touches lives under one prefix so several deployments can share
// a server.
type Client struct {
	inner  valkeylib.Client
	prefix string
}

// NewClient connects and pings the server. The caller must Close it.
func NewClient(cfg Config) (*Client, error) {
	inner, err := valkeylib.NewClient(valkeylib.ClientOption{
		InitAddress: []string{cfg.Address},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c := &Client{inner: inner, prefix: cfg.KeyPrefix}
	if c.prefix != "" && !strings.HasSuffix(c.prefix, ":") {
		c.prefix += ":"
	}
	if err := c.Ping(ctx); err != nil {
		inner.Close()
		return nil, fmt.Errorf("failed to ping valkey (timeout: %v): %w", timeout, err)
	}
	return c, nil
}

// Inner exposes the raw client for command builders.
func (c *Client) Inner() valkeylib.Client {
	return c.inner
}

func (c *Client) Close() {
	if c.inner != nil {
		c.inner.Close()
	}
}

// Key joins parts under the prefix: Key("store", "static-v1") -> "azoffline:store:static-v1".
func (c *Client) Key(parts ...string) string {
	if len(parts) == 0 {
		return strings.TrimSuffix(c.prefix, ":")
	}
	return c.prefix + strings.Join(parts, ":")
}

func (c *Client) Ping(ctx context.Context) error {
	return c.inner.Do(ctx, c.inner.B().Ping().Build()).Error()
}

// Publish sends message on the prefixed channel.
func (c *Client) Publish(ctx context.Context, channel, message string) error {
	cmd := c.inner.B().Publish().Channel(c.Key(channel)).Message(message).Build()
	return c.inner.Do(ctx, cmd).Error()
}

// Subscribe blocks, calling fn for every message on the prefixed channels,
// until ctx ends or the connection fails.
func (c *Client) Subscribe(ctx context.Context, fn func(channel, message string), channels ...string) error {
	full := make([]string, len(channels))
	for i, ch := range channels {
		full[i] = c.Key(ch)
	}
	cmd := c.inner.B().Subscribe().Channel(full...).Build()
	return c.inner.Receive(ctx, cmd, func(msg valkeylib.PubSubMessage) {
		fn(strings.TrimPrefix(msg.Channel, c.prefix), msg.Message)
	})
}

// TryLock sets a prefixed key with a TTL only if it is absent. It reports
// false without error when someone else holds it.
func (c *Client) TryLock(ctx context.Context, ttl time.Duration, parts ...string) (bool, error) {
	key := c.Key(append([]string{"lock"}, parts...)...)
	err := c.inner.Do(ctx, c.inner.B().Set().Key(key).Value("1").Nx().Ex(ttl).Build()).Error()
	if IsNil(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsNil reports a Valkey NIL reply.
func IsNil(err error) bool {
	return valkeylib.IsValkeyNil(err)
}
