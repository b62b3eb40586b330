package cache

import (
	"errors"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/cuemby/syncstore/pkg/metrics"
	"github.com/rs/zerolog"
)

// backend is the narrow slice of *memcache.Client's method set the cache
// layer actually calls, so tests can substitute a fake without speaking
// the memcache wire protocol.
type backend interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
	Delete(key string) error
}

// Client is a thin memcache wrapper: every network or protocol error is
// logged and counted here, then returned to the caller, which decides
// whether to treat it as a miss (reads) or a best-effort failure
// (writes). Surfacing an error to the tabs path as storage.KindInternal
// is likewise the tabs caller's decision, not this client's.
type Client struct {
	mc  backend
	log zerolog.Logger
}

// New builds a Client talking to the given memcache servers (host:port).
func New(servers []string, log zerolog.Logger) *Client {
	return &Client{mc: memcache.New(servers...), log: log}
}

// Get returns (value, true, nil) on a hit, (nil, false, nil) on a clean
// miss, and (nil, false, err) on a network/protocol failure.
func (c *Client) Get(key string) ([]byte, bool, error) {
	item, err := c.mc.Get(key)
	switch {
	case err == nil:
		return item.Value, true, nil
	case errors.Is(err, memcache.ErrCacheMiss):
		return nil, false, nil
	default:
		metrics.CacheErrorsTotal.Inc()
		c.log.Warn().Err(err).Str("key", key).Msg("memcache get failed")
		return nil, false, err
	}
}

// Set writes key unconditionally with the given expiry in seconds (0
// means never expire). Errors are logged here; the caller decides
// whether a failed write is fatal to the operation in progress.
func (c *Client) Set(key string, value []byte, expirySeconds int32) error {
	err := c.mc.Set(&memcache.Item{Key: key, Value: value, Expiration: expirySeconds})
	if err != nil {
		metrics.CacheErrorsTotal.Inc()
		c.log.Warn().Err(err).Str("key", key).Msg("memcache set failed")
	}
	return err
}

// Delete removes key. A miss is not an error.
func (c *Client) Delete(key string) error {
	err := c.mc.Delete(key)
	if err == nil || errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	metrics.CacheErrorsTotal.Inc()
	c.log.Warn().Err(err).Str("key", key).Msg("memcache delete failed")
	return err
}
