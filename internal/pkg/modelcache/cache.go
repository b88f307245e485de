package modelcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
	"github.com/jake-scott/iotctl/internal/pkg/iotapi"
	"github.com/jake-scott/iotctl/internal/pkg/resilience"
)

const (
	DefaultTTL = 5 * time.Minute
	MinTTL     = time.Second

	SourceCache  = "cache"
	SourceRemote = "remote"
)

// Entry is the persisted form of one product's thing model
type Entry struct {
	ProductKey string          `json:"productKey"`
	CachedAt   int64           `json:"cachedAt"`
	Model      json.RawMessage `json:"model"`
}

type Options struct {
	Enabled bool
	TTL     time.Duration
}

// Result describes where a model came from and how old it is
type Result struct {
	Source   string
	Model    iotapi.ThingModel
	Raw      json.RawMessage
	CachedAt int64
	AgeMs    int64
}

// Cache is a TTL-bounded read-through cache of thing models
type Cache struct {
	store    Store
	platform iotapi.Platform
	exec     *resilience.Executor
	opts     Options
	now      func() time.Time
	logger   *logrus.Entry
}

func New(store Store, platform iotapi.Platform, exec *resilience.Executor, opts Options, logger *logrus.Entry) *Cache {
	if opts.TTL < MinTTL {
		opts.TTL = MinTTL
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Cache{
		store:    store,
		platform: platform,
		exec:     exec,
		opts:     opts,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock replaces the time source
func (c *Cache) WithClock(now func() time.Time) *Cache {
	nc := *c
	nc.now = now
	return &nc
}

func (c *Cache) TTL() time.Duration {
	return c.opts.TTL
}

func (c *Cache) nowMs() int64 {
	return c.now().UnixNano() / int64(time.Millisecond)
}

// Fetch returns the model for productKey, from the cache when a valid
// entry exists and refresh is not forced, otherwise from the platform.
func (c *Cache) Fetch(ctx context.Context, productKey string, forceRefresh bool) (*Result, error) {
	key := SanitizeKey(productKey)
	usable := c.opts.Enabled && c.store != nil && key != ""

	if usable && !forceRefresh {
		if r, ok := c.lookup(key, productKey); ok {
			return r, nil
		}
	}

	resp, err := resilience.Invoke(ctx, c.exec, resilience.Read, "queryThingModel", func(ctx context.Context) (*iotapi.Response, error) {
		return c.platform.QueryThingModel(ctx, productKey)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "querying thing model for %s", productKey)
	}
	if !resp.Success {
		return nil, apperror.Platform(resp.ErrorMessage)
	}

	raw := resp.Data
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage(`{}`)
	}

	var model iotapi.ThingModel
	if err := json.Unmarshal(raw, &model); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeAPIFailed, "thing model for %s is not a valid model object", productKey)
	}

	cachedAt := c.nowMs()
	if usable {
		c.save(key, Entry{ProductKey: productKey, CachedAt: cachedAt, Model: raw})
	}

	return &Result{
		Source:   SourceRemote,
		Model:    model,
		Raw:      raw,
		CachedAt: cachedAt,
		AgeMs:    0,
	}, nil
}

// lookup treats every failure as a miss
func (c *Cache) lookup(key string, productKey string) (*Result, bool) {
	b, err := c.store.Get(key)
	if err != nil {
		if err != ErrNotFound {
			c.logger.WithError(err).Debugf("thing model cache: unreadable entry for %s", productKey)
		}
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		c.logger.WithError(err).Debugf("thing model cache: corrupt entry for %s", productKey)
		return nil, false
	}
	if e.ProductKey != "" && e.ProductKey != productKey {
		c.logger.Debugf("thing model cache: entry for %s belongs to %s", productKey, e.ProductKey)
		return nil, false
	}

	age := c.nowMs() - e.CachedAt
	if age < 0 || age > c.opts.TTL.Milliseconds() {
		c.logger.Debugf("thing model cache: entry for %s expired (age %dms)", productKey, age)
		return nil, false
	}

	var model iotapi.ThingModel
	if len(e.Model) == 0 || json.Unmarshal(e.Model, &model) != nil {
		c.logger.Debugf("thing model cache: entry for %s has no usable model", productKey)
		return nil, false
	}

	return &Result{
		Source:   SourceCache,
		Model:    model,
		Raw:      e.Model,
		CachedAt: e.CachedAt,
		AgeMs:    age,
	}, true
}

// save never fails the caller
func (c *Cache) save(key string, e Entry) {
	b, err := json.Marshal(e)
	if err == nil {
		err = c.store.Put(key, b)
	}
	if err != nil {
		c.logger.WithError(err).Warnf("thing model cache: could not store entry for %s", e.ProductKey)
	}
}
