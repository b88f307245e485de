package dispatch

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
	"github.com/jake-scott/iotctl/internal/pkg/config"
	"github.com/jake-scott/iotctl/internal/pkg/iotapi"
	"github.com/jake-scott/iotctl/internal/pkg/iotauth"
	"github.com/jake-scott/iotctl/internal/pkg/modelcache"
	"github.com/jake-scott/iotctl/internal/pkg/policy"
	"github.com/jake-scott/iotctl/internal/pkg/resilience"
	"github.com/jake-scott/iotctl/pkg/middlewares"
)

const (
	requestIDHeader = "X-Request-ID"
	tokenHeader     = "token"
)

// PlatformFactory builds the platform client once credentials are needed
type PlatformFactory func(ctx context.Context, s config.Settings) (iotapi.Platform, error)

// StoreFactory opens the thing model cache backend
type StoreFactory func(s config.Settings, logger *logrus.Entry) (modelcache.Store, error)

// Runtime is what a workflow may use while executing.  The platform and
// cache are built on first use, so a dry run needs no credentials.
type Runtime struct {
	Settings config.Settings
	Exec     *resilience.Executor
	Guard    *policy.Guard
	Now      func() time.Time
	Logger   *logrus.Entry

	newPlatform PlatformFactory
	newStore    StoreFactory
	platform    iotapi.Platform
	store       modelcache.Store
	cache       *modelcache.Cache
}

func (rt *Runtime) Platform(ctx context.Context) (iotapi.Platform, error) {
	if rt.platform != nil {
		return rt.platform, nil
	}

	p, err := rt.newPlatform(ctx, rt.Settings)
	if err != nil {
		return nil, err
	}
	rt.platform = p
	return p, nil
}

// ModelCache returns the thing model cache.  A backend that cannot be
// opened disables caching for the run.
func (rt *Runtime) ModelCache(ctx context.Context) (*modelcache.Cache, error) {
	if rt.cache != nil {
		return rt.cache, nil
	}

	p, err := rt.Platform(ctx)
	if err != nil {
		return nil, err
	}

	enabled := rt.Settings.Cache.Enabled
	if enabled && rt.store == nil {
		store, err := rt.newStore(rt.Settings, rt.Logger)
		if err != nil {
			rt.Logger.WithError(err).Warn("thing model cache unavailable, continuing without it")
			enabled = false
		} else {
			rt.store = store
		}
	}

	rt.cache = modelcache.New(rt.store, p, rt.Exec, modelcache.Options{
		Enabled: enabled,
		TTL:     rt.Settings.Cache.TTL,
	}, rt.Logger).WithClock(rt.Now)
	return rt.cache, nil
}

// Close releases the cache backend
func (rt *Runtime) Close() error {
	if rt.store != nil {
		return rt.store.Close()
	}
	return nil
}

// read runs a read-class platform call through the executor
func (rt *Runtime) read(ctx context.Context, operation string, call func(context.Context, iotapi.Platform) (*iotapi.Response, error)) (*iotapi.Response, error) {
	return rt.invoke(ctx, resilience.Read, operation, call)
}

// write runs a platform call exactly once
func (rt *Runtime) write(ctx context.Context, operation string, call func(context.Context, iotapi.Platform) (*iotapi.Response, error)) (*iotapi.Response, error) {
	return rt.invoke(ctx, resilience.Write, operation, call)
}

func (rt *Runtime) invoke(ctx context.Context, class resilience.Class, operation string, call func(context.Context, iotapi.Platform) (*iotapi.Response, error)) (*iotapi.Response, error) {
	p, err := rt.Platform(ctx)
	if err != nil {
		return nil, err
	}

	return resilience.Invoke(ctx, rt.Exec, class, operation, func(ctx context.Context) (*iotapi.Response, error) {
		return call(ctx, p)
	})
}

// LivePlatform builds the HTTP client: request logging, correlation and
// token injection around the default transport
func LivePlatform(ctx context.Context, s config.Settings) (iotapi.Platform, error) {
	if s.Platform.BaseURL == "" {
		return nil, apperror.New(apperror.CodeMissingEnv, "IOT_BASE_URL is not configured")
	}

	logRequests := s.LogRequests && logrus.IsLevelEnabled(logrus.DebugLevel)

	authClient := &http.Client{
		Timeout: s.Resilience.ReadTimeout,
		Transport: middlewares.Chain(nil,
			middlewares.NewLoggingMw(false),
			middlewares.NewCorrelationMw(requestIDHeader),
		),
	}

	state := iotauth.NewState(s.Platform.BaseURL).
		WithContext(ctx).
		WithHTTPClient(authClient).
		WithStaticToken(s.Platform.Token).
		WithAppSecret(s.Platform.AppSecret)
	state.AppID = s.Platform.AppID

	ts, err := state.TokenSource()
	if err != nil {
		return nil, err
	}

	client := &http.Client{
		Transport: middlewares.Chain(nil,
			middlewares.NewLoggingMw(logRequests),
			middlewares.NewCorrelationMw(requestIDHeader),
			middlewares.NewTokenMw(tokenHeader, ts),
		),
	}

	return iotapi.NewLiveClient(s.Platform.BaseURL).WithHTTPClient(client), nil
}

// OpenStore opens the configured cache backend
func OpenStore(s config.Settings, logger *logrus.Entry) (modelcache.Store, error) {
	if s.Cache.Backend == config.BackendBadger {
		return modelcache.OpenBadgerStore(filepath.Join(s.Cache.Dir, "badger"), logger)
	}
	return modelcache.NewFileStore(s.Cache.Dir), nil
}
