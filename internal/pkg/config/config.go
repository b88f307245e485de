package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
	"github.com/jake-scott/iotctl/internal/pkg/modelcache"
	"github.com/jake-scott/iotctl/internal/pkg/policy"
	"github.com/jake-scott/iotctl/internal/pkg/resilience"
)

const (
	DefaultCacheDir = "~/.cache/iotctl/thing-models"

	BackendFile   = "file"
	BackendBadger = "badger"
)

type Platform struct {
	BaseURL   string
	Token     string
	AppID     string
	AppSecret string
}

type Cache struct {
	Enabled bool
	TTL     time.Duration
	Dir     string
	Backend string
}

// Settings is the typed, clamped configuration of one run
type Settings struct {
	Platform            Platform
	Resilience          resilience.Config
	Cache               Cache
	Policy              policy.Policy
	WritableIdentifiers []string
	Quiet               bool
	StructuredLog       bool
	Debug               bool
	LogRequests         bool
}

// Resolve reads the settings from v.  Malformed booleans and numbers fall
// back to their defaults; malformed clock times are an error.
func Resolve(v *viper.Viper) (Settings, error) {
	s := Settings{
		Platform: Platform{
			BaseURL:   strings.TrimSpace(v.GetString(KeyBaseURL)),
			Token:     strings.TrimSpace(v.GetString(KeyToken)),
			AppID:     strings.TrimSpace(v.GetString(KeyAppID)),
			AppSecret: strings.TrimSpace(v.GetString(KeyAppSecret)),
		},
		Resilience: resilience.Config{
			ReadTimeout: millis(v, KeyReadTimeout, resilience.DefaultReadTimeout),
			RetryCount:  Int(v, KeyReadRetryCount, resilience.DefaultRetryCount),
			RetryDelay:  millis(v, KeyReadRetryDelay, resilience.DefaultRetryDelay),
		}.Clamped(),
		Cache: Cache{
			Enabled: Bool(v, KeyCacheEnabled, true),
			TTL:     millis(v, KeyCacheTTL, modelcache.DefaultTTL),
			Dir:     cacheDir(v.GetString(KeyCacheDir)),
			Backend: strings.ToLower(strings.TrimSpace(v.GetString(KeyCacheBackend))),
		},
		WritableIdentifiers: List(v.GetString(KeyWritableIdentifiers)),
		Quiet:               Bool(v, KeyQuiet, true),
		StructuredLog:       Bool(v, KeyStructuredLog, true),
		Debug:               Bool(v, KeyDebug, false),
		LogRequests:         Bool(v, KeyLogRequests, false),
	}

	if s.Cache.TTL < modelcache.MinTTL {
		s.Cache.TTL = modelcache.MinTTL
	}

	switch s.Cache.Backend {
	case "":
		s.Cache.Backend = BackendFile
	case BackendFile, BackendBadger:
	default:
		return s, apperror.New(apperror.CodeInvalidConfig, "unknown cache backend %q, expected %s or %s", s.Cache.Backend, BackendFile, BackendBadger)
	}

	p, err := resolvePolicy(v)
	if err != nil {
		return s, err
	}
	s.Policy = p

	return s, nil
}

func resolvePolicy(v *viper.Viper) (policy.Policy, error) {
	p := policy.DefaultPolicy()
	p.AllowWrite = Bool(v, KeyAllowWrite, p.AllowWrite)
	p.NightBlock = Bool(v, KeyNightBlock, p.NightBlock)

	for key, dst := range map[string]*int{KeyNightStart: &p.NightStart, KeyNightEnd: &p.NightEnd} {
		raw := strings.TrimSpace(v.GetString(key))
		if raw == "" {
			continue
		}
		m, err := policy.ParseClock(raw)
		if err != nil {
			return p, apperror.Wrap(err, apperror.CodeInvalidConfig, "%s: %v", EnvBindings[key], err)
		}
		*dst = m
	}

	if raw := strings.TrimSpace(v.GetString(KeyTZOffset)); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			off := policy.ClampTZOffset(n)
			p.TZOffsetMinutes = &off
		}
	}

	for _, a := range List(v.GetString(KeySensitiveActions)) {
		p.Sensitive[strings.ToLower(a)] = struct{}{}
	}

	return p, nil
}

// ParseBool accepts true/false, 1/0, yes/no and on/off.  ok is false
// for anything else.
func ParseBool(s string) (value bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y", "on":
		return true, true
	case "false", "0", "no", "n", "off":
		return false, true
	}
	return false, false
}

// Bool reads key with ParseBool; def when unset or malformed
func Bool(v *viper.Viper, key string, def bool) bool {
	if !v.IsSet(key) {
		return def
	}

	b, ok := ParseBool(v.GetString(key))
	if !ok {
		return def
	}
	return b
}

// Int parses a base 10 integer, def when unset or malformed
func Int(v *viper.Viper, key string, def int) int {
	if !v.IsSet(key) {
		return def
	}

	n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return def
	}
	return n
}

func millis(v *viper.Viper, key string, def time.Duration) time.Duration {
	return time.Duration(Int(v, key, int(def/time.Millisecond))) * time.Millisecond
}

// List splits a comma separated value, dropping blanks
func List(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func cacheDir(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = DefaultCacheDir
	}

	dir, err := homedir.Expand(raw)
	if err != nil {
		return filepath.Join(os.TempDir(), "iotctl", "thing-models")
	}
	return dir
}
