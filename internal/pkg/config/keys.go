package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Viper keys for the settings.  Dotted keys nest in a config file.
const (
	KeyBaseURL   = "platform.base-url"
	KeyToken     = "platform.token"
	KeyAppID     = "platform.app-id"
	KeyAppSecret = "platform.app-secret"

	KeyProductKey = "productKey"
	KeyDeviceName = "deviceName"

	KeyWritableIdentifiers = "write.identifiers"
	KeyAllowWrite          = "write.allow"
	KeyNightBlock          = "write.night-block"
	KeyNightStart          = "write.night-start"
	KeyNightEnd            = "write.night-end"
	KeyTZOffset            = "write.tz-offset-minutes"
	KeySensitiveActions    = "write.sensitive-actions"

	KeyCacheEnabled = "cache.enabled"
	KeyCacheTTL     = "cache.ttl-ms"
	KeyCacheDir     = "cache.dir"
	KeyCacheBackend = "cache.backend"

	KeyReadTimeout    = "read.timeout-ms"
	KeyReadRetryCount = "read.retry-count"
	KeyReadRetryDelay = "read.retry-delay-ms"

	KeyQuiet         = "quiet"
	KeyStructuredLog = "structured-log"
	KeyDebug         = "debug"
	KeyLogRequests   = "logging.log-requests"
)

// EnvBindings maps each key to its environment variable
var EnvBindings = map[string]string{
	KeyBaseURL:             "IOT_BASE_URL",
	KeyToken:               "IOT_TOKEN",
	KeyAppID:               "IOT_APP_ID",
	KeyAppSecret:           "IOT_APP_SECRET",
	KeyProductKey:          "IOT_DEFAULT_PRODUCT_KEY",
	KeyDeviceName:          "IOT_DEFAULT_DEVICE_NAME",
	KeyWritableIdentifiers: "IOT_WRITABLE_IDENTIFIERS",
	KeyAllowWrite:          "IOT_ALLOW_WRITE",
	KeyNightBlock:          "IOT_WRITE_NIGHT_BLOCK_ENABLED",
	KeyNightStart:          "IOT_WRITE_NIGHT_START",
	KeyNightEnd:            "IOT_WRITE_NIGHT_END",
	KeyTZOffset:            "IOT_WRITE_TZ_OFFSET_MINUTES",
	KeySensitiveActions:    "IOT_SENSITIVE_ACTIONS",
	KeyCacheEnabled:        "IOT_MODEL_CACHE_ENABLED",
	KeyCacheTTL:            "IOT_MODEL_CACHE_TTL_MS",
	KeyCacheDir:            "IOT_MODEL_CACHE_DIR",
	KeyCacheBackend:        "IOT_MODEL_CACHE_BACKEND",
	KeyReadTimeout:         "IOT_READ_TIMEOUT_MS",
	KeyReadRetryCount:      "IOT_READ_RETRY_COUNT",
	KeyReadRetryDelay:      "IOT_READ_RETRY_DELAY_MS",
	KeyQuiet:               "IOT_SKILL_QUIET",
	KeyStructuredLog:       "IOT_STRUCTURED_LOG_ENABLED",
	KeyDebug:               "IOT_DEBUG",
}

// BindEnv registers every environment variable with v
func BindEnv(v *viper.Viper) error {
	for key, env := range EnvBindings {
		if err := v.BindEnv(key, env); err != nil {
			return errors.Wrapf(err, "binding %s to %s", env, key)
		}
	}
	return nil
}
