package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SHOPBOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.rate_limit_rps", typ: kFloat, env: "SHOPBOT_SERVER_RATE_LIMIT_RPS",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimitRPS = v.(float64) },
		extract: func(cfg Config) any { return cfg.Server.RateLimitRPS },
	},
	{
		key: "server.rate_limit_burst", typ: kInt, env: "SHOPBOT_SERVER_RATE_LIMIT_BURST",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimitBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.RateLimitBurst },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SHOPBOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "catalog.products_path", typ: kString, env: "SHOPBOT_CATALOG_PRODUCTS_PATH",
		apply:   func(cfg *Config, v any) { cfg.Catalog.ProductsPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.ProductsPath },
	},
	{
		key: "catalog.synonyms_path", typ: kString, env: "SHOPBOT_CATALOG_SYNONYMS_PATH",
		apply:   func(cfg *Config, v any) { cfg.Catalog.SynonymsPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.SynonymsPath },
	},
	{
		key: "catalog.orders_path", typ: kString, env: "SHOPBOT_CATALOG_ORDERS_PATH",
		apply:   func(cfg *Config, v any) { cfg.Catalog.OrdersPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.OrdersPath },
	},
	{
		key: "catalog.reload_interval", typ: kDuration, env: "SHOPBOT_CATALOG_RELOAD_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Catalog.ReloadInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Catalog.ReloadInterval },
	},
	{
		key: "search.category_threshold", typ: kInt, env: "SHOPBOT_SEARCH_CATEGORY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Search.CategoryThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.CategoryThreshold },
	},
	{
		key: "search.product_threshold", typ: kInt, env: "SHOPBOT_SEARCH_PRODUCT_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Search.ProductThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.ProductThreshold },
	},
	{
		key: "search.shuffle", typ: kBool, env: "SHOPBOT_SEARCH_SHUFFLE",
		apply:   func(cfg *Config, v any) { cfg.Search.Shuffle = v.(bool) },
		extract: func(cfg Config) any { return cfg.Search.Shuffle },
	},
	{
		key: "cart.match_threshold", typ: kInt, env: "SHOPBOT_CART_MATCH_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Cart.MatchThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Cart.MatchThreshold },
	},
	{
		key: "cart.max_recommendations", typ: kInt, env: "SHOPBOT_CART_MAX_RECOMMENDATIONS",
		apply:   func(cfg *Config, v any) { cfg.Cart.MaxRecommendations = v.(int) },
		extract: func(cfg Config) any { return cfg.Cart.MaxRecommendations },
	},
	{
		key: "eta.policy", typ: kString, env: "SHOPBOT_ETA_POLICY",
		apply:   func(cfg *Config, v any) { cfg.ETA.Policy = v.(string) },
		extract: func(cfg Config) any { return cfg.ETA.Policy },
	},
	{
		key: "session.backend", typ: kString, env: "SHOPBOT_SESSION_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Session.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.Backend },
	},
	{
		key: "session.redis_addr", typ: kString, env: "SHOPBOT_SESSION_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Session.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.RedisAddr },
	},
	{
		key: "session.redis_password", typ: kString, env: "SHOPBOT_SESSION_REDIS_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Session.RedisPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.RedisPassword },
	},
	{
		key: "session.redis_db", typ: kInt, env: "SHOPBOT_SESSION_REDIS_DB",
		apply:   func(cfg *Config, v any) { cfg.Session.RedisDB = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.RedisDB },
	},
	{
		key: "session.redis_prefix", typ: kString, env: "SHOPBOT_SESSION_REDIS_PREFIX",
		apply:   func(cfg *Config, v any) { cfg.Session.RedisPrefix = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.RedisPrefix },
	},
	{
		key: "session.cache_ttl", typ: kDuration, env: "SHOPBOT_SESSION_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Session.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.CacheTTL },
	},
	{
		key: "session.ttl", typ: kDuration, env: "SHOPBOT_SESSION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Session.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.TTL },
	},
	{
		key: "log.level", typ: kString, env: "SHOPBOT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parseValue converts raw text to the Go type of t.
func parseValue(t keyType, raw string) (any, error) {
	switch t {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.Get(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("config: ignoring unparseable value", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("config: ignoring unparseable env var", "var", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}

func lookupSpec(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return keySpec{}, fmt.Errorf("%s is a secret; set it with %s", key, s.env)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key: %q", key)
}

// KeyInfo is one displayable config entry.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll lists every non-secret key with its value in cfg.
func ShowAll(cfg Config) []KeyInfo {
	out := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		if !s.secret {
			out = append(out, KeyInfo{Key: s.key, EnvVar: s.env, Value: fmt.Sprint(s.extract(cfg))})
		}
	}
	return out
}

// ValidKeys returns the keys that SetKey accepts.
func ValidKeys() []string {
	infos := ShowAll(Config{})
	keys := make([]string, len(infos))
	for i, k := range infos {
		keys[i] = k.Key
	}
	return keys
}

// SetKey validates value for key and writes it to config.yaml.
func SetKey(key, value string) error {
	b, err := openFileBackend(configPath())
	if err != nil {
		return err
	}
	return setKey(b, key, value)
}

func setKey(b Backend, key, value string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}
	v, err := parseValue(s.typ, value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	cfg := defaults()
	s.apply(&cfg, v)
	if err := cfg.validate(); err != nil {
		return err
	}
	return b.Set(key, value)
}

// UnsetKey removes key from config.yaml so its default applies again.
func UnsetKey(key string) error {
	b, err := openFileBackend(configPath())
	if err != nil {
		return err
	}
	if _, err := lookupSpec(key); err != nil {
		return err
	}
	return b.Unset(key)
}
