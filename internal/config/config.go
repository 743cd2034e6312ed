package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Catalog CatalogConfig
	Search  SearchConfig
	Cart    CartConfig
	ETA     ETAConfig
	Session SessionConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port           int
	RateLimitRPS   float64
	RateLimitBurst int
}

type StorageConfig struct {
	DataDir string
}

type CatalogConfig struct {
	ProductsPath   string
	SynonymsPath   string
	OrdersPath     string
	ReloadInterval time.Duration // 0 disables hot reload
}

type SearchConfig struct {
	CategoryThreshold int
	ProductThreshold  int
	Shuffle           bool
}

type CartConfig struct {
	MatchThreshold     int
	MaxRecommendations int
}

type ETAConfig struct {
	Policy string // "min", "max" or "avg"
}

type SessionConfig struct {
	Backend       string // "sqlite" or "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	CacheTTL      time.Duration
	TTL           time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:           4100,
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Catalog: CatalogConfig{
			ProductsPath:   filepath.Join(dataDir, "products.csv"),
			SynonymsPath:   filepath.Join(dataDir, "synonyms.json"),
			OrdersPath:     filepath.Join(dataDir, "orders.csv"),
			ReloadInterval: 30 * time.Second,
		},
		Search: SearchConfig{
			CategoryThreshold: 70,
			ProductThreshold:  60,
			Shuffle:           true,
		},
		Cart: CartConfig{
			MatchThreshold:     70,
			MaxRecommendations: 3,
		},
		ETA: ETAConfig{
			Policy: "max",
		},
		Session: SessionConfig{
			Backend:     "sqlite",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "shopbot:session:",
			CacheTTL:    60 * time.Second,
			TTL:         24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a .env file in the working directory,
// Dir()/config.yaml and environment variables, later sources winning.
// Variables from .env never override ones already set.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	b, err := openFileBackend(configPath())
	if err != nil {
		return Config{}, err
	}
	return loadWith(b)
}

func configPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("reading %s: %w", path, err)
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Session.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("invalid session.backend %q: want sqlite or redis", c.Session.Backend)
	}
	switch strings.ToLower(c.ETA.Policy) {
	case "min", "max", "avg":
	default:
		return fmt.Errorf("invalid eta.policy %q: want min, max or avg", c.ETA.Policy)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	return nil
}
