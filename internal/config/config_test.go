package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mapBackend is an in-memory Backend.
type mapBackend struct {
	data map[string]string
}

func newMapBackend(kv map[string]string) *mapBackend {
	if kv == nil {
		kv = make(map[string]string)
	}
	return &mapBackend{data: kv}
}

func (m *mapBackend) Get(key string) (string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapBackend) Set(key, val string) error { m.data[key] = val; return nil }
func (m *mapBackend) Unset(key string) error    { delete(m.data, key); return nil }

// memSecrets is an in-memory SecretStore.
type memSecrets struct {
	secrets map[string]string
	getErr  error
	setErr  error
}

func (m *memSecrets) Get(name string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.secrets[name]
	if !ok {
		return "", ErrSecretNotFound
	}
	return v, nil
}

func (m *memSecrets) Set(name, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.secrets == nil {
		m.secrets = make(map[string]string)
	}
	m.secrets[name] = value
	return nil
}

// clearEnv blanks every SHOPBOT_* variable for the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
	t.Setenv(apiTokenEnv, "")
}

// TestDefaults verifies all default values are applied with an empty backend.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMapBackend(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Server.RateLimitRPS != 10 || cfg.Server.RateLimitBurst != 20 {
		t.Errorf("rate limit = %v/%d, want 10/20", cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	}
	if cfg.Search.CategoryThreshold != 70 || cfg.Search.ProductThreshold != 60 {
		t.Errorf("search thresholds = %d/%d, want 70/60", cfg.Search.CategoryThreshold, cfg.Search.ProductThreshold)
	}
	if !cfg.Search.Shuffle {
		t.Error("Search.Shuffle = false, want true")
	}
	if cfg.Cart.MatchThreshold != 70 || cfg.Cart.MaxRecommendations != 3 {
		t.Errorf("cart = %+v", cfg.Cart)
	}
	if cfg.ETA.Policy != "max" {
		t.Errorf("ETA.Policy = %q, want max", cfg.ETA.Policy)
	}
	if cfg.Session.Backend != "sqlite" {
		t.Errorf("Session.Backend = %q, want sqlite", cfg.Session.Backend)
	}
	if cfg.Catalog.ReloadInterval != 30*time.Second {
		t.Errorf("Catalog.ReloadInterval = %v, want 30s", cfg.Catalog.ReloadInterval)
	}
	if filepath.Base(cfg.Catalog.ProductsPath) != "products.csv" {
		t.Errorf("Catalog.ProductsPath = %q", cfg.Catalog.ProductsPath)
	}
}

// TestBackendValues verifies typed values are read from the backend.
func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := newMapBackend(map[string]string{
		"server.port":             "5000",
		"server.rate_limit_rps":   "2.5",
		"storage.data_dir":        "/tmp/shopbot-test",
		"search.shuffle":          "false",
		"catalog.reload_interval": "0s",
		"session.backend":         "redis",
		"session.cache_ttl":       "5m",
		"eta.policy":              "avg",
	})

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Server.RateLimitRPS != 2.5 {
		t.Errorf("RateLimitRPS = %v, want 2.5", cfg.Server.RateLimitRPS)
	}
	if cfg.Storage.DataDir != "/tmp/shopbot-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Search.Shuffle {
		t.Error("Search.Shuffle = true, want false")
	}
	if cfg.Catalog.ReloadInterval != 0 {
		t.Errorf("ReloadInterval = %v, want 0", cfg.Catalog.ReloadInterval)
	}
	if cfg.Session.Backend != "redis" || cfg.Session.CacheTTL != 5*time.Minute {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.ETA.Policy != "avg" {
		t.Errorf("ETA.Policy = %q", cfg.ETA.Policy)
	}
}

// TestInvalidBackendValueKeepsDefault verifies unparseable values fall back.
func TestInvalidBackendValueKeepsDefault(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMapBackend(map[string]string{
		"search.shuffle":    "sometimes",
		"session.cache_ttl": "soon",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Search.Shuffle {
		t.Error("Search.Shuffle should keep its default")
	}
	if cfg.Session.CacheTTL != 60*time.Second {
		t.Errorf("CacheTTL = %v, want default 60s", cfg.Session.CacheTTL)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("SHOPBOT_SERVER_PORT", "6000")
	t.Setenv("SHOPBOT_SEARCH_SHUFFLE", "false")
	t.Setenv("SHOPBOT_SESSION_REDIS_PASSWORD", "hunter2")
	t.Setenv("SHOPBOT_CART_MAX_RECOMMENDATIONS", "not-a-number")

	cfg, err := loadWith(newMapBackend(map[string]string{"server.port": "5000"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Search.Shuffle {
		t.Error("Search.Shuffle = true, want false")
	}
	if cfg.Session.RedisPassword != "hunter2" {
		t.Errorf("RedisPassword = %q", cfg.Session.RedisPassword)
	}
	if cfg.Cart.MaxRecommendations != 3 {
		t.Errorf("MaxRecommendations = %d, want default 3", cfg.Cart.MaxRecommendations)
	}
}

// TestSecretsIgnoredInBackend verifies secrets are never read from the backend.
func TestSecretsIgnoredInBackend(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMapBackend(map[string]string{"session.redis_password": "leaked"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.RedisPassword != "" {
		t.Errorf("RedisPassword = %q, want empty", cfg.Session.RedisPassword)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		kv   map[string]string
		want string
	}{
		{map[string]string{"session.backend": "memcached"}, "session.backend"},
		{map[string]string{"eta.policy": "median"}, "eta.policy"},
		{map[string]string{"server.port": "70000"}, "server.port"},
	}
	for _, tt := range tests {
		clearEnv(t)
		_, err := loadWith(newMapBackend(tt.kv))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("loadWith(%v) error = %v, want mention of %s", tt.kv, err, tt.want)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "SHOPBOT_SERVER_PORT=7000\nSHOPBOT_LOG_LEVEL=debug\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv only fills variables that are unset; already-set ones win.
	os.Unsetenv("SHOPBOT_SERVER_PORT")
	t.Setenv("SHOPBOT_LOG_LEVEL", "warn")

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}

	cfg, err := loadWith(newMapBackend(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}

	if err := loadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestSetKey(t *testing.T) {
	b := newMapBackend(nil)

	if err := setKey(b, "server.port", "4200"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if b.data["server.port"] != "4200" {
		t.Errorf("server.port = %v", b.data["server.port"])
	}
	if err := setKey(b, "search.shuffle", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if err := setKey(b, "catalog.reload_interval", "1m"); err != nil {
		t.Fatalf("set duration: %v", err)
	}

	bad := []struct{ key, value string }{
		{"server.port", "abc"},
		{"search.shuffle", "maybe"},
		{"server.rate_limit_rps", "fast"},
		{"session.ttl", "forever"},
		{"session.redis_password", "x"},
		{"no.such.key", "x"},
		{"eta.policy", "median"},
		{"session.backend", "memcached"},
		{"server.port", "0"},
	}
	for _, tt := range bad {
		if err := setKey(b, tt.key, tt.value); err == nil {
			t.Errorf("setKey(%s, %s) = nil, want error", tt.key, tt.value)
		}
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Session.RedisPassword = "hunter2"

	for _, k := range ShowAll(cfg) {
		if k.Key == "session.redis_password" || strings.Contains(k.Value, "hunter2") {
			t.Errorf("secret leaked in ShowAll: %+v", k)
		}
	}
	if len(ShowAll(cfg)) != len(ValidKeys()) {
		t.Errorf("ShowAll and ValidKeys disagree")
	}
}

func TestGetAPIToken(t *testing.T) {
	clearEnv(t)

	store := &memSecrets{}
	tok, err := GetAPIToken(store)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(tok) != 64 {
		t.Errorf("generated token length = %d, want 64", len(tok))
	}

	again, err := GetAPIToken(store)
	if err != nil {
		t.Fatalf("GetAPIToken again: %v", err)
	}
	if again != tok {
		t.Error("token should be stable once stored")
	}

	t.Setenv(apiTokenEnv, "from-env")
	if tok, _ := GetAPIToken(store); tok != "from-env" {
		t.Errorf("token = %q, want from-env", tok)
	}
}

func TestGetAPITokenStoreFailure(t *testing.T) {
	clearEnv(t)

	_, err := GetAPIToken(&memSecrets{setErr: errors.New("locked")})
	if err == nil {
		t.Fatal("expected error when the store rejects the token")
	}

	// A broken store is reported, not papered over with a new token.
	_, err = GetAPIToken(&memSecrets{getErr: errors.New("corrupt")})
	if err == nil || errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("error = %v, want the load failure", err)
	}
}

func TestFileBackend(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "server:\n  port: 4300\n  rate_limit_rps: 2.5\nsearch:\n  shuffle: false\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	b, err := openFileBackend(path)
	if err != nil {
		t.Fatalf("openFileBackend: %v", err)
	}
	if v, ok, _ := b.Get("server.port"); !ok || v != "4300" {
		t.Errorf("server.port = %q, %v", v, ok)
	}
	if v, _, _ := b.Get("server.rate_limit_rps"); v != "2.5" {
		t.Errorf("server.rate_limit_rps = %q", v)
	}
	if _, ok, _ := b.Get("log.level"); ok {
		t.Error("log.level should be absent")
	}

	if err := setKey(b, "log.level", "debug"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := b.Unset("search.shuffle"); err != nil {
		t.Fatalf("Unset: %v", err)
	}

	reopened, err := openFileBackend(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	cfg, err := loadWith(reopened)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4300 || cfg.Log.Level != "debug" || !cfg.Search.Shuffle {
		t.Errorf("cfg = port %d, level %q, shuffle %v", cfg.Server.Port, cfg.Log.Level, cfg.Search.Shuffle)
	}
}

func TestFileBackend_Missing(t *testing.T) {
	b, err := openFileBackend(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("missing file should be empty, got %v", err)
	}
	if _, ok, _ := b.Get("server.port"); ok {
		t.Error("empty backend returned a value")
	}
}

func TestFileBackend_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := openFileBackend(path); err == nil {
		t.Error("expected a parse error")
	}
}

func TestSetAndUnsetKey(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("SHOPBOT_CONFIG_DIR", dir)

	if err := SetKey("eta.policy", "avg"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ETA.Policy != "avg" {
		t.Errorf("ETA.Policy = %q, want avg", cfg.ETA.Policy)
	}

	if err := UnsetKey("eta.policy"); err != nil {
		t.Fatalf("UnsetKey: %v", err)
	}
	if cfg, _ := Load(); cfg.ETA.Policy != "max" {
		t.Errorf("ETA.Policy after unset = %q, want max", cfg.ETA.Policy)
	}
	if err := UnsetKey("no.such.key"); err == nil {
		t.Error("UnsetKey(unknown) = nil, want error")
	}
}

func TestFileSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("SHOPBOT_CONFIG_DIR", t.TempDir())

	store := NewSecretStore()
	if _, err := store.Get("api_token"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("Get(empty) error = %v, want ErrSecretNotFound", err)
	}

	tok, err := GetAPIToken(store)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if again, _ := GetAPIToken(NewSecretStore()); again != tok {
		t.Errorf("token not persisted: %q != %q", again, tok)
	}

	info, err := os.Stat(filepath.Join(Dir(), "secrets.yaml"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("secrets.yaml mode = %o, want 600", perm)
	}
}
