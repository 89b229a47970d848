package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds derived runtime values that other packages may query
// at runtime (populated during startup by main after merging env+file).
type RuntimeConfig struct {
	BackendKeys map[string]struct{}
	SigningKeys map[string]struct{}
}

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the canonical runtime config used by the running server.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// GetBackendKeys returns a copy of configured backend keys.
func GetBackendKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.BackendKeys == nil {
		return out
	}
	for k := range runtimeCfg.BackendKeys {
		out[k] = struct{}{}
	}
	return out
}

// GetSigningKeys returns a copy of configured signing keys.
func GetSigningKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.SigningKeys == nil {
		return out
	}
	for k := range runtimeCfg.SigningKeys {
		out[k] = struct{}{}
	}
	return out
}

// Defaults mirrored from the policy the platform has always shipped with.
const (
	DefaultMinWithdraw    = 5000
	DefaultDepositWindow  = 10 * time.Minute
	DefaultRoom           = "community"
	DefaultMemoPrefix     = "EARN"
	DefaultSweepCron      = "*/5 * * * *"
	DefaultSyncInterval   = 20 * time.Second
	DefaultFetchTimeout   = 8 * time.Second
	DefaultDepositMethod  = "MB Bank"
	DefaultDepositAccount = "97042292345678"
)

// ParseCommandFlags parses -addr, -db and -config and reports which were
// explicitly set so callers can give flags precedence over file/env values.
func ParseCommandFlags() (addr, db, cfgPath string, set map[string]bool) {
	addrFlag := flag.String("addr", ":8080", "listen address")
	dbFlag := flag.String("db", "./data", "database path")
	cfgFlag := flag.String("config", "", "path to config file")
	flag.Parse()
	set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return *addrFlag, *dbFlag, *cfgFlag, set
}

// ResolveConfigPath picks the config file path: explicit flag wins, then the
// EARNHUB_CONFIG env var, then ./config.yaml when present.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet && flagVal != "" {
		return flagVal
	}
	if p := os.Getenv("EARNHUB_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return flagVal
}

// Load reads and parses the YAML config at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("no config path provided")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &c, nil
}

// LoadEffective merges the config file (when present) with EARNHUB_* env
// overrides and fills defaults. It reports whether any env override was used
// so startup can display config sources.
func LoadEffective(path string) (*Config, bool, error) {
	cfg := &Config{}
	if path != "" {
		if loaded, err := Load(path); err == nil {
			cfg = loaded
		} else if !os.IsNotExist(err) {
			return nil, false, err
		}
	}
	envUsed := applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, envUsed, nil
}

func applyEnv(c *Config) bool {
	used := false
	if v := os.Getenv("EARNHUB_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
		used = true
	}
	if v := os.Getenv("EARNHUB_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
			used = true
		}
	}
	if v := os.Getenv("EARNHUB_DB_PATH"); v != "" {
		c.Server.DBPath = v
		used = true
	}
	if v := os.Getenv("EARNHUB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
		used = true
	}
	if v := os.Getenv("EARNHUB_API_KEYS_BACKEND"); v != "" {
		c.Security.APIKeys.Backend = splitList(v)
		used = true
	}
	if v := os.Getenv("EARNHUB_API_KEYS_FRONTEND"); v != "" {
		c.Security.APIKeys.Frontend = splitList(v)
		used = true
	}
	if v := os.Getenv("EARNHUB_API_KEYS_ADMIN"); v != "" {
		c.Security.APIKeys.Admin = splitList(v)
		used = true
	}
	if v := os.Getenv("EARNHUB_PROFILE_ENDPOINT"); v != "" {
		c.Profile.Endpoint = v
		used = true
	}
	if v := os.Getenv("EARNHUB_FORBIDDEN_TERMS"); v != "" {
		c.Moderation.ForbiddenTerms = splitList(v)
		used = true
	}
	if v := os.Getenv("EARNHUB_ANNOUNCEMENT"); v != "" {
		c.Announcement = v
		used = true
	}
	return used
}

func applyDefaults(c *Config) {
	if c.Wallet.MinWithdraw == 0 {
		c.Wallet.MinWithdraw = DefaultMinWithdraw
	}
	if c.Wallet.DepositWindow.Duration() == 0 {
		c.Wallet.DepositWindow = Duration(DefaultDepositWindow)
	}
	if c.Wallet.DepositMethod == "" {
		c.Wallet.DepositMethod = DefaultDepositMethod
	}
	if c.Wallet.DepositAccount == "" {
		c.Wallet.DepositAccount = DefaultDepositAccount
	}
	if c.Wallet.MemoPrefix == "" {
		c.Wallet.MemoPrefix = DefaultMemoPrefix
	}
	if c.Moderation.Room == "" {
		c.Moderation.Room = DefaultRoom
	}
	if c.Sweep.Cron == "" {
		c.Sweep.Cron = DefaultSweepCron
	}
	if c.Profile.Interval.Duration() == 0 {
		c.Profile.Interval = Duration(DefaultSyncInterval)
	}
	if c.Profile.Timeout.Duration() == 0 {
		c.Profile.Timeout = Duration(DefaultFetchTimeout)
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
