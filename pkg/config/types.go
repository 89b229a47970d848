package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server       ServerConfig     `yaml:"server"`
	Security     SecurityConfig   `yaml:"security"`
	Logging      LoggingConfig    `yaml:"logging"`
	Moderation   ModerationConfig `yaml:"moderation"`
	Wallet       WalletConfig     `yaml:"wallet"`
	Profile      ProfileConfig    `yaml:"profile"`
	Sweep        SweepConfig      `yaml:"sweep"`
	Announcement string           `yaml:"announcement"`
}

// ServerConfig holds http, storage and tls settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds security related settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	IPWhitelist []string `yaml:"ip_whitelist"`
	APIKeys     struct {
		Backend  []string `yaml:"backend"`
		Frontend []string `yaml:"frontend"`
		Admin    []string `yaml:"admin"`
	} `yaml:"api_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// SlowRequest is the latency above which a request gets a log line.
	SlowRequest Duration `yaml:"slow_request"`
}

// ModerationConfig carries the forbidden-term policy list and the audit sink
// location. Escalation steps are fixed in the moderation package.
type ModerationConfig struct {
	Room           string   `yaml:"room"`
	ForbiddenTerms []string `yaml:"forbidden_terms"`
	AuditDir       string   `yaml:"audit_dir"`
	MaxTextLen     int      `yaml:"max_text_len"`
}

// WalletConfig holds transaction policy knobs.
type WalletConfig struct {
	MinWithdraw    int64    `yaml:"min_withdraw"`
	DepositWindow  Duration `yaml:"deposit_window"`
	DepositMethod  string   `yaml:"deposit_method"`
	DepositAccount string   `yaml:"deposit_account"`
	MemoPrefix     string   `yaml:"memo_prefix"`
}

// ProfileConfig configures the optional remote profile store used to
// reconcile local balances with server truth.
type ProfileConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
}

// SweepConfig controls the background deposit-expiry sweep.
type SweepConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// Addr returns the listen address derived from Address and Port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from
// strings like "10m" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
