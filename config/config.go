// Package config loads the daemon configuration from a TOML file with
// SAFETY_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/policy"
	"github.com/heibot/safety/visibility"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
)

// CurrentVersion is the version of the config file layout.
const CurrentVersion = 1

// EnvPrefix prefixes environment overrides. A double underscore separates
// nested keys: SAFETY_STORE__DSN sets store.dsn.
const EnvPrefix = "SAFETY_"

// SearchPaths are tried in order when no path is given.
var SearchPaths = []string{
	"safety.toml",
	"config/safety.toml",
	"/etc/safety/safety.toml",
}

// Config represents the entire daemon configuration.
type Config struct {
	// Version of the config file.
	Version     int         `koanf:"version"`
	Log         Log         `koanf:"log"`
	Server      Server      `koanf:"server"`
	Store       Store       `koanf:"store"`
	Redis       Redis       `koanf:"redis"`
	RateLimit   RateLimit   `koanf:"rate_limit"`
	Chat        Chat        `koanf:"chat"`
	Report      Report      `koanf:"report"`
	Ledger      Ledger      `koanf:"ledger"`
	Policy      Policy      `koanf:"policy"`
	Visibility  Visibility  `koanf:"visibility"`
	Classifiers Classifiers `koanf:"classifiers"`
	Timeouts    Timeouts    `koanf:"timeouts"`
}

// Log contains logger configuration.
type Log struct {
	// Log level (debug, info, warn, error).
	Level string `koanf:"level"`
	// Development enables human-readable console output.
	Development bool `koanf:"development"`
}

// Server contains HTTP server configuration.
type Server struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// MetricsPath serves Prometheus metrics; empty disables it.
	MetricsPath string `koanf:"metrics_path"`
	// AdminPassword guards /v1/admin with basic auth (user "admin").
	AdminPassword string `koanf:"admin_password"`
}

// Store contains persistence configuration.
type Store struct {
	// Driver is memory, mysql, tidb, postgres or sqlite.
	Driver          string        `koanf:"driver"`
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	// Migrate creates missing tables on startup.
	Migrate bool `koanf:"migrate"`
}

// Redis contains Redis connection configuration. An empty address disables
// the Redis rate limiter and event publisher.
type Redis struct {
	Addr     string `koanf:"addr"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// Enabled reports whether a Redis address is configured.
func (r Redis) Enabled() bool {
	return r.Addr != ""
}

// RateLimit contains chat rate limiter configuration.
type RateLimit struct {
	// Backend is memory or redis.
	Backend string        `koanf:"backend"`
	Limit   int           `koanf:"limit"`
	Window  time.Duration `koanf:"window"`
	// Capacity bounds tracked users of the memory backend.
	Capacity int `koanf:"capacity"`
}

// Chat contains chat guard configuration.
type Chat struct {
	// BannedWords and HateWords replace the built-in lists when non-empty.
	BannedWords []string      `koanf:"banned_words"`
	HateWords   []string      `koanf:"hate_words"`
	MuteEvery   int           `koanf:"mute_every"`
	MuteFor     time.Duration `koanf:"mute_for"`

	// Moderators are platform moderator user IDs.
	Moderators []string `koanf:"moderators"`
	// Captains maps tribe ID to captain user ID.
	Captains map[string]string `koanf:"captains"`
}

// Report contains report intake configuration.
type Report struct {
	EscalationThreshold int `koanf:"escalation_threshold"`
}

// Ledger contains strike ledger configuration.
type Ledger struct {
	AppealWindow       time.Duration `koanf:"appeal_window"`
	MaxConflictRetries uint64        `koanf:"max_conflict_retries"`
}

// Policy overrides threshold tables. Keys are category names; categories
// left out keep their default threshold.
type Policy struct {
	WarnRatio   float64            `koanf:"warn_ratio"`
	Image       map[string]float64 `koanf:"image"`
	Text        map[string]float64 `koanf:"text"`
	Username    map[string]float64 `koanf:"username"`
	TribeName   map[string]float64 `koanf:"tribe_name"`
	ChatMessage map[string]float64 `koanf:"chat_message"`
}

// Visibility overrides how denied content renders. Both maps are keyed
// by content type.
type Visibility struct {
	Policies     map[string]string `koanf:"policies"`
	Replacements map[string]string `koanf:"replacements"`
}

// Renderer returns the renderer configuration with the overrides applied.
func (v Visibility) Renderer() visibility.Config {
	cfg := visibility.Config{
		Policies:     make(visibility.Policies, len(v.Policies)),
		Replacements: make(map[safety.ContentType]string, len(v.Replacements)),
	}
	for ct, p := range v.Policies {
		cfg.Policies[safety.ContentType(ct)] = visibility.Policy(p)
	}
	for ct, r := range v.Replacements {
		cfg.Replacements[safety.ContentType(ct)] = r
	}
	return cfg
}

// Classifiers contains backend credentials and the resilience settings
// shared by all of them.
type Classifiers struct {
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries"`
	// QPS throttles outbound calls per backend; 0 disables throttling.
	QPS int `koanf:"qps"`

	Aliyun  Backend `koanf:"aliyun"`
	Tencent Backend `koanf:"tencent"`
	Huawei  Backend `koanf:"huawei"`
	Remote  Remote  `koanf:"remote"`
}

// Backend contains cloud classifier credentials.
type Backend struct {
	Enabled         bool   `koanf:"enabled"`
	AccessKeyID     string `koanf:"access_key_id"`
	AccessKeySecret string `koanf:"access_key_secret"`
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint"`
	// ProjectID is required by Huawei.
	ProjectID string `koanf:"project_id"`
	// Service selects the backend policy (Aliyun image service, Tencent
	// biz type).
	Service string `koanf:"service"`
}

// Remote contains the HTTP scoring backend configuration.
type Remote struct {
	Enabled    bool   `koanf:"enabled"`
	Endpoint   string `koanf:"endpoint"`
	APIKey     string `koanf:"api_key"`
	MaxRetries int    `koanf:"max_retries"`
}

// Timeouts bound work on the request path.
type Timeouts struct {
	Store time.Duration `koanf:"store"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() Config {
	return Config{
		Log: Log{Level: "info"},
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MetricsPath:     "/metrics",
		},
		Store: Store{
			Driver:          "memory",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		RateLimit: RateLimit{
			Backend:  "memory",
			Limit:    safety.ChatRateLimit,
			Window:   safety.ChatRateWindow,
			Capacity: 100_000,
		},
		Chat: Chat{
			MuteEvery: safety.AutoMuteViolations,
			MuteFor:   safety.AutoMuteDuration,
		},
		Report: Report{EscalationThreshold: safety.ReportEscalationReports},
		Ledger: Ledger{AppealWindow: safety.DefaultAppealWindow, MaxConflictRetries: 5},
		Policy: Policy{WarnRatio: 0.8},
		Classifiers: Classifiers{
			Timeout:    5 * time.Second,
			MaxRetries: 2,
		},
		Timeouts: Timeouts{Store: 3 * time.Second},
	}
}

// Load reads the config file at path, or the first of SearchPaths when path
// is empty, applies environment overrides and validates the result.
func Load(path string) (*Config, string, error) {
	k := koanf.New(".")

	if path == "" {
		for _, p := range SearchPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
		if path == "" {
			return nil, "", fmt.Errorf("%w: tried %s", ErrConfigFileNotFound, strings.Join(SearchPaths, ", "))
		}
	}

	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, "", fmt.Errorf("error loading %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, "", fmt.Errorf("error loading environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := checkVersion(path, cfg.Version); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, path, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func checkVersion(path string, current int) error {
	if current == 0 {
		return fmt.Errorf("%w: %s", ErrConfigVersionMissing, path)
	}
	if current != CurrentVersion {
		return fmt.Errorf("%w: %s (got: %d, expected: %d)", ErrConfigVersionMismatch, path, current, CurrentVersion)
	}
	return nil
}

// Validate checks values that would otherwise fail at startup.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "mysql", "tidb", "postgres", "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn required for driver %s", safety.ErrMissingConfig, c.Store.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", safety.ErrInvalidConfig, c.Store.Driver)
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled() {
			return fmt.Errorf("%w: redis.addr required for redis rate limiter", safety.ErrMissingConfig)
		}
	default:
		return fmt.Errorf("%w: unknown rate limit backend %q", safety.ErrInvalidConfig, c.RateLimit.Backend)
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("%w: rate_limit.limit and rate_limit.window must be positive", safety.ErrInvalidConfig)
	}

	if c.Chat.MuteEvery <= 0 {
		return fmt.Errorf("%w: chat.mute_every must be positive", safety.ErrInvalidConfig)
	}
	if c.Report.EscalationThreshold < 2 {
		return fmt.Errorf("%w: report.escalation_threshold must be at least 2", safety.ErrInvalidConfig)
	}

	if c.Policy.WarnRatio < 0 || c.Policy.WarnRatio >= 1 {
		return fmt.Errorf("%w: policy.warn_ratio must be in [0,1)", safety.ErrInvalidConfig)
	}
	for name, table := range c.Policy.tables() {
		for cat, v := range table {
			if v <= 0 || v > 1 {
				return fmt.Errorf("%w: policy.%s.%s must be in (0,1]", safety.ErrInvalidConfig, name, cat)
			}
		}
	}

	for ct, p := range c.Visibility.Policies {
		if !safety.ContentType(ct).Valid() {
			return fmt.Errorf("%w: visibility.policies: unknown content type %q", safety.ErrInvalidConfig, ct)
		}
		if !visibility.Policy(p).Valid() {
			return fmt.Errorf("%w: visibility.policies.%s: unknown policy %q", safety.ErrInvalidConfig, ct, p)
		}
	}
	for ct := range c.Visibility.Replacements {
		if !safety.ContentType(ct).Valid() {
			return fmt.Errorf("%w: visibility.replacements: unknown content type %q", safety.ErrInvalidConfig, ct)
		}
	}

	cl := c.Classifiers
	if cl.Remote.Enabled && cl.Remote.Endpoint == "" {
		return fmt.Errorf("%w: classifiers.remote.endpoint required", safety.ErrMissingConfig)
	}
	for name, b := range map[string]Backend{"aliyun": cl.Aliyun, "tencent": cl.Tencent, "huawei": cl.Huawei} {
		if b.Enabled && (b.AccessKeyID == "" || b.AccessKeySecret == "") {
			return fmt.Errorf("%w: classifiers.%s credentials required", safety.ErrMissingConfig, name)
		}
	}
	if cl.Huawei.Enabled && cl.Huawei.ProjectID == "" {
		return fmt.Errorf("%w: classifiers.huawei.project_id required", safety.ErrMissingConfig)
	}

	// every backend classifies text and images; only remote detects faces
	if !cl.Remote.Enabled && !cl.Aliyun.Enabled && !cl.Tencent.Enabled && !cl.Huawei.Enabled {
		return fmt.Errorf("%w: at least one text and image classifier must be enabled", safety.ErrMissingConfig)
	}
	if !cl.Remote.Enabled {
		return fmt.Errorf("%w: classifiers.remote required for face detection", safety.ErrMissingConfig)
	}
	return nil
}

func (p Policy) tables() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"image":        p.Image,
		"text":         p.Text,
		"username":     p.Username,
		"tribe_name":   p.TribeName,
		"chat_message": p.ChatMessage,
	}
}

// Rules returns the default policy tables with the configured thresholds
// applied.
func (p Policy) Rules() policy.Rules {
	r := policy.DefaultRules()
	r.WarnRatio = p.WarnRatio
	r.Image.Thresholds = override(r.Image.Thresholds, p.Image)
	r.Text.Thresholds = override(r.Text.Thresholds, p.Text)
	r.Username.Thresholds = override(r.Username.Thresholds, p.Username)
	r.TribeName.Thresholds = override(r.TribeName.Thresholds, p.TribeName)
	r.ChatMessage.Thresholds = override(r.ChatMessage.Thresholds, p.ChatMessage)
	return r
}

func override(base map[safety.Category]float64, with map[string]float64) map[safety.Category]float64 {
	out := make(map[safety.Category]float64, len(base)+len(with))
	for c, v := range base {
		out[c] = v
	}
	for c, v := range with {
		out[safety.Category(c)] = v
	}
	return out
}
