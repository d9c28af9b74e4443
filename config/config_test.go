package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/visibility"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "safety.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// minimal is the smallest config file that passes validation.
const minimal = `
version = 1

[classifiers.remote]
enabled = true
endpoint = "http://scorer.internal"
`

// valid returns the defaults with the classifiers a deployment needs.
func valid() Config {
	cfg := Default()
	cfg.Classifiers.Remote = Remote{Enabled: true, Endpoint: "http://scorer.internal"}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, minimal)

	cfg, used, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, used)

	def := valid()
	def.Version = 1
	assert.Equal(t, def, *cfg)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.RateLimit.Limit)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 3, cfg.Chat.MuteEvery)
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
version = 1

[server]
addr = ":9090"
read_timeout = "2s"

[store]
driver = "postgres"
dsn = "postgres://localhost/safety?sslmode=disable"
migrate = true

[redis]
addr = "localhost:6379"

[rate_limit]
backend = "redis"
limit = 10
window = "30s"

[chat]
banned_words = ["darn", "heck"]

[policy.image]
nsfw = 0.5

[visibility.policies]
tribe_name = "all_or_nothing"

[visibility.replacements]
username = "member"

[classifiers.remote]
enabled = true
endpoint = "http://scorer.internal"
`)

	cfg, _, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout, "unset keys keep defaults")
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.True(t, cfg.Store.Migrate)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, []string{"darn", "heck"}, cfg.Chat.BannedWords)
	assert.True(t, cfg.Classifiers.Remote.Enabled)

	rules := cfg.Policy.Rules()
	assert.Equal(t, 0.5, rules.Image.Thresholds[safety.CategoryNSFW])
	assert.Equal(t, 0.8, rules.Image.Thresholds[safety.CategoryViolence], "unlisted categories keep defaults")

	r := visibility.NewRenderer(cfg.Visibility.Renderer())
	assert.Equal(t, visibility.PolicyAllOrNothing, r.Policy(safety.ContentTribeName))
	assert.Equal(t, visibility.PolicyReplace, r.Policy(safety.ContentUsername))
	assert.Equal(t, "member", cfg.Visibility.Renderer().Replacements[safety.ContentUsername])
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, minimal+"\n[server]\naddr = \":9090\"\n")
	t.Setenv("SAFETY_SERVER__ADDR", ":7070")
	t.Setenv("SAFETY_RATE_LIMIT__LIMIT", "20")

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 20, cfg.RateLimit.Limit)
}

func TestLoad_Version(t *testing.T) {
	_, _, err := Load(writeConfig(t, "[server]\naddr = \":1\"\n"))
	assert.ErrorIs(t, err, ErrConfigVersionMissing)

	_, _, err = Load(writeConfig(t, "version = 2\n"))
	assert.ErrorIs(t, err, ErrConfigVersionMismatch)
}

func TestLoad_MissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		err    error
	}{
		{"defaults", func(*Config) {}, nil},
		{"sql without dsn", func(c *Config) { c.Store.Driver = "mysql" }, safety.ErrMissingConfig},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, safety.ErrInvalidConfig},
		{"redis limiter without redis", func(c *Config) { c.RateLimit.Backend = "redis" }, safety.ErrMissingConfig},
		{"zero window", func(c *Config) { c.RateLimit.Window = 0 }, safety.ErrInvalidConfig},
		{"bad threshold", func(c *Config) { c.Policy.Text = map[string]float64{"spam": 1.5} }, safety.ErrInvalidConfig},
		{"bad warn ratio", func(c *Config) { c.Policy.WarnRatio = 1 }, safety.ErrInvalidConfig},
		{"low escalation threshold", func(c *Config) { c.Report.EscalationThreshold = 1 }, safety.ErrInvalidConfig},
		{"remote without endpoint", func(c *Config) { c.Classifiers.Remote.Endpoint = "" }, safety.ErrMissingConfig},
		{"no classifiers", func(c *Config) { c.Classifiers.Remote.Enabled = false }, safety.ErrMissingConfig},
		{"no face detector", func(c *Config) {
			c.Classifiers.Remote.Enabled = false
			c.Classifiers.Tencent = Backend{Enabled: true, AccessKeyID: "ak", AccessKeySecret: "sk"}
		}, safety.ErrMissingConfig},
		{"cloud backend alongside remote", func(c *Config) {
			c.Classifiers.Tencent = Backend{Enabled: true, AccessKeyID: "ak", AccessKeySecret: "sk"}
		}, nil},
		{"unknown visibility policy", func(c *Config) {
			c.Visibility.Policies = map[string]string{"username": "hide"}
		}, safety.ErrInvalidConfig},
		{"visibility for unknown content", func(c *Config) {
			c.Visibility.Replacements = map[string]string{"video": "x"}
		}, safety.ErrInvalidConfig},
		{"visibility override", func(c *Config) {
			c.Visibility.Policies = map[string]string{"tribe_name": "all_or_nothing"}
		}, nil},
		{"aliyun without keys", func(c *Config) { c.Classifiers.Aliyun.Enabled = true }, safety.ErrMissingConfig},
		{"huawei without project", func(c *Config) {
			c.Classifiers.Huawei = Backend{Enabled: true, AccessKeyID: "ak", AccessKeySecret: "sk"}
		}, safety.ErrMissingConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
