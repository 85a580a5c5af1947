// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Fetch    FetchConfig    `mapstructure:"fetch" yaml:"fetch"`
	Acquire  AcquireConfig  `mapstructure:"acquire" yaml:"acquire"`
	Media    MediaConfig    `mapstructure:"media" yaml:"media"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Repost   RepostConfig   `mapstructure:"repost" yaml:"repost"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// LoggerConfig defines all the settings for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig configures the headless browser used for page acquisition.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	DisableGPU      bool     `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	NoSandbox       bool     `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string `mapstructure:"args" yaml:"args"`
	ViewportWidth   int      `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int      `mapstructure:"viewport_height" yaml:"viewport_height"`
	UserAgent       string   `mapstructure:"user_agent" yaml:"user_agent"`
	Platform        string   `mapstructure:"platform" yaml:"platform"`
	Locale          string   `mapstructure:"locale" yaml:"locale"`
	Timezone        string   `mapstructure:"timezone" yaml:"timezone"`
	// BlockedResources lists CDP resource types that are failed before they
	// reach the network. "Image" is rejected by Validate.
	BlockedResources []string `mapstructure:"blocked_resources" yaml:"blocked_resources"`
}

// AuthConfig carries the two session cookies installed before navigation.
// Both are opaque and usually supplied through the environment.
type AuthConfig struct {
	AuthToken    string `mapstructure:"auth_token" yaml:"-"`
	CSRFToken    string `mapstructure:"ct0" yaml:"-"`
	CookieDomain string `mapstructure:"cookie_domain" yaml:"cookie_domain"`
}

// FetchConfig controls the run-level deadline and attempt policy.
type FetchConfig struct {
	Profile      string        `mapstructure:"profile" yaml:"profile"`
	Deadline     time.Duration `mapstructure:"deadline" yaml:"deadline"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryDelay   time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	CleanupGrace time.Duration `mapstructure:"cleanup_grace" yaml:"cleanup_grace"`
}

// AcquireConfig tunes navigation and the sampling passes over the feed.
type AcquireConfig struct {
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	ItemSelector      string        `mapstructure:"item_selector" yaml:"item_selector"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ReadinessTimeout  time.Duration `mapstructure:"readiness_timeout" yaml:"readiness_timeout"`
	Passes            int           `mapstructure:"passes" yaml:"passes"`
	ScrollOffset      int           `mapstructure:"scroll_offset" yaml:"scroll_offset"`
	PassPause         time.Duration `mapstructure:"pass_pause" yaml:"pass_pause"`
	MaxTextDepth      int           `mapstructure:"max_text_depth" yaml:"max_text_depth"`
}

// MediaConfig configures the photo download stage.
type MediaConfig struct {
	Enabled          bool          `mapstructure:"enabled" yaml:"enabled"`
	Dir              string        `mapstructure:"dir" yaml:"dir"`
	FilePrefix       string        `mapstructure:"file_prefix" yaml:"file_prefix"`
	FileExt          string        `mapstructure:"file_ext" yaml:"file_ext"`
	ItemTimeout      time.Duration `mapstructure:"item_timeout" yaml:"item_timeout"`
	AggregateTimeout time.Duration `mapstructure:"aggregate_timeout" yaml:"aggregate_timeout"`
	Concurrency      int           `mapstructure:"concurrency" yaml:"concurrency"`
	RateLimit        float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	MaxBytes         int64         `mapstructure:"max_bytes" yaml:"max_bytes"`
}

// OutputConfig names the artifact written next to the stdout payload.
type OutputConfig struct {
	Artifact string `mapstructure:"artifact" yaml:"artifact"`
}

// RepostConfig drives the plan command.
type RepostConfig struct {
	MaxAge          time.Duration  `mapstructure:"max_age" yaml:"max_age"`
	MaxBytes        int            `mapstructure:"max_bytes" yaml:"max_bytes"`
	DefaultAlt      string         `mapstructure:"default_alt" yaml:"default_alt"`
	HistorySize     int            `mapstructure:"history_size" yaml:"history_size"`
	FallbackDir     string         `mapstructure:"fallback_dir" yaml:"fallback_dir"`
	DefaultFallback string         `mapstructure:"default_fallback" yaml:"default_fallback"`
	Fallbacks       []FallbackRule `mapstructure:"fallbacks" yaml:"fallbacks"`
}

// FallbackRule maps a keyword found in post text to a stand-in image.
type FallbackRule struct {
	Keyword string `mapstructure:"keyword" yaml:"keyword"`
	Image   string `mapstructure:"image" yaml:"image"`
}

// DatabaseConfig holds the connection string for the posted-history store.
// An empty URL disables the store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "tweetgrab")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 1000)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36")
	v.SetDefault("browser.platform", "Linux x86_64")
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.timezone", "UTC")
	v.SetDefault("browser.blocked_resources", []string{"Font", "Stylesheet", "Media"})

	// -- Auth --
	v.SetDefault("auth.auth_token", "")
	v.SetDefault("auth.ct0", "")
	v.SetDefault("auth.cookie_domain", ".x.com")

	// -- Fetch --
	v.SetDefault("fetch.profile", "")
	v.SetDefault("fetch.deadline", "30s")
	v.SetDefault("fetch.max_attempts", 2)
	v.SetDefault("fetch.retry_delay", "500ms")
	v.SetDefault("fetch.cleanup_grace", "3s")

	// -- Acquire --
	v.SetDefault("acquire.base_url", "https://x.com")
	v.SetDefault("acquire.item_selector", "article")
	v.SetDefault("acquire.navigation_timeout", "20s")
	v.SetDefault("acquire.readiness_timeout", "15s")
	v.SetDefault("acquire.passes", 3)
	v.SetDefault("acquire.scroll_offset", 800)
	v.SetDefault("acquire.pass_pause", "1500ms")
	v.SetDefault("acquire.max_text_depth", 512)

	// -- Media --
	v.SetDefault("media.enabled", true)
	v.SetDefault("media.dir", ".")
	v.SetDefault("media.file_prefix", "tweet_img_")
	v.SetDefault("media.file_ext", ".jpg")
	v.SetDefault("media.item_timeout", "10s")
	v.SetDefault("media.aggregate_timeout", "15s")
	v.SetDefault("media.concurrency", 4)
	v.SetDefault("media.rate_limit", 0.0)
	v.SetDefault("media.max_bytes", 20<<20)

	// -- Output --
	v.SetDefault("output.artifact", "latest_tweet.json")

	// -- Repost --
	v.SetDefault("repost.max_age", "48h")
	v.SetDefault("repost.max_bytes", 300)
	v.SetDefault("repost.default_alt", "Update")
	v.SetDefault("repost.history_size", 5)
	v.SetDefault("repost.fallback_dir", ".")
	v.SetDefault("repost.default_fallback", "general_fallback.jpg")
	v.SetDefault("repost.fallbacks", []map[string]string{
		{"keyword": "pickup summon", "image": "summon_fallback.jpg"},
		{"keyword": "event", "image": "event_fallback.jpg"},
		{"keyword": "Learning with Manga", "image": "Learning.png"},
		{"keyword": "exchange ticket", "image": "ticket_fallback.jpg"},
	})

	// -- Database --
	v.SetDefault("database.url", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Credentials are never expected in the config file.
	_ = v.BindEnv("auth.auth_token", "TWEETGRAB_AUTH_TOKEN")
	_ = v.BindEnv("auth.ct0", "TWEETGRAB_CT0")
	_ = v.BindEnv("database.url", "TWEETGRAB_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Logger.LogFile, &c.Media.Dir, &c.Output.Artifact, &c.Repost.FallbackDir, &c.Browser.ExecPath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Fetch.Deadline <= 0 {
		return fmt.Errorf("fetch.deadline must be a positive duration")
	}
	if c.Fetch.MaxAttempts < 1 {
		return fmt.Errorf("fetch.max_attempts must be at least 1")
	}
	if c.Fetch.CleanupGrace < 0 {
		return fmt.Errorf("fetch.cleanup_grace must not be negative")
	}
	if err := c.Acquire.Validate(); err != nil {
		return fmt.Errorf("acquire configuration invalid: %w", err)
	}
	if err := c.Media.Validate(); err != nil {
		return fmt.Errorf("media configuration invalid: %w", err)
	}
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if c.Repost.MaxBytes < 4 {
		return fmt.Errorf("repost.max_bytes must leave room for an ellipsis")
	}
	return nil
}

// Validate checks the sampling settings.
func (a *AcquireConfig) Validate() error {
	if a.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if a.ItemSelector == "" {
		return fmt.Errorf("item_selector is required")
	}
	if a.Passes < 1 || a.Passes > 3 {
		return fmt.Errorf("passes must be between 1 and 3")
	}
	if a.NavigationTimeout <= 0 || a.ReadinessTimeout <= 0 {
		return fmt.Errorf("navigation_timeout and readiness_timeout must be positive")
	}
	if a.PassPause < 0 {
		return fmt.Errorf("pass_pause must not be negative")
	}
	return nil
}

// Validate checks the download stage settings. The aggregate budget has to
// outlast any single item or the per-item timeout could never be observed.
func (m *MediaConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.ItemTimeout <= 0 {
		return fmt.Errorf("item_timeout must be a positive duration")
	}
	if m.AggregateTimeout <= m.ItemTimeout {
		return fmt.Errorf("aggregate_timeout (%s) must be greater than item_timeout (%s)", m.AggregateTimeout, m.ItemTimeout)
	}
	if m.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	if m.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	return nil
}

// Validate rejects a request filter that would drop the photos we came for.
func (b *BrowserConfig) Validate() error {
	for _, r := range b.BlockedResources {
		if strings.EqualFold(r, "Image") {
			return fmt.Errorf("blocked_resources must not include Image")
		}
	}
	if b.ViewportWidth <= 0 || b.ViewportHeight <= 0 {
		return fmt.Errorf("viewport dimensions must be positive")
	}
	return nil
}
