package config

// Package config handles configuration loading for the term-structure pipeline.
// It supports YAML config files with environment variable overrides.

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Data     DataConfig     `mapstructure:"data"     yaml:"data"`
	Sources  SourcesConfig  `mapstructure:"sources"  yaml:"sources"`
	Fixing   FixingConfig   `mapstructure:"fixing"   yaml:"fixing"`
	Curve    CurveConfig    `mapstructure:"curve"    yaml:"curve"`
	NSS      NSSConfig      `mapstructure:"nss"      yaml:"nss"`
	Model    ModelConfig    `mapstructure:"model"    yaml:"model"`
	Report   ReportConfig   `mapstructure:"report"   yaml:"report"`
	Schedule ScheduleConfig `mapstructure:"schedule" yaml:"schedule"`
	Cache    CacheConfig    `mapstructure:"cache"    yaml:"cache"`
	Twitter  TwitterConfig  `mapstructure:"twitter"  yaml:"twitter"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`
}

// DataConfig holds the locations of every persisted store.
// Relative file names are resolved against Dir.
type DataConfig struct {
	Dir                string `mapstructure:"dir"                  yaml:"dir"`
	CouponCalendarFile string `mapstructure:"coupon_calendar_file" yaml:"coupon_calendar_file"`
	BondPricesFile     string `mapstructure:"bond_prices_file"     yaml:"bond_prices_file"`
	NSSCurveFile       string `mapstructure:"nss_curve_file"       yaml:"nss_curve_file"`
	ChartsDir          string `mapstructure:"charts_dir"           yaml:"charts_dir"`
}

// SourcesConfig holds the remote endpoints and HTTP client settings.
type SourcesConfig struct {
	CouponLandingURL   string `mapstructure:"coupon_landing_url"   yaml:"coupon_landing_url"`
	AttachmentBaseURL  string `mapstructure:"attachment_base_url"  yaml:"attachment_base_url"`
	CouponLinkRegex    string `mapstructure:"coupon_link_regex"    yaml:"coupon_link_regex"`
	CouponSheet        string `mapstructure:"coupon_sheet"         yaml:"coupon_sheet"`
	FixingURL          string `mapstructure:"fixing_url"           yaml:"fixing_url"`
	RequestHeadersFile string `mapstructure:"request_headers_file" yaml:"request_headers_file"`
	TimeoutSec         int    `mapstructure:"timeout_sec"          yaml:"timeout_sec"`
	MaxRequestsPerSec  int    `mapstructure:"max_requests_per_sec" yaml:"max_requests_per_sec"`
	BackfillStart      string `mapstructure:"backfill_start"       yaml:"backfill_start"` // "2006-01-02"
}

// FixingConfig holds the fixing table parsing settings.
type FixingConfig struct {
	TableIndex        int      `mapstructure:"table_index"         yaml:"table_index"`
	ColumnRenamesFile string   `mapstructure:"column_renames_file" yaml:"column_renames_file"`
	ColumnTypesFile   string   `mapstructure:"column_types_file"   yaml:"column_types_file"`
	NullSentinels     []string `mapstructure:"null_sentinels"      yaml:"null_sentinels"`
}

// CurveConfig holds the zero-curve sampling settings.
type CurveConfig struct {
	MaturityLadder []int   `mapstructure:"maturity_ladder" yaml:"maturity_ladder"` // months
	SettlementDays int     `mapstructure:"settlement_days" yaml:"settlement_days"`
	Accuracy       float64 `mapstructure:"accuracy"        yaml:"accuracy"`
	MaxIterations  int     `mapstructure:"max_iterations"  yaml:"max_iterations"`
}

// NSSConfig holds the NSS fitting settings.
type NSSConfig struct {
	MaxMaturity   int     `mapstructure:"max_maturity"   yaml:"max_maturity"` // months
	InitialTau    float64 `mapstructure:"initial_tau"    yaml:"initial_tau"`
	MaxIterations int     `mapstructure:"max_iterations" yaml:"max_iterations"`
	Workers       int     `mapstructure:"workers"        yaml:"workers"`
}

// ModelConfig holds the affine decomposition settings.
type ModelConfig struct {
	Factors int `mapstructure:"factors" yaml:"factors"`
}

// ReportConfig holds chart and summary settings.
type ReportConfig struct {
	Maturities    []int  `mapstructure:"maturities"     yaml:"maturities"` // months, 2×2 grid
	LookbackYears int    `mapstructure:"lookback_years" yaml:"lookback_years"`
	Watermark     string `mapstructure:"watermark"      yaml:"watermark"`
	WidthPx       int    `mapstructure:"width_px"       yaml:"width_px"`
	HeightPx      int    `mapstructure:"height_px"      yaml:"height_px"`
}

// ScheduleConfig holds the monthly run gate.
type ScheduleConfig struct {
	RunDay   int    `mapstructure:"run_day"  yaml:"run_day"` // day of month
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// CacheConfig selects the workbook cache backend.
type CacheConfig struct {
	Backend   string `mapstructure:"backend"    yaml:"backend"` // "memory" or "redis"
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"   yaml:"redis_db"`
	TTLHours  int    `mapstructure:"ttl_hours"  yaml:"ttl_hours"`
}

// TwitterConfig holds posting credentials and endpoints.
type TwitterConfig struct {
	BearerToken       string `mapstructure:"bearer_token"        yaml:"bearer_token"`
	APIKey            string `mapstructure:"api_key"             yaml:"api_key"`
	APISecret         string `mapstructure:"api_secret"          yaml:"api_secret"`
	AccessToken       string `mapstructure:"access_token"        yaml:"access_token"`
	AccessTokenSecret string `mapstructure:"access_token_secret" yaml:"access_token_secret"`
	UploadURL         string `mapstructure:"upload_url"          yaml:"upload_url"`
	TweetURL          string `mapstructure:"tweet_url"           yaml:"tweet_url"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"       yaml:"level"`  // "debug", "info", "warn", "error"
	Format     string `mapstructure:"format"      yaml:"format"` // "text" or "json"
	Output     string `mapstructure:"output"      yaml:"output"` // "stderr", "stdout" or "file"
	FilePath   string `mapstructure:"file_path"   yaml:"file_path"`
	MaxSize    int    `mapstructure:"max_size"    yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"     yaml:"max_age"` // days
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.termstructure/config.yaml (home directory)
//  3. /etc/termstructure/config.yaml (system)
//
// Environment variables override config file values.
// Format: TERMSTRUCTURE_<SECTION>_<KEY>, e.g., TERMSTRUCTURE_DATA_DIR
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".termstructure"))
	v.AddConfigPath("/etc/termstructure")

	v.SetEnvPrefix("TERMSTRUCTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found — use defaults + env vars
	}

	baseDir := ""
	if used := v.ConfigFileUsed(); used != "" {
		baseDir = filepath.Dir(used)
	}
	return finish(v, baseDir)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("TERMSTRUCTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return finish(v, filepath.Dir(path))
}

func finish(v *viper.Viper, baseDir string) (*Config, error) {
	// .env is optional; values already in the environment win.
	_ = godotenv.Load()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)

	if err := cfg.resolvePaths(baseDir); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Stores
	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.coupon_calendar_file", "coupon_calendar.parquet")
	v.SetDefault("data.bond_prices_file", "bond_prices.parquet")
	v.SetDefault("data.nss_curve_file", "nss_curve.parquet")
	v.SetDefault("data.charts_dir", "charts")

	// Sources
	v.SetDefault("sources.coupon_landing_url", "https://www.gov.pl/web/finanse/kupony")
	v.SetDefault("sources.attachment_base_url", "https://www.gov.pl/attachment/")
	v.SetDefault("sources.coupon_link_regex", `^/attachment/([\w-]+)$`)
	v.SetDefault("sources.coupon_sheet", "ObligacjeStałoprocentowe")
	v.SetDefault("sources.fixing_url", "https://www.bondspot.pl/fixing_obligacji")
	v.SetDefault("sources.request_headers_file", "")
	v.SetDefault("sources.timeout_sec", 60)
	v.SetDefault("sources.max_requests_per_sec", 5)
	v.SetDefault("sources.backfill_start", "2000-01-01")

	// Fixing table
	v.SetDefault("fixing.table_index", 2)
	v.SetDefault("fixing.column_renames_file", "")
	v.SetDefault("fixing.column_types_file", "")
	v.SetDefault("fixing.null_sentinels", []string{"-", "KURS NIEOKREŚLONY"})

	// Zero curve
	v.SetDefault("curve.maturity_ladder", []int{0, 1, 2, 3, 6, 12, 24, 36, 60, 84, 120, 180})
	v.SetDefault("curve.settlement_days", 2)
	v.SetDefault("curve.accuracy", 1e-10)
	v.SetDefault("curve.max_iterations", 100)

	// NSS
	v.SetDefault("nss.max_maturity", 180)
	v.SetDefault("nss.initial_tau", 1.0)
	v.SetDefault("nss.max_iterations", 2000)
	v.SetDefault("nss.workers", 4)

	// Affine model
	v.SetDefault("model.factors", 5)

	// Report
	v.SetDefault("report.maturities", []int{12, 24, 60, 120})
	v.SetDefault("report.lookback_years", 4)
	v.SetDefault("report.watermark", "@PLTermPremium")
	v.SetDefault("report.width_px", 1600)
	v.SetDefault("report.height_px", 1000)

	// Schedule
	v.SetDefault("schedule.run_day", 1)
	v.SetDefault("schedule.timezone", "Europe/Warsaw")

	// Cache
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl_hours", 24*30)

	// Twitter endpoints
	v.SetDefault("twitter.upload_url", "https://upload.twitter.com/1.1/media/upload.json")
	v.SetDefault("twitter.tweet_url", "https://api.twitter.com/2/tweets")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.file_path", "logs/termstructure.log")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)
}

// overrideFromEnv explicitly reads the posting credentials from the environment.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv("BEARER_TOKEN"); key != "" {
		cfg.Twitter.BearerToken = key
	}
	if key := os.Getenv("API_KEY"); key != "" {
		cfg.Twitter.APIKey = key
	}
	if key := os.Getenv("API_SECRET"); key != "" {
		cfg.Twitter.APISecret = key
	}
	if key := os.Getenv("ACCESS_TOKEN"); key != "" {
		cfg.Twitter.AccessToken = key
	}
	if key := os.Getenv("ACCESS_TOKEN_SECRET"); key != "" {
		cfg.Twitter.AccessTokenSecret = key
	}
}

// resolvePaths turns every store location into an absolute path. The data
// directory is taken relative to the working directory at load time; the
// JSON map files are taken relative to the config file's directory, or the
// working directory when no config file was read.
func (c *Config) resolvePaths(baseDir string) error {
	abs, err := filepath.Abs(c.Data.Dir)
	if err != nil {
		return fmt.Errorf("resolve data dir %q: %w", c.Data.Dir, err)
	}
	c.Data.Dir = abs

	c.Data.CouponCalendarFile = c.Data.Resolve(c.Data.CouponCalendarFile)
	c.Data.BondPricesFile = c.Data.Resolve(c.Data.BondPricesFile)
	c.Data.NSSCurveFile = c.Data.Resolve(c.Data.NSSCurveFile)
	c.Data.ChartsDir = c.Data.Resolve(c.Data.ChartsDir)

	for _, p := range []*string{&c.Sources.RequestHeadersFile, &c.Fixing.ColumnRenamesFile, &c.Fixing.ColumnTypesFile} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		resolved, err := filepath.Abs(filepath.Join(baseDir, *p))
		if err != nil {
			return fmt.Errorf("resolve %q: %w", *p, err)
		}
		*p = resolved
	}
	return nil
}

// Resolve returns name as an absolute path under Dir unless it already is one.
func (d DataConfig) Resolve(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.Dir, name)
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if _, err := time.Parse("2006-01-02", c.Sources.BackfillStart); err != nil {
		return fmt.Errorf("sources.backfill_start %q: %w", c.Sources.BackfillStart, err)
	}
	if c.Sources.MaxRequestsPerSec <= 0 {
		return fmt.Errorf("sources.max_requests_per_sec must be positive, got %d", c.Sources.MaxRequestsPerSec)
	}
	if c.Schedule.RunDay < 1 || c.Schedule.RunDay > 28 {
		return fmt.Errorf("schedule.run_day must be within 1..28, got %d", c.Schedule.RunDay)
	}
	if c.Model.Factors < 1 {
		return fmt.Errorf("model.factors must be positive, got %d", c.Model.Factors)
	}
	if c.NSS.MaxMaturity < 1 {
		return fmt.Errorf("nss.max_maturity must be positive, got %d", c.NSS.MaxMaturity)
	}
	if len(c.Report.Maturities) == 0 {
		return fmt.Errorf("report.maturities must not be empty")
	}
	return nil
}

// Timeout returns the HTTP request timeout.
func (s SourcesConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// CacheTTL returns the workbook cache lifetime.
func (c CacheConfig) CacheTTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
