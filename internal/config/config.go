package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"bpi-collector/internal/logging"
)

const (
	envPrefix  = "BPI"
	dotEnvFile = ".env"

	// RunStampLayout names per-run artifacts, e.g. bpi_data_20240101T120000Z.json.
	RunStampLayout = "20060102T150405Z"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Collection CollectionConfig `mapstructure:"collection"`
	Quote      QuoteConfig      `mapstructure:"quote"`
	Storage    StorageConfig    `mapstructure:"storage"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"`
	Daemon     DaemonConfig     `mapstructure:"daemon"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Timezone    string `mapstructure:"timezone"`
}

// Location resolves the zone used for human-readable timestamps. Empty means
// the process's local zone.
func (a AppConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}

// CollectionConfig governs how many samples a run takes and how far apart.
type CollectionConfig struct {
	Samples         int      `mapstructure:"samples"`
	IntervalSeconds int      `mapstructure:"interval_seconds"`
	Pairs           []string `mapstructure:"pairs"`
}

// Interval returns the pause between two ticks.
func (c CollectionConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// QuoteConfig captures the spot quote endpoint.
type QuoteConfig struct {
	URLTemplate    string        `mapstructure:"url_template"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// StorageConfig locates the on-disk artifacts.
type StorageConfig struct {
	DataDir     string `mapstructure:"data_dir"`
	StorePath   string `mapstructure:"store_path"`
	ChartPath   string `mapstructure:"chart_path"`
	ReportPath  string `mapstructure:"report_path"`
	HistoryFile string `mapstructure:"history_file"`
}

// SMTPConfig holds mail submission settings.
type SMTPConfig struct {
	Server   string        `mapstructure:"server"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	To       []string      `mapstructure:"to"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether enough is configured to send mail.
func (s SMTPConfig) Enabled() bool {
	return s.Server != "" && s.Username != "" && s.Password != "" && len(s.To) > 0
}

// TelegramConfig describes the optional run summary channel.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the run archive.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DashboardConfig configures the read-only HTTP dashboard.
type DashboardConfig struct {
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DaemonConfig sets the cron trigger for repeated runs.
type DaemonConfig struct {
	Cron       string `mapstructure:"cron"`
	RunOnStart bool   `mapstructure:"run_on_start"`
}

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"samples":   "collection.samples",
	"interval":  "collection.interval_seconds",
	"pairs":     "collection.pairs",
	"log-level": "logging.level",
	"data-dir":  "storage.data_dir",
}

// legacyEnv lists unprefixed variable names accepted for compatibility.
var legacyEnv = map[string][]string{
	"smtp.server":        {"SMTP_SERVER"},
	"smtp.port":          {"SMTP_PORT"},
	"smtp.username":      {"SMTP_USERNAME"},
	"smtp.password":      {"SMTP_PASSWORD"},
	"smtp.from":          {"EMAIL_FROM"},
	"smtp.to":            {"EMAIL_TO"},
	"collection.samples": {"SAMPLES"},
}

// Load builds configuration from flags, environment, file, and defaults, in that
// order of precedence. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := loadDotEnv(dotEnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := bindEnv(v); err != nil {
		return nil, err
	}
	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func bindEnv(v *viper.Viper) error {
	for key, names := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		args := append([]string{key, prefixed}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// bindFlags only binds flags the user actually set so that an unset flag
// never shadows env or file values.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "bpicollector")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("collection.samples", 60)
	v.SetDefault("collection.interval_seconds", 60)
	v.SetDefault("collection.pairs", []string{"BTC-USD"})

	v.SetDefault("quote.url_template", "https://api.coinbase.com/v2/prices/{pair}/spot")
	v.SetDefault("quote.request_timeout", "15s")
	v.SetDefault("quote.user_agent", "")

	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.store_path", "")
	v.SetDefault("storage.chart_path", "")
	v.SetDefault("storage.report_path", "")
	v.SetDefault("storage.history_file", "")

	v.SetDefault("smtp.server", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.to", []string{})
	v.SetDefault("smtp.timeout", "30s")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.timeout", "10s")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("dashboard.listen", ":8000")
	v.SetDefault("dashboard.read_timeout", "10s")
	v.SetDefault("dashboard.write_timeout", "30s")

	v.SetDefault("daemon.cron", "0 0 * * * *")
	v.SetDefault("daemon.run_on_start", false)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c *Config) normalize() {
	c.Collection.Pairs = cleanList(c.Collection.Pairs, strings.ToUpper)
	c.SMTP.To = cleanList(c.SMTP.To, nil)

	if c.SMTP.From == "" {
		c.SMTP.From = c.SMTP.Username
	}
	if len(c.SMTP.To) == 0 && c.SMTP.Username != "" {
		c.SMTP.To = []string{c.SMTP.Username}
	}
	if c.Storage.HistoryFile == "" {
		c.Storage.HistoryFile = filepath.Join(c.Storage.DataDir, "email_status.json")
	}
}

func cleanList(in []string, transform func(string) string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if transform != nil {
			item = transform(item)
		}
		out = append(out, item)
	}
	return out
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Collection.Samples <= 0 {
		return fmt.Errorf("collection.samples must be greater than zero")
	}
	if c.Collection.IntervalSeconds < 0 {
		return fmt.Errorf("collection.interval_seconds cannot be negative")
	}
	if len(c.Collection.Pairs) == 0 {
		return fmt.Errorf("collection.pairs must list at least one pair")
	}
	if !strings.Contains(c.Quote.URLTemplate, "{pair}") {
		return fmt.Errorf("quote.url_template must contain {pair}")
	}
	if _, err := c.App.Location(); err != nil {
		return err
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port out of range: %d", c.SMTP.Port)
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// RunPaths are the artifact locations of one collection run.
type RunPaths struct {
	Store  string
	Chart  string
	Report string
}

// ResolveRunPaths returns the configured paths, filling any that are unset with
// timestamped names under the data directory.
func (c *Config) ResolveRunPaths(started time.Time) RunPaths {
	stamp := started.UTC().Format(RunStampLayout)
	paths := RunPaths{
		Store:  c.Storage.StorePath,
		Chart:  c.Storage.ChartPath,
		Report: c.Storage.ReportPath,
	}
	if paths.Store == "" {
		paths.Store = filepath.Join(c.Storage.DataDir, "bpi_data_"+stamp+".json")
	}
	if paths.Chart == "" {
		paths.Chart = filepath.Join(c.Storage.DataDir, "bpi_graph_"+stamp+".png")
	}
	if paths.Report == "" {
		paths.Report = filepath.Join(c.Storage.DataDir, "bpi_report_"+stamp+".pdf")
	}
	return paths
}
