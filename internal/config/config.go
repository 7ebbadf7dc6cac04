// Package config loads service configuration from defaults, an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidPort    = errors.New("invalid server port")
	ErrInvalidWorkers = errors.New("worker count must be positive")
	ErrInvalidTimeout = errors.New("timeouts must be positive")
	ErrMissingScoring = errors.New("scoring categories and rules paths are required")
	ErrInvalidBackend = errors.New("queue backend must be memory or redis")
)

const (
	defaultPort    = 8080
	defaultHost    = "0.0.0.0"
	maxPort        = 65535
	QueueMemory    = "memory"
	QueueRedis     = "redis"
	envPrefix      = "DOMAINX"
	defaultAPIBase = "https://api.github.com"
)

// Config holds all configuration for the service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Report   ReportConfig   `mapstructure:"report"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	RankingCacheTTL time.Duration `mapstructure:"ranking_cache_ttl"`
	TriggerPerMin   int           `mapstructure:"trigger_per_minute"`
	EnableProfiling bool          `mapstructure:"enable_profiling"`
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// RedisConfig holds Redis settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig selects the task queue backend.
type QueueConfig struct {
	Backend  string `mapstructure:"backend"`
	Capacity int    `mapstructure:"capacity"`
}

// GitHubConfig holds remote API and credential settings.
type GitHubConfig struct {
	APIURL          string        `mapstructure:"api_url"`
	Token           string        `mapstructure:"token"`
	AppID           string        `mapstructure:"app_id"`
	PrivateKeyPath  string        `mapstructure:"private_key_path"`
	InstallationID  string        `mapstructure:"installation_id"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	CorePerMinute   int           `mapstructure:"core_per_minute"`
	SearchPerMinute int           `mapstructure:"search_per_minute"`
}

// AnalysisConfig holds settings for the metric analysis track.
type AnalysisConfig struct {
	Workers      int           `mapstructure:"workers"`
	TaskTimeout  time.Duration `mapstructure:"task_timeout"`
	CloneTimeout time.Duration `mapstructure:"clone_timeout"`
	GitCommand   string        `mapstructure:"git_command"`
	LOCCommand   []string      `mapstructure:"loc_command"`
	ScratchDir   string        `mapstructure:"scratch_dir"`
}

// ReportConfig holds settings for the report generation track.
type ReportConfig struct {
	Workers     int           `mapstructure:"workers"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	ToolTimeout time.Duration `mapstructure:"tool_timeout"`
	Command     []string      `mapstructure:"command"`
	OutputDir   string        `mapstructure:"output_dir"`
	IndexFile   string        `mapstructure:"index_file"`
	WorkDir     string        `mapstructure:"work_dir"`
	PublicDir   string        `mapstructure:"public_dir"`
}

// ScoringConfig points at the static scoring documents.
type ScoringConfig struct {
	CategoriesPath string `mapstructure:"categories_path"`
	RulesPath      string `mapstructure:"rules_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/domainx")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", defaultHost)
	v.SetDefault("server.port", defaultPort)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.ranking_cache_ttl", 15*time.Minute)
	v.SetDefault("server.trigger_per_minute", 30)
	v.SetDefault("server.enable_profiling", false)

	v.SetDefault("database.data_dir", "./data")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.backend", QueueMemory)
	v.SetDefault("queue.capacity", 256)

	v.SetDefault("github.api_url", defaultAPIBase)
	v.SetDefault("github.request_timeout", 20*time.Second)
	v.SetDefault("github.core_per_minute", 80)
	v.SetDefault("github.search_per_minute", 25)

	v.SetDefault("analysis.workers", 4)
	v.SetDefault("analysis.task_timeout", time.Hour)
	v.SetDefault("analysis.clone_timeout", 30*time.Minute)
	v.SetDefault("analysis.git_command", "git")
	v.SetDefault("analysis.loc_command", []string{"scc", "--format", "json"})
	v.SetDefault("analysis.scratch_dir", "")

	v.SetDefault("report.workers", 1)
	v.SetDefault("report.task_timeout", 8*time.Hour)
	v.SetDefault("report.tool_timeout", 6*time.Hour)
	v.SetDefault("report.command", []string{"gitstats", ".", "gitstats_report"})
	v.SetDefault("report.output_dir", "gitstats_report")
	v.SetDefault("report.index_file", "index.html")
	v.SetDefault("report.work_dir", "./data/report-work")
	v.SetDefault("report.public_dir", "./data/public/reports")

	v.SetDefault("scoring.categories_path", "./config/categories.json")
	v.SetDefault("scoring.rules_path", "./config/rules.json")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// bindLegacyEnv keeps the credential variable names operators already use.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("github.token", envPrefix+"_GITHUB_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("github.app_id", envPrefix+"_GITHUB_APP_ID", "GITHUB_APP_ID")
	_ = v.BindEnv("github.private_key_path", envPrefix+"_GITHUB_PRIVATE_KEY_PATH", "GITHUB_APP_PRIVATE_KEY_PATH")
	_ = v.BindEnv("github.installation_id", envPrefix+"_GITHUB_INSTALLATION_ID", "GITHUB_APP_INSTALLATION_ID")
	_ = v.BindEnv("redis.addr", envPrefix+"_REDIS_ADDR", "REDIS_ADDR")
}

// Validate checks the loaded configuration for values the service cannot run with.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > maxPort {
		return ErrInvalidPort
	}

	if cfg.Analysis.Workers <= 0 || cfg.Report.Workers <= 0 {
		return ErrInvalidWorkers
	}

	if cfg.Analysis.TaskTimeout <= 0 || cfg.Analysis.CloneTimeout <= 0 ||
		cfg.Report.TaskTimeout <= 0 || cfg.Report.ToolTimeout <= 0 ||
		cfg.GitHub.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if cfg.Scoring.CategoriesPath == "" || cfg.Scoring.RulesPath == "" {
		return ErrMissingScoring
	}

	if cfg.Queue.Backend != QueueMemory && cfg.Queue.Backend != QueueRedis {
		return ErrInvalidBackend
	}

	return nil
}
