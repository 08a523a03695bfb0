package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix — префикс переменных окружения: TASKGRAPH_LOG_LEVEL и т.п.
const EnvPrefix = "TASKGRAPH"

// ErrInvalidConfig — значение настройки вне допустимого диапазона.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config — настройки запуска.
type Config struct {
	// Workers — количество воркеров; 0 — NumCPU-1.
	Workers int `mapstructure:"workers"`

	// InProc — воркеры-горутины вместо процессов (для отладки).
	InProc bool `mapstructure:"inproc"`

	// BatchThreshold — суммарный вес пакета задач.
	BatchThreshold time.Duration `mapstructure:"batch_threshold"`

	// ShmDir — директория сегментов shared memory.
	ShmDir string `mapstructure:"shm_dir"`

	// CheckDataDeps включает проверку тегов данных при добавлении задач.
	CheckDataDeps bool `mapstructure:"check_data_deps"`

	Weights WeightsConfig `mapstructure:"weights"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// WeightsConfig — хранилище таблицы весов. DSN имеет приоритет над File.
type WeightsConfig struct {
	File string `mapstructure:"file"`
	DSN  string `mapstructure:"dsn"`
}

// LogConfig — настройки логирования.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig — HTTP-эндпоинт /metrics; пустой адрес — выключен.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default возвращает настройки по умолчанию.
func Default() Config {
	return Config{
		BatchThreshold: 100 * time.Millisecond,
		Weights:        WeightsConfig{File: ".taskgraph-weights.json"},
		Log:            LogConfig{Level: "info", Format: "json"},
	}
}

// flagKeys связывает ключи конфигурации с именами флагов.
var flagKeys = map[string]string{
	"workers":         "workers",
	"inproc":          "inproc",
	"batch_threshold": "batch-threshold",
	"shm_dir":         "shm-dir",
	"check_data_deps": "check-data-deps",
	"weights.file":    "weights-file",
	"weights.dsn":     "weights-dsn",
	"log.level":       "log-level",
	"log.format":      "log-format",
	"metrics.addr":    "metrics-addr",
}

// RegisterFlags добавляет флаги, которые понимает Load.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "config file (yaml, toml or json)")
	fs.Int("workers", d.Workers, "number of workers (0 = NumCPU-1)")
	fs.Bool("inproc", d.InProc, "run workers as goroutines instead of processes")
	fs.Duration("batch-threshold", d.BatchThreshold, "total estimated duration of one batch")
	fs.String("shm-dir", d.ShmDir, "directory for shared memory segments")
	fs.Bool("check-data-deps", d.CheckDataDeps, "assert data tags when tasks are submitted")
	fs.String("weights-file", d.Weights.File, "weight table file")
	fs.String("weights-dsn", d.Weights.DSN, "PostgreSQL DSN for the weight table")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "log format (json, text, pretty)")
	fs.String("metrics-addr", d.Metrics.Addr, "serve /metrics and /healthz on this address")
}

// Load собирает настройки из файла, окружения и флагов.
// fs может быть nil; тогда флаги не учитываются.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("workers", d.Workers)
	v.SetDefault("inproc", d.InProc)
	v.SetDefault("batch_threshold", d.BatchThreshold)
	v.SetDefault("shm_dir", d.ShmDir)
	v.SetDefault("check_data_deps", d.CheckDataDeps)
	v.SetDefault("weights.file", d.Weights.File)
	v.SetDefault("weights.dsn", d.Weights.DSN)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for key, name := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}

		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", f.Value.String(), err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет значения.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalidConfig, c.Workers)
	}
	if c.BatchThreshold <= 0 {
		return fmt.Errorf("%w: batch_threshold must be positive, got %s", ErrInvalidConfig, c.BatchThreshold)
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "pretty":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Log.Level)
	}
	return nil
}
