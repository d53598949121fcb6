// Package config loads runtime configuration from the environment, with an
// optional YAML file overlay, following the viper idiom used elsewhere in the
// judge ecosystem.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DbConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Host   string
	Port   int
	Prefix string
}

type SandboxConfig struct {
	CPUTimeLimit                  float64
	CPUExtraTime                  float64
	WallTimeLimit                 float64
	MemoryLimit                   int64
	MaxProcesses                  int
	MaxFileSize                   int64
	NumberOfRuns                  int
	EnablePerProcessTimeLimit     bool
	EnablePerProcessMemoryLimit   bool
	RedirectStderrToStdout        bool
	EnableNetwork                 bool
	MaxAdditionalFiles            int
	MaxAdditionalFilesSizeKB      int64
}

type RateLimitConfig struct {
	Enabled      bool
	PerMinute    int
	PerHour      int
	Strategy     string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
}

type Config struct {
	Server            ServerConfig
	Db                DbConfig
	Redis             RedisConfig
	Sandbox           SandboxConfig
	RateLimit         RateLimitConfig
	WorkerConcurrency int
	WaitModeTimeout   time.Duration
}

// LoadConfig reads configuration from the environment (and an optional
// config.yaml in the working directory), applying the defaults documented in
// the judge's environment variable table.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("server.port"),
			ReadTimeout:  v.GetInt("server.read_timeout"),
			WriteTimeout: v.GetInt("server.write_timeout"),
			IdleTimeout:  v.GetInt("server.idle_timeout"),
		},
		Db: DbConfig{
			Host:     v.GetString("postgres.host"),
			Port:     v.GetInt("postgres.port"),
			User:     v.GetString("postgres.user"),
			Password: v.GetString("postgres.password"),
			Name:     v.GetString("postgres.db"),
			SSLMode:  v.GetString("postgres.sslmode"),
		},
		Redis: RedisConfig{
			Host:   v.GetString("redis.host"),
			Port:   v.GetInt("redis.port"),
			Prefix: v.GetString("redis.prefix"),
		},
		Sandbox: SandboxConfig{
			CPUTimeLimit:                v.GetFloat64("sandbox.cpu_time_limit"),
			CPUExtraTime:                v.GetFloat64("sandbox.cpu_extra_time"),
			WallTimeLimit:               v.GetFloat64("sandbox.wall_time_limit"),
			MemoryLimit:                 v.GetInt64("sandbox.memory_limit"),
			MaxProcesses:                v.GetInt("sandbox.max_processes"),
			MaxFileSize:                 v.GetInt64("sandbox.max_file_size"),
			NumberOfRuns:                v.GetInt("sandbox.number_of_runs"),
			EnablePerProcessTimeLimit:   v.GetBool("sandbox.enable_per_process_time_limit"),
			EnablePerProcessMemoryLimit: v.GetBool("sandbox.enable_per_process_memory_limit"),
			RedirectStderrToStdout:      v.GetBool("sandbox.redirect_stderr_to_stdout"),
			EnableNetwork:               v.GetBool("sandbox.enable_network"),
			MaxAdditionalFiles:          v.GetInt("sandbox.max_additional_files"),
			MaxAdditionalFilesSizeKB:    v.GetInt64("sandbox.max_additional_files_size"),
		},
		RateLimit: RateLimitConfig{
			Enabled:   v.GetBool("rate_limit.enabled"),
			PerMinute: v.GetInt("rate_limit.per_minute"),
			PerHour:   v.GetInt("rate_limit.per_hour"),
			Strategy:  v.GetString("rate_limit.strategy"),
		},
		WorkerConcurrency: v.GetInt("worker_concurrency"),
		WaitModeTimeout:   time.Duration(v.GetInt("wait_mode_timeout_seconds")) * time.Second,
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.idle_timeout", 60)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.db", "executioner")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.prefix", "kodejudge")

	v.SetDefault("sandbox.cpu_time_limit", 2.0)
	v.SetDefault("sandbox.cpu_extra_time", 0.5)
	v.SetDefault("sandbox.wall_time_limit", 5.0)
	v.SetDefault("sandbox.memory_limit", 128000)
	v.SetDefault("sandbox.max_processes", 128)
	v.SetDefault("sandbox.max_file_size", 10240)
	v.SetDefault("sandbox.number_of_runs", 1)
	v.SetDefault("sandbox.enable_per_process_time_limit", false)
	v.SetDefault("sandbox.enable_per_process_memory_limit", false)
	v.SetDefault("sandbox.redirect_stderr_to_stdout", false)
	v.SetDefault("sandbox.enable_network", false)
	v.SetDefault("sandbox.max_additional_files", 10)
	v.SetDefault("sandbox.max_additional_files_size", 2048)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.per_minute", 20)
	v.SetDefault("rate_limit.per_hour", 100)
	v.SetDefault("rate_limit.strategy", "fixed-window")

	v.SetDefault("worker_concurrency", 4)
	v.SetDefault("wait_mode_timeout_seconds", 15)
}
