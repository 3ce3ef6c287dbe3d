package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	DB       DBConfig       `mapstructure:"db"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Anchor   AnchorConfig   `mapstructure:"anchor"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Recon    ReconConfig    `mapstructure:"recon"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Cron     CronConfig     `mapstructure:"cron"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

// LedgerConfig covers the chain client plus the submit/execute switches.
// Submission falls back to the simulated strategy when SubmitEnabled is false
// or the key/module address is missing.
type LedgerConfig struct {
	NodeURL        string        `mapstructure:"node_url"`
	Network        string        `mapstructure:"network"`
	ModuleAddress  string        `mapstructure:"module_address"`
	PrivateKey     string        `mapstructure:"private_key"`
	SubmitEnabled  bool          `mapstructure:"submit_enabled"`
	ExecuteEnabled bool          `mapstructure:"execute_enabled"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type AnchorConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	VerifyBatchSize int           `mapstructure:"verify_batch_size"`
}

type ExecutorConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	IntakeBatch  int           `mapstructure:"intake_batch"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffCap   time.Duration `mapstructure:"backoff_cap"`
}

type ReconConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	ScanWindow   int           `mapstructure:"scan_window"`
}

type DeliveryConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
}

type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type CronConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Cleanup   string        `mapstructure:"cleanup"`
	Retention time.Duration `mapstructure:"retention"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")

	v.SetDefault("ledger.network", "testnet")
	v.SetDefault("ledger.submit_enabled", false)
	v.SetDefault("ledger.execute_enabled", false)
	v.SetDefault("ledger.timeout", "30s")

	v.SetDefault("anchor.enabled", true)
	v.SetDefault("anchor.poll_interval", "8s")
	v.SetDefault("anchor.batch_size", 25)
	v.SetDefault("anchor.max_attempts", 3)
	v.SetDefault("anchor.backoff_base", "5s")
	v.SetDefault("anchor.verify_batch_size", 25)

	v.SetDefault("executor.enabled", true)
	v.SetDefault("executor.poll_interval", "15s")
	v.SetDefault("executor.intake_batch", 50)
	v.SetDefault("executor.batch_size", 25)
	v.SetDefault("executor.max_attempts", 5)
	v.SetDefault("executor.backoff_base", "2s")
	v.SetDefault("executor.backoff_cap", "60s")

	v.SetDefault("recon.enabled", true)
	v.SetDefault("recon.poll_interval", "30s")
	v.SetDefault("recon.batch_size", 100)
	v.SetDefault("recon.scan_window", 100)

	v.SetDefault("delivery.enabled", true)
	v.SetDefault("delivery.poll_interval", "5s")
	v.SetDefault("delivery.batch_size", 25)
	v.SetDefault("delivery.max_attempts", 5)
	v.SetDefault("delivery.backoff_base", "5s")

	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.timeout", "10s")

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.cleanup", "@every 10m")
	v.SetDefault("cron.retention", "168h")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
