package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	MySQL      MySQLConfig      `mapstructure:"mysql"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Etcd       EtcdConfig       `mapstructure:"etcd"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Extractor  ExtractorConfig  `mapstructure:"extractor"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

type ServerConfig struct {
	Environment string `mapstructure:"environment"`
	Port        string `mapstructure:"port"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type SMTPConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	FromAddress   string `mapstructure:"from_address"`
	FromName      string `mapstructure:"from_name"`
	SkipTLSVerify bool   `mapstructure:"skip_tls_verify"`
}

type ClassifierConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ExtractorConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// WorkerConfig holds boot-time worker tuning. Runtime behavior (rate ceilings,
// pause flag, channel enables) lives in the settings table and is hot-reloaded.
type WorkerConfig struct {
	QueueInterval     time.Duration `mapstructure:"queue_interval"`
	ReplyInterval     time.Duration `mapstructure:"reply_interval"`
	SettingsInterval  time.Duration `mapstructure:"settings_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ClaimBatchSize    int           `mapstructure:"claim_batch_size"`
}

func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("DEALFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

func setDefaults() {
	viper.SetDefault("server.environment", "dev")
	viper.SetDefault("server.port", ":8090")
	viper.SetDefault("etcd.dial_timeout", 5*time.Second)
	viper.SetDefault("smtp.port", 587)
	viper.SetDefault("classifier.timeout", 2*time.Minute)
	viper.SetDefault("extractor.timeout", 90*time.Second)
	viper.SetDefault("worker.queue_interval", time.Minute)
	viper.SetDefault("worker.reply_interval", 2*time.Minute)
	viper.SetDefault("worker.settings_interval", 30*time.Second)
	viper.SetDefault("worker.heartbeat_interval", 30*time.Second)
	viper.SetDefault("worker.claim_batch_size", 10)
}
