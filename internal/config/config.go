// Package config загрузка конфигурации сервера из окружения.
// Значения читаются через viper, локально поддерживается .env файл.
package config

import (
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPath  = ".env"
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type Config struct {
	Service Service
	DB      DB
	Queue   Queue
	Sync    Sync
}

type Service struct {
	Env            string `env:"APP_ENV"`
	Region         string `env:"SERVICE_REGION"`
	AllowedRegions []string
	LogLevel       string `env:"LOG_LEVEL"`
	RunAddress     string `env:"RUN_ADDRESS"`
	MetricsAddress string `env:"METRICS_ADDRESS"`
	MetricsEnabled bool   `env:"METRICS_ENABLED"`
	TracingEnabled bool   `env:"TRACING_ENABLED"`
	Secret         string `env:"SECRET"`
}

// DB подключение к Postgres: либо готовый DATABASE_URI, либо
// отдельные параметры, из которых URI собирается. Шарды и реплики
// распознаются, но пока только валидируются.
type DB struct {
	DatabaseURI  string `env:"DATABASE_URI"`
	Host         string `env:"DATABASE_HOST"`
	Port         int    `env:"DATABASE_PORT"`
	User         string `env:"DATABASE_USER"`
	Password     string `env:"DATABASE_PASSWORD"`
	Name         string `env:"DATABASE_NAME"`
	SSLMode      string `env:"DATABASE_SSL_MODE"`
	ShardCount   int    `env:"DATABASE_SHARD_COUNT"`
	ReplicaHosts []string
	Region       string `env:"DATABASE_REGION"`
	Migrations   string `env:"MIGRATIONS_PATH"`
}

// Queue описывает подключение к брокеру событий синхронизации.
// Пустой Host отключает публикацию событий.
type Queue struct {
	Host         string `env:"QUEUE_HOST"`
	Port         int    `env:"QUEUE_PORT"`
	User         string `env:"QUEUE_USER"`
	Password     string `env:"QUEUE_PASSWORD"`
	Exchange     string `env:"QUEUE_EXCHANGE"`
	Name         string `env:"QUEUE_NAME"`
	Prefetch     int    `env:"QUEUE_PREFETCH"`
	AutoScaleMin int    `env:"QUEUE_AUTOSCALE_MIN"`
	AutoScaleMax int    `env:"QUEUE_AUTOSCALE_MAX"`
}

// Sync настройки движка синхронизации; нулевые значения заменяются
// дефолтами на стороне сервиса
type Sync struct {
	MaxConcurrent int           `env:"SYNC_MAX_CONCURRENT"`
	BaseDelay     time.Duration `env:"SYNC_BASE_DELAY"`
	SweepInterval time.Duration `env:"SYNC_SWEEP_INTERVAL"`
}

// URI возвращает строку подключения: явный DATABASE_URI имеет
// приоритет, иначе адрес собирается из отдельных параметров
func (d DB) URI() string {
	if d.DatabaseURI != "" {
		return d.DatabaseURI
	}
	if d.Host == "" {
		return ""
	}
	ssl := d.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, ssl)
}

func (d DB) Enabled() bool {
	return d.URI() != ""
}

// URL собирает amqp адрес брокера
func (q Queue) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", q.User, q.Password, q.Host, q.Port)
}

func (q Queue) Enabled() bool {
	return q.Host != ""
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalln(err)
	}
	return cfg
}

func Load() (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	viper.AutomaticEnv()
	viper.SetDefault("app_env", EnvLocal)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("run_address", ":8080")
	viper.SetDefault("metrics_address", ":9090")
	viper.SetDefault("metrics_enabled", true)
	viper.SetDefault("allowed_regions", "eu-west,us-east")
	viper.SetDefault("tracing_enabled", false)
	viper.SetDefault("migrations_path", "migrations")
	viper.SetDefault("database_port", 5432)
	viper.SetDefault("database_ssl_mode", "disable")
	viper.SetDefault("queue_port", 5672)
	viper.SetDefault("queue_prefetch", 10)
	viper.SetDefault("queue_exchange", "fieldsync.events")
	viper.SetDefault("sync_sweep_interval", "30s")

	cfg := &Config{
		Service: Service{
			Env:            viper.GetString("app_env"),
			Region:         viper.GetString("service_region"),
			AllowedRegions: splitList(viper.GetString("allowed_regions")),
			LogLevel:       viper.GetString("log_level"),
			RunAddress:     viper.GetString("run_address"),
			MetricsAddress: viper.GetString("metrics_address"),
			MetricsEnabled: viper.GetBool("metrics_enabled"),
			TracingEnabled: viper.GetBool("tracing_enabled"),
			Secret:         viper.GetString("secret"),
		},
		DB: DB{
			DatabaseURI:  viper.GetString("database_uri"),
			Host:         viper.GetString("database_host"),
			Port:         viper.GetInt("database_port"),
			User:         viper.GetString("database_user"),
			Password:     viper.GetString("database_password"),
			Name:         viper.GetString("database_name"),
			SSLMode:      viper.GetString("database_ssl_mode"),
			ShardCount:   viper.GetInt("database_shard_count"),
			ReplicaHosts: splitList(viper.GetString("database_replica_hosts")),
			Region:       viper.GetString("database_region"),
			Migrations:   viper.GetString("migrations_path"),
		},
		Queue: Queue{
			Host:         viper.GetString("queue_host"),
			Port:         viper.GetInt("queue_port"),
			User:         viper.GetString("queue_user"),
			Password:     viper.GetString("queue_password"),
			Exchange:     viper.GetString("queue_exchange"),
			Name:         viper.GetString("queue_name"),
			Prefetch:     viper.GetInt("queue_prefetch"),
			AutoScaleMin: viper.GetInt("queue_autoscale_min"),
			AutoScaleMax: viper.GetInt("queue_autoscale_max"),
		},
		Sync: Sync{
			MaxConcurrent: viper.GetInt("sync_max_concurrent"),
			BaseDelay:     viper.GetDuration("sync_base_delay"),
			SweepInterval: viper.GetDuration("sync_sweep_interval"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate отклоняет заведомо нерабочие комбинации до старта сервера
func (c *Config) Validate() error {
	if c.Service.Region != "" && !slices.Contains(c.Service.AllowedRegions, c.Service.Region) {
		return fmt.Errorf("config: region %q is not in allowed list %v",
			c.Service.Region, c.Service.AllowedRegions)
	}
	if c.Service.Env == EnvProd && c.Service.Secret == "" {
		return fmt.Errorf("config: secret is required in %s environment", EnvProd)
	}
	if c.DB.DatabaseURI == "" && c.DB.Host != "" && (c.DB.User == "" || c.DB.Name == "") {
		return fmt.Errorf("config: database host is set but credentials are missing")
	}
	if c.Queue.Enabled() && (c.Queue.User == "" || c.Queue.Password == "") {
		return fmt.Errorf("config: queue host is set but credentials are missing")
	}
	if c.Queue.AutoScaleMax > 0 && c.Queue.AutoScaleMin > c.Queue.AutoScaleMax {
		return fmt.Errorf("config: queue autoscale min %d exceeds max %d",
			c.Queue.AutoScaleMin, c.Queue.AutoScaleMax)
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
