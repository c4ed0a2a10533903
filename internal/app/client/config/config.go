// Package config конфигурация клиентского приложения fieldsync
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultConfigDirName = ".fieldsync"
	defaultDataFileName  = "fieldsync.db"
	defaultStatsFileName = "sync_stats.json"
	tokenFileName        = "token"
)

// Config настройки устройства
type Config struct {
	Env            string
	ServerAddress  string
	ConfigDir      string
	TokenPath      string
	DataPath       string
	StatsPath      string
	SyncInterval   time.Duration
	BatchSize      int
	RequestTimeout time.Duration
	AutoSync       bool
	EnableTLS      bool
}

// MustLoad загружает конфигурацию или завершает процесс
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("client config error: %v", err))
	}
	return cfg
}

// Load читает настройки из окружения и .env, подставляя значения
// по умолчанию. Каталог конфигурации создается при необходимости.
func Load() (*Config, error) {
	_ = godotenv.Load()

	viper.AutomaticEnv()
	setDefaults()

	configDir := viper.GetString("client_config_dir")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		configDir = filepath.Join(home, defaultConfigDirName)
	}
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	cfg := &Config{
		Env:            viper.GetString("client_env"),
		ServerAddress:  viper.GetString("server_address"),
		ConfigDir:      configDir,
		TokenPath:      filepath.Join(configDir, tokenFileName),
		DataPath:       filepath.Join(configDir, defaultDataFileName),
		StatsPath:      filepath.Join(configDir, defaultStatsFileName),
		SyncInterval:   viper.GetDuration("sync_interval"),
		BatchSize:      viper.GetInt("sync_batch_size"),
		RequestTimeout: viper.GetDuration("request_timeout"),
		AutoSync:       viper.GetBool("auto_sync"),
		EnableTLS:      viper.GetBool("enable_tls"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("client_env", "local")
	viper.SetDefault("server_address", "http://localhost:8080")
	viper.SetDefault("sync_interval", "5m")
	viper.SetDefault("sync_batch_size", 100)
	viper.SetDefault("request_timeout", "30s")
	viper.SetDefault("auto_sync", true)
	viper.SetDefault("enable_tls", false)
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	if c.ServerAddress == "" {
		return fmt.Errorf("server address is required")
	}
	if c.BatchSize < 1 || c.BatchSize > 1000 {
		return fmt.Errorf("sync batch size must be between 1 and 1000, got %d", c.BatchSize)
	}
	if c.SyncInterval < time.Second {
		return fmt.Errorf("sync interval too small: %v", c.SyncInterval)
	}
	return nil
}
