package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	DB struct {
		Path     string `mapstructure:"path"`
		MaxConns int    `mapstructure:"max_conns"`
	} `mapstructure:"db"`
	Catalog struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"catalog"`
	Memory struct {
		BaseURL        string `mapstructure:"base_url"`
		APIKey         string `mapstructure:"api_key"`
		UserID         string `mapstructure:"user_id"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"memory"`
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
}

// LoadConfig loads the configuration from a file and the environment.
// A missing config file is not an error; defaults and environment
// variables still apply.
func LoadConfig(configFile string) (*Config, error) {
	viper.SetDefault("db.path", "data/marketplace.db")
	viper.SetDefault("db.max_conns", 4)
	viper.SetDefault("catalog.path", "")
	viper.SetDefault("memory.base_url", "https://api.mem0.ai")
	viper.SetDefault("memory.api_key", "")
	viper.SetDefault("memory.user_id", "marketplace")
	viper.SetDefault("memory.timeout_seconds", 10)
	viper.SetDefault("server.addr", ":8080")

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.SetEnvPrefix("marketplace")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// normalize the memory service base url (strip trailing slash if any)
	config.Memory.BaseURL = strings.TrimRight(strings.TrimSpace(config.Memory.BaseURL), "/")

	return &config, nil
}
