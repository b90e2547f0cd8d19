// Package config loads the gateway's environment-variable configuration,
// optionally seeded from a .env file outside production.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the gateway.
type Config struct {
	WireguardContainerName string        `mapstructure:"wireguard_container_name"`
	ProxyInternalAddress   string        `mapstructure:"proxy_internal_address"`
	EnableHTTPS            bool          `mapstructure:"enable_https"`
	HTTPSCertPath          string        `mapstructure:"https_cert_path"`
	HTTPSKeyPath           string        `mapstructure:"https_key_path"`
	Env                    string        `mapstructure:"env"`
	DockerDialTimeout      time.Duration `mapstructure:"docker_dial_timeout"`
}

// IsProduction reports whether ENV=production, which disables .env loading.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

var envKeys = []string{
	"wireguard_container_name",
	"proxy_internal_address",
	"enable_https",
	"https_cert_path",
	"https_key_path",
	"env",
	"docker_dial_timeout",
}

// Load reads configuration from the process environment, seeding it from a
// .env file first unless ENV=production. There is no on-disk settings
// document: the gateway is configured the same way its neighboring
// containers are, through the environment alone.
func Load() (*Config, error) {
	if env, ok := os.LookupEnv("ENV"); !ok || env != "production" {
		_ = godotenv.Load()
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("enable_https", false)
	v.SetDefault("env", "development")
	v.SetDefault("docker_dial_timeout", "10s")

	for _, key := range envKeys {
		_ = v.BindEnv(key, envName(key))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.WireguardContainerName == "" {
		return nil, fmt.Errorf("WIREGUARD_CONTAINER_NAME is required")
	}
	if cfg.ProxyInternalAddress == "" {
		return nil, fmt.Errorf("PROXY_INTERNAL_ADDRESS is required")
	}
	if cfg.EnableHTTPS && (cfg.HTTPSCertPath == "" || cfg.HTTPSKeyPath == "") {
		return nil, fmt.Errorf("HTTPS_CERT_PATH and HTTPS_KEY_PATH are required when ENABLE_HTTPS=true")
	}

	return &cfg, nil
}

// envName maps a mapstructure key to its unprefixed, upper-snake-case
// environment variable name: wireguard_container_name -> WIREGUARD_CONTAINER_NAME.
func envName(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
