package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML values can be written as "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	URL string `toml:"url"`
}

type CatalogConfig struct {
	BaseURL         string   `toml:"base_url"`
	TTL             Duration `toml:"ttl"`
	RefreshAfter    Duration `toml:"refresh_after"`
	UpstreamTimeout Duration `toml:"upstream_timeout"`
	QueueSize       int      `toml:"queue_size"`
}

type NotifyConfig struct {
	WebhookURL string `toml:"webhook_url"`
}

type Config struct {
	API      APIConfig      `toml:"api"`
	Database DatabaseConfig `toml:"database"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Notify   NotifyConfig   `toml:"notify"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Catalog: CatalogConfig{
			TTL:             Duration{15 * time.Minute},
			RefreshAfter:    Duration{5 * time.Minute},
			UpstreamTimeout: Duration{5 * time.Second},
			QueueSize:       64,
		},
	}
}

// Load reads a TOML config file over the defaults. A missing file is
// not an error; DATABASE_URL always wins over the file so deployments
// can keep credentials out of it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	return cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
