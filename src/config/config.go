package config

import (
	"fmt"
	"os"

	"event-ingestor/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new Config instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation and checks NATS/feed sub-configs.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config name cannot be empty")
	}

	// Validate application ports (using c.Port directly due to embedding)
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid application port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GRPC_Port <= 1024 || c.GRPC_Port > 65535 {
		return fmt.Errorf("invalid gRPC port number: %d (must be between 1025 and 65535)", c.GRPC_Port)
	}

	// Validate feeds
	if len(c.Feeds) == 0 {
		return fmt.Errorf("at least one feed must be configured")
	}
	for i, feed := range c.Feeds {
		if feed.Name == "" {
			return fmt.Errorf("feed %d: name cannot be empty", i)
		}
		if feed.Key == "" {
			return fmt.Errorf("feed '%s': application key cannot be empty", feed.Name)
		}
		if len(feed.Channels) == 0 {
			return fmt.Errorf("feed '%s': channels list cannot be empty", feed.Name)
		}
		for _, channel := range feed.Channels {
			if channel.Name == "" {
				return fmt.Errorf("feed '%s': channel name cannot be empty", feed.Name)
			}
		}
	}

	// Validation of NATS config (minimal check)
	if len(c.NATS.Servers) == 0 {
		return fmt.Errorf("NATS servers list cannot be empty")
	}
	if s := c.NATS.Serializer; s != "" && s != "json" && s != "gob" {
		return fmt.Errorf("unknown NATS serializer '%s' (must be 'json' or 'gob')", s)
	}

	return nil
}

// -----------------------------------------------------------------------------

// GetFeedByName returns a single feed configuration by name
func (c *Config) GetFeedByName(name string) *models.MFeedConfig {
	for _, feed := range c.Feeds {
		if feed.Name == name {
			return feed
		}
	}
	return nil
}
