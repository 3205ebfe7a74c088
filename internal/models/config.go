package models

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const thumbnailWidthEnv = "THUMBNAIL_WIDTH"

type Config struct {
	ServerAddr  string `yaml:"server_addr"`
	DatabaseURL string `yaml:"database_url"`
	KafkaBroker string `yaml:"kafka_broker"`
	KafkaTopic  string `yaml:"kafka_topic"`
	KafkaGroup  string `yaml:"kafka_group"`
	StoragePath string `yaml:"storage_path"`
	LogLevel    string `yaml:"log_level"`

	ThumbnailWidth     int    `yaml:"thumbnail_width"`
	ImageContainer     string `yaml:"image_container"`
	ThumbnailContainer string `yaml:"thumbnail_container"`
	PartitionKey       string `yaml:"partition_key"`

	Workflow WorkflowConfig `yaml:"workflow"`
}

type WorkflowConfig struct {
	Workers        int           `yaml:"workers"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// LoadConfig reads the YAML file at path, applies defaults and the
// THUMBNAIL_WIDTH override, and validates the result.
func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	raw, ok := lookup(thumbnailWidthEnv)
	if !ok {
		return nil
	}
	width, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s=%q is not a number", thumbnailWidthEnv, raw)
	}
	c.ThumbnailWidth = width
	return nil
}

func (c *Config) applyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = "pin-workflows"
	}
	if c.KafkaGroup == "" {
		c.KafkaGroup = "pin-workflow-group"
	}
	if c.StoragePath == "" {
		c.StoragePath = "data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ImageContainer == "" {
		c.ImageContainer = "pinimages"
	}
	if c.ThumbnailContainer == "" {
		c.ThumbnailContainer = "pinthumbs"
	}
	if c.PartitionKey == "" {
		c.PartitionKey = "pins"
	}
	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = 4
	}
	if c.Workflow.MaxAttempts <= 0 {
		c.Workflow.MaxAttempts = 5
	}
	if c.Workflow.InitialBackoff <= 0 {
		c.Workflow.InitialBackoff = 200 * time.Millisecond
	}
	if c.Workflow.MaxBackoff <= 0 {
		c.Workflow.MaxBackoff = 5 * time.Second
	}
}

// Validate reports fatal misconfiguration.
func (c *Config) Validate() error {
	if c.ThumbnailWidth <= 0 {
		return errors.New("thumbnail_width must be a positive integer")
	}
	if c.DatabaseURL == "" {
		return errors.New("database_url is required")
	}
	if c.Workflow.MaxBackoff < c.Workflow.InitialBackoff {
		return errors.New("workflow.max_backoff must not be below workflow.initial_backoff")
	}
	return nil
}
