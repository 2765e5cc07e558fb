package models

import "time"

// Config represents the main configuration
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Rewrite RewriteConfig `mapstructure:"rewrite"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	HTTP    HTTPConfig    `mapstructure:"http"`
}

// StoreConfig contains rule store settings
type StoreConfig struct {
	Path  string `mapstructure:"path" validate:"required"`
	Watch bool   `mapstructure:"watch"`
}

// RewriteConfig selects how destinations are built
type RewriteConfig struct {
	Mode string `mapstructure:"mode" validate:"omitempty,oneof=substring authority"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required,hostname_port"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	File  string `mapstructure:"file"`
}

// HTTPConfig contains HTTP client settings used for remote imports
type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries" validate:"gte=0"`
}
