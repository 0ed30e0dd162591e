package config

// Package config provides a reusable loader for the evaluation engine's
// configuration files and environment variables. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"synnergy-evaluation/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a synnergy-evaluation
// deployment. It mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Node struct {
		ID       string `mapstructure:"id" json:"id"`
		LogLevel string `mapstructure:"log_level" json:"log_level"`
	} `mapstructure:"node" json:"node"`

	Evaluation struct {
		AllowedGroupSizes []int `mapstructure:"allowed_group_sizes" json:"allowed_group_sizes"`
		DefaultNumOptions int   `mapstructure:"default_num_options" json:"default_num_options"`
		UseHooks          bool  `mapstructure:"use_hooks" json:"use_hooks"`
	} `mapstructure:"evaluation" json:"evaluation"`

	Reputation struct {
		MaxGroupSize int `mapstructure:"max_group_size" json:"max_group_size"`
	} `mapstructure:"reputation" json:"reputation"`

	StagedTx struct {
		FallbackAuthService string `mapstructure:"fallback_auth_service" json:"fallback_auth_service"`
	} `mapstructure:"staged_tx" json:"staged_tx"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // matching environment variables override file values

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the SYNNEVAL_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("SYNNEVAL_ENV", ""))
}
