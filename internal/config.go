package internal

import (
	"fmt"

	"github.com/spf13/viper"
)

// EngineConfig is the engine configuration loaded from a YAML file.
type EngineConfig struct {
	Storage struct {
		File     string `mapstructure:"file"`
		InMemory bool   `mapstructure:"in_memory"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"storage"`
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// LoadConfig reads an engine config, applying defaults for missing
// keys.
func LoadConfig(path string) (*EngineConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("storage.file", "minirel.db")
	v.SetDefault("storage.in_memory", false)
	v.SetDefault("storage.pool_size", 128)
	v.SetDefault("logging.level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
