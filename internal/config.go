package internal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/tuannm99/pagecache/pkg/logger"
)

type PageCacheConfig struct {
	AppName string `mapstructure:"app_name"`

	Storage struct {
		// Workdir holds one page file per opened relation. Empty keeps
		// every file in memory.
		Workdir  string `mapstructure:"workdir"`
		PageSize int    `mapstructure:"page_size"`
	} `mapstructure:"storage"`

	Pool struct {
		Capacity int `mapstructure:"capacity"`
	} `mapstructure:"pool"`

	Log logger.Config `mapstructure:"log"`

	Metrics struct {
		// Addr serves /metrics when set, e.g. ":9102".
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "pagecache")
	v.SetDefault("storage.workdir", "./data")
	v.SetDefault("storage.page_size", 8192)
	v.SetDefault("pool.capacity", 128)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_file", "stderr")
	v.SetDefault("metrics.addr", "")
}

// LoadConfig reads the YAML file at path on top of the defaults. An empty
// path uses defaults only. PAGECACHE_* environment variables override both,
// e.g. PAGECACHE_POOL_CAPACITY.
func LoadConfig(path string) (*PageCacheConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PAGECACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg PageCacheConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var ErrInvalidConfig = errors.New("config: invalid value")

func (c *PageCacheConfig) Validate() error {
	if c.Pool.Capacity <= 0 {
		return fmt.Errorf("%w: pool.capacity must be positive, got %d", ErrInvalidConfig, c.Pool.Capacity)
	}
	if c.Storage.PageSize <= 0 {
		return fmt.Errorf("%w: storage.page_size must be positive, got %d", ErrInvalidConfig, c.Storage.PageSize)
	}
	return nil
}
