// Package config loads the respd configuration. Values come from the defaults, then an optional
// YAML file, then RESPD_ prefixed environment variables (RESPD_SERVER_PORT overrides server.port).
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ananthvk/respd/internal/logger"
	"github.com/ananthvk/respd/internal/resp"
	"github.com/ananthvk/respd/internal/server"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid config")

const envPrefix = "RESPD"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     logger.Config `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	ReadSize     int           `mapstructure:"read_size"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	FrameTimeout time.Duration `mapstructure:"frame_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	AcceptRate   float64       `mapstructure:"accept_rate"`
	AcceptBurst  int           `mapstructure:"accept_burst"`
	MaxBulkLen   int           `mapstructure:"max_bulk_len"`
	MaxArrayLen  int           `mapstructure:"max_array_len"`
	MaxLineLen   int           `mapstructure:"max_line_len"`
	MaxDepth     int           `mapstructure:"max_depth"`
	MaxFrameLen  int           `mapstructure:"max_frame_len"`
}

type MetricsConfig struct {
	// Address serves /metrics when it is not empty
	Address string `mapstructure:"address"`
}

func setDefaults(v *viper.Viper) {
	srv := server.DefaultConfig()
	host, port, _ := net.SplitHostPort(srv.Address)
	portNum, _ := strconv.Atoi(port)
	v.SetDefault("server.host", host)
	v.SetDefault("server.port", portNum)
	v.SetDefault("server.workers", srv.Workers)
	v.SetDefault("server.queue_size", srv.QueueSize)
	v.SetDefault("server.read_size", srv.ReadSize)
	v.SetDefault("server.idle_timeout", srv.IdleTimeout)
	v.SetDefault("server.frame_timeout", srv.FrameTimeout)
	v.SetDefault("server.write_timeout", srv.WriteTimeout)
	v.SetDefault("server.accept_rate", srv.AcceptRate)
	v.SetDefault("server.accept_burst", srv.AcceptBurst)
	v.SetDefault("server.max_bulk_len", srv.Limits.MaxBulkLen)
	v.SetDefault("server.max_array_len", srv.Limits.MaxArrayLen)
	v.SetDefault("server.max_line_len", srv.Limits.MaxLineLen)
	v.SetDefault("server.max_depth", srv.Limits.MaxDepth)
	v.SetDefault("server.max_frame_len", srv.Limits.MaxFrameLen)

	log := logger.DefaultConfig()
	v.SetDefault("log.level", log.Level)
	v.SetDefault("log.format", log.Format)
	v.SetDefault("log.file", log.File)
	v.SetDefault("log.maxsize", log.MaxSize)
	v.SetDefault("log.maxage", log.MaxAge)
	v.SetDefault("log.maxbackups", log.MaxBackups)
	v.SetDefault("log.compress", log.Compress)

	v.SetDefault("metrics.address", "")
}

// Load reads the configuration. path may be empty, in which case only the defaults and the
// environment are used. The file is read from fs.
func Load(fs afero.Fs, path string) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.Server.MaxFrameLen < 0 {
		return fmt.Errorf("%w: max_frame_len cannot be negative", ErrInvalidConfig)
	}
	if err := c.ServerConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Address returns the host:port the server listens on
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

func (c *Config) ServerConfig() server.Config {
	return server.Config{
		Address:      c.Address(),
		Workers:      c.Server.Workers,
		QueueSize:    c.Server.QueueSize,
		ReadSize:     c.Server.ReadSize,
		IdleTimeout:  c.Server.IdleTimeout,
		FrameTimeout: c.Server.FrameTimeout,
		WriteTimeout: c.Server.WriteTimeout,
		AcceptRate:   c.Server.AcceptRate,
		AcceptBurst:  c.Server.AcceptBurst,
		Limits: resp.Limits{
			MaxBulkLen:  c.Server.MaxBulkLen,
			MaxArrayLen: c.Server.MaxArrayLen,
			MaxLineLen:  c.Server.MaxLineLen,
			MaxDepth:    c.Server.MaxDepth,
			MaxFrameLen: c.Server.MaxFrameLen,
		},
	}
}
