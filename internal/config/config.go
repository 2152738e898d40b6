// Package config defines all configuration for the simulation server.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// overrides via MARKETSIM_* environment variables; the operational env vars
// BIND_PORTS, JWT_SECRET, LOG_LEVEL and the bootstrap credentials are also
// honored without the prefix.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Sim       SimConfig       `mapstructure:"sim"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the HTTP listener settings. BindPorts are tried in
// order until one binds; the process exits with code 2 when all fail.
type ServerConfig struct {
	BindPorts       []int         `mapstructure:"bind_ports"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// AuthConfig holds the token secret and the privileged bootstrap accounts.
type AuthConfig struct {
	JWTSecret        string `mapstructure:"jwt_secret"`
	AdminIdentifier  string `mapstructure:"admin_identifier"`
	AdminPassword    string `mapstructure:"admin_password"`
	TesterIdentifier string `mapstructure:"tester_identifier"`
	TesterPassword   string `mapstructure:"tester_password"`
}

// SimConfig tunes simulation defaults applied to new sessions.
type SimConfig struct {
	Speed            float64 `mapstructure:"speed"`
	CommissionRate   float64 `mapstructure:"commission_rate"`
	MarginMultiplier float64 `mapstructure:"margin_multiplier"`
}

// StorageConfig selects the persistence backend. Backend is one of
// memory, file, sqlite. An unopenable file or sqlite backend degrades to
// memory at startup rather than failing the boot.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DataDir string `mapstructure:"data_dir"`
	DBPath  string `mapstructure:"db_path"`
}

// BroadcastConfig tunes the push-channel fan-out.
type BroadcastConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides. A missing file
// is not an error; defaults plus environment carry a dev setup.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MARKETSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnv(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.bind_ports", []int{8080, 8081, 8082})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("sim.speed", 1.0)
	v.SetDefault("sim.commission_rate", 0.001)
	v.SetDefault("sim.margin_multiplier", 1.0)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.db_path", "data/marketsim.db")
	v.SetDefault("broadcast.queue_size", 256)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// applyEnv layers the unprefixed operational variables over the file.
func applyEnv(cfg *Config) {
	if ports := os.Getenv("BIND_PORTS"); ports != "" {
		if parsed, err := ParsePorts(ports); err == nil {
			cfg.Server.BindPorts = parsed
		}
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if id := os.Getenv("ADMIN_IDENTIFIER"); id != "" {
		cfg.Auth.AdminIdentifier = id
	}
	if pw := os.Getenv("ADMIN_PASSWORD"); pw != "" {
		cfg.Auth.AdminPassword = pw
	}
	if id := os.Getenv("TESTER_IDENTIFIER"); id != "" {
		cfg.Auth.TesterIdentifier = id
	}
	if pw := os.Getenv("TESTER_PASSWORD"); pw != "" {
		cfg.Auth.TesterPassword = pw
	}
}

// ParsePorts parses a comma-separated port list.
func ParsePorts(s string) ([]int, error) {
	var ports []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil || p < 1 || p > 65535 {
			return nil, fmt.Errorf("invalid port %q", part)
		}
		ports = append(ports, p)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no ports in %q", s)
	}
	return ports, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Server.BindPorts) == 0 {
		return fmt.Errorf("server.bind_ports is required (set BIND_PORTS)")
	}
	for _, p := range c.Server.BindPorts {
		if p < 1 || p > 65535 {
			return fmt.Errorf("server.bind_ports: %d out of range", p)
		}
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes (set JWT_SECRET)")
	}
	switch c.Storage.Backend {
	case "memory", "file", "sqlite":
	default:
		return fmt.Errorf("storage.backend must be one of: memory, file, sqlite")
	}
	if c.Sim.Speed < 0.1 || c.Sim.Speed > 10 {
		return fmt.Errorf("sim.speed must be in [0.1, 10]")
	}
	if c.Sim.CommissionRate < 0 || c.Sim.CommissionRate >= 1 {
		return fmt.Errorf("sim.commission_rate must be in [0, 1)")
	}
	if c.Sim.MarginMultiplier < 1 {
		return fmt.Errorf("sim.margin_multiplier must be >= 1")
	}
	if c.Broadcast.QueueSize <= 0 {
		return fmt.Errorf("broadcast.queue_size must be > 0")
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text")
	}
	return nil
}
