package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}

	if len(cfg.Server.BindPorts) == 0 || cfg.Server.BindPorts[0] != 8080 {
		t.Errorf("bind ports = %v, want default [8080 ...]", cfg.Server.BindPorts)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("backend = %q, want memory", cfg.Storage.Backend)
	}
	if cfg.Broadcast.QueueSize != 256 {
		t.Errorf("queue size = %d, want 256", cfg.Broadcast.QueueSize)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v, want info/json", cfg.Logging)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  bind_ports: [9000, 9001]
  shutdown_timeout: 5s
sim:
  speed: 2.5
storage:
  backend: sqlite
  db_path: /tmp/test.db
logging:
  level: debug
  format: text
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Server.BindPorts) != 2 || cfg.Server.BindPorts[0] != 9000 {
		t.Errorf("bind ports = %v", cfg.Server.BindPorts)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("shutdown timeout = %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Sim.Speed != 2.5 {
		t.Errorf("speed = %v", cfg.Sim.Speed)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.DBPath != "/tmp/test.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BIND_PORTS", "7000, 7001")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("ADMIN_IDENTIFIER", "admin@example.com")
	t.Setenv("ADMIN_PASSWORD", "admin-pass")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Server.BindPorts) != 2 || cfg.Server.BindPorts[0] != 7000 || cfg.Server.BindPorts[1] != 7001 {
		t.Errorf("bind ports = %v, want [7000 7001]", cfg.Server.BindPorts)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("jwt secret not taken from env")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q, want warn", cfg.Logging.Level)
	}
	if cfg.Auth.AdminIdentifier != "admin@example.com" || cfg.Auth.AdminPassword != "admin-pass" {
		t.Errorf("admin bootstrap = %+v", cfg.Auth)
	}
}

func TestParsePorts(t *testing.T) {
	t.Parallel()

	if _, err := ParsePorts("8080,notaport"); err == nil {
		t.Error("expected error for non-numeric port")
	}
	if _, err := ParsePorts("0"); err == nil {
		t.Error("expected error for out-of-range port")
	}
	if _, err := ParsePorts(" , "); err == nil {
		t.Error("expected error for empty list")
	}
	ports, err := ParsePorts("8080, 8081 ,8082")
	if err != nil {
		t.Fatalf("ParsePorts: %v", err)
	}
	if len(ports) != 3 || ports[2] != 8082 {
		t.Errorf("ports = %v", ports)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		cfg.Auth.JWTSecret = testSecret
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }},
		{"no ports", func(c *Config) { c.Server.BindPorts = nil }},
		{"port out of range", func(c *Config) { c.Server.BindPorts = []int{70000} }},
		{"bad backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"speed too low", func(c *Config) { c.Sim.Speed = 0.05 }},
		{"speed too high", func(c *Config) { c.Sim.Speed = 11 }},
		{"negative commission", func(c *Config) { c.Sim.CommissionRate = -0.001 }},
		{"margin below one", func(c *Config) { c.Sim.MarginMultiplier = 0.5 }},
		{"zero queue", func(c *Config) { c.Broadcast.QueueSize = 0 }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
