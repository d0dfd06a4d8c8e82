package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/presencer/internal/logger"
	"github.com/loykin/presencer/internal/supervisor"
)

// Environment overrides for the two environment-provided settings: the
// store connection target and the project namespace.
const (
	EnvStoreDSN  = "PRESENCER_STORE_DSN"
	EnvNamespace = "PRESENCER_NAMESPACE"

	DefaultStoreDSN  = "sqlite://:memory:"
	DefaultNamespace = "demo"
)

// AgentConfig declares one simulated agent in the TOML file.
type AgentConfig struct {
	ID       string `toml:"id" mapstructure:"id"`
	Name     string `toml:"name" mapstructure:"name"`
	Schedule string `toml:"schedule" mapstructure:"schedule"`
	Active   bool   `toml:"active" mapstructure:"active"`
}

// ServerConfig configures the daemon's HTTP surfaces.
type ServerConfig struct {
	Listen        string `toml:"listen" mapstructure:"listen"`
	BasePath      string `toml:"base_path" mapstructure:"base_path"`
	MetricsListen string `toml:"metrics_listen" mapstructure:"metrics_listen"`
}

// Config is the top-level TOML structure.
type Config struct {
	Namespace  string        `toml:"namespace" mapstructure:"namespace"`
	StoreDSN   string        `toml:"store_dsn" mapstructure:"store_dsn"`
	HistoryDSN string        `toml:"history_dsn" mapstructure:"history_dsn"`
	Window     time.Duration `toml:"window" mapstructure:"window"`
	Agents     []AgentConfig `toml:"agents" mapstructure:"agents"`
	Log        logger.Config `toml:"log" mapstructure:"log"`
	Server     ServerConfig  `toml:"server" mapstructure:"server"`
}

// Default returns the configuration used when no file is given: two
// agents on independent periods against an in-memory SQLite store.
func Default() Config {
	cfg := Config{
		Namespace: DefaultNamespace,
		StoreDSN:  DefaultStoreDSN,
		Window:    supervisor.DefaultWindow,
		Agents: []AgentConfig{
			{ID: "userA", Name: "userA", Schedule: "@every 3s", Active: true},
			{ID: "userB", Name: "userB", Schedule: "@every 7s", Active: false},
		},
		Server: ServerConfig{Listen: ":8080", BasePath: "/api"},
	}
	applyEnv(&cfg)
	return cfg
}

// Load reads a TOML config file, applies environment overrides, and
// validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	cfg.Agents = nil
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv applies the environment-provided connection target and
// namespace. Environment wins over the file.
func applyEnv(cfg *Config) {
	if dsn := os.Getenv(EnvStoreDSN); dsn != "" {
		cfg.StoreDSN = dsn
	}
	if ns := os.Getenv(EnvNamespace); ns != "" {
		cfg.Namespace = ns
	}
}

func (c Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	if c.StoreDSN == "" {
		return fmt.Errorf("store_dsn is required")
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	for _, a := range c.Agents {
		if a.ID == "" || a.Name == "" {
			return fmt.Errorf("agent requires id and name")
		}
		if a.Schedule == "" {
			return fmt.Errorf("agent %s requires a schedule", a.Name)
		}
	}
	return nil
}

// SupervisorConfig maps the file structure onto the supervisor's
// run configuration.
func (c Config) SupervisorConfig() supervisor.Config {
	out := supervisor.Config{Window: c.Window}
	for _, a := range c.Agents {
		out.Agents = append(out.Agents, supervisor.AgentSpec{
			ID:       a.ID,
			Name:     a.Name,
			Schedule: a.Schedule,
			Active:   a.Active,
		})
	}
	return out
}
