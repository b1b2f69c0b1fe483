package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/auraplan/aura/internal/planner"
)

type Config struct {
	User          UserConfig     `toml:"user"`
	Window        WindowConfig   `toml:"window"`
	Limits        LimitsConfig   `toml:"limits"`
	Planner       PlannerConfig  `toml:"planner"`
	AI            AIConfig       `toml:"ai"`
	Notifications NotifyConfig   `toml:"notifications"`
	Calendar      CalendarConfig `toml:"calendar"`
	Server        ServerConfig   `toml:"server"`
}

type UserConfig struct {
	ID string `toml:"id"`
}

type WindowConfig struct {
	Days     int    `toml:"days"`
	Open     string `toml:"open"`
	Close    string `toml:"close"`
	Timezone string `toml:"timezone"`
	OffHours bool   `toml:"off_hours"` // block close..open every night
}

type LimitsConfig struct {
	MaxWindowDays int `toml:"max_window_days"`
	MaxChunks     int `toml:"max_chunks"`
}

type PlannerConfig struct {
	Order string `toml:"order"` // "fifo" or "deadline"
}

type AIConfig struct {
	Provider string `toml:"provider"` // "claude-cli" or "openai"
	Model    string `toml:"model"`    // empty picks the provider's default
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
}

type NotifyConfig struct {
	Enabled bool `toml:"enabled"`
}

type CalendarConfig struct {
	Source string      `toml:"source"` // "graph" | ICS URL | file path
	Graph  GraphConfig `toml:"graph"`
}

type GraphConfig struct {
	ClientID string `toml:"client_id"`
	TenantID string `toml:"tenant_id"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

func DefaultConfig() Config {
	return Config{
		User: UserConfig{ID: "default"},
		Window: WindowConfig{
			Days:  7,
			Open:  "08:00",
			Close: "22:00",
		},
		Limits: LimitsConfig{
			MaxWindowDays: 31,
			MaxChunks:     5000,
		},
		Planner: PlannerConfig{
			Order: string(planner.OrderFIFO),
		},
		AI: AIConfig{
			Provider: "claude-cli",
		},
		Notifications: NotifyConfig{
			Enabled: true,
		},
		Calendar: CalendarConfig{
			Graph: GraphConfig{TenantID: "common"},
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8787",
		},
	}
}

func ConfigDir() (string, error) {
	if dir := os.Getenv("AURA_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "aura"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the config at path on top of the defaults. A missing file
// yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if len(data) > 0 {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AURA_USER"); v != "" {
		cfg.User.ID = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.AI.APIKey == "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("MSGRAPH_CLIENT_ID"); v != "" {
		cfg.Calendar.Graph.ClientID = v
	}
	if v := os.Getenv("MSGRAPH_TENANT_ID"); v != "" {
		cfg.Calendar.Graph.TenantID = v
	}
}

func (c *Config) validate() error {
	if c.User.ID == "" {
		return fmt.Errorf("user.id must not be empty")
	}
	if _, err := planner.ParseClock(c.Window.Open); err != nil {
		return fmt.Errorf("window.open: %w", err)
	}
	if _, err := planner.ParseClock(c.Window.Close); err != nil {
		return fmt.Errorf("window.close: %w", err)
	}
	if c.Window.Days < 1 {
		return fmt.Errorf("window.days must be at least 1, got %d", c.Window.Days)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := planner.ParseOrder(c.Planner.Order); err != nil {
		return fmt.Errorf("planner.order: %w", err)
	}
	return nil
}

// Location returns the configured timezone, or the local zone when unset.
func (c *Config) Location() (*time.Location, error) {
	if c.Window.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Window.Timezone)
	if err != nil {
		return nil, fmt.Errorf("window.timezone: %w", err)
	}
	return loc, nil
}

// PlannerOptions converts the limits and order settings.
func (c *Config) PlannerOptions() planner.Options {
	order, _ := planner.ParseOrder(c.Planner.Order)
	return planner.Options{
		Order: order,
		Limits: planner.Limits{
			MaxWindow: time.Duration(c.Limits.MaxWindowDays) * 24 * time.Hour,
			MaxChunks: c.Limits.MaxChunks,
		},
	}
}

// BuildWindow builds a scheduling window anchored on the date of anchor in
// the configured timezone.
// days <= 0 means the configured length.
func (c *Config) BuildWindow(anchor time.Time, days int) (planner.Window, error) {
	if days <= 0 {
		days = c.Window.Days
	}
	open, shut, err := c.hours()
	if err != nil {
		return planner.Window{}, err
	}
	loc, err := c.Location()
	if err != nil {
		return planner.Window{}, err
	}
	return planner.NewWindow(anchor.In(loc), days, open, shut)
}

// OffHours returns the nightly block, or nil when disabled.
func (c *Config) OffHours() *planner.OffHours {
	if !c.Window.OffHours {
		return nil
	}
	open, shut, err := c.hours()
	if err != nil {
		return nil
	}
	return &planner.OffHours{Open: open, Close: shut}
}

func (c *Config) hours() (planner.Clock, planner.Clock, error) {
	open, err := planner.ParseClock(c.Window.Open)
	if err != nil {
		return planner.Clock{}, planner.Clock{}, err
	}
	shut, err := planner.ParseClock(c.Window.Close)
	if err != nil {
		return planner.Clock{}, planner.Clock{}, err
	}
	return open, shut, nil
}

func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// WriteDefault writes the default config to path, creating parent dirs.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	out, err := toml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, out, 0644)
}
