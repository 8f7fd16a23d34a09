package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by Load.
//
// Example (~/.loomchat/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8089
// models:
//   default: openai:gpt-4o-mini
//   title: openai:gpt-4o-mini
// mcp:
//   servers:
//     filesystem:
//       type: stdio
//       command: npx
//       args: ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
//       enabled: true
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Provider API keys are never read from the file; they come from the
//   environment (OPENAI_API_KEY etc.) so the file stays secret-free.

type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Models   ModelsConfig   `yaml:"models"`
	MCP      MCPConfig      `yaml:"mcp"`
	Auth     AuthConfig     `yaml:"auth"`
	Features FeaturesConfig `yaml:"features"`
	Database DatabaseConfig `yaml:"database"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

// ModelsConfig holds model selection defaults and per-deployment overrides.
type ModelsConfig struct {
	Default     *string  `yaml:"default"` // model used when the client sends none
	Title       *string  `yaml:"title"`   // model used for thread title generation
	Temperature *float32 `yaml:"temperature"`
	MaxTokens   *int     `yaml:"max_tokens"`

	// SystemPromptOverride, when set, replaces the assembled system prompt
	// verbatim for every request.
	SystemPromptOverride string `yaml:"system_prompt_override"`

	// Overrides adjusts individual catalog entries by model id.
	Overrides map[string]ModelOverride `yaml:"overrides"`

	// GenerationTimeout bounds one full agent run, e.g. "10m".
	GenerationTimeout *string `yaml:"generation_timeout"`
}

// ModelOverride enables/disables or renames a single catalog entry.
type ModelOverride struct {
	Enabled *bool   `yaml:"enabled"`
	Name    *string `yaml:"name"`
}

// MCPConfig declares external tool servers.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `yaml:"servers"`
}

// MCP server transport types.
const (
	MCPTypeStdio = "stdio"
	MCPTypeHTTP  = "http"
	MCPTypeSSE   = "sse"
)

// MCPServerConfig describes one tool server. Command/Args/Env apply to stdio
// servers, URL to http and sse servers. Env is excluded from JSON so the
// /mcp/servers endpoint never leaks secrets.
type MCPServerConfig struct {
	Type    string            `yaml:"type" json:"type"`
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"-"`
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Enabled bool              `yaml:"enabled" json:"enabled"`
}

type AuthConfig struct {
	// Secret signs session cookies. When empty, a per-process random secret is
	// generated and sessions do not survive restarts.
	Secret string `yaml:"secret"`
}

type FeaturesConfig struct {
	WebSearch        *bool `yaml:"web_search"`
	ReasoningDisplay *bool `yaml:"reasoning_display"`
	ModelSelection   *bool `yaml:"model_selection"`
}

type DatabaseConfig struct {
	// Path to the sqlite database file. Defaults to <configDir>/loomchat.db.
	Path *string `yaml:"path"`
}

const (
	DefaultHost              = "127.0.0.1"
	DefaultPort              = 8089
	DefaultModel             = "openai:gpt-4o-mini"
	DefaultTitleModel        = "openai:gpt-4o-mini"
	DefaultTemperature       = float32(0.7)
	DefaultMaxTokens         = 4096
	DefaultGenerationTimeout = "10m"
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".loomchat")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.loomchat/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	// Validate
	host := cfg.Host()
	if strings.TrimSpace(host) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}

	port := cfg.Port()
	if port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}

	for name, srv := range cfg.MCP.Servers {
		switch srv.Type {
		case MCPTypeStdio:
			if srv.Enabled && strings.TrimSpace(srv.Command) == "" {
				return nil, "", fmt.Errorf("mcp server %q: stdio type requires command in %s", name, configFile)
			}
		case MCPTypeHTTP, MCPTypeSSE:
			if srv.Enabled && strings.TrimSpace(srv.URL) == "" {
				return nil, "", fmt.Errorf("mcp server %q: %s type requires url in %s", name, srv.Type, configFile)
			}
		default:
			return nil, "", fmt.Errorf("mcp server %q: unknown type %q in %s", name, srv.Type, configFile)
		}
	}

	return cfg, configFile, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{Server: ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)}}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

func (c *AppConfig) DefaultModel() string {
	if c == nil || c.Models.Default == nil || strings.TrimSpace(*c.Models.Default) == "" {
		return DefaultModel
	}
	return *c.Models.Default
}

func (c *AppConfig) TitleModel() string {
	if c == nil || c.Models.Title == nil || strings.TrimSpace(*c.Models.Title) == "" {
		return DefaultTitleModel
	}
	return *c.Models.Title
}

func (c *AppConfig) Temperature() float32 {
	if c == nil || c.Models.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Models.Temperature
}

func (c *AppConfig) MaxTokens() int {
	if c == nil || c.Models.MaxTokens == nil || *c.Models.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return *c.Models.MaxTokens
}

func (c *AppConfig) GenerationTimeout() string {
	if c == nil || c.Models.GenerationTimeout == nil || strings.TrimSpace(*c.Models.GenerationTimeout) == "" {
		return DefaultGenerationTimeout
	}
	return *c.Models.GenerationTimeout
}

func (c *AppConfig) DatabasePath() (string, error) {
	if c != nil && c.Database.Path != nil && strings.TrimSpace(*c.Database.Path) != "" {
		return *c.Database.Path, nil
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "loomchat.db"), nil
}

func (c *AppConfig) WebSearchEnabled() bool {
	if c == nil || c.Features.WebSearch == nil {
		return false
	}
	return *c.Features.WebSearch
}

func ptr[T any](v T) *T { return &v }
