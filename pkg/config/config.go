// Package config loads the bridge server configuration from YAML with
// environment-variable fallbacks and applied defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentKind selects the invocation mechanism for an agent.
type AgentKind string

const (
	// AgentKindCLI runs the agent as a local CLI subprocess.
	AgentKindCLI AgentKind = "cli"
	// AgentKindOpenAI calls an OpenAI-compatible chat completion API.
	AgentKindOpenAI AgentKind = "openai"
	// AgentKindScripted replays canned output; demo and test deployments.
	AgentKindScripted AgentKind = "scripted"
)

// AgentConfig describes one invocable agent.
type AgentConfig struct {
	Kind AgentKind `yaml:"kind"`

	// CLI agents.
	NodePath   string   `yaml:"node_path,omitempty"`
	ScriptPath string   `yaml:"script_path,omitempty"`
	Args       []string `yaml:"args,omitempty"`

	// OpenAI-compatible agents.
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`

	// Scripted agents.
	Outputs []string `yaml:"outputs,omitempty"`
}

// RedisConfig holds the Redis session store settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config is the top-level server configuration.
type Config struct {
	// Host and Port bind the HTTP/WebSocket server.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// CORSOrigins are the allowed browser origins.
	CORSOrigins []string `yaml:"cors_origins"`

	// MaxIterations caps refinement passes per run.
	MaxIterations int `yaml:"max_iterations"`
	// ContextWindow bounds prior-step outputs carried between steps.
	ContextWindow int `yaml:"context_window"`
	// SubprocessTimeout bounds a single CLI agent invocation, in seconds.
	SubprocessTimeout int `yaml:"subprocess_timeout"`

	// SessionBackend selects session storage: "memory" or "redis".
	SessionBackend string      `yaml:"session_backend"`
	Redis          RedisConfig `yaml:"redis"`
	// SessionIdleTTL is how long an untouched session survives the
	// janitor, e.g. "24h". Empty disables purging.
	SessionIdleTTL string `yaml:"session_idle_ttl"`
	// JanitorSchedule is the cron spec for the idle-session sweep.
	JanitorSchedule string `yaml:"janitor_schedule"`

	// Quality and UITarget shape the generation rubric.
	Quality  string `yaml:"quality"`
	UITarget string `yaml:"ui_target"`

	// Agents maps agent ids to their invocation config.
	Agents map[string]AgentConfig `yaml:"agents"`
}

// Load reads configuration from a YAML file, then applies env fallbacks and
// defaults. A missing file yields the pure default configuration.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BRIDGE_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("BRIDGE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("BRIDGE_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxIterations = n
		}
	}
	if v := os.Getenv("BRIDGE_QUALITY"); v != "" {
		c.Quality = v
	}
	if v := os.Getenv("BRIDGE_UI_TARGET"); v != "" {
		c.UITarget = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 8
	}
	if c.ContextWindow == 0 {
		c.ContextWindow = 5
	}
	if c.SubprocessTimeout == 0 {
		c.SubprocessTimeout = 120
	}
	if c.SessionBackend == "" {
		c.SessionBackend = "memory"
	}
	if c.JanitorSchedule == "" {
		c.JanitorSchedule = "@every 30m"
	}
	if c.Quality == "" {
		c.Quality = "polished"
	}
	if c.UITarget == "" {
		c.UITarget = "code"
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", c.MaxIterations)
	}
	switch c.SessionBackend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("session_backend is redis but redis.addr is empty")
		}
	default:
		return fmt.Errorf("unknown session_backend %q", c.SessionBackend)
	}
	for id, a := range c.Agents {
		switch a.Kind {
		case AgentKindCLI:
			if a.ScriptPath == "" {
				return fmt.Errorf("agent %q: cli agent needs script_path", id)
			}
		case AgentKindOpenAI:
			if a.Model == "" {
				return fmt.Errorf("agent %q: openai agent needs model", id)
			}
		case AgentKindScripted:
		default:
			return fmt.Errorf("agent %q: unknown kind %q", id, a.Kind)
		}
	}
	return nil
}

// IdleTTL parses SessionIdleTTL; zero means purging is disabled.
func (c *Config) IdleTTL() time.Duration {
	if c.SessionIdleTTL == "" {
		return 0
	}
	d, err := time.ParseDuration(c.SessionIdleTTL)
	if err != nil {
		return 0
	}
	return d
}

// Rubric renders the quality requirements appended to generation prompts,
// shaped by the configured output target and quality level.
func (c *Config) Rubric() string {
	rubric := fmt.Sprintf("Quality requirements (%s):\n", c.UITarget)

	switch c.UITarget {
	case "web":
		rubric += `- Clean, modern layout with CSS variables, consistent 8px spacing.
- Single HTML file (plus CSS/JS) or embed CSS/JS; responsive center card.
- Clear display area, large buttons, keyboard shortcuts.
- Error handling with non-intrusive messages.
- No external CDN dependencies; work fully offline.
`
	default:
		rubric += `- Complete, runnable implementation in a single file when reasonable.
- Clean, readable code with appropriate comments.
- Proper error handling and input validation.
- Follow language-specific best practices.
- Include usage examples or documentation.
`
	}

	if c.Quality == "polished" {
		rubric += "- Aesthetics matter: avoid cramped or noisy output; use clear structure.\n"
	}
	return rubric
}
