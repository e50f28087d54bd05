// Package config loads the YAML configuration that drives the orchestrator:
// which agent CLIs are available, global and per-project concurrency limits,
// timeouts, and the verification gate's step commands.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level orchestrator configuration file.
type Config struct {
	Settings Settings          `yaml:"settings"`
	Agents   map[string]Agent  `yaml:"agents"`
	Gates    Gates             `yaml:"gates"`
	Projects []ProjectOverride `yaml:"projects,omitempty"`
}

// Settings holds the global knobs named in the design's configuration table.
type Settings struct {
	MaxConcurrent      int      `yaml:"max_concurrent"`
	MaxLogLines        int      `yaml:"max_log_lines"`
	AgentTimeout       Duration `yaml:"agent_timeout"`
	TickInterval       Duration `yaml:"tick_interval"`
	SynthesizeInterval Duration `yaml:"synthesize_interval"`
	BlockedRetry       Duration `yaml:"blocked_retry"`
	BranchPrefix       string   `yaml:"branch_prefix"`
	IntegrationBranch  string   `yaml:"integration_branch"`
	Remote             string   `yaml:"remote"`
	LinkedDirs         []string `yaml:"linked_dirs,omitempty"`
}

// Agent describes one configured external agent CLI.
type Agent struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Gates lists the three fixed verification steps (type-check, lint, test).
// Each command may use the {dir} placeholder, which verify replaces with the
// worktree path.
type Gates struct {
	TypeCheck GateCommand `yaml:"type_check"`
	Lint      GateCommand `yaml:"lint"`
	Test      GateCommand `yaml:"test"`
}

// GateCommand is one shell command run during verification.
type GateCommand struct {
	Run     string   `yaml:"run"`
	Timeout Duration `yaml:"timeout"`
}

// ProjectOverride customizes per-project concurrency/timeout behavior, and
// doubles as the seed definition for the CLI's standalone `run` mode, which
// has no HTTP/CRUD layer to populate a board through: a project entry with
// a Name and Cards populates the in-memory store at startup.
type ProjectOverride struct {
	ProjectID           string     `yaml:"project_id"`
	Name                string     `yaml:"name,omitempty"`
	AgentTimeout        Duration   `yaml:"agent_timeout,omitempty"`
	MaxConcurrentAgents int        `yaml:"max_concurrent_agents,omitempty"`
	Cards               []CardSeed `yaml:"cards,omitempty"`
}

// CardSeed describes one backlog card to create when a project is seeded at
// startup.
type CardSeed struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description,omitempty"`
	Priority    int    `yaml:"priority,omitempty"`
}

// LinkedDirs names directories to symlink from the source repo into each
// card's worktree rather than let the agent re-fetch them (node_modules-
// style caches); see worktree.LinkSharedDependencies.
var DefaultLinkedDirs = []string{"node_modules"}

// Duration wraps time.Duration for YAML unmarshaling from strings like "10m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default values per the design's named configuration options.
const (
	DefaultMaxConcurrent      = 3
	DefaultMaxLogLines        = 500
	DefaultAgentTimeout       = 30 * time.Minute
	DefaultTickInterval       = 10 * time.Minute
	DefaultSynthesizeInterval = 30 * time.Minute
	DefaultBlockedRetry       = 30 * time.Minute
	DefaultBranchPrefix       = "agent/"
	DefaultIntegrationBranch  = "integration"
	DefaultRemote             = "origin"
	DefaultGateTimeout        = 10 * time.Minute
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	if cfg.Settings.MaxConcurrent == 0 {
		cfg.Settings.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Settings.MaxLogLines == 0 {
		cfg.Settings.MaxLogLines = DefaultMaxLogLines
	}
	if cfg.Settings.AgentTimeout == 0 {
		cfg.Settings.AgentTimeout = Duration(DefaultAgentTimeout)
	}
	if cfg.Settings.TickInterval == 0 {
		cfg.Settings.TickInterval = Duration(DefaultTickInterval)
	}
	if cfg.Settings.SynthesizeInterval == 0 {
		cfg.Settings.SynthesizeInterval = Duration(DefaultSynthesizeInterval)
	}
	if cfg.Settings.BlockedRetry == 0 {
		cfg.Settings.BlockedRetry = Duration(DefaultBlockedRetry)
	}
	if cfg.Settings.BranchPrefix == "" {
		cfg.Settings.BranchPrefix = DefaultBranchPrefix
	}
	if cfg.Settings.IntegrationBranch == "" {
		cfg.Settings.IntegrationBranch = DefaultIntegrationBranch
	}
	if cfg.Settings.Remote == "" {
		cfg.Settings.Remote = DefaultRemote
	}
	if len(cfg.Settings.LinkedDirs) == 0 {
		cfg.Settings.LinkedDirs = DefaultLinkedDirs
	}
	for _, gate := range []*GateCommand{&cfg.Gates.TypeCheck, &cfg.Gates.Lint, &cfg.Gates.Test} {
		if gate.Timeout == 0 {
			gate.Timeout = Duration(DefaultGateTimeout)
		}
	}

	return &cfg, nil
}

// Validate checks required fields and returns all errors found (not just the first).
func Validate(cfg *Config) []error {
	var errs []error

	if len(cfg.Agents) == 0 {
		errs = append(errs, fmt.Errorf("at least one agent must be configured"))
	}
	for name, a := range cfg.Agents {
		if a.Command == "" {
			errs = append(errs, fmt.Errorf("agents.%s: command is required", name))
		}
	}

	if cfg.Gates.TypeCheck.Run == "" {
		errs = append(errs, fmt.Errorf("gates.type_check: run is required"))
	}
	if cfg.Gates.Lint.Run == "" {
		errs = append(errs, fmt.Errorf("gates.lint: run is required"))
	}
	if cfg.Gates.Test.Run == "" {
		errs = append(errs, fmt.Errorf("gates.test: run is required"))
	}

	if cfg.Settings.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("settings.max_concurrent must not be negative"))
	}

	seen := make(map[string]bool)
	for i, p := range cfg.Projects {
		if p.ProjectID == "" {
			errs = append(errs, fmt.Errorf("projects[%d]: project_id is required", i))
			continue
		}
		if seen[p.ProjectID] {
			errs = append(errs, fmt.Errorf("projects[%d]: duplicate project_id %q", i, p.ProjectID))
		}
		seen[p.ProjectID] = true
	}

	return errs
}

// OverrideFor returns the configured override for a project, or a zero-value
// override (meaning "use global defaults") if none is configured.
func (cfg *Config) OverrideFor(projectID string) ProjectOverride {
	for _, p := range cfg.Projects {
		if p.ProjectID == projectID {
			return p
		}
	}
	return ProjectOverride{ProjectID: projectID}
}
