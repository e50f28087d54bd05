package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := parse([]byte(`
agents:
  claude:
    command: claude
    args: ["-p"]
gates:
  type_check:
    run: "tsc --noEmit"
  lint:
    run: "eslint ."
  test:
    run: "npm test"
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxConcurrent, cfg.Settings.MaxConcurrent)
	assert.Equal(t, DefaultAgentTimeout, cfg.Settings.AgentTimeout.Duration())
	assert.Equal(t, DefaultBranchPrefix, cfg.Settings.BranchPrefix)
	assert.Equal(t, DefaultGateTimeout, cfg.Gates.TypeCheck.Timeout.Duration())
}

func TestParseExplicitValuesOverrideDefaults(t *testing.T) {
	cfg, err := parse([]byte(`
settings:
  max_concurrent: 5
  agent_timeout: "45m"
agents:
  claude:
    command: claude
gates:
  type_check: {run: "x"}
  lint: {run: "y"}
  test: {run: "z"}
`))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Settings.MaxConcurrent)
	assert.Equal(t, 45*time.Minute, cfg.Settings.AgentTimeout.Duration())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr int
	}{
		{
			name:    "empty config has agent and gate errors",
			cfg:     Config{},
			wantErr: 4, // no agents, 3 missing gates
		},
		{
			name: "valid minimal config",
			cfg: Config{
				Agents: map[string]Agent{"claude": {Command: "claude"}},
				Gates: Gates{
					TypeCheck: GateCommand{Run: "a"},
					Lint:      GateCommand{Run: "b"},
					Test:      GateCommand{Run: "c"},
				},
			},
			wantErr: 0,
		},
		{
			name: "duplicate project ids",
			cfg: Config{
				Agents: map[string]Agent{"claude": {Command: "claude"}},
				Gates: Gates{
					TypeCheck: GateCommand{Run: "a"},
					Lint:      GateCommand{Run: "b"},
					Test:      GateCommand{Run: "c"},
				},
				Projects: []ProjectOverride{{ProjectID: "p1"}, {ProjectID: "p1"}},
			},
			wantErr: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(&tt.cfg)
			assert.Lenf(t, errs, tt.wantErr, "errors: %v", errs)
		})
	}
}

func TestOverrideFor(t *testing.T) {
	cfg := &Config{Projects: []ProjectOverride{
		{ProjectID: "p1", MaxConcurrentAgents: 2},
	}}

	got := cfg.OverrideFor("p1")
	assert.Equal(t, 2, got.MaxConcurrentAgents)

	got = cfg.OverrideFor("unknown")
	assert.Zero(t, got.MaxConcurrentAgents)
}
