package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
host: "127.0.0.1"
database:
  connection_string: "postgres://x"
`), 0o644))

	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.Host)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, ModeNormal, cfg.Mode)
	require.Equal(t, 8, cfg.React.MaxSteps)
	require.Equal(t, 0.8, cfg.Memory.SummaryTriggerRatio)
	require.Equal(t, cfg.Memory.SummarizeThreshold/2, cfg.Memory.KeepRecentMessages)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MAX_STEPS", "3")
	t.Setenv("NEXUS_MODE", "react")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 3, cfg.React.MaxSteps)
	require.Equal(t, ModeReAct, cfg.Mode)
}
