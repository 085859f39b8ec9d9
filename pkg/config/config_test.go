package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductorhq/conductor/pkg/types"
)

const sampleConfig = `
provider:
  model: gpt-4o-mini
  base_url: https://llm.internal/v1
ralph:
  max_iterations: 5
  promise_token: "<<DONE>>"
  fail_on_cap: false
safety:
  extra_blocking:
    - pattern: 'crontab\s+-r'
      reason: "crontab wipe"
  extra_confirm:
    - "docker system prune*"
timeouts:
  cli: 15m
  grace: 10s
runtimes:
  claude:
    bin: /usr/local/bin/claude
    args: ["-p", "--output-format", "stream-json"]
pre_analysis_kind: codex
audit_db: /var/lib/conductor/audit.db
webhooks:
  - name: alerts
    secret: hook-secret
    enabled: true
    source: grafana
    mode: task
    title: "{{alert.name}}"
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.Provider.Model)
	assert.Equal(t, 5, cfg.Ralph.MaxIterations)
	assert.Equal(t, "<<DONE>>", cfg.Ralph.PromiseToken)
	assert.False(t, cfg.Ralph.FailOnCapOrDefault())
	assert.Equal(t, 15*time.Minute, cfg.Timeouts.CLI.Std())
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Grace.Std())
	assert.Equal(t, "codex", cfg.PreAnalysisKind)

	require.Len(t, cfg.Safety.ExtraBlocking, 1)
	assert.Equal(t, "crontab wipe", cfg.Safety.ExtraBlocking[0].Reason)

	require.Contains(t, cfg.Runtimes, "claude")
	assert.Equal(t, "/usr/local/bin/claude", cfg.Runtimes["claude"].Bin)

	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, "alerts", cfg.Webhooks[0].Name)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Ralph.MaxIterations)
	assert.Equal(t, "claude", cfg.PreAnalysisKind)
	assert.True(t, cfg.Ralph.FailOnCapOrDefault())
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ralph:\n  max_iterations: -1\n"), 0600))

	_, err := Load(path)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestLoadRejectsBrokenWebhook(t *testing.T) {
	broken := `
webhooks:
  - name: incomplete
    mode: task
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(broken), 0600))

	_, err := Load(path)
	assert.ErrorIs(t, err, types.ErrValidation)
}
