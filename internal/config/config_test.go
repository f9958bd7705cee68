package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/scriptdeck/internal/env"
	"github.com/loykin/scriptdeck/internal/process"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7447", cfg.Server.Listen)
	assert.Equal(t, "/api", cfg.Server.BasePath)
	assert.Equal(t, "/scripts", cfg.Paths.ScriptsDir)
	assert.Equal(t, "/logs", cfg.Paths.LogsDir)
	assert.Equal(t, "/venv", cfg.Paths.VenvDir)
	assert.Equal(t, "python", cfg.Runtime.Interpreter)
	assert.Equal(t, "VIRTUAL_ENV", cfg.Runtime.HomeVar)
	assert.Equal(t, "PYTHONPATH", cfg.Runtime.ModulePathVar)
	assert.True(t, cfg.Runtime.Unbuffered)
	assert.Equal(t, process.DefaultStopGrace, cfg.Supervisor.StopGrace)
	assert.True(t, cfg.Supervisor.WatchScripts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Metrics.SampleInterval)
	assert.Equal(t, 60, cfg.Metrics.HistorySize)
	assert.False(t, cfg.Server.TLS.Enabled())
	assert.Empty(t, cfg.History)
}

func TestLoadTOML(t *testing.T) {
	t.Setenv("PORT", "")
	dir := t.TempDir()
	p := writeFile(t, dir, "scriptdeck.toml", `
env = ["GREETING=hi"]

[server]
listen = "127.0.0.1:9000"
base_path = "/v1"

[paths]
scripts_dir = "/data/scripts"
logs_dir = "/data/logs"
venv_dir = "/data/venv"

[runtime]
interpreter = "python3"
unbuffered = false

[supervisor]
stop_grace = "3s"
watch_scripts = false

[log]
level = "debug"
format = "json"

[metrics]
enabled = false

[[history]]
dsn = "sqlite:///data/history.db"

[[history]]
dsn = "opensearch://search:9200/scripts"
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.Equal(t, "/v1", cfg.Server.BasePath)
	assert.Equal(t, "/data/scripts", cfg.Paths.ScriptsDir)
	assert.Equal(t, "python3", cfg.Runtime.Interpreter)
	assert.False(t, cfg.Runtime.Unbuffered)
	assert.Equal(t, 3*time.Second, cfg.Supervisor.StopGrace)
	assert.False(t, cfg.Supervisor.WatchScripts)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Metrics.Enabled)
	require.Len(t, cfg.History, 2)
	assert.Equal(t, "opensearch://search:9200/scripts", cfg.History[1].DSN)
	assert.Equal(t, []string{"GREETING=hi"}, cfg.Env)

	rt := cfg.ProcessRuntime(nil)
	assert.Equal(t, "/data/venv", rt.ToolRoot)
	assert.Equal(t, "/data/scripts", rt.ScriptsDir)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("SCRIPTDECK_PATHS_SCRIPTS_DIR", "/env/scripts")
	t.Setenv("SCRIPTDECK_SUPERVISOR_STOP_GRACE", "0s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, "/env/scripts", cfg.Paths.ScriptsDir)
	assert.Equal(t, time.Duration(0), cfg.Supervisor.StopGrace)

	t.Setenv("SCRIPTDECK_SERVER_LISTEN", "127.0.0.1:1234")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1234", cfg.Server.Listen, "explicit listen wins over PORT")
}

func TestLoadErrors(t *testing.T) {
	t.Setenv("PORT", "")
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	dir := t.TempDir()
	_, err = Load(writeFile(t, dir, "bad.toml", "[server\nlisten="))
	assert.Error(t, err)

	_, err = Load(writeFile(t, dir, "tls.toml", "[server.tls]\ncert_file = \"/c.pem\"\n"))
	assert.ErrorContains(t, err, "cert_file and key_file")

	_, err = Load(writeFile(t, dir, "hist.toml", "[[history]]\ndsn = \" \"\n"))
	assert.ErrorContains(t, err, "history[0]")

	_, err = Load(writeFile(t, dir, "grace.toml", "[supervisor]\nstop_grace = \"-1s\"\n"))
	assert.ErrorContains(t, err, "stop_grace")

	t.Setenv("PORT", "http")
	_, err = Load("")
	assert.ErrorContains(t, err, "PORT")
}

func TestScriptEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, "app.env", "# comment\nA=from-file\n\nB = spaced \nC=file\n")
	cfg := &Config{
		EnvFiles: []string{envFile},
		Env:      []string{"C=inline", "D=${A}-x"},
		UseOSEnv: false,
	}
	e, err := cfg.ScriptEnv()
	require.NoError(t, err)

	kvs := e.Apply(env.Overrides{})
	assert.Equal(t, []string{"A=from-file", "B=spaced", "C=inline", "D=from-file-x"}, kvs)

	cfg.EnvFiles = []string{filepath.Join(dir, "missing.env")}
	_, err = cfg.ScriptEnv()
	assert.Error(t, err)
}

func TestScriptEnvInheritsOS(t *testing.T) {
	t.Setenv("SCRIPTDECK_TEST_MARKER", "present")
	cfg := &Config{UseOSEnv: true}
	e, err := cfg.ScriptEnv()
	require.NoError(t, err)
	v, ok := env.Lookup(e.Apply(env.Overrides{}), "SCRIPTDECK_TEST_MARKER")
	assert.True(t, ok)
	assert.Equal(t, "present", v)
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{Paths: PathsConfig{
		ScriptsDir: filepath.Join(root, "s"),
		LogsDir:    filepath.Join(root, "l"),
		VenvDir:    filepath.Join(root, "v"),
	}}
	require.NoError(t, cfg.EnsureDirs())
	for _, d := range []string{"s", "l", "v"} {
		fi, err := os.Stat(filepath.Join(root, d))
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	}
}
