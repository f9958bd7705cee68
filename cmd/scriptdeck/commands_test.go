package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/scriptdeck"
	"github.com/loykin/scriptdeck/internal/config"
	"github.com/loykin/scriptdeck/pkg/client"
)

const fakePip = `#!/bin/sh
case "$1" in
list) echo '[{"name": "requests", "version": "2.31.0"}]' ;;
install)
  if [ "$2" = "broken" ]; then echo "no such package" >&2; exit 1; fi
  echo "installed $2 $3" ;;
uninstall) echo "removed $3" ;;
esac
`

type cliEnv struct {
	url     string
	scripts string
}

func startDaemon(t *testing.T) *cliEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
	dir := t.TempDir()
	cfg := &config.Config{
		Server: config.ServerConfig{BasePath: "/api"},
		Paths: config.PathsConfig{
			ScriptsDir: filepath.Join(dir, "scripts"),
			LogsDir:    filepath.Join(dir, "logs"),
			VenvDir:    filepath.Join(dir, "venv"),
		},
		Runtime:    config.RuntimeConfig{Interpreter: "/bin/sh"},
		Supervisor: config.SupervisorConfig{StopGrace: 200 * time.Millisecond},
		UseOSEnv:   true,
	}
	d, err := scriptdeck.NewDaemon(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Paths.VenvDir, "bin"), 0o750))
	// #nosec G306 -- the fake pip must be executable
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.VenvDir, "bin", "pip"), []byte(fakePip), 0o755))

	srv := httptest.NewServer(d.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = d.Close()
	})
	return &cliEnv{url: srv.URL + "/api", scripts: cfg.Paths.ScriptsDir}
}

func (e *cliEnv) write(t *testing.T, id, body string) {
	t.Helper()
	p := filepath.Join(e.scripts, filepath.FromSlash(id))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRoot(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--api-url", e.url))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHelp(t *testing.T) {
	var out bytes.Buffer
	root := buildRoot(&out)
	root.SetArgs([]string{"--help"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "scriptdeck")
	for _, sub := range []string{"serve", "start", "stop", "status", "logs", "packages", "install-requirements"} {
		assert.Contains(t, out.String(), sub)
	}
}

func TestStartStatusLogsStop(t *testing.T) {
	e := startDaemon(t)
	e.write(t, "job/a.py", "echo hello\nsleep 5\n")

	out, err := e.run(t, "scripts")
	require.NoError(t, err)
	var scripts []client.Script
	require.NoError(t, json.Unmarshal([]byte(out), &scripts))
	require.Len(t, scripts, 1)
	assert.Equal(t, "job/a.py", scripts[0].Name)

	out, err = e.run(t, "start", "--script", "job/a.py")
	require.NoError(t, err)
	assert.Equal(t, "started job/a.py\n", out)

	out, err = e.run(t, "status", "--script", "job/a.py")
	require.NoError(t, err)
	var st client.ScriptStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "running", st.State)

	assert.Eventually(t, func() bool {
		out, err := e.run(t, "logs", "--script", "job/a.py")
		return err == nil && strings.Contains(out, "hello")
	}, 5*time.Second, 20*time.Millisecond)

	out, err = e.run(t, "stop", "--script", "job/a.py")
	require.NoError(t, err)
	assert.Equal(t, "stopped job/a.py\n", out)

	out, err = e.run(t, "status")
	require.NoError(t, err)
	var all []client.ScriptStatus
	require.NoError(t, json.Unmarshal([]byte(out), &all))
	require.Len(t, all, 1)
	assert.Equal(t, "stopped", all[0].State)
}

func TestStartErrors(t *testing.T) {
	e := startDaemon(t)

	_, err := e.run(t, "start")
	assert.Error(t, err, "--script is required")

	_, err = e.run(t, "start", "--script", "a.py", "--path", "/etc/passwd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid path")
}

func TestPackagesCommands(t *testing.T) {
	e := startDaemon(t)

	out, err := e.run(t, "packages", "list")
	require.NoError(t, err)
	assert.Equal(t, "requests==2.31.0\n", out)

	out, err = e.run(t, "packages", "install", "six")
	require.NoError(t, err)
	assert.Contains(t, out, "installed six")

	out, err = e.run(t, "packages", "install", "broken")
	require.Error(t, err)
	assert.Contains(t, out, "no such package")

	out, err = e.run(t, "packages", "uninstall", "six")
	require.NoError(t, err)
	assert.Contains(t, out, "removed six")

	out, err = e.run(t, "install-requirements")
	require.Error(t, err)
	assert.Contains(t, out, "requirements.txt not found")

	e.write(t, "requirements.txt", "six\n")
	out, err = e.run(t, "install-requirements")
	require.NoError(t, err)
	assert.Contains(t, out, "requirements.txt")
}

func TestDaemonUnreachable(t *testing.T) {
	var out bytes.Buffer
	root := buildRoot(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"status", "--api-url", "http://127.0.0.1:1/api", "--api-timeout", "500ms"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon not reachable")
}
