package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, code int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("GET /api/scripts", func(w http.ResponseWriter, r *http.Request) {
		reply(w, 200, []Script{{Name: "job/a.py", Path: "/s/job/a.py", Folder: "/s/job", Running: true}})
	})
	mux.HandleFunc("POST /api/start", func(w http.ResponseWriter, r *http.Request) {
		var req StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Script == "" {
			reply(w, 400, ErrorResponse{Error: "script is required"})
			return
		}
		if req.Script == "broken.py" {
			reply(w, 500, ErrorResponse{Error: "spawn broken.py: no such file"})
			return
		}
		reply(w, 200, map[string]string{"status": "started"})
	})
	mux.HandleFunc("POST /api/stop", func(w http.ResponseWriter, r *http.Request) {
		reply(w, 200, map[string]string{"status": "stopped"})
	})
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		if s := r.URL.Query().Get("script"); s != "" {
			reply(w, 200, ScriptStatus{Script: s, State: "running", Running: true, PID: 42, Runs: 1})
			return
		}
		reply(w, 200, []ScriptStatus{{Script: "a.py", State: "stopped"}})
	})
	mux.HandleFunc("GET /api/logs/{script...}", func(w http.ResponseWriter, r *http.Request) {
		reply(w, 200, map[string]string{"logs": "log of " + r.PathValue("script")})
	})
	mux.HandleFunc("GET /api/packages", func(w http.ResponseWriter, r *http.Request) {
		reply(w, 200, []Package{{Name: "requests", Version: "2.31.0"}})
	})
	mux.HandleFunc("POST /api/packages/install", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		reply(w, 200, PackageResult{Success: true, Output: "installed " + body["package"]})
	})
	mux.HandleFunc("POST /api/packages/uninstall", func(w http.ResponseWriter, r *http.Request) {
		reply(w, 200, PackageResult{Success: true, Output: "removed"})
	})
	mux.HandleFunc("POST /api/install-requirements", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		reply(w, 200, PackageResult{Success: false, Output: "requirements.txt not found in " + body["folder"]})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T) *Client {
	srv := fakeDaemon(t)
	return New(Config{BaseURL: srv.URL + "/api/", Timeout: 2 * time.Second})
}

func TestClientScriptsAndLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	assert.True(t, c.IsReachable(ctx))

	scripts, err := c.Scripts(ctx)
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, "job/a.py", scripts[0].Name)
	assert.True(t, scripts[0].Running)

	require.NoError(t, c.Start(ctx, StartRequest{Script: "job/a.py"}))
	require.NoError(t, c.Stop(ctx, "job/a.py"))

	st, err := c.Status(ctx, "job/a.py")
	require.NoError(t, err)
	assert.Equal(t, "running", st.State)
	assert.Equal(t, 42, st.PID)

	all, err := c.StatusAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "stopped", all[0].State)

	logs, err := c.Logs(ctx, "job/a.py")
	require.NoError(t, err)
	assert.Equal(t, "log of job/a.py", logs)
}

func TestClientErrors(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	err := c.Start(ctx, StartRequest{Script: "broken.py"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "no such file")

	err = c.Start(ctx, StartRequest{})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestClientPackages(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	pkgs, err := c.Packages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Package{{Name: "requests", Version: "2.31.0"}}, pkgs)

	res, err := c.InstallPackage(ctx, "six")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "installed six", res.Output)

	res, err = c.UninstallPackage(ctx, "six")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = c.InstallRequirements(ctx, "/s/job")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "/s/job")
}

func TestClientUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: 500 * time.Millisecond})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.Scripts(context.Background())
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultBaseURL, DefaultConfig().BaseURL)
	assert.Equal(t, "job/a%20b.py", escapeSegments("job/a b.py"))
}

func TestInsecureTLSConfig(t *testing.T) {
	cfg, err := setupClientTLS(Config{Insecure: true})
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)

	_, err = setupClientTLS(Config{TLS: &TLSClientConfig{Enabled: true, CACert: "/nonexistent/ca.pem"}})
	assert.Error(t, err)
}
