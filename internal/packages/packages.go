package packages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/loykin/scriptdeck/internal/env"
	"github.com/loykin/scriptdeck/internal/process"
)

// DefaultTimeout bounds a single pip invocation.
const DefaultTimeout = 10 * time.Minute

// ErrInvalidName is returned for package names pip would treat as options.
var ErrInvalidName = errors.New("invalid package name")

// Package is one installed distribution.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Result is the outcome of a pip command: stdout on success, stderr otherwise.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// Config locates pip and the default requirements folder.
type Config struct {
	ToolRoot   string
	ScriptsDir string
	Pip        string // explicit pip executable; defaults to <ToolRoot>/bin/pip
	Env        *env.Env
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Manager runs pip against the shared virtualenv.
type Manager struct {
	pip        string
	scriptsDir string
	env        []string
	timeout    time.Duration
	logger     *slog.Logger
}

func New(cfg Config) *Manager {
	pip := cfg.Pip
	if pip == "" {
		pip = filepath.Join(cfg.ToolRoot, process.BinDir, "pip")
	}
	e := cfg.Env
	if e == nil {
		e = env.New()
	}
	o := env.Overrides{Set: map[string]string{}}
	if cfg.ToolRoot != "" {
		o.PrependPath = []string{filepath.Join(cfg.ToolRoot, process.BinDir)}
		o.Set["VIRTUAL_ENV"] = cfg.ToolRoot
	}
	o.Set["PIP_DISABLE_PIP_VERSION_CHECK"] = "1"
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pip:        pip,
		scriptsDir: cfg.ScriptsDir,
		env:        e.Apply(o),
		timeout:    timeout,
		logger:     logger,
	}
}

// ValidateName rejects empty names, names starting with '-' and names with
// whitespace or control characters.
func ValidateName(name string) error {
	if name == "" || strings.HasPrefix(name, "-") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

// List returns installed packages with lower-cased names.
func (m *Manager) List(ctx context.Context) ([]Package, error) {
	stdout, stderr, err := m.run(ctx, "list", "--format=json")
	if err != nil {
		return nil, fmt.Errorf("pip list: %w: %s", err, strings.TrimSpace(stderr))
	}
	var pkgs []Package
	if err := json.Unmarshal([]byte(stdout), &pkgs); err != nil {
		return nil, fmt.Errorf("decode pip list output: %w", err)
	}
	for i := range pkgs {
		pkgs[i].Name = strings.ToLower(pkgs[i].Name)
	}
	return pkgs, nil
}

// Install installs one package. Only an invalid name is reported as error;
// pip failures are described by the Result.
func (m *Manager) Install(ctx context.Context, name string) (Result, error) {
	if err := ValidateName(name); err != nil {
		return Result{}, err
	}
	return m.result(ctx, "install", name), nil
}

// Uninstall removes one package without prompting.
func (m *Manager) Uninstall(ctx context.Context, name string) (Result, error) {
	if err := ValidateName(name); err != nil {
		return Result{}, err
	}
	return m.result(ctx, "uninstall", "-y", name), nil
}

// InstallRequirements installs requirements.txt from folder, or from the
// scripts directory when folder is empty.
func (m *Manager) InstallRequirements(ctx context.Context, folder string) Result {
	if folder == "" {
		folder = m.scriptsDir
	}
	req := filepath.Join(folder, "requirements.txt")
	if _, err := os.Stat(req); err != nil {
		return Result{Success: false, Output: "requirements.txt not found"}
	}
	return m.result(ctx, "install", "-r", req)
}

func (m *Manager) result(ctx context.Context, args ...string) Result {
	stdout, stderr, err := m.run(ctx, args...)
	if err != nil {
		m.logger.Warn("pip command failed", "args", args, "error", err)
		out := stderr
		if out == "" {
			out = err.Error()
		}
		return Result{Success: false, Output: out}
	}
	m.logger.Info("pip command succeeded", "args", args)
	return Result{Success: true, Output: stdout}
}

func (m *Manager) run(ctx context.Context, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	// #nosec G204 -- arguments are fixed pip verbs plus validated names
	cmd := exec.CommandContext(ctx, m.pip, args...)
	cmd.Env = m.env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
