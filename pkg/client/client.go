package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultBaseURL is where a locally started daemon listens.
const DefaultBaseURL = "http://localhost:7447/api"

// Client provides HTTP client functionality to communicate with the scriptdeck daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool
	CACert     string // CA certificate file path
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

// APIError is a non-200 answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Timeout: 10 * time.Second}
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	reachable := resp.StatusCode != http.StatusNotFound
	c.logger.Debug("Daemon reachability check", "reachable", reachable, "status", resp.StatusCode)
	return reachable
}

// Scripts lists the scripts found under the daemon's scripts directory.
func (c *Client) Scripts(ctx context.Context) ([]Script, error) {
	var out []Script
	err := c.do(ctx, http.MethodGet, "/scripts", nil, &out)
	return out, err
}

// Start starts a script; starting a running script succeeds without effect.
func (c *Client) Start(ctx context.Context, req StartRequest) error {
	c.logger.Debug("Starting script", "script", req.Script, "path", req.Path)
	return c.do(ctx, http.MethodPost, "/start", req, nil)
}

// Stop stops a script; unknown scripts are ignored by the daemon.
func (c *Client) Stop(ctx context.Context, script string) error {
	c.logger.Debug("Stopping script", "script", script)
	return c.do(ctx, http.MethodPost, "/stop", StopRequest{Script: script}, nil)
}

// Status returns the state of one script.
func (c *Client) Status(ctx context.Context, script string) (ScriptStatus, error) {
	var out ScriptStatus
	err := c.do(ctx, http.MethodGet, "/status?script="+url.QueryEscape(script), nil, &out)
	return out, err
}

// StatusAll returns the state of every script the daemon has started.
func (c *Client) StatusAll(ctx context.Context) ([]ScriptStatus, error) {
	var out []ScriptStatus
	err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

// Logs returns the full persisted log of script.
func (c *Client) Logs(ctx context.Context, script string) (string, error) {
	var out struct {
		Logs string `json:"logs"`
	}
	err := c.do(ctx, http.MethodGet, "/logs/"+escapeSegments(script), nil, &out)
	return out.Logs, err
}

// Packages lists the packages of the shared environment.
func (c *Client) Packages(ctx context.Context) ([]Package, error) {
	var out []Package
	err := c.do(ctx, http.MethodGet, "/packages", nil, &out)
	return out, err
}

func (c *Client) InstallPackage(ctx context.Context, name string) (PackageResult, error) {
	var out PackageResult
	err := c.do(ctx, http.MethodPost, "/packages/install", map[string]string{"package": name}, &out)
	return out, err
}

func (c *Client) UninstallPackage(ctx context.Context, name string) (PackageResult, error) {
	var out PackageResult
	err := c.do(ctx, http.MethodPost, "/packages/uninstall", map[string]string{"package": name}, &out)
	return out, err
}

// InstallRequirements installs requirements.txt of folder, or of the scripts
// directory when folder is empty.
func (c *Client) InstallRequirements(ctx context.Context, folder string) (PackageResult, error) {
	var out PackageResult
	err := c.do(ctx, http.MethodPost, "/install-requirements", map[string]string{"folder": folder}, &out)
	return out, err
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 -- explicit opt-in
		return tlsConfig, nil
	}
	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true // #nosec G402 -- explicit opt-in
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}
	return tlsConfig, nil
}

func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath) // #nosec G304 -- operator supplied path
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return nil
}

// do sends in as JSON (when non-nil) and decodes a 200 answer into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode}
	}
	c.logger.Debug("API request failed", "error", er.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: er.Error}
}

func escapeSegments(id string) string {
	parts := strings.Split(id, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
