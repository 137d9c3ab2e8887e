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

// Client provides HTTP client functionality to communicate with the craftvisor daemon
type Client struct {
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
	token    string
	username string
	password string
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification

	// Token is sent as a bearer token. Otherwise Username and Password are
	// sent as basic auth when set.
	Token    string
	Username string
	Password string
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new craftvisor API client with TLS support
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080/api"
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
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		logger:   config.Logger,
		token:    config.Token,
		username: config.Username,
		password: config.Password,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/servers", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	isReachable := resp.StatusCode != http.StatusNotFound
	c.logger.Debug("Daemon reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

// Servers lists every known profile.
func (c *Client) Servers(ctx context.Context) ([]Server, error) {
	var out struct {
		Servers []Server `json:"servers"`
	}
	if err := c.get(ctx, "/servers", nil, &out); err != nil {
		return nil, err
	}
	return out.Servers, nil
}

// Status returns the status of one profile.
func (c *Client) Status(ctx context.Context, id string) (Status, error) {
	var st Status
	err := c.get(ctx, "/status", idQuery(id), &st)
	return st, err
}

// Console returns the console scrollback of one profile, newest line last.
func (c *Client) Console(ctx context.Context, id string) ([]string, error) {
	var out struct {
		Lines []string `json:"lines"`
	}
	if err := c.get(ctx, "/console", idQuery(id), &out); err != nil {
		return nil, err
	}
	return out.Lines, nil
}

// SendCommand writes a console command to a running server.
func (c *Client) SendCommand(ctx context.Context, id, command string) error {
	c.logger.Debug("Sending command", "id", id, "command", command)
	return c.post(ctx, "/console/send", sendRequest{ID: id, Command: command}, nil)
}

// Start launches the server of a profile.
func (c *Client) Start(ctx context.Context, id string) error {
	c.logger.Debug("Starting server", "id", id)
	return c.post(ctx, "/control/start", idRequest{ID: id}, nil)
}

// Stop asks the server of a profile to shut down.
func (c *Client) Stop(ctx context.Context, id string) error {
	c.logger.Debug("Stopping server", "id", id)
	return c.post(ctx, "/control/stop", idRequest{ID: id}, nil)
}

// Kill terminates the server of a profile.
func (c *Client) Kill(ctx context.Context, id string) error {
	c.logger.Debug("Killing server", "id", id)
	return c.post(ctx, "/control/kill", idRequest{ID: id}, nil)
}

// Config returns the raw server.properties text of a profile.
func (c *Client) Config(ctx context.Context, id string) (string, error) {
	var out struct {
		Config string `json:"config"`
	}
	if err := c.get(ctx, "/config", idQuery(id), &out); err != nil {
		return "", err
	}
	return out.Config, nil
}

// SetConfig replaces server.properties. The returned warning is non-empty
// when the server was active at the time of the write.
func (c *Client) SetConfig(ctx context.Context, id, text string) (string, error) {
	var out configWriteResponse
	if err := c.post(ctx, "/config", configRequest{ID: id, Config: text}, &out); err != nil {
		return "", err
	}
	return out.Warning, nil
}

// Properties returns the parsed server.properties of a profile.
func (c *Client) Properties(ctx context.Context, id string) (map[string]string, error) {
	var out struct {
		Properties map[string]string `json:"properties"`
	}
	if err := c.get(ctx, "/config/properties", idQuery(id), &out); err != nil {
		return nil, err
	}
	return out.Properties, nil
}

// Schedules lists the daemon's cron entries.
func (c *Client) Schedules(ctx context.Context) ([]Schedule, error) {
	var out struct {
		Schedules []Schedule `json:"schedules"`
	}
	if err := c.get(ctx, "/schedules", nil, &out); err != nil {
		return nil, err
	}
	return out.Schedules, nil
}

// Login exchanges credentials for a bearer token and uses it for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (Token, error) {
	var tok Token
	body := map[string]string{"username": username, "password": password}
	if err := c.post(ctx, "/auth/login", body, &tok); err != nil {
		return Token{}, err
	}
	c.token = tok.Token
	return tok, nil
}

func idQuery(id string) url.Values {
	return url.Values{"id": []string{id}}
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
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

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

func (c *Client) authorize(req *http.Request) {
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return c.doRequest(ctx, http.MethodGet, u, nil, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.doRequest(ctx, http.MethodPost, c.baseURL+path, data, out)
}

// doRequest performs HTTP request with common error handling
func (c *Client) doRequest(ctx context.Context, method, url string, body []byte, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
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
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode}
	}

	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: errorResp.Error}
}
