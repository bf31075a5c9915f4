package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client talks to the workspace daemon HTTP API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	// Token is sent as X-WS-Token on the internal port endpoints.
	Token    string
	Timeout  time.Duration
	Logger   *slog.Logger
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

const defaultBaseURL = "http://127.0.0.1:7001/workspace"

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: defaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
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
		baseURL: config.BaseURL,
		token:   config.Token,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsNotFound reports whether err is an API not_found error.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func logValues(q LogQuery) url.Values {
	v := url.Values{}
	v.Set("userId", strconv.FormatInt(q.UserID, 10))
	v.Set("appId", strconv.FormatInt(q.AppID, 10))
	if q.Type != "" {
		v.Set("type", q.Type)
	}
	if q.TailBytes > 0 {
		v.Set("tailBytes", strconv.FormatInt(q.TailBytes, 10))
	}
	return v
}

// ReadLog fetches a log snapshot as JSON.
func (c *Client) ReadLog(ctx context.Context, q LogQuery) (LogResponse, error) {
	var out LogResponse
	err := c.doJSON(ctx, http.MethodGet, c.endpoint("/realtime/log", logValues(q)), nil, &out)
	return out, err
}

// StreamLog copies the selected log range to w as raw text.
func (c *Client) StreamLog(ctx context.Context, q LogQuery, w io.Writer) error {
	v := logValues(q)
	v.Set("stream", "1")
	resp, err := c.do(ctx, http.MethodGet, c.endpoint("/realtime/log", v), nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read log stream: %w", err)
	}
	return nil
}

// LookupPort asks the gate for the user's current preview port.
func (c *Client) LookupPort(ctx context.Context, userID int64) (int, error) {
	v := url.Values{"userId": {strconv.FormatInt(userID, 10)}}
	resp, err := c.do(ctx, http.MethodGet, c.endpoint("/internal/nginx/port", v), nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	port, err := strconv.Atoi(resp.Header.Get("X-WS-Port"))
	if err != nil {
		return 0, fmt.Errorf("bad X-WS-Port header %q: %w", resp.Header.Get("X-WS-Port"), err)
	}
	return port, nil
}

func (c *Client) AssignPort(ctx context.Context, userID int64, port int) error {
	v := url.Values{
		"userId": {strconv.FormatInt(userID, 10)},
		"port":   {strconv.Itoa(port)},
	}
	return c.doJSON(ctx, http.MethodPut, c.endpoint("/internal/port", v), nil, nil)
}

func (c *Client) ReleasePort(ctx context.Context, userID int64) error {
	v := url.Values{"userId": {strconv.FormatInt(userID, 10)}}
	return c.doJSON(ctx, http.MethodDelete, c.endpoint("/internal/port", v), nil, nil)
}

func (c *Client) CreateApp(ctx context.Context, userID, appID int64, name string) (App, error) {
	var out App
	body := App{UserID: userID, AppID: appID, Name: name}
	err := c.doJSON(ctx, http.MethodPost, c.endpoint("/apps", nil), body, &out)
	return out, err
}

func (c *Client) ListApps(ctx context.Context, userID int64) ([]App, error) {
	var out []App
	v := url.Values{"userId": {strconv.FormatInt(userID, 10)}}
	err := c.doJSON(ctx, http.MethodGet, c.endpoint("/apps", v), nil, &out)
	return out, err
}

// DeleteApp removes an app. Cleanup problems do not fail the call; they are
// reported in the response outcomes.
func (c *Client) DeleteApp(ctx context.Context, userID, appID int64) (DeleteResponse, error) {
	var out DeleteResponse
	v := url.Values{
		"userId": {strconv.FormatInt(userID, 10)},
		"appId":  {strconv.FormatInt(appID, 10)},
	}
	err := c.doJSON(ctx, http.MethodDelete, c.endpoint("/apps", v), nil, &out)
	return out, err
}

func (c *Client) ReadFile(ctx context.Context, req FileRequest) (FileResult, error) {
	return c.file(ctx, "read", req)
}

func (c *Client) WriteFile(ctx context.Context, req FileRequest) (FileResult, error) {
	return c.file(ctx, "write", req)
}

func (c *Client) file(ctx context.Context, op string, req FileRequest) (FileResult, error) {
	var out FileResult
	err := c.doJSON(ctx, http.MethodPost, c.endpoint("/file/"+op, nil), req, &out)
	return out, err
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

// do sends the request and returns the response for any 2xx status. Other
// statuses are decoded into an *APIError and the body is closed.
func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-WS-Token", c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer func() { _ = resp.Body.Close() }()
	return nil, c.handleErrorResponse(resp)
}

func (c *Client) doJSON(ctx context.Context, method, url string, in, out any) error {
	var data []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		data = b
	}
	resp, err := c.do(ctx, method, url, data)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return apiErr
	}
	apiErr.Kind = errorResp.Error
	apiErr.Message = errorResp.Message
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return apiErr
}
