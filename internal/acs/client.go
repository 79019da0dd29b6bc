package acs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cpe-server/cpe-server-pro/internal/models"
)

// Client is an HTTP implementation of Gateway against the ACS management API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new ACS gateway client
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// do performs an HTTP request and decodes the JSON response into out
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrAuthentication
	case resp.StatusCode >= 400:
		var remote struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&remote); err == nil && remote.Error != "" {
			msg = remote.Error
		}
		return &RemoteError{Code: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// classifyTransportError maps transport failures onto the gateway error classes
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrConnection, err)
}

func devicePath(device *models.Device, suffix string) string {
	return "/api/v1/devices/" + url.PathEscape(device.SerialNumber) + suffix
}

// Identify queries the identity the ACS holds for a device
func (c *Client) Identify(ctx context.Context, device *models.Device) (*Identity, error) {
	var identity Identity
	if err := c.do(ctx, http.MethodGet, devicePath(device, "/identity"), nil, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

// Provision pushes a configuration to a device
func (c *Client) Provision(ctx context.Context, device *models.Device, params models.Variables) (*OperationResult, error) {
	req := map[string]interface{}{
		"parameters": params,
	}

	var result OperationResult
	if err := c.do(ctx, http.MethodPost, devicePath(device, "/provision"), req, &result); err != nil {
		return nil, err
	}

	log.Debug().
		Str("serial", device.SerialNumber).
		Msg("Provision request accepted by ACS")

	return &result, nil
}

// Reboot requests a device reboot
func (c *Client) Reboot(ctx context.Context, device *models.Device) (*OperationResult, error) {
	var result OperationResult
	if err := c.do(ctx, http.MethodPost, devicePath(device, "/reboot"), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FactoryReset requests a factory reset
func (c *Client) FactoryReset(ctx context.Context, device *models.Device) (*OperationResult, error) {
	var result OperationResult
	if err := c.do(ctx, http.MethodPost, devicePath(device, "/factory-reset"), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpgradeFirmware requests a firmware download and install
func (c *Client) UpgradeFirmware(ctx context.Context, device *models.Device, version, firmwareURL string) (*OperationResult, error) {
	req := map[string]interface{}{
		"version": version,
		"url":     firmwareURL,
	}

	var result OperationResult
	if err := c.do(ctx, http.MethodPost, devicePath(device, "/firmware"), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// WriteParameter writes a single named parameter on a device
func (c *Client) WriteParameter(ctx context.Context, device *models.Device, name, value string) (*OperationResult, error) {
	req := map[string]interface{}{
		"name":  name,
		"value": value,
	}

	var result OperationResult
	if err := c.do(ctx, http.MethodPost, devicePath(device, "/parameters"), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetStatus queries the reachability of a device
func (c *Client) GetStatus(ctx context.Context, device *models.Device) (*StatusInfo, error) {
	var status StatusInfo
	if err := c.do(ctx, http.MethodGet, devicePath(device, "/status"), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetMetrics queries device counters
func (c *Client) GetMetrics(ctx context.Context, device *models.Device) (*Metrics, error) {
	var metrics Metrics
	if err := c.do(ctx, http.MethodGet, devicePath(device, "/metrics"), nil, &metrics); err != nil {
		return nil, err
	}
	return &metrics, nil
}

// GetConfig fetches the ACS server configuration
func (c *Client) GetConfig(ctx context.Context) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := c.do(ctx, http.MethodGet, "/api/v1/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpdateConfig updates the ACS server configuration
func (c *Client) UpdateConfig(ctx context.Context, cfg *ServerConfig) error {
	return c.do(ctx, http.MethodPut, "/api/v1/config", cfg, nil)
}

// GetStats fetches aggregate ACS counters
func (c *Client) GetStats(ctx context.Context) (*ServerStats, error) {
	var stats ServerStats
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetSupportedModels fetches the device models the ACS can manage
func (c *Client) GetSupportedModels(ctx context.Context) ([]SupportedModel, error) {
	var supported []SupportedModel
	if err := c.do(ctx, http.MethodGet, "/api/v1/models", nil, &supported); err != nil {
		return nil, err
	}
	return supported, nil
}
