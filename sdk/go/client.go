package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config describes how a leaf service presents itself to the registry.
type Config struct {
	// RegistryAddr is the registrar base URL, e.g. http://localhost:8600.
	RegistryAddr string
	// ServiceID is the stable identifier the service owns. Re-registering
	// under the same id updates the existing record.
	ServiceID   string
	Name        string
	DisplayName string
	Description string
	Version     string
	// Host defaults to localhost on the registry side when empty.
	Host string
	Port int
	// HealthEndpoint defaults to /health on the registry side when empty.
	// Whatever path is declared must answer GET with 200 and a JSON body
	// carrying a status field; the registry's prober polls it.
	HealthEndpoint string
	BasePath       string
	Dependencies   []string

	// ReregisterInterval re-announces the service periodically so a wiped
	// registry repopulates itself. Zero disables the loop.
	ReregisterInterval time.Duration
	// Timeout per registry call. Defaults to 5s.
	Timeout time.Duration
}

// Client registers a service with the registry at startup and deregisters it
// on shutdown.
type Client struct {
	config     Config
	httpClient *http.Client
	stop       chan struct{}
}

type registerPayload struct {
	ServiceID      string   `json:"service_id"`
	Name           string   `json:"name"`
	DisplayName    string   `json:"display_name,omitempty"`
	Description    string   `json:"description,omitempty"`
	Version        string   `json:"version,omitempty"`
	Host           string   `json:"host,omitempty"`
	Port           int      `json:"port"`
	BasePath       string   `json:"base_path,omitempty"`
	HealthEndpoint string   `json:"health_endpoint,omitempty"`
	Dependencies   []string `json:"dependencies,omitempty"`
}

// NewClient validates the config and builds a client.
func NewClient(config Config) (*Client, error) {
	if config.RegistryAddr == "" {
		return nil, fmt.Errorf("registry address is required")
	}
	if config.ServiceID == "" {
		return nil, fmt.Errorf("service id is required")
	}
	if config.Name == "" {
		return nil, fmt.Errorf("service name is required")
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid service port: %d", config.Port)
	}

	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		stop:       make(chan struct{}),
	}, nil
}

// Register announces the service. Safe to call repeatedly; the registry
// treats it as an upsert.
func (c *Client) Register(ctx context.Context) error {
	payload := registerPayload{
		ServiceID:      c.config.ServiceID,
		Name:           c.config.Name,
		DisplayName:    c.config.DisplayName,
		Description:    c.config.Description,
		Version:        c.config.Version,
		Host:           c.config.Host,
		Port:           c.config.Port,
		BasePath:       c.config.BasePath,
		HealthEndpoint: c.config.HealthEndpoint,
		Dependencies:   c.config.Dependencies,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding registration payload: %w", err)
	}

	url := c.config.RegistryAddr + "/api/v1/services"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registering with %s: %w", c.config.RegistryAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("registration rejected with status %d: %s", resp.StatusCode, detail)
	}

	return nil
}

// Deregister removes the service's record. A 404 is treated as success: the
// record is gone either way.
func (c *Client) Deregister(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/v1/services/%s", c.config.RegistryAddr, c.config.ServiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deregistering from %s: %w", c.config.RegistryAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("deregistration rejected with status %d: %s", resp.StatusCode, detail)
	}

	return nil
}

// StartReregisterLoop re-announces the service on the configured interval
// until Stop is called. No-op when the interval is zero.
func (c *Client) StartReregisterLoop(ctx context.Context) {
	if c.config.ReregisterInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(c.config.ReregisterInterval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = c.Register(ctx)
			}
		}
	}()
}

// Stop terminates the re-register loop.
func (c *Client) Stop() {
	close(c.stop)
}
