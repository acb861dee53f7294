package etcd

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const defaultPrefix = "/revcore/services/"

// Config holds the etcd connection settings.
type Config struct {
	Endpoints   []string
	Username    string
	Password    string
	DialTimeout time.Duration
	// Prefix under which service records are stored. Defaults to
	// /revcore/services/.
	Prefix string
}

// Client wraps the etcd client with the registry's key layout.
type Client struct {
	client *clientv3.Client
	prefix string
}

// NewClient connects to etcd and verifies the connection.
func NewClient(cfg Config) (*Client, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to etcd: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if _, err := client.Status(ctx, cfg.Endpoints[0]); err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd connection test failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &Client{client: client, prefix: prefix}, nil
}

// Close closes the underlying etcd connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// RecordKey returns the full storage key for a service id.
func (c *Client) RecordKey(serviceID string) string {
	return c.prefix + serviceID
}

// RecordPrefix returns the key prefix under which all records live.
func (c *Client) RecordPrefix() string {
	return c.prefix
}
