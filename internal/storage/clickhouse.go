// Package storage provides the ClickHouse audit sink for incident timelines.
package storage

import (
	"context"
	"crypto/tls"
	"time"

	"storefront-triage/internal/config"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Client wraps the ClickHouse connection.
type Client struct {
	conn driver.Conn
	cfg  config.ClickHouseConfig
}

// NewClient connects to ClickHouse and verifies the connection.
func NewClient(cfg config.ClickHouseConfig) (*Client, error) {
	opts := &clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionZSTD,
		},
		DialTimeout:     cfg.DialTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	if cfg.TLSEnabled {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, NewStorageError("Open", "", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, NewStorageError("Ping", "", err)
	}

	return &Client{conn: conn, cfg: cfg}, nil
}

// Conn returns the underlying connection.
func (c *Client) Conn() driver.Conn {
	return c.conn
}

// Ping checks if the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Exec executes a statement without returning rows.
func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	return c.conn.Exec(ctx, query, args...)
}

// PrepareBatch prepares a batch insert.
func (c *Client) PrepareBatch(ctx context.Context, query string) (driver.Batch, error) {
	return c.conn.PrepareBatch(ctx, query)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// EnsureSchema creates the audit table if it does not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS incident_timeline (
			incident_id   UUID,
			incident_code LowCardinality(String),
			ts            DateTime64(3, 'UTC'),
			action        LowCardinality(String),
			actor         String,
			details       String
		)
		ENGINE = MergeTree
		PARTITION BY toYYYYMM(ts)
		ORDER BY (incident_code, ts)`

	if err := c.conn.Exec(ctx, ddl); err != nil {
		return NewStorageError("EnsureSchema", "incident_timeline", err)
	}
	return nil
}
