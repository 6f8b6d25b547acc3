// Package postgres owns the relational store connection. The engine keeps a
// single pgx pool; stores that want database/sql semantics get a *sql.DB
// view of the same pool.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Client bundles the pgx pool with its database/sql view.
type Client struct {
	Pool *pgxpool.Pool
	DB   *sql.DB
}

// Connect opens and pings the pool.
func Connect(ctx context.Context, url string) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("postgres URL is required")
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return &Client{
		Pool: pool,
		DB:   stdlib.OpenDBFromPool(pool),
	}, nil
}

// Health checks the connection.
func (c *Client) Health(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}

// Close releases the pool. The *sql.DB view is closed first so no handles
// outlive the pool.
func (c *Client) Close() {
	_ = c.DB.Close()
	c.Pool.Close()
}
