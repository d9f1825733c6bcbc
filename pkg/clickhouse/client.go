package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
)

// Client manages the ClickHouse connection pool.
type Client struct {
	db       *sql.DB
	database string
}

// NewClient opens a pool and pings it, retrying per WithConnectRetry.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &ClientConfig{
		Port:            9000,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ConnectAttempts: 1,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}

	db := ch.OpenDB(buildOptions(*cfg))
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	var err error
	for attempt := 1; attempt <= max(cfg.ConnectAttempts, 1); attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout+time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			return &Client{db: db, database: cfg.Database}, nil
		}
		if attempt < cfg.ConnectAttempts {
			time.Sleep(cfg.ConnectDelay)
		}
	}
	_ = db.Close()
	return nil, fmt.Errorf("clickhouse ping: %w", err)
}

// buildOptions maps the client config onto driver options and per-query settings.
func buildOptions(cfg ClientConfig) *ch.Options {
	opt := &ch.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: ch.Auth{
			Username: cfg.User,
			Password: cfg.Password,
		},
		Protocol:        ch.Native,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		Settings:        ch.Settings{},
	}
	if cfg.UseHTTP {
		opt.Protocol = ch.HTTP
	}
	if cfg.MaxExecTime > 0 {
		opt.Settings["max_execution_time"] = int(cfg.MaxExecTime.Seconds())
	}
	if cfg.AsyncInsert {
		opt.Settings["async_insert"] = 1
		if cfg.WaitForAsync {
			opt.Settings["wait_for_async_insert"] = 1
		} else {
			opt.Settings["wait_for_async_insert"] = 0
		}
	}
	return opt
}

// DB returns *sql.DB for direct use. Table names must be qualified with Database.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Database is the engine database the schema lives in.
func (c *Client) Database() string {
	return c.database
}

func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// InitSchema runs idempotent DDL in order; the first failure stops the bootstrap.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
