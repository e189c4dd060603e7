package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"telemetry-gateway/internal/config"
)

// ClickHouseClient is a read-only handle on the usage ledger. The gateway
// never writes usage; the downstream consumer does after processing.
type ClickHouseClient struct {
	conn         driver.Conn
	queryTimeout time.Duration
	logger       *zap.Logger
}

func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse

	addr, secure, err := clickhouseAddr(chConfig.URL)
	if err != nil {
		return nil, err
	}

	opts := &ch.Options{
		Addr: []string{addr},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		Settings: ch.Settings{
			"max_execution_time": int(chConfig.QueryTimeout.Seconds()) + 1,
		},
		DialTimeout:      5 * time.Second,
		ReadTimeout:      chConfig.QueryTimeout,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenRoundRobin,
	}

	if secure || cfg.IsProduction() {
		host, _, _ := net.SplitHostPort(addr)
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
		if chConfig.CAFile != "" {
			pool, err := loadCAPool(chConfig.CAFile)
			if err != nil {
				return nil, err
			}
			tlsConfig.RootCAs = pool
		}
		opts.TLS = tlsConfig
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("ClickHouse client initialized",
		zap.String("addr", addr),
		zap.String("database", chConfig.Database),
		zap.Bool("tls_enabled", opts.TLS != nil),
	)

	return &ClickHouseClient{conn: conn, queryTimeout: chConfig.QueryTimeout, logger: logger}, nil
}

// QueryRow runs a single-row query bounded by the configured query timeout.
// The returned cancel must be called once the row has been scanned.
func (c *ClickHouseClient) QueryRow(ctx context.Context, query string, args ...interface{}) (driver.Row, context.CancelFunc) {
	if c.queryTimeout <= 0 {
		return c.conn.QueryRow(ctx, query, args...), func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	return c.conn.QueryRow(ctx, query, args...), cancel
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	if err := c.conn.Close(); err != nil {
		c.logger.Error("Failed to close ClickHouse connection", zap.Error(err))
		return err
	}
	return nil
}

// clickhouseAddr turns CLICKHOUSE_URL into a native-protocol host:port.
// Secure schemes default to 9440, everything else to 9000.
func clickhouseAddr(raw string) (string, bool, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false, fmt.Errorf("invalid ClickHouse URL %q", raw)
	}
	secure := u.Scheme == "https" || u.Scheme == "clickhouses" || u.Query().Get("secure") == "true"
	if u.Port() != "" {
		return u.Host, secure, nil
	}
	port := "9000"
	if secure {
		port = "9440"
	}
	return net.JoinHostPort(u.Hostname(), port), secure, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
