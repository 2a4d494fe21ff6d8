// Package transport connects the publisher to a pub/sub system.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures a NATS connection.
type NATSConfig struct {
	URL           string
	Username      string
	Password      string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NATS publishes over a core NATS connection. The payload ceiling is the
// max_payload the server announced at connect time.
type NATS struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// DialNATS connects to the server in cfg.
func DialNATS(cfg NATSConfig, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(cfg.URL, natsOptions(cfg, logger)...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	logger.Info("connected to nats", "url", conn.ConnectedUrlRedacted(), "max_payload", conn.MaxPayload())
	return &NATS{conn: conn, logger: logger}, nil
}

func natsOptions(cfg NATSConfig, logger *slog.Logger) []nats.Option {
	name := cfg.Name
	if name == "" {
		name = "rawlogs"
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrlRedacted())
		}),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	return opts
}

// Publish hands data to the connection's outbound buffer.
func (n *NATS) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.conn.Publish(subject, data)
}

// MaxPayload implements publish.Transport.
func (n *NATS) MaxPayload() int64 { return n.conn.MaxPayload() }

// Flush waits until the server has processed everything published so far.
func (n *NATS) Flush(ctx context.Context) error {
	return n.conn.FlushWithContext(ctx)
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}
