package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Client is a thin wrapper over a NATS connection used for fire-and-forget
// event publishing.
type Client struct {
	conn *nats.Conn
}

// Connect dials the NATS server. The name shows up in server monitoring.
func Connect(url, name string) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Publish sends data on subject. Respects context cancellation before the
// send; delivery itself is async and best-effort.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if c.conn != nil {
		_ = c.conn.Drain()
	}
}
