// Package bus connects the bridge to NATS and answers host requests published
// on a subject.
package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/DevGitPit/supertonic/internal/config"
)

// Handler turns a request body into a reply body.
type Handler func(ctx context.Context, body []byte) []byte

// Client wraps a NATS connection and the subscriptions serving requests.
type Client struct {
	conn *nats.Conn
	subs []*nats.Subscription
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("supertonic-bridge"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))
	return &Client{conn: conn, log: log}, nil
}

// Serve answers every request on subject with handler. Members of the same
// queue group share the load.
func (c *Client) Serve(ctx context.Context, subject, queue string, handler Handler) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		reply := handler(ctx, msg.Data)
		if msg.Reply == "" {
			c.log.Debug("dropping reply for fire-and-forget request", slog.String("subject", subject))
			return
		}
		if err := msg.Respond(reply); err != nil {
			c.log.Warn("failed to respond", slog.String("subject", subject), slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.log.Info("serving host requests", slog.String("subject", subject), slog.String("queue", queue))
	return nil
}

// Request sends body on subject and waits for the reply.
func (c *Client) Request(ctx context.Context, subject string, body []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, subject, body)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	for _, sub := range c.subs {
		_ = sub.Drain()
	}
	_ = c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}
