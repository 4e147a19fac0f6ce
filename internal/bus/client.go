package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voxalabs/voxa-server/internal/config"
	"github.com/voxalabs/voxa-server/internal/protocol"
)

// Client wraps the NATS connection with minimal helpers. Publication
// is fire-and-forget: synthesis never blocks on the bus.
type Client struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("voxa-server"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
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

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{
		conn:   conn,
		prefix: cfg.SubjectPrefix,
		log:    log,
	}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// PublishSynthesis announces a finished request. Completed requests go
// to the completed subject, everything else to failed. A nil client
// drops the event.
func (c *Client) PublishSynthesis(evt protocol.SynthesisEvent) {
	if c == nil || c.conn == nil {
		return
	}
	suffix := protocol.SubjectRequestCompleted
	if evt.Error != "" {
		suffix = protocol.SubjectRequestFailed
	}
	subject := protocol.Subject(c.prefix, suffix)

	payload, err := json.Marshal(evt)
	if err != nil {
		c.log.Warn("marshal synthesis event", slog.String("error", err.Error()))
		return
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		c.log.Warn("publish synthesis event",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
