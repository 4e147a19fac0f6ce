package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/voxalabs/voxa-server/internal/protocol"
)

// Beacon periodically publishes a server status event so operators can
// watch liveness and load on the bus without scraping HTTP.
type Beacon struct {
	client   *Client
	log      *slog.Logger
	interval time.Duration
	status   func() protocol.ServerStatus
}

// StartBeacon launches the status publisher. A nil client or a
// non-positive interval yields an inert beacon.
func StartBeacon(ctx context.Context, client *Client, interval time.Duration, status func() protocol.ServerStatus, log *slog.Logger) *Beacon {
	b := &Beacon{
		client:   client,
		log:      log.With(slog.String("component", "bus-beacon")),
		interval: interval,
		status:   status,
	}
	if client == nil || interval <= 0 {
		return b
	}
	go b.run(ctx)
	return b
}

func (b *Beacon) run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.publish()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.publish()
		}
	}
}

func (b *Beacon) publish() {
	if err := b.client.PublishStatus(b.status()); err != nil {
		b.log.Warn("publish server status", slog.String("error", err.Error()))
	}
}

// PublishStatus sends one status event to the status subject.
func (c *Client) PublishStatus(st protocol.ServerStatus) error {
	if c == nil || c.conn == nil {
		return nil
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.conn.Publish(protocol.Subject(c.prefix, protocol.SubjectServerStatus), payload)
}
