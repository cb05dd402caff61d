package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/dkrasnov/float-feed/internal/model"
)

// Config holds publisher settings.
type Config struct {
	URL          string        `yaml:"url"`
	StreamName   string        `yaml:"stream"`
	SubjectBase  string        `yaml:"subject_base"`
	ConnectWait  time.Duration `yaml:"connect_wait"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:          nats.DefaultURL,
		StreamName:   "FOUND_ITEMS",
		SubjectBase:  "found_items",
		ConnectWait:  2 * time.Second,
		DrainTimeout: 5 * time.Second,
	}
}

// Publisher writes FoundItem messages to JetStream.
type Publisher struct {
	cfg    Config
	logger *slog.Logger
	conn   *nats.Conn
	js     jetstream.JetStream
}

// Connect dials NATS and ensures the stream exists.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("float-feed"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ConnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	p := &Publisher{cfg: cfg, logger: logger, conn: conn, js: js}
	if err := p.ensureStream(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// ensureStream creates or updates the stream holding match messages.
func (p *Publisher) ensureStream(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      p.cfg.StreamName,
		Subjects:  []string{p.cfg.SubjectBase + ".>"},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", p.cfg.StreamName, err)
	}
	return nil
}

// PublishFound publishes one match with an acked JetStream publish.
func (p *Publisher) PublishFound(ctx context.Context, item model.FoundItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal found item: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", p.cfg.SubjectBase, item.Platform)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	p.logger.Debug("found item published",
		"subject", subject,
		"subscription_id", item.SubscriptionID,
	)
	return nil
}

// Close drains the connection so queued publishes flush.
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("nats drain failed, closing", "error", err)
		p.conn.Close()
		return
	}

	deadline := time.Now().Add(p.cfg.DrainTimeout)
	for !p.conn.IsClosed() {
		if time.Now().After(deadline) {
			p.logger.Warn("nats drain timed out, closing")
			p.conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
