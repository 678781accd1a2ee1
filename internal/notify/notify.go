// Package notify publishes newly-indexed items to a NATS subject so
// downstream consumers can react without polling the API, mirroring the
// producer-wrapper shape the rest of the corpus uses for its message bus
// client (constructor takes connection settings and a logger, exposes
// Publish/Close).
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bgpkit/broker/pkg/broker"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config configures the Notifier. A zero-value URL means "no NATS
// configured" and New returns a no-op Notifier.
type Config struct {
	URL         string
	User        string
	Password    string
	RootSubject string // default "public.broker"
}

func (c Config) withDefaults() Config {
	if c.RootSubject == "" {
		c.RootSubject = "public.broker"
	}
	return c
}

// Notifier publishes BrokerItem events. A nil conn means Publish is a no-op,
// which is how an unconfigured deployment runs without a NATS server.
type Notifier struct {
	conn   *nats.Conn
	cfg    Config
	logger *zap.Logger
}

// New connects to the configured NATS server, or returns a no-op Notifier if
// cfg.URL is empty.
func New(cfg Config, logger *zap.Logger) (*Notifier, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.URL == "" {
		return &Notifier{cfg: cfg, logger: logger}, nil
	}

	opts := []nats.Option{nats.Name("bgpkit-broker")}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.URL, err)
	}

	return &Notifier{conn: conn, cfg: cfg, logger: logger}, nil
}

// subject builds "{root}.{project}.{collector}.{data_type}" per §6. project
// is supplied by the caller (the Updater knows it from the Collector it
// crawled); BrokerItem itself carries no project field.
func (n *Notifier) subject(project broker.Project, item broker.BrokerItem) string {
	return fmt.Sprintf("%s.%s.%s.%s", n.cfg.RootSubject, project, item.CollectorID, item.DataType)
}

// Publish is fire-and-forget: a failed publish is logged, never returned to
// the caller, and never blocks the Updater cycle. Calling Publish on an
// unconfigured Notifier is a no-op.
func (n *Notifier) Publish(ctx context.Context, project broker.Project, item broker.BrokerItem) {
	if n.conn == nil {
		return
	}

	payload, err := json.Marshal(item)
	if err != nil {
		n.logger.Error("notify: marshal item failed",
			zap.String("collector", item.CollectorID), zap.Error(err))
		return
	}

	subject := n.subject(project, item)
	if err := n.conn.Publish(subject, payload); err != nil {
		n.logger.Warn("notify: publish failed",
			zap.String("subject", subject), zap.Error(err))
		return
	}
}

// Close flushes and closes the underlying connection, if any.
func (n *Notifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}
