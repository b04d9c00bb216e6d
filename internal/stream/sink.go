package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix roots the NATS subjects events are mirrored to.
const DefaultSubjectPrefix = "minutes"

// EventSink receives a copy of every session event.
type EventSink interface {
	Publish(ctx context.Context, sessionID string, ev Event) error
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Publish(context.Context, string, Event) error { return nil }

// NATSSink mirrors events to NATS subjects of the form
//
//	<prefix>.sessions.<session_id>.<stage>
//
// so a subscriber can follow one session with <prefix>.sessions.<id>.*
type NATSSink struct {
	nc     *nats.Conn
	prefix string
	owned  bool
}

var _ EventSink = (*NATSSink)(nil)

// NewNATSSink publishes through an existing connection. The caller keeps
// ownership of nc.
func NewNATSSink(nc *nats.Conn, prefix string) *NATSSink {
	return &NATSSink{nc: nc, prefix: subjectPrefix(prefix)}
}

// ConnectNATSSink dials url and returns a sink that owns the connection.
func ConnectNATSSink(url, prefix string, logger *zap.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("minutesd"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATSSink{nc: nc, prefix: subjectPrefix(prefix), owned: true}, nil
}

// Subject returns the subject an event of stage is published on.
func (s *NATSSink) Subject(sessionID, stage string) string {
	return fmt.Sprintf("%s.sessions.%s.%s", s.prefix, sessionID, stage)
}

func (s *NATSSink) Publish(_ context.Context, sessionID string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.nc.Publish(s.Subject(sessionID, ev.Stage), data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Stage, err)
	}
	return nil
}

// Close drains the connection when the sink owns it.
func (s *NATSSink) Close() error {
	if !s.owned {
		return nil
	}
	return s.nc.Drain()
}

func subjectPrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), ".")
	if p == "" {
		return DefaultSubjectPrefix
	}
	return p
}
