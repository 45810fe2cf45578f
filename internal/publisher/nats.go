package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"siri-poller/internal/logging"
	"siri-poller/internal/snapshot"
	"siri-poller/internal/vehicle"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

type NATSPublisher struct {
	nc      *nats.Conn
	conn    Conn
	prefix  string
	logger  *slog.Logger
	metrics PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logger *slog.Logger, m PublisherMetrics) (*NATSPublisher, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	nc, err := nats.Connect(url,
		nats.Name("siri-poller"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := newPublisher(nc, prefix, logger, m)
	p.nc = nc
	return p, nil
}

func newPublisher(conn Conn, prefix string, logger *slog.Logger, m PublisherMetrics) *NATSPublisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "siri"
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger, metrics: m}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// SnapshotMessage is the envelope published once per aggregation pass.
type SnapshotMessage struct {
	SnapshotID  string                `json:"snapshotId"`
	CompletedAt time.Time             `json:"completedAt"`
	Probed      int                   `json:"probed"`
	Failed      int                   `json:"failed"`
	Incomplete  int                   `json:"incomplete"`
	Lines       []snapshot.LineResult `json:"lines"`
}

// LineMessage carries one line's vehicles.
type LineMessage struct {
	SnapshotID  string           `json:"snapshotId"`
	CompletedAt time.Time        `json:"completedAt"`
	Line        string           `json:"line"`
	Vehicles    []vehicle.Record `json:"vehicles"`
}

// PublishSnapshot sends the whole snapshot to <prefix>.snapshot and each line
// to <prefix>.lines.<line>. It keeps going after a failed publish and
// returns the first error.
func (p *NATSPublisher) PublishSnapshot(s snapshot.Snapshot) error {
	id := s.ID.String()
	var firstErr error

	err := p.publish(p.prefix+".snapshot", SnapshotMessage{
		SnapshotID:  id,
		CompletedAt: s.CompletedAt,
		Probed:      s.Probed,
		Failed:      s.Failed,
		Incomplete:  s.Incomplete,
		Lines:       s.Lines,
	})
	if err != nil {
		firstErr = err
	}

	for _, l := range s.Lines {
		subject := fmt.Sprintf("%s.lines.%s", p.prefix, subjectToken(l.Line))
		err := p.publish(subject, LineMessage{
			SnapshotID:  id,
			CompletedAt: s.CompletedAt,
			Line:        l.Line,
			Vehicles:    l.Vehicles,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *NATSPublisher) publish(subject string, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	p.logger.Debug("nats publish", slog.String("subject", subject), slog.Int("bytes", len(b)))
	err = p.conn.Publish(subject, b)
	if p.metrics != nil {
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
