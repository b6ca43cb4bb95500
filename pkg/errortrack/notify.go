package errortrack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// AlertKind says why an alert was raised.
type AlertKind string

const (
	AlertNewCritical AlertKind = "new_critical"
	AlertSpike       AlertKind = "spike"
	AlertReopened    AlertKind = "reopened"
)

// Alert is delivered to every Notifier.
type Alert struct {
	Kind     AlertKind     `json:"kind"`
	Group    Group         `json:"group"`
	Count    int           `json:"count"`
	Window   time.Duration `json:"window,omitempty"`
	RaisedAt time.Time     `json:"raised_at"`
}

// Notifier delivers alerts.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// LogNotifier writes alerts to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (LogNotifier) Name() string { return "log" }

// Notify implements Notifier.
func (n LogNotifier) Notify(ctx context.Context, a Alert) error {
	l := n.Logger
	if l == nil {
		l = slog.Default()
	}
	l.LogAttrs(ctx, slog.LevelError, "errortrack: "+string(a.Kind),
		slog.String("group_id", a.Group.ID),
		slog.String("error_type", a.Group.ErrorType),
		slog.String("severity", string(a.Group.Severity)),
		slog.String("category", string(a.Group.Category)),
		slog.Int("count", a.Count),
		slog.String("message", a.Group.Message),
	)
	return nil
}

// MsgPublisher is the subset of *nats.Conn the NATS notifier needs.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// DefaultAlertSubject is the subject prefix alerts are published under.
const DefaultAlertSubject = "analytics.errors.alerts"

// NATSNotifier publishes alerts as JSON to "<Subject>.<kind>".
type NATSNotifier struct {
	Conn    MsgPublisher
	Subject string
}

// DialNATS connects to url and returns a notifier that owns the
// connection. Close it with Close.
func DialNATS(url string, opts ...nats.Option) (*NATSNotifier, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSNotifier{Conn: nc}, nil
}

func (*NATSNotifier) Name() string { return "nats" }

// Notify implements Notifier.
func (n *NATSNotifier) Notify(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	subject := n.Subject
	if subject == "" {
		subject = DefaultAlertSubject
	}
	msg := nats.NewMsg(subject + "." + string(a.Kind))
	msg.Data = data
	msg.Header.Set("Alert-Kind", string(a.Kind))
	msg.Header.Set("Severity", string(a.Group.Severity))
	msg.Header.Set(nats.MsgIdHdr, a.Group.ID+":"+a.RaisedAt.Format(time.RFC3339Nano))
	if err := n.Conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Close drains the connection when the notifier owns one.
func (n *NATSNotifier) Close() error {
	if nc, ok := n.Conn.(*nats.Conn); ok {
		return nc.Drain()
	}
	return nil
}
