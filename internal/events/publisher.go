package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"approval-workflow-service/internal/models"
)

const (
	// StreamName is the JetStream stream holding approval notifications
	StreamName = "APPROVAL_NOTIFICATIONS"

	subjectPrefix = "approval.notify."
)

// SubjectFor returns the subject a notification kind is published on
func SubjectFor(kind models.NotificationKind) string {
	return subjectPrefix + string(kind)
}

// NotificationEvent is the message body published for every notification
type NotificationEvent struct {
	EventID    string              `json:"eventId"`
	OccurredAt time.Time           `json:"occurredAt"`
	Source     string              `json:"source"`
	Data       models.Notification `json:"data"`
}

// Connect opens a NATS connection that keeps reconnecting for the lifetime
// of the process
func Connect(natsURL string, logger *logrus.Logger) (*nats.Conn, error) {
	log := logger.WithField("component", "nats")

	nc, err := nats.Connect(natsURL,
		nats.Name("approval-workflow-service"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectBufSize(8*1024*1024),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("NATS disconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// Publisher sends workflow notifications to JetStream. A nil connection
// disables publishing.
type Publisher struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *logrus.Entry
}

// NewPublisher creates a notification publisher on top of conn
func NewPublisher(conn *nats.Conn, logger *logrus.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	p := &Publisher{
		conn:   conn,
		logger: logger.WithField("component", "approval-events"),
	}
	if conn == nil {
		return p, nil
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	p.js = js
	return p, nil
}

// Enabled reports whether notifications are actually published
func (p *Publisher) Enabled() bool {
	return p != nil && p.js != nil
}

// EnsureStream creates or updates the notification stream
func (p *Publisher) EnsureStream(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}

	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectPrefix + ">"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure %s stream: %w", StreamName, err)
	}
	return nil
}

// Notify publishes a notification and waits for the stream acknowledgement
func (p *Publisher) Notify(ctx context.Context, notification models.Notification) error {
	fields := logrus.Fields{
		"kind":        notification.Kind,
		"workflow_id": notification.WorkflowID,
	}

	if !p.Enabled() {
		p.logger.WithFields(fields).Debug("Notification publishing disabled, dropping notification")
		return nil
	}

	data, err := Encode(notification)
	if err != nil {
		return err
	}

	subject := SubjectFor(notification.Kind)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	p.logger.WithFields(fields).Debug("Notification published")
	return nil
}

// Encode wraps a notification into its wire form
func Encode(notification models.Notification) ([]byte, error) {
	event := NotificationEvent{
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Source:     "approval-workflow-service",
		Data:       notification,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}
	return data, nil
}

// Connected reports whether the underlying connection is up
func (p *Publisher) Connected() bool {
	return p != nil && p.conn != nil && p.conn.IsConnected()
}

// Close drains and closes the NATS connection
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.WithError(err).Warn("Failed to drain NATS connection")
		p.conn.Close()
	}
}
