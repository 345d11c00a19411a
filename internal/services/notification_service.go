package services

import (
	"encoding/json"
	"time"

	"escrow-backend/internal/config"
	"escrow-backend/internal/metrics"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NotificationService publishes settlement events over NATS. Delivery is
// fire-and-forget: publish failures are logged and counted, never returned,
// so a broker outage cannot block or fail a settlement.
type NotificationService struct {
	conn   *nats.Conn
	prefix string
	log    *logrus.Entry
}

// NewNotificationService connects to NATS. A disabled or unreachable broker
// yields a service that drops events with a log line, keeping settlement
// independent of messaging.
func NewNotificationService(cfg *config.NATSConfig) *NotificationService {
	svc := &NotificationService{
		prefix: cfg.SubjectPrefix,
		log:    logrus.WithField("component", "notifications"),
	}
	if svc.prefix == "" {
		svc.prefix = "escrow.events"
	}
	if !cfg.Enabled {
		svc.log.Info("notifications disabled")
		return svc
	}

	connectTimeout := time.Duration(cfg.Timeout) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logrus.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logrus.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		svc.log.WithError(err).Warn("nats unreachable, notifications will be dropped")
		return svc
	}
	svc.conn = conn
	svc.log.WithField("url", cfg.URL).Info("nats connected")
	return svc
}

type notificationEnvelope struct {
	Event     string                 `json:"event"`
	Recipient string                 `json:"recipient"`
	Payload   map[string]interface{} `json:"payload"`
	EmittedAt time.Time              `json:"emitted_at"`
}

// Notify publishes one event. Never blocks settlement: all failure modes
// end in a log line.
func (n *NotificationService) Notify(event string, recipient string, payload map[string]interface{}) {
	if n.conn == nil {
		metrics.NotificationsTotal.WithLabelValues(event, "dropped").Inc()
		return
	}

	data, err := json.Marshal(notificationEnvelope{
		Event:     event,
		Recipient: recipient,
		Payload:   payload,
		EmittedAt: time.Now().UTC(),
	})
	if err != nil {
		n.log.WithField("event", event).WithError(err).Error("failed to encode notification")
		metrics.NotificationsTotal.WithLabelValues(event, "failure").Inc()
		return
	}

	subject := n.prefix + "." + event
	if err := n.conn.Publish(subject, data); err != nil {
		n.log.WithFields(logrus.Fields{
			"event":   event,
			"subject": subject,
		}).WithError(err).Warn("failed to publish notification")
		metrics.NotificationsTotal.WithLabelValues(event, "failure").Inc()
		return
	}
	metrics.NotificationsTotal.WithLabelValues(event, "success").Inc()
}

// Close drains the connection.
func (n *NotificationService) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}
