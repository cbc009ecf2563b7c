package listeners

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/INLOpen/nexuschat/hooks"
)

// Collectors are registered once so NewDeliveryMetricsListener is idempotent.
var (
	deliveryMetricsOnce sync.Once
	messagesSent        *prometheus.CounterVec
	messagesDelivered   *prometheus.CounterVec
	recipientsDeferred  prometheus.Counter
)

func initDeliveryMetrics() {
	deliveryMetricsOnce.Do(func() {
		messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nexuschat_messages_sent_total",
			Help: "Number of messages accepted for routing",
		}, []string{"kind"})
		messagesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nexuschat_messages_delivered_total",
			Help: "Number of per-recipient message deliveries to listeners",
		}, []string{"mode"})
		recipientsDeferred = promauto.NewCounter(prometheus.CounterOpts{
			Name: "nexuschat_recipients_deferred_total",
			Help: "Number of recipients that had no listener when a message was sent",
		})
	})
}

// DeliveryMetricsListener feeds prometheus counters from message events.
type DeliveryMetricsListener struct {
	logger *slog.Logger

	sent      *prometheus.CounterVec
	delivered *prometheus.CounterVec
	deferred  prometheus.Counter
}

// NewDeliveryMetricsListener creates a new listener.
func NewDeliveryMetricsListener(logger *slog.Logger) *DeliveryMetricsListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	initDeliveryMetrics()
	return &DeliveryMetricsListener{
		logger:    logger.With("component", "DeliveryMetricsListener"),
		sent:      messagesSent,
		delivered: messagesDelivered,
		deferred:  recipientsDeferred,
	}
}

// OnEvent handles PostMessageSend and PostMessageDeliver events.
func (l *DeliveryMetricsListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	switch payload := event.Payload().(type) {
	case hooks.PostMessageSendPayload:
		l.sent.WithLabelValues(payload.Kind).Inc()
		l.deferred.Add(float64(payload.Deferred))
		l.logger.Debug("Message routed",
			"message_id", payload.MessageID,
			"kind", payload.Kind,
			"recipients", payload.Recipients,
			"deferred", payload.Deferred,
		)
	case hooks.MessageDeliverPayload:
		mode := "immediate"
		if payload.Deferred {
			mode = "deferred"
		}
		l.delivered.WithLabelValues(mode).Inc()
	}
	return nil
}

// Priority defines the execution order. Lower numbers run first.
func (l *DeliveryMetricsListener) Priority() int { return 100 }

// IsAsync indicates this listener can run in the background.
func (l *DeliveryMetricsListener) IsAsync() bool { return true }
