package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	snapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "portalchat",
		Name:      "thread_snapshots_total",
		Help:      "Thread snapshots reconciled.",
	})
	subscriptionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "portalchat",
		Name:      "subscription_errors_total",
		Help:      "Errors reported by thread subscriptions.",
	})
	decodeWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "portalchat",
		Name:      "message_decode_warnings_total",
		Help:      "Fields default-filled while decoding messages.",
	})
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portalchat",
		Name:      "mention_notifications_total",
		Help:      "Mention notifications raised, by delivery channel.",
	}, []string{"channel"})
	presenceWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portalchat",
		Name:      "presence_writes_total",
		Help:      "Presence writes by status and result.",
	}, []string{"status", "result"})
	activeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "portalchat",
		Name:      "active_thread_subscriptions",
		Help:      "Thread subscriptions currently held by sessions.",
	})
)
