package notifs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var notificationsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_notifications_persisted",
	Help: "Number of notification records persisted",
}, []string{"type"})

var notificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_notifications_dropped",
	Help: "Notifications dropped by the sink's own limits",
}, []string{"reason"})
