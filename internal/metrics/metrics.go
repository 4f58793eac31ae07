package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crelay_dispatches_total",
			Help: "Due-request sweep outcomes",
		},
		[]string{"outcome"}, // sent|revoked_cutoff|revoked_unsubscribed|skipped_dispatched|failed
	)

	StatusCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crelay_status_callbacks_total",
			Help: "Delivery-status callbacks by reported status",
		},
		[]string{"status"},
	)

	InboundMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crelay_inbound_messages_total",
			Help: "Inbound SMS by disposition",
		},
		[]string{"disposition"}, // recorded|unknown_phone|no_care_plan|error
	)

	CallbackRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crelay_callback_retries_total",
			Help: "Status-callback retry queue activity",
		},
		[]string{"result"}, // queued|replayed|exhausted
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		DispatchesTotal,
		StatusCallbacksTotal,
		InboundMessagesTotal,
		CallbackRetriesTotal,
	)
}
