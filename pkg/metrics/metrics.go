package metrics

import "github.com/prometheus/client_golang/prometheus"

var SubmissionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lumebot_submissions_total",
		Help: "transaction submissions by operation class and outcome",
	}, []string{"class", "outcome"})

var SubmissionRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lumebot_submission_retries_total",
		Help: "transient-error retries by operation class",
	}, []string{"class"})

var OpenOrders = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "lumebot_open_orders",
		Help: "locally tracked non-terminal orders",
	}, []string{"account"})

var ReconcileCorrectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lumebot_reconcile_corrections_total",
		Help: "order-state corrections made by the reconcile sweep",
	}, []string{"account"})

var PendingSequenceSlots = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "lumebot_pending_sequence_slots",
		Help: "outstanding sequence slots per account",
	}, []string{"account"})

func init() {
	prometheus.MustRegister(
		SubmissionsTotal,
		SubmissionRetriesTotal,
		OpenOrders,
		ReconcileCorrectionsTotal,
		PendingSequenceSlots,
	)
}
