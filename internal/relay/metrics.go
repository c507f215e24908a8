package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "vrelay"
	relaySubsystem   = "relay"
)

// Metrics holds the Prometheus collectors a Relay reports to.
type Metrics struct {
	// ForwardsTotal counts forwarded payloads by relay and outcome ("ok", "error").
	ForwardsTotal *prometheus.CounterVec

	// VersionChangesTotal counts applied swaps by relay and kind.
	VersionChangesTotal *prometheus.CounterVec

	// SizeRegistrationsTotal counts accepted size registrations by relay.
	SizeRegistrationsTotal *prometheus.CounterVec

	// CurrentVersion is the version label of each relay's current backend.
	CurrentVersion *prometheus.GaugeVec
}

// NewMetrics creates relay collectors and registers them with reg.
// A nil reg creates unregistered collectors, which is useful in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ForwardsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "forwards_total",
				Help:      "Total payloads forwarded to the current backend by outcome",
			},
			[]string{"relay", "outcome"},
		),
		VersionChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "version_changes_total",
				Help:      "Total backend swaps applied by kind",
			},
			[]string{"relay", "kind"},
		),
		SizeRegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "size_registrations_total",
				Help:      "Total expected-size registrations accepted",
			},
			[]string{"relay"},
		),
		CurrentVersion: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "current_version",
				Help:      "Version label of the current backend",
			},
			[]string{"relay"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.ForwardsTotal,
			m.VersionChangesTotal,
			m.SizeRegistrationsTotal,
			m.CurrentVersion,
		)
	}
	return m
}
