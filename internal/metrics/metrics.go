// Package metrics exposes the controller's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RelayActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "heating_relay_active",
			Help: "1 while the boiler relay is driven active",
		},
	)

	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heating_decisions_total",
			Help: "Engine decisions by outcome",
		},
		[]string{"decision"},
	)

	RelayTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heating_relay_transitions_total",
			Help: "Relay switches by new state",
		},
		[]string{"state"},
	)

	RelayErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heating_relay_errors_total",
			Help: "Failed relay writes",
		},
	)

	DemandActual = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "heating_demand_actual",
			Help: "Sum of room needs at the last decision",
		},
	)

	DemandHeat = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "heating_demand_heat",
			Help: "Sum of valid room priorities at the last decision",
		},
	)

	RoomTemperature = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "heating_room_temperature_celsius",
			Help: "Mean of fresh sensor readings per room",
		},
		[]string{"room"},
	)

	RoomNeed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "heating_room_need",
			Help: "Signed temperature need per room under the active mode",
		},
		[]string{"room"},
	)

	RoomValid = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "heating_room_valid",
			Help: "1 when the room has at least one fresh reading",
		},
		[]string{"room"},
	)

	ActiveMode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "heating_active_mode",
			Help: "1 for the currently resolved mode",
		},
		[]string{"mode"},
	)

	SmartDirectives = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heating_smart_directives_total",
			Help: "Pre-heat directives inserted by the predictive pass",
		},
	)

	HeatingRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "heating_rate_celsius_per_minute",
			Help: "Heating rate used by the predictive pass",
		},
	)

	RunsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heating_runs_recorded_total",
			Help: "Closed heating intervals accepted into history",
		},
	)

	RunSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heating_run_seconds_total",
			Help: "Total seconds the relay was active in recorded runs",
		},
	)

	CycleSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heating_cycle_skips_total",
			Help: "Periodic cycles skipped because a lock was busy or a step failed",
		},
		[]string{"loop"},
	)

	SensorMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heating_sensor_messages_total",
			Help: "Sensor messages received by outcome",
		},
		[]string{"result"},
	)

	MQTTDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heating_mqtt_dropped_total",
			Help: "Messages dropped from the offline buffer",
		},
	)

	StateSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heating_state_saves_total",
			Help: "State store writes by outcome",
		},
		[]string{"result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heating_http_requests_total",
			Help: "Control surface requests",
		},
		[]string{"route", "method", "code"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "heating_http_request_duration_seconds",
			Help:    "Control surface request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"route", "method"},
	)
)

// SetActiveMode marks current as the only active mode among all.
func SetActiveMode(current string, all []string) {
	for _, m := range all {
		v := 0.0
		if m == current {
			v = 1
		}
		ActiveMode.WithLabelValues(m).Set(v)
	}
}

// SetBool sets g to 1 or 0.
func SetBool(g prometheus.Gauge, b bool) {
	if b {
		g.Set(1)
		return
	}
	g.Set(0)
}
