// Package metrics records rotation metrics in a Prometheus registry. A rotation
// runs as a short-lived process, so the registry is pushed to a Pushgateway
// when the command finishes instead of being scraped.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Attempt outcomes
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeFailure = "failure"
)

// Recorder records rotation metrics. A nil *Recorder discards everything.
type Recorder struct {
	registry *prometheus.Registry

	phaseTotal       *prometheus.CounterVec
	phaseDuration    *prometheus.HistogramVec
	provisionAttempt *prometheus.CounterVec
	testAttempt      *prometheus.CounterVec
	bootstrapTotal   prometheus.Counter
	masterRotation   prometheus.Gauge
}

// NewRecorder registers the rotation metrics in a fresh registry
func NewRecorder() *Recorder {
	return NewRecorderWithRegistry(prometheus.NewRegistry())
}

// NewRecorderWithRegistry registers the rotation metrics in reg
func NewRecorderWithRegistry(reg *prometheus.Registry) *Recorder {
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		phaseTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbrotate_phase_total",
				Help: "Total number of rotation phases handled",
			},
			[]string{"phase", "strategy", "status"},
		),
		phaseDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbrotate_phase_duration_seconds",
				Help:    "Duration of rotation phases in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120},
			},
			[]string{"phase", "strategy"},
		),
		provisionAttempt: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbrotate_provision_attempts_total",
				Help: "Database provisioning attempts by outcome",
			},
			[]string{"outcome"},
		),
		testAttempt: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbrotate_connection_test_attempts_total",
				Help: "Connection test attempts by outcome",
			},
			[]string{"outcome"},
		),
		bootstrapTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dbrotate_bootstrap_total",
			Help: "Rotations that granted default privileges because the source user did not exist",
		}),
		masterRotation: f.NewGauge(prometheus.GaugeOpts{
			Name: "dbrotate_master_rotation_in_progress",
			Help: "1 when a pending master credential was seen during provisioning",
		}),
	}
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RecordPhase records the outcome and duration of one phase
func (r *Recorder) RecordPhase(phase, strategy string, err error, duration time.Duration) {
	if r == nil {
		return
	}
	status := OutcomeSuccess
	if err != nil {
		status = OutcomeFailure
	}
	r.phaseTotal.WithLabelValues(phase, strategy, status).Inc()
	r.phaseDuration.WithLabelValues(phase, strategy).Observe(duration.Seconds())
}

// RecordProvisionAttempt counts one provisioning attempt
func (r *Recorder) RecordProvisionAttempt(outcome string) {
	if r == nil {
		return
	}
	r.provisionAttempt.WithLabelValues(outcome).Inc()
}

// RecordTestAttempt counts one connection test attempt
func (r *Recorder) RecordTestAttempt(outcome string) {
	if r == nil {
		return
	}
	r.testAttempt.WithLabelValues(outcome).Inc()
}

// RecordBootstrap counts a default-privilege bootstrap
func (r *Recorder) RecordBootstrap() {
	if r == nil {
		return
	}
	r.bootstrapTotal.Inc()
}

// SetMasterRotationInProgress flags a concurrent master rotation
func (r *Recorder) SetMasterRotationInProgress(inProgress bool) {
	if r == nil {
		return
	}
	if inProgress {
		r.masterRotation.Set(1)
	} else {
		r.masterRotation.Set(0)
	}
}

// Push sends the registry to a Pushgateway under job. An empty url is a no-op.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if r == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
