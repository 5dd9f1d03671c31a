package telemetry

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every collector the service registers.
const DefaultNamespace = "zkiam"

// Register adds c to reg, reusing an identical collector that is already registered.
func Register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(c); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return c, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}

// AuthMetrics instruments login, proof verification, throttling and authorization decisions.
type AuthMetrics struct {
	Logins             *prometheus.CounterVec
	ProofVerifications *prometheus.HistogramVec
	RateLimited        *prometheus.CounterVec
	PermissionChecks   *prometheus.CounterVec
	AccessDenials      *prometheus.CounterVec
}

// NewAuthMetrics constructs and registers the collectors.
func NewAuthMetrics(reg prometheus.Registerer, namespace string) (*AuthMetrics, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	logins, err := Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "logins_total",
		Help:      "Login attempts partitioned by outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}

	proofs, err := Register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "zkp",
		Name:      "verification_duration_seconds",
		Help:      "Proof verification latency partitioned by engine and result.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"engine", "valid"}))
	if err != nil {
		return nil, err
	}

	limited, err := Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "rate_limited_total",
		Help:      "Attempts rejected by the rate limiter partitioned by purpose.",
	}, []string{"purpose"}))
	if err != nil {
		return nil, err
	}

	checks, err := Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rbac",
		Name:      "permission_checks_total",
		Help:      "Permission evaluations partitioned by decision.",
	}, []string{"decision"}))
	if err != nil {
		return nil, err
	}

	denials, err := Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "access",
		Name:      "denials_total",
		Help:      "Requests stopped by the access pipeline partitioned by stage and reason.",
	}, []string{"stage", "reason"}))
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		Logins:             logins,
		ProofVerifications: proofs,
		RateLimited:        limited,
		PermissionChecks:   checks,
		AccessDenials:      denials,
	}, nil
}

// ObserveLogin counts a login attempt.
func (m *AuthMetrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(outcome).Inc()
}

// ObserveProofVerification records a verification. Engine failures are labelled "error".
func (m *AuthMetrics) ObserveProofVerification(engine string, valid bool, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := strconv.FormatBool(valid)
	if err != nil {
		label = "error"
	}
	m.ProofVerifications.WithLabelValues(engine, label).Observe(elapsed.Seconds())
}

// ObserveRateLimited counts a throttled attempt.
func (m *AuthMetrics) ObserveRateLimited(purpose string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(purpose).Inc()
}

// ObservePermission counts a permission decision.
func (m *AuthMetrics) ObservePermission(granted bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if granted {
		decision = "granted"
	}
	m.PermissionChecks.WithLabelValues(decision).Inc()
}

// ObserveAccessDenied counts a request rejected by an access pipeline stage.
func (m *AuthMetrics) ObserveAccessDenied(stage, reason string) {
	if m == nil {
		return
	}
	m.AccessDenials.WithLabelValues(stage, reason).Inc()
}
