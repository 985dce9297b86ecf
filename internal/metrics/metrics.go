// SPDX-License-Identifier: Apache-2.0

// Package metrics records security context activity as Prometheus metrics.  A nil
// *Recorder is valid and records nothing, so callers need not check whether metrics
// were configured.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/golang-auth/go-gssctx"
)

// Label values for the outcome label.
const (
	OutcomeOK        = "ok"
	OutcomeContinue  = "continue"
	OutcomePolicy    = "policy_violation"
	OutcomeMechanism = "mechanism_failure"
	OutcomeError     = "error"
)

// Recorder owns the collectors.
type Recorder struct {
	handshakes *prometheus.CounterVec
	messages   *prometheus.CounterVec
	active     *prometheus.GaugeVec
}

// NewRecorder creates the collectors and registers them with reg.  Recorders created on
// the same registry share their collectors.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		handshakes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gssctx_handshakes_total",
				Help: "Security context establishment rounds by mechanism, role and outcome.",
			},
			[]string{"mech", "role", "outcome"},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gssctx_messages_total",
				Help: "Per-message protection calls by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		active: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gssctx_contexts_active",
				Help: "Established security contexts currently held by a server.",
			},
			[]string{"mech"},
		),
	}

	var err error
	if r.handshakes, err = register(reg, r.handshakes); err != nil {
		return nil, err
	}
	if r.messages, err = register(reg, r.messages); err != nil {
		return nil, err
	}
	if r.active, err = register(reg, r.active); err != nil {
		return nil, err
	}

	return r, nil
}

// register adds c to reg.  When an identical collector is already registered, eg. by a
// client and a server sharing a registry, the existing one is returned instead.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}

	return c, err
}

// MustNewRecorder is NewRecorder that panics on registration errors.
func MustNewRecorder(reg prometheus.Registerer) *Recorder {
	r, err := NewRecorder(reg)
	if err != nil {
		panic(err)
	}

	return r
}

// Outcome classifies the result of a GSS-API call for the outcome label.
func Outcome(step gssctx.Step, err error) string {
	var pv *gssctx.PolicyViolation
	var mf *gssctx.MechanismFailure

	switch {
	case err == nil && step.Continue():
		return OutcomeContinue
	case err == nil:
		return OutcomeOK
	case errors.As(err, &pv):
		return OutcomePolicy
	case errors.As(err, &mf):
		return OutcomeMechanism
	}

	return OutcomeError
}

// Handshake records one Init or Accept round.
func (r *Recorder) Handshake(mech gssctx.Oid, initiator bool, step gssctx.Step, err error) {
	if r == nil {
		return
	}

	role := "acceptor"
	if initiator {
		role = "initiator"
	}

	r.handshakes.WithLabelValues(gssctx.MechName(mech), role, Outcome(step, err)).Inc()
}

// Message records a per-message call such as "gss_wrap".
func (r *Recorder) Message(op string, err error) {
	if r == nil {
		return
	}

	r.messages.WithLabelValues(op, Outcome(gssctx.Step{Outcome: gssctx.StepComplete}, err)).Inc()
}

// ContextOpened and ContextClosed track the contexts a server holds.
func (r *Recorder) ContextOpened(mech gssctx.Oid) {
	if r == nil {
		return
	}

	r.active.WithLabelValues(gssctx.MechName(mech)).Inc()
}

func (r *Recorder) ContextClosed(mech gssctx.Oid) {
	if r == nil {
		return
	}

	r.active.WithLabelValues(gssctx.MechName(mech)).Dec()
}
