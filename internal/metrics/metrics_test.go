// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/golang-auth/go-gssctx"
)

var testMech = gssctx.MustParseOid("1.3.6.1.4.1.32473.1.1")

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		step gssctx.Step
		err  error
		want string
	}{
		{"complete", gssctx.Step{Outcome: gssctx.StepComplete}, nil, OutcomeOK},
		{"continue", gssctx.Step{Outcome: gssctx.StepContinue}, nil, OutcomeContinue},
		{"policy", gssctx.Step{}, &gssctx.PolicyViolation{Op: "gss_wrap", Err: gssctx.ErrContextNotEstablished}, OutcomePolicy},
		{"mechanism", gssctx.Step{}, &gssctx.MechanismFailure{Op: "gss_wrap", Major: gssctx.GSS_S_FAILURE}, OutcomeMechanism},
		{"other", gssctx.Step{}, errors.New("boom"), OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(tt.step, tt.err))
		})
	}
}

func TestRecorder(t *testing.T) {
	assert := assert.New(t)

	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	assert.NoError(err)

	r.Handshake(testMech, true, gssctx.Step{Outcome: gssctx.StepContinue}, nil)
	r.Handshake(testMech, true, gssctx.Step{Outcome: gssctx.StepComplete}, nil)
	r.Handshake(testMech, false, gssctx.Step{Outcome: gssctx.StepComplete}, nil)
	r.Message("gss_wrap", nil)
	r.Message("gss_wrap", nil)
	r.Message("gss_unwrap", &gssctx.MechanismFailure{Op: "gss_unwrap", Major: gssctx.GSS_S_BAD_MIC})
	r.ContextOpened(testMech)
	r.ContextOpened(testMech)
	r.ContextClosed(testMech)

	assert.Equal(float64(1), testutil.ToFloat64(r.handshakes.WithLabelValues("1.3.6.1.4.1.32473.1.1", "initiator", OutcomeContinue)))
	assert.Equal(float64(1), testutil.ToFloat64(r.handshakes.WithLabelValues("1.3.6.1.4.1.32473.1.1", "acceptor", OutcomeOK)))
	assert.Equal(float64(2), testutil.ToFloat64(r.messages.WithLabelValues("gss_wrap", OutcomeOK)))
	assert.Equal(float64(1), testutil.ToFloat64(r.active))

	expected := `
# HELP gssctx_messages_total Per-message protection calls by operation and outcome.
# TYPE gssctx_messages_total counter
gssctx_messages_total{op="gss_unwrap",outcome="mechanism_failure"} 1
gssctx_messages_total{op="gss_wrap",outcome="ok"} 2
`
	assert.NoError(testutil.GatherAndCompare(reg, strings.NewReader(expected), "gssctx_messages_total"))

	// a second recorder on the same registry shares the collectors
	r2, err := NewRecorder(reg)
	assert.NoError(err)
	r2.Message("gss_wrap", nil)
	assert.Equal(float64(3), testutil.ToFloat64(r.messages.WithLabelValues("gss_wrap", OutcomeOK)))
}

func TestRegistrationClash(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gssctx_messages_total",
		Help: "Something else entirely.",
	}))

	_, err := NewRecorder(reg)
	assert.Error(t, err)
	assert.Panics(t, func() { MustNewRecorder(reg) })
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder

	assert.NotPanics(t, func() {
		r.Handshake(testMech, true, gssctx.Step{}, nil)
		r.Message("gss_get_mic", nil)
		r.ContextOpened(testMech)
		r.ContextClosed(testMech)
	})
}
