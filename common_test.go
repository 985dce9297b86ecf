// SPDX-License-Identifier: Apache-2.0

package gssctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Local version of testify/assert  with some extensions
type myassert struct {
	*assert.Assertions

	t *testing.T
}

// Fail the test immediately on error
func (a *myassert) NoErrorFatal(err error) {
	a.NoError(err)
	if err != nil {
		a.t.Logf("Stopping test %s due to fatal error", a.t.Name())
		a.t.FailNow()
	}
}

// Check that err is a PolicyViolation wrapping target
func (a *myassert) PolicyViolation(err error, target error) {
	var pv *PolicyViolation
	if a.ErrorAs(err, &pv) {
		a.ErrorIs(pv, target)
	}
	a.NotErrorAs(err, new(*MechanismFailure))
}

func NewAssert(t *testing.T) *myassert {
	a := assert.New(t)
	return &myassert{a, t}
}
