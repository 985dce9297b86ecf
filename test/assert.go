// SPDX-License-Identifier: Apache-2.0

// Package test holds assertion helpers shared by the package tests.
package test

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Assert extends testify's assertions.
type Assert struct {
	*assert.Assertions

	t testing.TB
}

// NewAssert returns assertions reporting to t.
func NewAssert(t testing.TB) *Assert {
	return &Assert{assert.New(t), t}
}

// NoErrorFatal fails the test immediately on error.
func (a *Assert) NoErrorFatal(err error) {
	a.t.Helper()

	if !a.NoError(err) {
		a.t.Logf("Stopping test %s due to fatal error", a.t.Name())
		a.t.FailNow()
	}
}
