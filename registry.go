// SPDX-License-Identifier: Apache-2.0

package gssctx

import (
	"errors"
	"slices"
	"sync"
)

var ErrMechanismNotFound = errors.New("mechanism not found")

var registry struct {
	sync.Mutex
	mechs map[string]MechanismConstructor
}

func init() {
	registry.mechs = make(map[string]MechanismConstructor)
}

// MechanismConstructor defines the function signature passed to RegisterMechanism, used
// by the registry to create new instances of a mechanism.
type MechanismConstructor func() (Mechanism, error)

// RegisterMechanism associates the supplied constructor with the unique name for the
// mechanism.  If a mechanism with name is already registered, the new constructor
// replaces the existing registration.
//
// Mechanism packages register themselves by calling RegisterMechanism in their init()
// function and document the name they use.
func RegisterMechanism(name string, f MechanismConstructor) {
	registry.Lock()
	defer registry.Unlock()

	registry.mechs[name] = f
}

// NewMechanism instantiates a previously registered mechanism.
//
// Returns ErrMechanismNotFound if name is not registered, or the error returned by
// the mechanism's constructor.
func NewMechanism(name string) (Mechanism, error) {
	registry.Lock()
	f, ok := registry.mechs[name]
	registry.Unlock()

	if !ok {
		return nil, ErrMechanismNotFound
	}

	return f()
}

// MustNewMechanism wraps NewMechanism in a panic.
func MustNewMechanism(name string) Mechanism {
	m, err := NewMechanism(name)
	if err != nil {
		panic("gssctx: mechanism " + name + ": " + err.Error())
	}

	return m
}

// RegisteredMechanisms returns the sorted names of all registered mechanisms.
func RegisteredMechanisms() []string {
	registry.Lock()
	defer registry.Unlock()

	names := make([]string, 0, len(registry.mechs))
	for name := range registry.mechs {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}
