// SPDX-License-Identifier: Apache-2.0

/*
Package gssctx implements the security-context negotiation layer of the
Generic Security Services API ([RFC 2743]) for the Go programming language:
names, credentials, and the context establishment state machine together with
the per-message integrity and confidentiality calls.

The cryptography and token formats belong to a mechanism, reached through the
[Mechanism] interface.  Mechanisms register themselves by name:

	import _ "github.com/golang-auth/go-gssctx/mechs/krb5"

	mech, err := gssctx.NewMechanism("kerberos_v5")

A context is driven by feeding each side's output token to the other until
[SecContext.Init] or [SecContext.Accept] reports [StepComplete]:

	ctx, _ := gssctx.NewSecContext(mech)
	step, err := ctx.Init(target, nil, gssctx.WithInitiatorFlags(gssctx.ContextFlagMutual))
	for err == nil && step.Continue() {
		reply := exchange(step.Token)
		step, err = ctx.Init(target, reply)
	}

Every object that holds a mechanism handle ([Name], [Credential], [OidSet],
[SecContext]) owns it exclusively and must be released exactly once;  releasing
again is a no-op.  None of them are safe for concurrent use.

Errors fall into three groups:  [*MechanismFailure] carries the major and minor
status of a failed mechanism call, [*AllocationFailure] reports a result the
mechanism should have produced but did not, and [*PolicyViolation] reports a
broken contract such as using a context before it is established.

[RFC 2743]: https://www.rfc-editor.org/rfc/rfc2743
*/
package gssctx
