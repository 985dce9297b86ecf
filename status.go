// SPDX-License-Identifier: Apache-2.0

package gssctx

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the two-part result returned by every Mechanism call.  Major carries the
// RFC 2744 § 3.9.1 routine, calling and supplementary bits;  Minor is mechanism specific
// and only meaningful alongside a failing Major value.
type Status struct {
	Major uint32
	Minor uint32
}

// RFC 2744 major status values.  Routine errors occupy bits 16-23, calling errors
// bits 24-31 and supplementary information bits 0-15.
const (
	GSS_S_COMPLETE uint32 = 0

	GSS_S_CONTINUE_NEEDED uint32 = 1 << 0
	GSS_S_DUPLICATE_TOKEN uint32 = 1 << 1
	GSS_S_OLD_TOKEN       uint32 = 1 << 2
	GSS_S_UNSEQ_TOKEN     uint32 = 1 << 3
	GSS_S_GAP_TOKEN       uint32 = 1 << 4

	GSS_S_BAD_MECH             = uint32(errBadMech) << 16
	GSS_S_BAD_NAME             = uint32(errBadName) << 16
	GSS_S_BAD_NAMETYPE         = uint32(errBadNameType) << 16
	GSS_S_BAD_BINDINGS         = uint32(errBadBindings) << 16
	GSS_S_BAD_STATUS           = uint32(errBadStatus) << 16
	GSS_S_BAD_MIC              = uint32(errBadMic) << 16
	GSS_S_BAD_SIG              = GSS_S_BAD_MIC
	GSS_S_NO_CRED              = uint32(errNoCred) << 16
	GSS_S_NO_CONTEXT           = uint32(errNoContext) << 16
	GSS_S_DEFECTIVE_TOKEN      = uint32(errDefectiveToken) << 16
	GSS_S_DEFECTIVE_CREDENTIAL = uint32(errDefectiveCredential) << 16
	GSS_S_CREDENTIALS_EXPIRED  = uint32(errCredentialsExpired) << 16
	GSS_S_CONTEXT_EXPIRED      = uint32(errContextExpired) << 16
	GSS_S_FAILURE              = uint32(errFailure) << 16
	GSS_S_BAD_QOP              = uint32(errBadQop) << 16
	GSS_S_UNAUTHORIZED         = uint32(errUnauthorized) << 16
	GSS_S_UNAVAILABLE          = uint32(errUnavailable) << 16
	GSS_S_DUPLICATE_ELEMENT    = uint32(errDuplicateElement) << 16
	GSS_S_NAME_NOT_MN          = uint32(errNameNotMn) << 16

	GSS_S_CALL_INACCESSIBLE_READ  = uint32(inaccessibleRead) << 24
	GSS_S_CALL_INACCESSIBLE_WRITE = uint32(inaccessibleWrite) << 24
	GSS_S_CALL_BAD_STRUCTURE      = uint32(badStructure) << 24
)

// Complete reports whether the status is unqualified success.
func (s Status) Complete() bool {
	return s.Major == GSS_S_COMPLETE
}

// ContinueNeeded reports whether a handshake round finished without error but
// more tokens must be exchanged.
func (s Status) ContinueNeeded() bool {
	return s.Major == GSS_S_CONTINUE_NEEDED
}

// Failed reports whether the status is anything other than COMPLETE.  Context
// establishment additionally accepts CONTINUE_NEEDED, see SecContext.Init.
func (s Status) Failed() bool {
	return s.Major != GSS_S_COMPLETE
}

func (s Status) String() string {
	return fmt.Sprintf("major 0x%08x, minor %d", s.Major, s.Minor)
}

// MakeStatus is a helper for Mechanism implementations.
func MakeStatus(major, minor uint32) Status {
	return Status{Major: major, Minor: minor}
}

// InfoStatus represents the supplementary (informational) bits of a major status.
type InfoStatus struct {
	InformationCode InformationCode // The informational status code
	MechErrors      []error         // Mechanism-specific errors
}

// FatalStatus represents the routine error bits of a major status.  Fatal errors may
// also include an embedded InfoStatus.
type FatalStatus struct {
	InfoStatus                    // Embedded informational status
	FatalErrorCode FatalErrorCode // The fatal error code
}

// FatalErrorCode represents routine error codes.  Values are the same as the C bindings,
// shifted down by 16 bits.  See RFC 2744 § 3.9.1.
type FatalErrorCode uint32

// InformationCode represents supplementary status bits.  See RFC 2744 § 3.9.1.
type InformationCode uint32

// CallingErrorCode represents calling error codes, the top 8 bits of a major status.
type CallingErrorCode uint32

const (
	complete FatalErrorCode = iota
	errBadMech
	errBadName
	errBadNameType
	errBadBindings
	errBadStatus
	errBadMic
	errNoCred
	errNoContext
	errDefectiveToken
	errDefectiveCredential
	errCredentialsExpired
	errContextExpired
	errFailure
	errBadQop
	errUnauthorized
	errUnavailable
	errDuplicateElement
	errNameNotMn

	errBadSig = errBadMic
)

const (
	infoContinueNeeded InformationCode = 1 << iota
	infoDuplicateToken
	infoOldToken
	infoUnseqToken
	infoGapToken
)

const (
	inaccessibleRead CallingErrorCode = iota + 1
	inaccessibleWrite
	badStructure
)

// Fatal error variables that correspond to the routine error codes defined by RFC 2743.

var ErrBadMech = errors.New("an unsupported mechanism was requested")
var ErrBadName = errors.New("an invalid name was supplied")
var ErrBadNameType = errors.New("a supplied name was of an unsupported type")
var ErrBadBindings = errors.New("incorrect channel bindings were supplied")
var ErrBadStatus = errors.New("an invalid status code was supplied")
var ErrBadMic = errors.New("a token had an invalid signature")
var ErrBadSig = ErrBadMic // ErrBadSig is an alias for ErrBadMic for compatibility
var ErrNoCred = errors.New("no credentials were supplied, or the credentials were unavailable or inaccessible")
var ErrNoContext = errors.New("no context has been established")
var ErrDefectiveToken = errors.New("invalid token was supplied")
var ErrDefectiveCredential = errors.New("invalid credential was supplied")
var ErrCredentialsExpired = errors.New("the referenced credentials have expired")
var ErrContextExpired = errors.New("the context has expired")
var ErrFailure = errors.New("unspecified GSS failure.  Minor code may provide more information")
var ErrBadQop = errors.New("the quality-of-protection (QOP) requested could not be provided")
var ErrUnauthorized = errors.New("the operation is forbidden by local security policy")
var ErrUnavailable = errors.New("the operation or option is not available or supported")
var ErrDuplicateElement = errors.New("the requested credential element already exists")
var ErrNameNotMn = errors.New("the provided name was not mechanism specific (MN)")

// Calling errors: the mechanism rejected the shape of the call itself.

var ErrInaccessibleRead = errors.New("a required input parameter could not be read")
var ErrInaccessibleWrite = errors.New("a required output parameter could not be written")
var ErrBadStructure = errors.New("a parameter was malformed")

// Informational status variables that correspond to the supplementary codes defined by RFC 2743.

//nolint:staticcheck // ST1012 these aren't actually errors
var InfoContinueNeeded = errors.New("the routine must be called again to complete its function")

//nolint:staticcheck // ST1012 these aren't actually errors
var InfoDuplicateToken = errors.New(`the token was a duplicate of an earlier token`)

//nolint:staticcheck // ST1012 these aren't actually errors
var InfoOldToken = errors.New("the token's validity period has expired")

//nolint:staticcheck // ST1012 these aren't actually errors
var InfoUnseqToken = errors.New("a later token has already been processed")

//nolint:staticcheck // ST1012 these aren't actually errors
var InfoGapToken = errors.New("an expected per-message token was not received")

var fatalErrors = map[FatalErrorCode]error{
	errBadMech:             ErrBadMech,
	errBadName:             ErrBadName,
	errBadNameType:         ErrBadNameType,
	errBadBindings:         ErrBadBindings,
	errBadStatus:           ErrBadStatus,
	errBadMic:              ErrBadMic,
	errNoCred:              ErrNoCred,
	errNoContext:           ErrNoContext,
	errDefectiveToken:      ErrDefectiveToken,
	errDefectiveCredential: ErrDefectiveCredential,
	errCredentialsExpired:  ErrCredentialsExpired,
	errContextExpired:      ErrContextExpired,
	errFailure:             ErrFailure,
	errBadQop:              ErrBadQop,
	errUnauthorized:        ErrUnauthorized,
	errUnavailable:         ErrUnavailable,
	errDuplicateElement:    ErrDuplicateElement,
	errNameNotMn:           ErrNameNotMn,
}

// Fatal returns the sentinel error for the routine error code.
func (s FatalStatus) Fatal() error {
	if err, ok := fatalErrors[s.FatalErrorCode]; ok {
		return err
	}

	return ErrBadStatus
}

func (s InfoStatus) Unwrap() []error {
	ret := []error{}

	if s.InformationCode&infoContinueNeeded > 0 {
		ret = append(ret, InfoContinueNeeded)
	}
	if s.InformationCode&infoDuplicateToken > 0 {
		ret = append(ret, InfoDuplicateToken)
	}
	if s.InformationCode&infoOldToken > 0 {
		ret = append(ret, InfoOldToken)
	}
	if s.InformationCode&infoUnseqToken > 0 {
		ret = append(ret, InfoUnseqToken)
	}
	if s.InformationCode&infoGapToken > 0 {
		ret = append(ret, InfoGapToken)
	}

	return ret
}

func (s InfoStatus) Error() string {
	infoErrs := s.Unwrap()
	infoStrings := make([]string, len(infoErrs))
	for i, err := range infoErrs {
		infoStrings[i] = err.Error()
	}

	return strings.Join(infoStrings, "; ")
}

func (s FatalStatus) Unwrap() []error {
	ret := []error{}

	if s.FatalErrorCode != complete {
		ret = append(ret, s.Fatal())
	}

	ret = append(ret, s.InfoStatus.Unwrap()...)
	ret = append(ret, s.MechErrors...)

	return ret
}

func (s FatalStatus) Error() string {
	var parts []string

	if s.FatalErrorCode != complete {
		fatal := s.Fatal()
		// the generic failure text points at the minor code, which is only
		// useful to print when we could not describe it
		if !(fatal == ErrFailure && len(s.MechErrors) > 0) {
			parts = append(parts, fatal.Error())
		}
	}

	if s.MechErrors != nil {
		mechStrs := make([]string, len(s.MechErrors))
		for i, e := range s.MechErrors {
			mechStrs[i] = e.Error()
		}
		parts = append(parts, strings.Join(mechStrs, "; "))
	}

	infoErrs := s.InfoStatus.Error()
	if infoErrs != "" {
		parts = append(parts, "Additionally: "+infoErrs)
	}

	return strings.Join(parts, ".  ")
}

// Calling returns the sentinel error for the calling error code.
func (c CallingErrorCode) Calling() error {
	switch c {
	default:
		return ErrBadStatus
	case inaccessibleRead:
		return ErrInaccessibleRead
	case inaccessibleWrite:
		return ErrInaccessibleWrite
	case badStructure:
		return ErrBadStructure
	}
}

// MechanismFailure is returned when a mechanism call reports a major status other than
// COMPLETE (or, during context establishment, CONTINUE_NEEDED).  Major and Minor are
// carried verbatim;  the decoded routine, calling and supplementary parts are available
// through errors.Is against the Err* and Info* variables.
type MechanismFailure struct {
	FatalStatus
	CallingErrorCode CallingErrorCode

	Op    string // the GSS-API call that failed, eg. "gss_wrap"
	Major uint32
	Minor uint32
}

func (e *MechanismFailure) Unwrap() []error {
	ret := []error{}

	if e.CallingErrorCode != 0 {
		ret = append(ret, e.CallingErrorCode.Calling())
	}

	return append(ret, e.FatalStatus.Unwrap()...)
}

func (e *MechanismFailure) Error() string {
	var parts []string

	if e.CallingErrorCode != 0 {
		parts = append(parts, "calling error: "+e.CallingErrorCode.Calling().Error())
	}

	if s := e.FatalStatus.Error(); s != "" {
		parts = append(parts, s)
	}

	return fmt.Sprintf("%s: %s (major 0x%08x, minor %d)", e.Op, strings.Join(parts, ".  "), e.Major, e.Minor)
}

// MinorStatusDescriber is implemented by mechanisms that can render their minor
// status codes as text.
type MinorStatusDescriber interface {
	DescribeMinor(minor uint32) []error
}

// makeStatus converts a failed mechanism status into a *MechanismFailure.  It returns
// nil for COMPLETE.  The caller decides whether CONTINUE_NEEDED is acceptable before
// calling this.
func makeStatus(op string, st Status, mech Mechanism) error {
	if st.Major == GSS_S_COMPLETE {
		return nil
	}

	// see RFC 2744 § 3.9.1
	callingError := (st.Major & 0xFF000000) >> 24
	routineError := (st.Major & 0x00FF0000) >> 16
	supplementary := st.Major & 0xffff

	info := InfoStatus{
		InformationCode: InformationCode(supplementary),
	}

	if st.Minor != 0 {
		if d, ok := mech.(MinorStatusDescriber); ok {
			if minorErrors := d.DescribeMinor(st.Minor); len(minorErrors) > 0 {
				info.MechErrors = minorErrors
			}
		}
	}

	return &MechanismFailure{
		FatalStatus: FatalStatus{
			FatalErrorCode: FatalErrorCode(routineError),
			InfoStatus:     info,
		},
		CallingErrorCode: CallingErrorCode(callingError),
		Op:               op,
		Major:            st.Major,
		Minor:            st.Minor,
	}
}

// AllocationFailure is returned when the layer itself could not produce a result
// structure, for example when a mechanism reports success without returning a handle.
// It carries no status pair.
type AllocationFailure struct {
	Op   string
	What string
}

func (e *AllocationFailure) Error() string {
	return fmt.Sprintf("%s: could not allocate %s", e.Op, e.What)
}

// Policy violations: the mechanism call succeeded (or was never made) but a
// higher-level contract was broken.

var ErrContextNotEstablished = errors.New("the security context is not established")
var ErrConfidentialityMismatch = errors.New("the confidentiality state granted by the mechanism does not match the request")
var ErrContextEstablished = errors.New("the security context is already established")
var ErrContextDestroyed = errors.New("the security context has been destroyed")
var ErrWrongRole = errors.New("the security context is being driven from the wrong side")
var ErrMechanismMismatch = errors.New("the object belongs to a different mechanism")

// PolicyViolation wraps one of the policy errors above with the operation that
// triggered it.
type PolicyViolation struct {
	Op  string
	Err error
}

func (e *PolicyViolation) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PolicyViolation) Unwrap() error {
	return e.Err
}
