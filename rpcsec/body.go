// SPDX-License-Identifier: Apache-2.0

package rpcsec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	xdr "github.com/davecgh/go-xdr/xdr2"

	"github.com/golang-auth/go-gssctx"
)

// integrityBody is rpc_gss_integ_data.
type integrityBody struct {
	Data     []byte // sequence number followed by the arguments or results
	Checksum []byte // MIC of Data
}

// secureBody protects data for svc (RFC 2203 § 5.3.2).  The sequence number is bound
// into the protected part so that bodies cannot be moved between calls.
func secureBody(sc *gssctx.SecContext, svc Service, seq uint32, data []byte) ([]byte, error) {
	switch svc {
	case ServiceNone:
		return data, nil

	case ServiceIntegrity:
		sd := append(marshalUint(seq), data...)

		mic, err := sc.GetMIC(sd, 0)
		if err != nil {
			return nil, err
		}

		return marshalIntegrity(integrityBody{Data: sd, Checksum: mic})

	case ServicePrivacy:
		sd := append(marshalUint(seq), data...)

		tok, err := sc.Wrap(sd, 0, true)
		if err != nil {
			return nil, err
		}

		return marshalOpaque(tok)
	}

	return nil, fmt.Errorf("rpcsec: unknown service %d", svc)
}

func marshalIntegrity(ib integrityBody) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &ib); err != nil {
		return nil, fmt.Errorf("rpcsec: encoding integrity body: %w", err)
	}

	return buf.Bytes(), nil
}

// unsecureBody reverses secureBody.  Any failure, including a sequence number that does
// not match the credential, is reported as ErrGarbageArgs.
func unsecureBody(sc *gssctx.SecContext, svc Service, seq uint32, body []byte) ([]byte, error) {
	var sd []byte

	switch svc {
	case ServiceNone:
		return body, nil

	case ServiceIntegrity:
		var ib integrityBody
		if err := unmarshalAll(body, &ib); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGarbageArgs, err)
		}

		qop, err := sc.VerifyMIC(ib.Data, ib.Checksum)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrGarbageArgs, err)
		}
		if qop != 0 {
			return nil, fmt.Errorf("%w: unexpected QoP %d", ErrGarbageArgs, qop)
		}
		sd = ib.Data

	case ServicePrivacy:
		tok, err := unmarshalOpaque(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGarbageArgs, err)
		}

		msg, conf, qop, err := sc.UnwrapConf(tok)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrGarbageArgs, err)
		}
		if !conf {
			return nil, fmt.Errorf("%w: privacy body was not encrypted", ErrGarbageArgs)
		}
		if qop != 0 {
			return nil, fmt.Errorf("%w: unexpected QoP %d", ErrGarbageArgs, qop)
		}
		sd = msg

	default:
		return nil, fmt.Errorf("%w: unknown service %d", ErrGarbageArgs, svc)
	}

	if len(sd) < 4 {
		return nil, fmt.Errorf("%w: body is too short", ErrGarbageArgs)
	}

	if got := binary.BigEndian.Uint32(sd[:4]); got != seq {
		return nil, fmt.Errorf("%w: sequence number %d does not match credential %d", ErrGarbageArgs, got, seq)
	}

	return bytes.Clone(sd[4:]), nil
}

// signUint produces the verifier used for reply verifiers and the init window:  a MIC of
// the XDR encoded number.
func signUint(sc *gssctx.SecContext, v uint32) (OpaqueAuth, error) {
	mic, err := sc.GetMIC(marshalUint(v), 0)
	if err != nil {
		return OpaqueAuth{}, err
	}

	return OpaqueAuth{Flavor: AuthFlavor, Body: mic}, nil
}

func verifyUint(sc *gssctx.SecContext, v uint32, verf OpaqueAuth) error {
	if verf.Flavor != AuthFlavor {
		return fmt.Errorf("rpcsec: verifier flavor %d is not RPCSEC_GSS", verf.Flavor)
	}

	if _, err := sc.VerifyMIC(marshalUint(v), verf.Body); err != nil {
		return fmt.Errorf("rpcsec: bad verifier: %w", err)
	}

	return nil
}
