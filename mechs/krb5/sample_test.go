// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"encoding/binary"
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/msgtype"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/test/testdata"
	"github.com/jcmturner/gokrb5/v8/types"
)

// Sample values from MIT Kerberos src/tests/asn.1/ktest.h
const (
	sampleUsec          = 123456
	sampleSeqNumber     = 17
	sampleFlags         = 0xFEDCBA98
	sampleError         = 0x3C
	samplePrincipalName = "hftsai/extra@ATHENA.MIT.EDU"
	sampleData          = "krb5data"
)

func sampleTime() time.Time {
	tm, _ := time.Parse(testdata.TEST_TIME_FORMAT, testdata.TEST_TIME)
	return tm
}

func sampleAPRepEncPart() encAPRepPart {
	return encAPRepPart{
		CTime:          sampleTime(),
		Cusec:          sampleUsec,
		Subkey:         types.EncryptionKey{KeyType: 1, KeyValue: []byte("12345678")},
		SequenceNumber: sampleSeqNumber,
	}
}

func sampleEncData() types.EncryptedData {
	return types.EncryptedData{
		EType:  0,
		KVNO:   5,
		Cipher: []byte(testdata.TEST_CIPHERTEXT),
	}
}

func sampleTicket() messages.Ticket {
	pn, realm := types.ParseSPNString(samplePrincipalName)
	return messages.Ticket{
		TktVNO:  5,
		Realm:   realm,
		SName:   pn,
		EncPart: sampleEncData(),
	}
}

func sampleAPReq() messages.APReq {
	apreq := messages.APReq{
		PVNO:                   5,
		MsgType:                msgtype.KRB_AP_REQ,
		APOptions:              types.NewKrbFlags(),
		Ticket:                 sampleTicket(),
		EncryptedAuthenticator: sampleEncData(),
	}

	binary.BigEndian.PutUint32(apreq.APOptions.Bytes[0:], sampleFlags)

	return apreq
}

func sampleAPRep() apRep {
	return apRep{
		PVNO:    5,
		MsgType: msgtype.KRB_AP_REP,
		EncPart: sampleEncData(),
	}
}

func sampleKRBError() messages.KRBError {
	pn, realm := types.ParseSPNString(samplePrincipalName)
	return messages.KRBError{
		PVNO:      5,
		MsgType:   msgtype.KRB_ERROR,
		CTime:     sampleTime(),
		Cusec:     sampleUsec,
		STime:     sampleTime(),
		Susec:     sampleUsec,
		ErrorCode: sampleError,
		CRealm:    realm,
		CName:     pn,
		Realm:     realm,
		SName:     pn,
		EText:     sampleData,
		EData:     []byte(sampleData),
	}
}
