// SPDX-License-Identifier: Apache-2.0

package gssctx

import (
	"testing"
)

func TestParseOid(t *testing.T) {
	assert := NewAssert(t)

	tests := []struct {
		in  string
		oid Oid
	}{
		{"1.2.840.113554.1.2.2", GSS_MECH_KRB5.Oid()},
		{"1.3.6.1.5.5.2", GSS_MECH_SPNEGO.Oid()},
		{"1.3.6.1.5.6.2", Oid{0x2b, 0x6, 0x1, 0x5, 0x6, 0x2}},
	}

	for _, tt := range tests {
		oid, err := ParseOid(tt.in)
		assert.NoErrorFatal(err)
		assert.Equal(tt.oid, oid)
		assert.Equal(tt.in, oid.String())
	}

	for _, bad := range []string{"", "1", "1.x.3", "1.-2.3"} {
		_, err := ParseOid(bad)
		assert.Error(err, bad)
	}

	assert.Panics(func() { MustParseOid("nope") })
	assert.Equal(GSS_MECH_IAKERB.Oid(), MustParseOid("1.3.6.1.5.2.5"))
}

func TestOidDER(t *testing.T) {
	assert := NewAssert(t)

	krb := GSS_MECH_KRB5.Oid()
	der := krb.DER()
	assert.Equal([]byte{0x06, 0x09}, der[:2])
	assert.Equal([]byte(krb), der[2:])

	back, err := stripDERHeader(der)
	assert.NoError(err)
	assert.True(back.Equal(krb))

	_, err = stripDERHeader([]byte{0x06})
	assert.Error(err)

	assert.Equal("", Oid(nil).String())
	assert.Contains(Oid{0x80}.String(), "invalid OID")
}

func TestOidClone(t *testing.T) {
	assert := NewAssert(t)

	o := MustParseOid("1.2.3.4")
	c := o.Clone()
	assert.True(o.Equal(c))

	c[0] = 0xff
	assert.False(o.Equal(c))

	assert.Nil(Oid(nil).Clone())
}

func TestOidSet(t *testing.T) {
	assert := NewAssert(t)

	mech := newMockMech()
	krb := GSS_MECH_KRB5.Oid()

	// duplicates from the mechanism are tolerated and order is kept
	h := mech.track(&mockSet{oids: []Oid{mockOid, krb, mockOid}}, "set").(*mockSet)
	set := newOidSet(mech, h)

	assert.Equal(3, set.Len())
	assert.True(set.Contains(krb))
	assert.False(set.Contains(GSS_MECH_SPNEGO.Oid()))
	assert.Equal([]Oid{mockOid, krb, mockOid}, set.Oids())

	// every call re-derives independent copies
	first := set.Oids()
	first[0][0] = 0
	assert.Equal(mockOid, set.Oids()[0])
	assert.Equal(byte(0x2b), h.oids[0][0])

	assert.NoError(set.Release())
	assert.NoError(set.Release())
	assert.Equal(0, mech.liveCount("set"))
	assert.Equal(0, mech.bogus)

	assert.Equal([]Oid{}, set.Oids())
	assert.Equal(0, set.Len())
}

func TestOidSetEmpty(t *testing.T) {
	assert := NewAssert(t)

	mech := newMockMech()
	set := newOidSet(mech, mech.track(&mockSet{}, "set").(*mockSet))

	assert.NotNil(set.Oids())
	assert.Empty(set.Oids())
	assert.NoError(set.Release())

	var nilSet *OidSet
	assert.Empty(nilSet.Oids())
	assert.NoError(nilSet.Release())
}
