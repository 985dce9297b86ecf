// SPDX-License-Identifier: Apache-2.0

package rfc4121

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeqStateDisabled(t *testing.T) {
	s := NewSeqState(10, false, false)

	for _, n := range []uint64{10, 10, 3, 99} {
		assert.Equal(t, SeqOK, s.Check(n))
	}
}

func TestSeqStateReplay(t *testing.T) {
	assert := assert.New(t)

	s := NewSeqState(100, true, false)

	assert.Equal(SeqOK, s.Check(100))
	assert.Equal(SeqDuplicate, s.Check(100))
	assert.Equal(SeqOK, s.Check(103)) // gaps are fine without sequencing
	assert.Equal(SeqOK, s.Check(101)) // so is reordering
	assert.Equal(SeqDuplicate, s.Check(101))
	assert.Equal(SeqDuplicate, s.Check(103))
	assert.Equal(SeqOK, s.Check(104))
}

func TestSeqStateSequence(t *testing.T) {
	assert := assert.New(t)

	s := NewSeqState(0, true, true)

	assert.Equal(SeqOK, s.Check(0))
	assert.Equal(SeqOK, s.Check(1))
	assert.Equal(SeqGap, s.Check(3))
	assert.Equal(SeqUnseq, s.Check(2))
	assert.Equal(SeqDuplicate, s.Check(2))
	assert.Equal(SeqOK, s.Check(4))

	assert.Equal(SeqGap, s.Check(200))
	assert.Equal(SeqOld, s.Check(100))
	assert.Equal(SeqUnseq, s.Check(199))
}
