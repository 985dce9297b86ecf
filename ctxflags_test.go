// SPDX-License-Identifier: Apache-2.0

package gssctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagList(t *testing.T) {
	flags := ContextFlagConf | ContextFlagMutual | ContextFlagDeleg
	flaglist := FlagList(flags)

	assert.ElementsMatch(t, []ContextFlag{ContextFlagConf, ContextFlagMutual, ContextFlagDeleg}, flaglist)
	assert.Empty(t, FlagList(0))
}

func TestFlagValues(t *testing.T) {
	// RFC 2744 GSS_C_*_FLAG values
	assert.Equal(t, ContextFlag(1), ContextFlagDeleg)
	assert.Equal(t, ContextFlag(2), ContextFlagMutual)
	assert.Equal(t, ContextFlag(16), ContextFlagConf)
	assert.Equal(t, ContextFlag(32), ContextFlagInteg)
	assert.Equal(t, ContextFlag(256), ContextFlagTrans)
}

func TestFlagName(t *testing.T) {
	assert.Equal(t, "Delegation", FlagName(ContextFlagDeleg))
	assert.Equal(t, "Mutual authentication", FlagName(ContextFlagMutual))
	assert.Equal(t, "Message replay detection", FlagName(ContextFlagReplay))
	assert.Equal(t, "Out of sequence message detection", FlagName(ContextFlagSequence))
	assert.Equal(t, "Confidentiality", FlagName(ContextFlagConf))
	assert.Equal(t, "Integrity", FlagName(ContextFlagInteg))
	assert.Equal(t, "Anonymous", FlagName(ContextFlagAnon))
	assert.Equal(t, "Channel Bindings", FlagName(ContextFlagChannelBound))
	assert.Equal(t, "Unknown", FlagName(1<<20))
}

func TestFlagString(t *testing.T) {
	flags := ContextFlagConf | ContextFlagMutual | ContextFlagDeleg
	str := flags.String()

	assert.Contains(t, str, "Delegation")
	assert.Contains(t, str, "Mutual")
	assert.Contains(t, str, "Confidentiality")
	assert.NotContains(t, str, "Sequence")
}
