// SPDX-License-Identifier: Apache-2.0

package gssctx

import (
	"math/bits"
	"strings"
)

// ContextFlag is a set of RFC 2744 context flags.  The values match the C bindings.
type ContextFlag uint32

const (
	ContextFlagDeleg     ContextFlag = 1 << iota // delegate credentials
	ContextFlagMutual                            // acceptor authenticates to the initiator
	ContextFlagReplay                            // detect replayed per-message tokens
	ContextFlagSequence                          // detect out of sequence per-message tokens
	ContextFlagConf                              // confidentiality available
	ContextFlagInteg                             // integrity available
	ContextFlagAnon                              // initiator identity is not disclosed
	ContextFlagProtReady                         // per-message calls usable before establishment
	ContextFlagTrans                             // context may be exported

	// extension: the context is bound to the channel bindings
	ContextFlagChannelBound ContextFlag = 0x800
)

var flagNames = map[ContextFlag]string{
	ContextFlagDeleg:        "Delegation",
	ContextFlagMutual:       "Mutual authentication",
	ContextFlagReplay:       "Message replay detection",
	ContextFlagSequence:     "Out of sequence message detection",
	ContextFlagConf:         "Confidentiality",
	ContextFlagInteg:        "Integrity",
	ContextFlagAnon:         "Anonymous",
	ContextFlagProtReady:    "Protection ready",
	ContextFlagTrans:        "Transferable",
	ContextFlagChannelBound: "Channel Bindings",
}

// FlagList splits f into its individual flags, lowest bit first.
func FlagList(f ContextFlag) []ContextFlag {
	var fl []ContextFlag
	for f != 0 {
		bit := ContextFlag(1) << bits.TrailingZeros32(uint32(f))
		fl = append(fl, bit)
		f &^= bit
	}

	return fl
}

// FlagName describes a single flag, or returns "Unknown".
func FlagName(f ContextFlag) string {
	if n, ok := flagNames[f]; ok {
		return n
	}

	return "Unknown"
}

func (f ContextFlag) String() string {
	fl := FlagList(f)
	names := make([]string, len(fl))
	for i, flag := range fl {
		names[i] = FlagName(flag)
	}

	return strings.Join(names, ", ")
}
