// SPDX-License-Identifier: Apache-2.0

package rfc4121

// SeqResult classifies an incoming sequence number (RFC 2743 § 1.2.3).
type SeqResult int

const (
	SeqOK        SeqResult = iota
	SeqDuplicate           // already received
	SeqOld                 // too old to tell whether it is a duplicate
	SeqUnseq               // earlier than one already received
	SeqGap                 // later than expected:  tokens were skipped
)

const seqWindow = 64

// SeqState tracks the peer's sequence numbers.  Replay detection rejects duplicates;
// sequencing additionally reports gaps and out of order tokens.  With neither enabled
// every token is accepted.
type SeqState struct {
	replay   bool
	sequence bool

	next uint64 // next expected sequence number
	seen uint64 // bitmap of the seqWindow numbers below next;  bit 0 is next-1
}

// NewSeqState starts tracking at the peer's initial sequence number.
func NewSeqState(initial uint64, replay, sequence bool) *SeqState {
	return &SeqState{replay: replay, sequence: sequence, next: initial}
}

// Check records seq and classifies it.
func (s *SeqState) Check(seq uint64) SeqResult {
	if !s.replay && !s.sequence {
		return SeqOK
	}

	switch {
	case seq == s.next:
		s.advance(1)
		return SeqOK

	case seq > s.next:
		s.advance(seq - s.next + 1)
		if s.sequence {
			return SeqGap
		}
		return SeqOK
	}

	// seq < next
	age := s.next - seq
	if age > seqWindow {
		return SeqOld
	}

	bit := uint64(1) << (age - 1)
	if s.seen&bit != 0 {
		return SeqDuplicate
	}
	s.seen |= bit

	if s.sequence {
		return SeqUnseq
	}
	return SeqOK
}

// advance moves the window forward by n, marking the last number as seen.
func (s *SeqState) advance(n uint64) {
	if n >= seqWindow {
		s.seen = 0
	} else {
		s.seen <<= n
	}
	s.seen |= 1
	s.next += n
}
