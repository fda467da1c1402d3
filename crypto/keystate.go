package crypto

import (
	"sync"

	"github.com/Axixi2233/chiaki-android/seqnum"
)

// KeyState tracks the 64-bit key stream position of a remote peer.
//
// Packets only carry the low 32 bits of their key position. KeyState
// extrapolates the high word by assuming positions are monotonic and move by
// less than half the 32-bit range between two authenticated packets. The
// heuristic is an assumption of the protocol, not something KeyState can
// enforce against arbitrary reordering.
type KeyState struct {
	mu   sync.Mutex
	prev uint64
}

// NewKeyState returns a KeyState positioned at zero.
func NewKeyState() *KeyState {
	return &KeyState{}
}

// RequestPos reconstructs the full key position for the wire value low.
// The tracked state only changes when commit is true.
func (s *KeyState) RequestPos(low uint32, commit bool) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevLow := uint32(s.prev)
	high := uint32(s.prev >> 32)
	if seqnum.Gt32(low, prevLow) && low < prevLow {
		high++
	} else if seqnum.Lt32(low, prevLow) && low > prevLow && high > 0 {
		high--
	}

	pos := uint64(high)<<32 | uint64(low)
	if commit && pos >= s.prev {
		s.prev = pos
	}
	return pos
}

// Commit advances the tracked position to pos. Positions behind the current
// state are ignored, so a spoofed packet can never rewind the high word.
func (s *KeyState) Commit(pos uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos >= s.prev {
		s.prev = pos
	}
}

// Pos returns the last committed position.
func (s *KeyState) Pos() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev
}
