package av

import (
	"sync"

	"github.com/Axixi2233/chiaki-android/seqnum"
)

// StreamStats accumulates frame and byte counts of one stream.
type StreamStats struct {
	Frames uint64
	Bytes  uint64
}

// Reset clears both counters.
func (s *StreamStats) Reset() {
	s.Frames = 0
	s.Bytes = 0
}

// Frame records one frame of size bytes.
func (s *StreamStats) Frame(size uint64) {
	s.Frames++
	s.Bytes += size
}

// Bitrate returns the average bits per second assuming framerate frames per
// second. It is zero before the first frame.
func (s StreamStats) Bitrate(framerate uint64) uint64 {
	if s.Frames == 0 {
		return 0
	}
	return s.Bytes * 8 * framerate / s.Frames
}

// PacketStats counts received and lost AV units between two congestion
// reports. Video feeds it per frame generation, audio per packet sequence
// number. It is safe for concurrent use.
type PacketStats struct {
	mu sync.Mutex

	genReceived uint64
	genLost     uint64

	seqStarted  bool
	seqMin      uint16
	seqMax      uint16
	seqReceived uint64
}

// NewPacketStats returns empty stats.
func NewPacketStats() *PacketStats {
	return &PacketStats{}
}

// PushGeneration records the outcome of one frame: how many of its units
// arrived and how many never did.
func (s *PacketStats) PushGeneration(received, lost uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.genReceived += received
	s.genLost += lost
}

// PushSeq records the arrival of the packet with sequence number seqNum.
func (s *PacketStats) PushSeq(seqNum uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seqStarted {
		s.seqStarted = true
		s.seqMin = seqNum - 1
		s.seqMax = seqNum
	}
	s.seqReceived++
	if seqnum.Gt16(seqNum, s.seqMax) {
		s.seqMax = seqNum
	}
}

// Get returns the totals since the last reset. Sequence numbers skipped
// between the lowest and highest seen count as lost. With reset the
// counters start over.
func (s *PacketStats) Get(reset bool) (received, lost uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	received = s.genReceived + s.seqReceived
	lost = s.genLost
	if seqSpan := uint64(s.seqMax - s.seqMin); seqSpan > s.seqReceived {
		lost += seqSpan - s.seqReceived
	}

	if reset {
		s.genReceived = 0
		s.genLost = 0
		s.seqMin = s.seqMax
		s.seqReceived = 0
	}
	return received, lost
}
