package av

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"github.com/Axixi2233/chiaki-android/transport"
)

const testAudioUnitSize = 4

type audioHarness struct {
	recv    *AudioReceiver
	frames  [][]byte
	haptics [][]byte
	stats   *PacketStats
}

func newAudioHarness() *audioHarness {
	logger, _ := test.NewNullLogger()
	h := &audioHarness{stats: NewPacketStats()}
	h.recv = NewAudioReceiver(AudioReceiverConfig{
		Frame: func(frame []byte) {
			h.frames = append(h.frames, bytes.Clone(frame))
		},
		Haptics: func(frame []byte) {
			h.haptics = append(h.haptics, bytes.Clone(frame))
		},
		PacketStats: h.stats,
		Logger:      logger,
	})
	return h
}

// audioUnit is the content a test sender puts in the unit of frameIndex.
func audioUnit(frameIndex uint16) []byte {
	return []byte{'f', byte(frameIndex >> 8), byte(frameIndex), 0}
}

// audioPacket builds a packet with one source unit for frameIndex followed
// by fec copies of the frames before it.
func audioPacket(packetIndex, frameIndex uint16, fec int) *transport.AVPacket {
	data := append([]byte(nil), audioUnit(frameIndex)...)
	for i := 0; i < fec; i++ {
		data = append(data, audioUnit(frameIndex-uint16(fec)+uint16(i))...)
	}
	return &transport.AVPacket{
		PacketIndex:     packetIndex,
		FrameIndex:      frameIndex,
		Codec:           AudioCodecOpus,
		UnitsInFrameFEC: uint16(testAudioUnitSize<<8 | fec<<4 | 1),
		Data:            data,
	}
}

func frameUnits(indices ...uint16) [][]byte {
	out := make([][]byte, len(indices))
	for i, idx := range indices {
		out[i] = audioUnit(idx)
	}
	return out
}

func TestAudioReceiverDeliversInOrder(t *testing.T) {
	h := newAudioHarness()

	h.recv.AVPacket(audioPacket(1, 10, 2))
	h.recv.AVPacket(audioPacket(2, 11, 2))

	assert.Equal(t, frameUnits(8, 9, 10, 11), h.frames)
	assert.Equal(t, uint64(4), h.recv.StreamStats().Frames)
}

func TestAudioReceiverRecoversFromRedundancy(t *testing.T) {
	h := newAudioHarness()

	h.recv.AVPacket(audioPacket(1, 20, 2))
	// packets carrying frames 21 and 22 are lost
	h.recv.AVPacket(audioPacket(4, 23, 2))

	assert.Equal(t, frameUnits(18, 19, 20, 21, 22, 23), h.frames)

	received, lost := h.stats.Get(true)
	assert.Equal(t, uint64(2), received)
	assert.Equal(t, uint64(2), lost)
}

func TestAudioReceiverStartup(t *testing.T) {
	h := newAudioHarness()

	// frames at or before zero do not exist
	h.recv.AVPacket(audioPacket(1, 1, 2))
	h.recv.AVPacket(audioPacket(2, 2, 2))

	assert.Equal(t, frameUnits(1, 2), h.frames)
}

func TestAudioReceiverDropsDuplicates(t *testing.T) {
	h := newAudioHarness()

	h.recv.AVPacket(audioPacket(1, 30, 1))
	h.recv.AVPacket(audioPacket(1, 30, 1))
	h.recv.AVPacket(audioPacket(0, 29, 1))

	assert.Equal(t, frameUnits(29, 30), h.frames)
}

func TestAudioReceiverRejectsPackets(t *testing.T) {
	h := newAudioHarness()

	unknownCodec := audioPacket(1, 10, 1)
	unknownCodec.Codec = 3
	h.recv.AVPacket(unknownCodec)

	badSize := audioPacket(2, 11, 1)
	badSize.Data = badSize.Data[:len(badSize.Data)-1]
	h.recv.AVPacket(badSize)

	empty := audioPacket(3, 12, 1)
	empty.Data = nil
	h.recv.AVPacket(empty)

	assert.Empty(t, h.frames)
}

func TestAudioReceiverHaptics(t *testing.T) {
	h := newAudioHarness()

	p := audioPacket(1, 5, 0)
	p.IsHaptics = true
	p.Codec = 0
	h.recv.AVPacket(p)
	h.recv.AVPacket(audioPacket(2, 3, 0))

	assert.Equal(t, frameUnits(5), h.haptics)
	assert.Equal(t, frameUnits(3), h.frames)
}
