package av

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axixi2233/chiaki-android/metrics"
)

type corruptRange struct{ start, end uint16 }

type videoHarness struct {
	recv    *VideoReceiver
	frames  [][]byte
	corrupt []corruptRange
	accept  bool
	stats   *PacketStats
	metrics *metrics.Collectors
}

func newVideoHarness(profiles []VideoProfile) *videoHarness {
	logger, _ := test.NewNullLogger()
	h := &videoHarness{
		accept:  true,
		stats:   NewPacketStats(),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	h.recv = NewVideoReceiver(VideoReceiverConfig{
		Profiles: profiles,
		Sample: func(frame []byte) bool {
			h.frames = append(h.frames, bytes.Clone(frame))
			return h.accept
		},
		CorruptFrame: func(start, end uint16) {
			h.corrupt = append(h.corrupt, corruptRange{start, end})
		},
		PacketStats: h.stats,
		Logger:      logger,
		Metrics:     h.metrics,
	})
	return h
}

func (h *videoHarness) send(f *testFrame, frameIndex uint16, units []int) {
	for _, u := range units {
		h.recv.AVPacket(f.packet(frameIndex, u))
	}
}

func TestVideoReceiverCompleteFrames(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	h := newVideoHarness(nil)

	var want [][]byte
	for idx := uint16(1); idx <= 3; idx++ {
		f := encodeFrame(t, randomPayloads(rng, 4, 80), 2)
		h.send(f, idx, without(6))
		want = append(want, f.payload)
	}

	assert.Equal(t, want, h.frames)
	assert.Empty(t, h.corrupt)
	assert.Equal(t, uint64(3), h.recv.StreamStats().Frames)
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.FramesFlushed.WithLabelValues("video", "success")))
}

func TestVideoReceiverFlushesWithFEC(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	h := newVideoHarness(nil)

	f := encodeFrame(t, randomPayloads(rng, 4, 80), 2)
	h.send(f, 1, []int{0, 2, 4, 5})

	require.Len(t, h.frames, 1)
	assert.Equal(t, f.payload, h.frames[0])

	// the remaining unit does not flush the frame again
	h.send(f, 1, []int{1})
	assert.Len(t, h.frames, 1)
}

func TestVideoReceiverMissingFrame(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	h := newVideoHarness(nil)

	h.send(encodeFrame(t, randomPayloads(rng, 3, 30), 1), 1, without(4))
	h.send(encodeFrame(t, randomPayloads(rng, 3, 30), 1), 4, without(4))

	assert.Len(t, h.frames, 2)
	assert.Equal(t, []corruptRange{{2, 3}}, h.corrupt)
	assert.Equal(t, uint64(2), h.recv.FramesLost())
}

func TestVideoReceiverIncompleteFrame(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	h := newVideoHarness(nil)

	first := encodeFrame(t, randomPayloads(rng, 4, 30), 1)
	h.send(first, 1, []int{0, 1})
	assert.Empty(t, h.frames)

	second := encodeFrame(t, randomPayloads(rng, 4, 30), 1)
	h.send(second, 2, without(5))

	require.Len(t, h.frames, 1)
	assert.Equal(t, second.payload, h.frames[0])
	assert.Equal(t, []corruptRange{{1, 1}}, h.corrupt)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FramesFlushed.WithLabelValues("video", "failed")))

	// the first frame reported 2 of 5 units
	received, lost := h.stats.Get(false)
	assert.Equal(t, uint64(2), received)
	assert.Equal(t, uint64(3), lost)
}

func TestVideoReceiverIgnoresOldFrames(t *testing.T) {
	rng := rand.New(rand.NewSource(14))
	h := newVideoHarness(nil)

	old := encodeFrame(t, randomPayloads(rng, 2, 30), 1)
	h.send(old, 1, []int{0})
	h.send(encodeFrame(t, randomPayloads(rng, 2, 30), 1), 2, without(3))
	h.send(old, 1, []int{1, 2})

	assert.Len(t, h.frames, 1)
}

func TestVideoReceiverRejectedSample(t *testing.T) {
	rng := rand.New(rand.NewSource(15))
	h := newVideoHarness(nil)

	h.accept = false
	h.send(encodeFrame(t, randomPayloads(rng, 2, 30), 1), 1, without(3))
	h.accept = true
	h.send(encodeFrame(t, randomPayloads(rng, 2, 30), 1), 2, without(3))

	assert.Len(t, h.frames, 2)
	assert.Equal(t, []corruptRange{{1, 1}}, h.corrupt)
}

func TestVideoReceiverProfiles(t *testing.T) {
	rng := rand.New(rand.NewSource(16))
	profiles := []VideoProfile{
		{Width: 1280, Height: 720, Header: []byte("hdr720")},
		{Width: 1920, Height: 1080, Header: []byte("hdr1080")},
	}
	h := newVideoHarness(profiles)

	f1 := encodeFrame(t, randomPayloads(rng, 2, 30), 1)
	h.send(f1, 1, without(3))

	f2 := encodeFrame(t, randomPayloads(rng, 2, 30), 1)
	for _, u := range without(3) {
		p := f2.packet(2, u)
		p.AdaptiveStreamIndex = 1
		h.recv.AVPacket(p)
	}

	bad := encodeFrame(t, randomPayloads(rng, 2, 30), 1)
	p := bad.packet(3, 0)
	p.AdaptiveStreamIndex = 2
	h.recv.AVPacket(p)

	assert.Equal(t, [][]byte{[]byte("hdr720"), f1.payload, []byte("hdr1080"), f2.payload}, h.frames)
}
