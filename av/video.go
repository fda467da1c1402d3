package av

import (
	"github.com/sirupsen/logrus"

	"github.com/Axixi2233/chiaki-android/metrics"
	"github.com/Axixi2233/chiaki-android/seqnum"
	"github.com/Axixi2233/chiaki-android/transport"
)

// VideoProfile is one adaptive stream announced by the console. Header is
// the codec header submitted to the sink whenever the stream switches to
// this profile.
type VideoProfile struct {
	Width  uint
	Height uint
	Header []byte
}

// VideoSampleFunc consumes an assembled frame. The frame is only valid for
// the duration of the call. It returns false when the frame could not be
// processed, which makes the receiver treat the frame as lost.
type VideoSampleFunc func(frame []byte) bool

// CorruptFrameFunc is told about a range of frames, inclusive, that never
// completed so that the console can resend a key frame.
type CorruptFrameFunc func(start, end uint16)

// VideoReceiverConfig configures a VideoReceiver. All fields are optional.
type VideoReceiverConfig struct {
	// Profiles lists the adaptive streams. When empty the adaptive stream
	// index of packets is not checked.
	Profiles []VideoProfile

	Sample       VideoSampleFunc
	CorruptFrame CorruptFrameFunc
	// PacketStats receives the unit counts of every finished frame.
	PacketStats *PacketStats

	Logger  logrus.FieldLogger
	Metrics *metrics.Collectors
}

// VideoReceiver turns video AV packets into frames. It tracks the frame
// index, flushes a frame as soon as it can be assembled and reports frames
// that were skipped or failed.
type VideoReceiver struct {
	cfg VideoReceiverConfig
	log logrus.FieldLogger
	fp  *FrameProcessor

	// frame indices, -1 until the first frame
	frameIndexCur  int32
	frameIndexPrev int32

	frameIndexPrevComplete uint16
	profileCur             int
	framesLost             uint64
}

// NewVideoReceiver creates a receiver waiting for its first frame.
func NewVideoReceiver(cfg VideoReceiverConfig) *VideoReceiver {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &VideoReceiver{
		cfg:            cfg,
		log:            logger,
		fp:             NewFrameProcessor(logger),
		frameIndexCur:  -1,
		frameIndexPrev: -1,
		profileCur:     -1,
	}
}

// StreamStats returns the frame and byte counters of the video stream.
func (r *VideoReceiver) StreamStats() *StreamStats {
	return r.fp.StreamStats()
}

// FramesLost returns the number of frames reported as corrupt so far.
func (r *VideoReceiver) FramesLost() uint64 {
	return r.framesLost
}

// AVPacket feeds one video packet to the receiver.
func (r *VideoReceiver) AVPacket(p *transport.AVPacket) {
	frameIndex := p.FrameIndex

	if r.frameIndexCur >= 0 && seqnum.Lt16(frameIndex, uint16(r.frameIndexCur)) {
		r.log.WithFields(logrus.Fields{
			"function":    "VideoReceiver.AVPacket",
			"frame_index": frameIndex,
			"current":     r.frameIndexCur,
		}).Warn("Video Receiver received old frame packet")
		return
	}

	if len(r.cfg.Profiles) > 0 && r.profileCur != int(p.AdaptiveStreamIndex) {
		if int(p.AdaptiveStreamIndex) >= len(r.cfg.Profiles) {
			r.log.WithFields(logrus.Fields{
				"function":              "VideoReceiver.AVPacket",
				"adaptive_stream_index": p.AdaptiveStreamIndex,
			}).Error("Packet has invalid adaptive stream index")
			return
		}
		profile := r.cfg.Profiles[p.AdaptiveStreamIndex]
		r.log.WithFields(logrus.Fields{
			"function": "VideoReceiver.AVPacket",
			"profile":  p.AdaptiveStreamIndex,
			"width":    profile.Width,
			"height":   profile.Height,
		}).Info("Switched video profile")
		r.profileCur = int(p.AdaptiveStreamIndex)
		if r.cfg.Sample != nil && len(profile.Header) > 0 {
			r.cfg.Sample(profile.Header)
		}
	}

	if r.frameIndexCur < 0 || seqnum.Gt16(frameIndex, uint16(r.frameIndexCur)) {
		r.nextFrame(p)
	}

	if err := r.fp.PutUnit(p); err != nil {
		r.log.WithFields(logrus.Fields{
			"function":    "VideoReceiver.AVPacket",
			"frame_index": frameIndex,
			"unit_index":  p.UnitIndex,
			"error":       err.Error(),
		}).Debug("Video unit rejected")
	}

	if r.frameIndexCur != r.frameIndexPrev && !r.fp.Flushed() && r.fp.FlushPossible() {
		r.flushFrame()
	}
}

func (r *VideoReceiver) nextFrame(p *transport.AVPacket) {
	frameIndex := p.FrameIndex

	if r.frameIndexCur >= 0 {
		if r.cfg.PacketStats != nil {
			r.fp.ReportPacketStats(r.cfg.PacketStats)
		}
		if expected, received := r.fp.UnitCounts(); expected >= received {
			r.cfg.Metrics.UnitsObserved("video", uint64(received), uint64(expected-received))
		}
		// the last frame never became flushable
		if r.frameIndexPrev != r.frameIndexCur && !r.fp.Flushed() {
			r.flushFrame()
		}
	}

	nextExpected := r.frameIndexPrevComplete + 1
	if seqnum.Gt16(frameIndex, nextExpected) && !(frameIndex == 1 && r.frameIndexCur < 0) {
		r.log.WithFields(logrus.Fields{
			"function": "VideoReceiver.nextFrame",
			"from":     nextExpected,
			"to":       frameIndex - 1,
		}).Warn("Detected missing or corrupt frames")
		r.framesLost += uint64(frameIndex - nextExpected)
		if r.cfg.CorruptFrame != nil {
			r.cfg.CorruptFrame(nextExpected, frameIndex-1)
		}
	}

	r.frameIndexCur = int32(frameIndex)
	if err := r.fp.AllocFrame(p); err != nil {
		r.log.WithFields(logrus.Fields{
			"function":    "VideoReceiver.nextFrame",
			"frame_index": frameIndex,
			"error":       err.Error(),
		}).Error("Failed to allocate frame")
	}
}

func (r *VideoReceiver) flushFrame() {
	result, frame := r.fp.Flush()
	r.cfg.Metrics.FrameFlushed("video", result.String())

	if !result.Complete() {
		r.log.WithFields(logrus.Fields{
			"function":    "VideoReceiver.flushFrame",
			"frame_index": r.frameIndexCur,
			"result":      result.String(),
		}).Warn("Failed to complete frame")
		return
	}

	succ := true
	if r.cfg.Sample != nil && !r.cfg.Sample(frame) {
		succ = false
		r.log.WithFields(logrus.Fields{
			"function":    "VideoReceiver.flushFrame",
			"frame_index": r.frameIndexCur,
		}).Warn("Video callback did not process frame successfully")
	}

	r.frameIndexPrev = r.frameIndexCur
	if succ {
		r.frameIndexPrevComplete = uint16(r.frameIndexCur)
	}
}
