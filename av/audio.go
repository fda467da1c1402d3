package av

import (
	"github.com/sirupsen/logrus"

	"github.com/Axixi2233/chiaki-android/metrics"
	"github.com/Axixi2233/chiaki-android/seqnum"
	"github.com/Axixi2233/chiaki-android/transport"
)

// AudioCodecOpus is the codec id of Opus audio packets.
const AudioCodecOpus = 5

// audioStartupFrameIndex is the frame index after which parity units of the
// first frames are no longer special.
const audioStartupFrameIndex = 1 << 15

// Audio packets pack their unit layout into the FEC field of the header.
func audioUnitSize(p *transport.AVPacket) int    { return int(p.UnitsInFrameFEC >> 8) }
func audioSourceUnits(p *transport.AVPacket) int { return int(p.UnitsInFrameFEC & 0xf) }
func audioFECUnits(p *transport.AVPacket) int    { return int((p.UnitsInFrameFEC >> 4) & 0xf) }

// AudioFrameFunc consumes one encoded audio frame. The frame is only valid
// for the duration of the call.
type AudioFrameFunc func(frame []byte)

// AudioReceiverConfig configures an AudioReceiver. All fields are optional.
type AudioReceiverConfig struct {
	Frame AudioFrameFunc
	// Haptics receives the frames of packets flagged as haptics.
	Haptics AudioFrameFunc
	// PacketStats counts audio packets by their packet index.
	PacketStats *PacketStats

	Logger  logrus.FieldLogger
	Metrics *metrics.Collectors
}

// AudioReceiver unpacks audio packets into frames. Each packet carries a
// run of consecutive source frames followed by redundant copies of earlier
// ones; every frame index is delivered at most once, in increasing order.
type AudioReceiver struct {
	cfg AudioReceiverConfig
	log logrus.FieldLogger

	frameIndexPrev        uint16
	hapticsFrameIndexPrev uint16
	frameIndexStartup     bool

	stats StreamStats
}

// NewAudioReceiver creates a receiver.
func NewAudioReceiver(cfg AudioReceiverConfig) *AudioReceiver {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AudioReceiver{
		cfg:               cfg,
		log:               logger,
		frameIndexStartup: true,
	}
}

// StreamStats returns the frame and byte counters of delivered audio.
func (r *AudioReceiver) StreamStats() *StreamStats {
	return &r.stats
}

// AVPacket feeds one audio packet to the receiver.
func (r *AudioReceiver) AVPacket(p *transport.AVPacket) {
	if !p.IsHaptics && p.Codec != AudioCodecOpus {
		r.log.WithFields(logrus.Fields{
			"function": "AudioReceiver.AVPacket",
			"codec":    p.Codec,
		}).Error("Received Audio Packet with unknown Codec")
		r.cfg.Metrics.PacketDropped("audio_codec")
		return
	}

	sourceUnits := audioSourceUnits(p)
	fecUnits := audioFECUnits(p)
	unitSize := audioUnitSize(p)

	if len(p.Data) == 0 {
		r.log.WithField("function", "AudioReceiver.AVPacket").Error("Received Audio Packet with empty data")
		return
	}
	if unitSize*(sourceUnits+fecUnits) != len(p.Data) {
		r.log.WithFields(logrus.Fields{
			"function":     "AudioReceiver.AVPacket",
			"unit_size":    unitSize,
			"source_units": sourceUnits,
			"fec_units":    fecUnits,
			"size":         len(p.Data),
		}).Error("Received Audio Packet with invalid size")
		r.cfg.Metrics.PacketDropped("malformed")
		return
	}

	if r.cfg.PacketStats != nil {
		r.cfg.PacketStats.PushSeq(p.PacketIndex)
	}

	if p.FrameIndex > audioStartupFrameIndex {
		r.frameIndexStartup = false
	}

	// redundant copies of earlier frames go first so that frames recovered
	// from them are still delivered in order
	for fecIndex := 0; fecIndex < fecUnits; fecIndex++ {
		// the first frames of the stream have no earlier frames to repeat
		if r.frameIndexStartup && int(p.FrameIndex)+fecIndex < fecUnits+1 {
			continue
		}
		frameIndex := p.FrameIndex - uint16(fecUnits) + uint16(fecIndex)
		i := sourceUnits + fecIndex
		r.frame(p.IsHaptics, frameIndex, p.Data[unitSize*i:unitSize*(i+1)])
	}
	for i := 0; i < sourceUnits; i++ {
		r.frame(p.IsHaptics, p.FrameIndex+uint16(i), p.Data[unitSize*i:unitSize*(i+1)])
	}
}

func (r *AudioReceiver) frame(haptics bool, frameIndex uint16, buf []byte) {
	prev := &r.frameIndexPrev
	sink := r.cfg.Frame
	if haptics {
		prev = &r.hapticsFrameIndexPrev
		sink = r.cfg.Haptics
	}

	if !seqnum.Gt16(frameIndex, *prev) {
		return
	}
	*prev = frameIndex

	if !haptics {
		r.stats.Frame(uint64(len(buf)))
		r.cfg.Metrics.FrameFlushed("audio", FlushSuccess.String())
	}
	if sink != nil {
		sink(buf)
	}
}
