package audio

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// decodeBufferSamples bounds a decoded frame: 40ms of stereo audio at 48kHz.
const decodeBufferSamples = 1920 * 2

// decoderUpsample is the factor by which the decoder repeats each sample it
// produces at the bandwidth's internal rate.
const decoderUpsample = 3

// ErrEmptyFrame is returned for frames without data.
var ErrEmptyFrame = errors.New("empty audio frame")

// PCMFunc receives the decoded samples of one frame at sampleRate. Stereo
// samples are interleaved. pcm is only valid for the duration of the call.
type PCMFunc func(pcm []int16, sampleRate uint32, stereo bool)

// OpusSink decodes Opus frames into PCM. It is meant to be driven from a
// single goroutine, the session's receive goroutine.
type OpusSink struct {
	decoder opus.Decoder
	out     []byte
	pcm     []int16
	handler PCMFunc
	log     logrus.FieldLogger

	decoded atomic.Uint64
	failed  atomic.Uint64
}

// NewOpusSink creates a sink passing decoded audio to handler. handler may
// be nil to only decode.
func NewOpusSink(handler PCMFunc, logger logrus.FieldLogger) *OpusSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &OpusSink{
		decoder: opus.NewDecoder(),
		out:     make([]byte, decodeBufferSamples*2),
		pcm:     make([]int16, decodeBufferSamples),
		handler: handler,
		log:     logger,
	}
}

// Frame decodes frame and passes the result on. Its signature matches
// av.AudioFrameFunc.
func (s *OpusSink) Frame(frame []byte) {
	pcm, sampleRate, stereo, err := s.Decode(frame)
	if err != nil {
		s.failed.Add(1)
		s.log.WithFields(logrus.Fields{
			"function": "OpusSink.Frame",
			"size":     len(frame),
			"error":    err.Error(),
		}).Warn("Dropping undecodable audio frame")
		return
	}
	s.decoded.Add(1)
	if s.handler != nil {
		s.handler(pcm, sampleRate, stereo)
	}
}

// Decode decodes one Opus frame.
//
// Parameters:
//   - frame: Opus encoded frame as delivered by the audio receiver
//
// Returns:
//   - []int16: the frame's decoded samples, valid until the next call
//   - uint32: sample rate in Hz of the returned samples
//   - bool: whether samples are interleaved stereo
//   - error: ErrEmptyFrame or the decoder's error
func (s *OpusSink) Decode(frame []byte) ([]int16, uint32, bool, error) {
	if len(frame) == 0 {
		return nil, 0, false, ErrEmptyFrame
	}

	bandwidth, stereo, err := s.decoder.Decode(frame, s.out)
	if err != nil {
		return nil, 0, false, fmt.Errorf("opus decode failed: %w", err)
	}

	n := min(frameSamples(frame[0], bandwidth, stereo), len(s.pcm))
	for i := 0; i < n; i++ {
		s.pcm[i] = int16(s.out[i*2]) | int16(s.out[i*2+1])<<8
	}

	s.log.WithFields(logrus.Fields{
		"function":  "OpusSink.Decode",
		"bandwidth": bandwidth.String(),
		"stereo":    stereo,
		"samples":   n,
	}).Trace("Decoded audio frame")

	return s.pcm[:n], uint32(bandwidth.SampleRate() * decoderUpsample), stereo, nil
}

// frameSamples returns how many samples, across all channels, the decoder
// wrote for a frame starting with the TOC byte toc.
func frameSamples(toc byte, bandwidth opus.Bandwidth, stereo bool) int {
	n := bandwidth.SampleRate() * frameDuration(toc>>3) / 1_000_000 * decoderUpsample
	if stereo {
		n *= 2
	}
	return n
}

// frameDuration maps an Opus configuration number to its frame duration in
// microseconds.
func frameDuration(config byte) int {
	switch {
	case config < 12: // SILK
		return [...]int{10000, 20000, 40000, 60000}[config%4]
	case config < 16: // hybrid
		return [...]int{10000, 20000}[config%2]
	default: // CELT
		return [...]int{2500, 5000, 10000, 20000}[config%4]
	}
}

// Stats returns how many frames were decoded and how many failed.
func (s *OpusSink) Stats() (decoded, failed uint64) {
	return s.decoded.Load(), s.failed.Load()
}
