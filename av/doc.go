// Package av turns the AV packets of a Takion session into frames.
//
// Video and audio take different paths. Video frames are split into source
// units and Reed-Solomon parity units spread over many packets; the
// FrameProcessor collects them and rebuilds missing source units when
// enough parity arrived. Audio packets each carry a few complete frames plus
// redundant copies of earlier frames, so the AudioReceiver only has to
// unpack and deduplicate them.
//
// # Architecture
//
//   - FrameProcessor: one in-progress frame, unit bookkeeping and FEC
//   - VideoReceiver: frame index tracking, early flushing, corrupt frame
//     detection on top of a FrameProcessor
//   - AudioReceiver: unit unpacking and frame index deduplication
//   - StreamStats: frame and byte counters used to derive bitrates
//   - PacketStats: received and lost unit counts for congestion reports
//
// # Sub-Packages
//
//   - av/audio: Opus decoding of the frames delivered by AudioReceiver
//
// # Usage
//
// Receivers are fed from the session's event handler, which runs on the
// receive goroutine. None of the receivers lock.
//
//	video := av.NewVideoReceiver(av.VideoReceiverConfig{
//	    Sample: func(frame []byte) bool {
//	        return decoder.Push(frame) == nil
//	    },
//	    PacketStats: stats,
//	})
//	handler := transport.EventHandlerFunc(func(e *transport.Event) {
//	    if e.Type == transport.EventAV && e.AV.IsVideo {
//	        video.AVPacket(e.AV)
//	    }
//	})
//
// # Frame Lifetime
//
// FrameProcessor.Flush returns a view of its internal buffer that is only
// valid until the next call on the processor. Frames passed to sample
// callbacks follow the same rule. FlushCopy returns an owned copy.
package av
