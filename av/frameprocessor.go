package av

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Axixi2233/chiaki-android/errs"
	"github.com/Axixi2233/chiaki-android/fec"
	"github.com/Axixi2233/chiaki-android/transport"
)

// FlushResult tells how a frame left the frame processor.
type FlushResult int

const (
	// FlushSuccess means every source unit arrived.
	FlushSuccess FlushResult = iota
	// FlushFECSuccess means missing source units were rebuilt from parity.
	FlushFECSuccess
	// FlushFECFailed means enough units arrived but decoding still failed.
	FlushFECFailed
	// FlushFailed means too few units arrived to rebuild the frame.
	FlushFailed
)

// String returns the result name used in logs and metric labels.
func (r FlushResult) String() string {
	switch r {
	case FlushSuccess:
		return "success"
	case FlushFECSuccess:
		return "fec_success"
	case FlushFECFailed:
		return "fec_failed"
	case FlushFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Complete reports whether the flush produced a frame.
func (r FlushResult) Complete() bool {
	return r == FlushSuccess || r == FlushFECSuccess
}

// unitHeaderSize is the big-endian padding length leading every source unit.
const unitHeaderSize = 2

// FrameProcessor assembles one frame at a time from its source and parity
// units. It is not safe for concurrent use; AV packets are fed to it from
// the session's receive goroutine only.
type FrameProcessor struct {
	log logrus.FieldLogger

	frameBuf   []byte
	unitSize   int
	unitStride int

	sourceExpected int
	fecExpected    int
	sourceReceived int
	fecReceived    int

	// unitSizes holds the stored size per slot, zero for empty slots.
	unitSizes []int
	flushed   bool

	stats StreamStats
}

// NewFrameProcessor returns a processor without a frame.
func NewFrameProcessor(logger logrus.FieldLogger) *FrameProcessor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FrameProcessor{log: logger}
}

// StreamStats returns the frame and byte counters of the processed stream.
func (fp *FrameProcessor) StreamStats() *StreamStats {
	return &fp.stats
}

// Flushed reports whether the current frame was already handed out.
func (fp *FrameProcessor) Flushed() bool {
	return fp.flushed
}

// AllocFrame prepares the processor for the frame p belongs to. The unit
// size is derived from p: its payload size, plus the padding announced in
// its header when p is a video source unit.
//
// The frame buffer is reused across frames and only grows.
func (fp *FrameProcessor) AllocFrame(p *transport.AVPacket) error {
	fp.discard()

	if p.UnitsInFrameTotal < p.UnitsInFrameFEC {
		fp.log.WithFields(logrus.Fields{
			"function":    "FrameProcessor.AllocFrame",
			"units_total": p.UnitsInFrameTotal,
			"units_fec":   p.UnitsInFrameFEC,
		}).Error("Frame Processor got total units less than FEC units")
		return ErrFECExceedsTotal
	}

	sourceExpected := int(p.UnitsInFrameTotal - p.UnitsInFrameFEC)
	fecExpected := int(p.UnitsInFrameFEC)
	if fecExpected < 1 {
		fecExpected = 1
	}

	unitSize := len(p.Data)
	if p.IsVideo && int(p.UnitIndex) < sourceExpected {
		if len(p.Data) < unitHeaderSize {
			fp.log.WithFields(logrus.Fields{
				"function": "FrameProcessor.AllocFrame",
				"size":     len(p.Data),
			}).Error("Frame Processor got unit smaller than its header")
			return fmt.Errorf("unit of %d bytes: %w", len(p.Data), errs.ErrBufTooSmall)
		}
		unitSize += int(binary.BigEndian.Uint16(p.Data))
	}
	if unitSize == 0 {
		return fmt.Errorf("empty unit: %w", errs.ErrInvalidData)
	}

	slots := sourceExpected + fecExpected
	if slots > fec.MaxUnits {
		fp.log.WithFields(logrus.Fields{
			"function": "FrameProcessor.AllocFrame",
			"units":    slots,
		}).Error("Frame Processor got more units than allowed")
		return ErrTooManyUnits
	}

	fp.sourceExpected = sourceExpected
	fp.fecExpected = fecExpected
	fp.unitSize = unitSize
	fp.unitStride = (unitSize + 0xf) &^ 0xf

	if cap(fp.unitSizes) < slots {
		fp.unitSizes = make([]int, slots)
	} else {
		fp.unitSizes = fp.unitSizes[:slots]
		clear(fp.unitSizes)
	}

	bufSize := slots * fp.unitStride
	if cap(fp.frameBuf) < bufSize {
		fp.frameBuf = make([]byte, bufSize)
	} else {
		fp.frameBuf = fp.frameBuf[:bufSize]
		clear(fp.frameBuf)
	}

	fp.flushed = false
	fp.stats.Frame(0)
	return nil
}

// discard forgets the current frame so that units cannot land in it.
func (fp *FrameProcessor) discard() {
	fp.sourceExpected = 0
	fp.fecExpected = 0
	fp.sourceReceived = 0
	fp.fecReceived = 0
	if fp.unitSizes != nil {
		fp.unitSizes = fp.unitSizes[:0]
	}
}

// PutUnit stores the payload of p in its slot. Units of an already flushed
// frame are still counted, only their payload is discarded.
func (fp *FrameProcessor) PutUnit(p *transport.AVPacket) error {
	if fp.unitSizes == nil {
		return ErrNoFrame
	}
	idx := int(p.UnitIndex)
	if idx >= len(fp.unitSizes) {
		fp.log.WithFields(logrus.Fields{
			"function":   "FrameProcessor.PutUnit",
			"unit_index": idx,
			"slots":      len(fp.unitSizes),
		}).Error("Frame Processor received unit index out of range")
		return ErrUnitOutOfRange
	}
	if fp.unitSizes[idx] != 0 {
		fp.log.WithFields(logrus.Fields{
			"function":   "FrameProcessor.PutUnit",
			"unit_index": idx,
		}).Warn("Frame Processor received duplicate unit")
		return ErrDuplicateUnit
	}
	if len(p.Data) > fp.unitSize {
		fp.log.WithFields(logrus.Fields{
			"function":  "FrameProcessor.PutUnit",
			"size":      len(p.Data),
			"unit_size": fp.unitSize,
		}).Warn("Frame Processor received packet too big for frame buffer")
		return ErrUnitTooBig
	}
	if len(p.Data) == 0 {
		return fmt.Errorf("empty unit %d: %w", idx, errs.ErrInvalidData)
	}

	fp.unitSizes[idx] = len(p.Data)
	if !fp.flushed {
		copy(fp.frameBuf[idx*fp.unitStride:], p.Data)
	}
	if idx < fp.sourceExpected {
		fp.sourceReceived++
	} else {
		fp.fecReceived++
	}
	fp.stats.Bytes += uint64(len(p.Data))
	return nil
}

// FlushPossible reports whether enough units arrived to rebuild every
// source unit.
func (fp *FrameProcessor) FlushPossible() bool {
	return fp.sourceReceived+fp.fecReceived >= fp.sourceExpected
}

// UnitCounts returns how many units the frame expects and how many arrived.
func (fp *FrameProcessor) UnitCounts() (expected, received int) {
	return fp.sourceExpected + fp.fecExpected, fp.sourceReceived + fp.fecReceived
}

// ReportPacketStats pushes the unit counts of the current frame to stats.
func (fp *FrameProcessor) ReportPacketStats(stats *PacketStats) {
	expected, received := fp.UnitCounts()
	lost := 0
	if expected > received {
		lost = expected - received
	}
	stats.PushGeneration(uint64(received), uint64(lost))
}

// Flush assembles the frame from the payloads of its source units, running
// FEC first when some of them are missing.
//
// The returned frame aliases the processor's buffer and is only valid until
// the next call on the processor. Use FlushCopy to keep it longer.
func (fp *FrameProcessor) Flush() (FlushResult, []byte) {
	if fp.sourceExpected == 0 || fp.flushed {
		return FlushFailed, nil
	}

	result := FlushSuccess
	if fp.sourceReceived < fp.sourceExpected {
		if !fp.FlushPossible() {
			return FlushFailed, nil
		}
		if err := fp.decodeFEC(); err != nil {
			fp.log.WithFields(logrus.Fields{
				"function": "FrameProcessor.Flush",
				"error":    err.Error(),
			}).Warn("FEC failed")
			fp.flushed = true
			return FlushFECFailed, nil
		}
		result = FlushFECSuccess
	}

	cur := 0
	for i := 0; i < fp.sourceExpected; i++ {
		size := fp.unitSizes[i]
		if size == 0 {
			fp.log.WithFields(logrus.Fields{
				"function":   "FrameProcessor.Flush",
				"unit_index": i,
			}).Warn("Missing unit")
			continue
		}
		if size < unitHeaderSize {
			fp.log.WithFields(logrus.Fields{
				"function":   "FrameProcessor.Flush",
				"unit_index": i,
				"size":       size,
			}).Error("Saved unit is smaller than its header")
			continue
		}
		off := i * fp.unitStride
		cur += copy(fp.frameBuf[cur:], fp.frameBuf[off+unitHeaderSize:off+size])
	}

	fp.flushed = true
	return result, fp.frameBuf[:cur]
}

// FlushCopy is Flush returning a frame owned by the caller.
func (fp *FrameProcessor) FlushCopy() (FlushResult, []byte) {
	result, frame := fp.Flush()
	if frame == nil {
		return result, nil
	}
	out := make([]byte, len(frame))
	copy(out, frame)
	return result, out
}

func (fp *FrameProcessor) decodeFEC() error {
	total := fp.sourceExpected + fp.fecExpected
	erasures := make([]int, 0, total)
	for i := 0; i < total; i++ {
		if fp.unitSizes[i] == 0 {
			erasures = append(erasures, i)
		}
	}

	fp.log.WithFields(logrus.Fields{
		"function":  "FrameProcessor.decodeFEC",
		"erasures":  len(erasures),
		"units_fec": fp.fecExpected,
	}).Debug("Frame Processor running FEC")

	if err := fec.Decode(fp.frameBuf, fp.unitSize, fp.unitStride, fp.sourceExpected, fp.fecExpected, erasures); err != nil {
		return err
	}

	for _, i := range erasures {
		if i >= fp.sourceExpected {
			continue
		}
		off := i * fp.unitStride
		padding := int(binary.BigEndian.Uint16(fp.frameBuf[off:]))
		if padding >= fp.unitSize {
			fp.log.WithFields(logrus.Fields{
				"function":   "FrameProcessor.decodeFEC",
				"unit_index": i,
				"padding":    padding,
			}).Error("Padding in unit is larger than or equal to the unit size")
			return fmt.Errorf("unit %d padding %d of %d: %w", i, padding, fp.unitSize, ErrUnitPadding)
		}
		fp.unitSizes[i] = fp.unitSize - padding
	}
	for i := 0; i < fp.sourceExpected; i++ {
		if fp.unitSizes[i] == 0 {
			return fmt.Errorf("unit %d still missing after FEC: %w", i, errs.ErrFECFailed)
		}
	}
	return nil
}
