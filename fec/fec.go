// Package fec implements the erasure code used to protect video and audio
// frames.
//
// A frame is laid out as k source units followed by m parity units, each in
// its own slot of a fixed stride inside one contiguous buffer. Decode
// reconstructs erased source slots in place from the surviving units.
package fec

import (
	"fmt"

	rs "github.com/klauspost/reedsolomon"

	"github.com/Axixi2233/chiaki-android/errs"
)

// MaxUnits is the largest total number of units (source plus parity) a frame
// can carry.
const MaxUnits = 256

func checkLayout(bufLen, unitSize, stride, k, m int) error {
	if k <= 0 || m < 0 || k+m > MaxUnits {
		return fmt.Errorf("invalid code parameters k=%d m=%d: %w", k, m, errs.ErrInvalidData)
	}
	if unitSize <= 0 || stride < unitSize {
		return fmt.Errorf("invalid unit size %d with stride %d: %w", unitSize, stride, errs.ErrInvalidData)
	}
	if bufLen < stride*(k+m) {
		return fmt.Errorf("buffer of %d bytes cannot hold %d units of stride %d: %w", bufLen, k+m, stride, errs.ErrBufTooSmall)
	}
	return nil
}

func shardsOf(buf []byte, unitSize, stride, n int) [][]byte {
	shards := make([][]byte, n)
	for i := range shards {
		off := i * stride
		shards[i] = buf[off : off+unitSize : off+unitSize]
	}
	return shards
}

// Decode reconstructs the erased slots of buf. erasures lists slot indices in
// [0, k+m); parity slots may be listed too but only source slots are
// guaranteed to be rebuilt. Decode has no state outside its arguments.
//
// It fails with errs.ErrFECFailed when more than m slots are erased.
func Decode(buf []byte, unitSize, stride, k, m int, erasures []int) error {
	if err := checkLayout(len(buf), unitSize, stride, k, m); err != nil {
		return err
	}
	if len(erasures) == 0 {
		return nil
	}
	if len(erasures) > m {
		return fmt.Errorf("%d erasures exceed %d parity units: %w", len(erasures), m, errs.ErrFECFailed)
	}

	enc, err := rs.New(k, m)
	if err != nil {
		return fmt.Errorf("failed to create decoder: %v: %w", err, errs.ErrFECFailed)
	}

	shards := shardsOf(buf, unitSize, stride, k+m)
	missing := make([]bool, k+m)
	for _, e := range erasures {
		if e < 0 || e >= k+m {
			return fmt.Errorf("erasure index %d out of range: %w", e, errs.ErrInvalidData)
		}
		missing[e] = true
		shards[e] = nil
	}

	if err := enc.ReconstructData(shards); err != nil {
		return fmt.Errorf("reconstruction: %v: %w", err, errs.ErrFECFailed)
	}

	for i := 0; i < k; i++ {
		if missing[i] {
			copy(buf[i*stride:i*stride+unitSize], shards[i])
		}
	}
	return nil
}

// Encode fills the m parity slots of buf from its k source slots.
func Encode(buf []byte, unitSize, stride, k, m int) error {
	if err := checkLayout(len(buf), unitSize, stride, k, m); err != nil {
		return err
	}
	if m == 0 {
		return nil
	}

	enc, err := rs.New(k, m)
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}
	return enc.Encode(shardsOf(buf, unitSize, stride, k+m))
}
