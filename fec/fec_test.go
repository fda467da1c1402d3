package fec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axixi2233/chiaki-android/errs"
)

func makeFrame(t *testing.T, rng *rand.Rand, unitSize, stride, k, m int) []byte {
	t.Helper()
	buf := make([]byte, stride*(k+m))
	for i := 0; i < k; i++ {
		rng.Read(buf[i*stride : i*stride+unitSize])
	}
	require.NoError(t, Encode(buf, unitSize, stride, k, m))
	return buf
}

func TestDecodeRecoversUpToParityCount(t *testing.T) {
	tests := []struct {
		name     string
		k, m     int
		unitSize int
		stride   int
	}{
		{"small", 4, 2, 30, 32},
		{"single parity", 7, 1, 150, 160},
		{"wide", 20, 5, 1000, 1008},
	}

	rng := rand.New(rand.NewSource(1))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := makeFrame(t, rng, tt.unitSize, tt.stride, tt.k, tt.m)

			for round := 0; round < 20; round++ {
				buf := bytes.Clone(orig)
				n := 1 + rng.Intn(tt.m)
				erasures := rng.Perm(tt.k + tt.m)[:n]
				for _, e := range erasures {
					slot := buf[e*tt.stride : e*tt.stride+tt.unitSize]
					for i := range slot {
						slot[i] = 0
					}
				}

				require.NoError(t, Decode(buf, tt.unitSize, tt.stride, tt.k, tt.m, erasures))
				for i := 0; i < tt.k; i++ {
					off := i * tt.stride
					assert.Equal(t, orig[off:off+tt.unitSize], buf[off:off+tt.unitSize], "source unit %d", i)
				}
			}
		})
	}
}

func TestDecodeTooManyErasures(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	buf := makeFrame(t, rng, 16, 16, 4, 2)

	err := Decode(buf, 16, 16, 4, 2, []int{0, 1, 2})
	assert.ErrorIs(t, err, errs.ErrFECFailed)
}

func TestDecodeNoErasuresIsNoop(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	buf := makeFrame(t, rng, 16, 16, 3, 1)
	orig := bytes.Clone(buf)

	require.NoError(t, Decode(buf, 16, 16, 3, 1, nil))
	assert.Equal(t, orig, buf)
}

func TestDecodeRejectsBadLayout(t *testing.T) {
	buf := make([]byte, 64)
	assert.ErrorIs(t, Decode(buf, 16, 16, 0, 1, []int{0}), errs.ErrInvalidData)
	assert.ErrorIs(t, Decode(buf, 32, 16, 2, 1, []int{0}), errs.ErrInvalidData)
	assert.ErrorIs(t, Decode(buf, 16, 16, 4, 2, []int{0}), errs.ErrBufTooSmall)
	assert.ErrorIs(t, Decode(buf, 16, 16, 2, 2, []int{7}), errs.ErrInvalidData)
}
