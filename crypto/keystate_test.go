package crypto

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyStateMonotonicAcrossWraparound(t *testing.T) {
	ks := NewKeyState()
	rng := rand.New(rand.NewSource(42))

	var truePos uint64
	var last uint64
	for i := 0; i < 20000; i++ {
		truePos += uint64(rng.Int63n(1 << 30))
		got := ks.RequestPos(uint32(truePos), true)
		if got != truePos {
			t.Fatalf("step %d: reconstructed %#x, want %#x", i, got, truePos)
		}
		if got < last {
			t.Fatalf("step %d: position regressed from %#x to %#x", i, last, got)
		}
		last = got
	}
	assert.Greater(t, ks.Pos(), uint64(1)<<32, "walk should have crossed several cycles")
}

func TestKeyStateRequestWithoutCommit(t *testing.T) {
	ks := NewKeyState()
	ks.Commit(0x1_fffffff0)

	assert.Equal(t, uint64(0x2_00000010), ks.RequestPos(0x10, false))
	assert.Equal(t, uint64(0x1_fffffff0), ks.Pos(), "request without commit must not move the state")

	assert.Equal(t, uint64(0x1_ffffff00), ks.RequestPos(0xffffff00, false))
}

func TestKeyStateBackwardAcrossCycle(t *testing.T) {
	ks := NewKeyState()
	ks.Commit(0x2_00000010)

	// a slightly late packet from the previous cycle
	assert.Equal(t, uint64(0x1_fffffff0), ks.RequestPos(0xfffffff0, true))
	assert.Equal(t, uint64(0x2_00000010), ks.Pos(), "commit is a ratchet")
}

func TestKeyStateCommitRatchet(t *testing.T) {
	ks := NewKeyState()
	ks.Commit(500)
	ks.Commit(100)
	assert.Equal(t, uint64(500), ks.Pos())
	ks.Commit(501)
	assert.Equal(t, uint64(501), ks.Pos())
}
