package reorder

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dropRecorder struct {
	dropped []uint32
}

func (d *dropRecorder) cb(seqNum uint32, _ string) {
	d.dropped = append(d.dropped, seqNum)
}

func pullAll(q *Queue[string]) []uint32 {
	var out []uint32
	for {
		seq, _, ok := q.Pull()
		if !ok {
			return out
		}
		out = append(out, seq)
	}
}

func TestInOrderDeliveryForAnyPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, begin := range []uint32{0, 100, 0xfffffff8} {
		for round := 0; round < 50; round++ {
			q := New[string](4, begin)
			perm := rng.Perm(16)

			var delivered []uint32
			for _, p := range perm {
				q.Push(begin+uint32(p), "x")
				delivered = append(delivered, pullAll(q)...)
			}

			require.Len(t, delivered, 16)
			for i, seq := range delivered {
				assert.Equal(t, begin+uint32(i), seq)
			}
		}
	}
}

func TestPullStopsAtGap(t *testing.T) {
	q := New[string](4, 10)
	q.Push(10, "a")
	q.Push(12, "c")

	assert.Equal(t, []uint32{10}, pullAll(q))
	assert.Equal(t, uint32(2), q.Count())

	q.Push(11, "b")
	assert.Equal(t, []uint32{11, 12}, pullAll(q))
	assert.Equal(t, uint32(0), q.Count())
}

func TestPushBehindWindowIsDropped(t *testing.T) {
	rec := &dropRecorder{}
	q := New[string](4, 50)
	q.SetDropCallback(rec.cb)

	q.Push(49, "old")
	assert.Equal(t, []uint32{49}, rec.dropped)
	assert.Equal(t, uint32(0), q.Count())
}

func TestDuplicateIsDropped(t *testing.T) {
	rec := &dropRecorder{}
	q := New[string](4, 0)
	q.SetDropCallback(rec.cb)

	q.Push(3, "first")
	q.Push(3, "second")
	assert.Equal(t, []uint32{3}, rec.dropped)

	_, elem, ok := q.Peek(3)
	require.True(t, ok)
	assert.Equal(t, "first", elem)
}

func TestPushFarAheadSlidesWindow(t *testing.T) {
	rec := &dropRecorder{}
	q := New[string](4, 0)
	q.SetDropCallback(rec.cb)

	q.Push(1, "a")
	q.Push(2, "b")
	q.Push(20, "far")

	// window is now [5, 21), 1 and 2 fell out
	assert.Equal(t, []uint32{1, 2}, rec.dropped)
	assert.Equal(t, uint32(5), q.Begin())
	assert.Equal(t, uint32(16), q.Count())
	assert.Empty(t, pullAll(q))

	for s := uint32(5); s < 20; s++ {
		q.Push(s, "fill")
	}
	got := pullAll(q)
	require.Len(t, got, 16)
	assert.Equal(t, uint32(20), got[15])
}

func TestPushFarAheadOfEmptyQueue(t *testing.T) {
	q := New[string](4, 0)
	q.Push(1000, "far")
	assert.Equal(t, uint32(1000-15), q.Begin())

	q.Push(1000-15, "low")
	seq, elem, ok := q.Pull()
	require.True(t, ok)
	assert.Equal(t, uint32(985), seq)
	assert.Equal(t, "low", elem)
}

func TestPeekAndDrop(t *testing.T) {
	rec := &dropRecorder{}
	q := New[string](4, 0)
	q.SetDropCallback(rec.cb)

	q.Push(0, "a")
	q.Push(1, "b")
	q.Push(2, "c")

	seq, elem, ok := q.Peek(1)
	require.True(t, ok)
	assert.Equal(t, uint32(1), seq)
	assert.Equal(t, "b", elem)

	q.Drop(1)
	assert.Equal(t, []uint32{1}, rec.dropped)
	_, _, ok = q.Peek(1)
	assert.False(t, ok)

	assert.Equal(t, []uint32{0}, pullAll(q))
	_, _, ok = q.Peek(10)
	assert.False(t, ok)
}
