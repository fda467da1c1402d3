// Package reorder implements a bounded sliding window that buffers sequenced
// elements and releases them strictly in order.
//
// Elements older than the window are dropped on arrival. Elements far ahead of
// the window slide it forward, evicting whatever no longer fits. Every element
// that leaves the queue without being pulled is handed to the drop callback.
package reorder

import (
	"sync"

	"github.com/Axixi2233/chiaki-android/seqnum"
)

// DropFunc is invoked for elements discarded without being pulled.
type DropFunc[T any] func(seqNum uint32, elem T)

type slot[T any] struct {
	elem T
	set  bool
}

// Queue is a fixed size reorder window of 2^sizeExp slots keyed by 32-bit
// sequence numbers. It is safe for concurrent use; the drop callback runs
// with the queue lock held and must not call back into the queue.
type Queue[T any] struct {
	mu      sync.Mutex
	sizeExp uint
	slots   []slot[T]
	begin   uint32
	count   uint32
	dropCb  DropFunc[T]
}

// New creates a queue with 2^sizeExp slots expecting begin as the first
// sequence number.
func New[T any](sizeExp uint, begin uint32) *Queue[T] {
	if sizeExp > 16 {
		sizeExp = 16
	}
	return &Queue[T]{
		sizeExp: sizeExp,
		slots:   make([]slot[T], 1<<sizeExp),
		begin:   begin,
	}
}

// SetDropCallback installs cb for elements discarded by the queue.
func (q *Queue[T]) SetDropCallback(cb DropFunc[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropCb = cb
}

func (q *Queue[T]) size() uint32 {
	return uint32(len(q.slots))
}

func (q *Queue[T]) at(seqNum uint32) *slot[T] {
	return &q.slots[seqNum&(q.size()-1)]
}

func (q *Queue[T]) drop(seqNum uint32, elem T) {
	if q.dropCb != nil {
		q.dropCb(seqNum, elem)
	}
}

// Push stores elem at seqNum. Duplicates and elements behind the window are
// dropped immediately; elements beyond the window slide it forward.
func (q *Queue[T]) Push(seqNum uint32, elem T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	end := q.begin + q.count

	if seqnum.Ge32(seqNum, q.begin) && seqnum.Lt32(seqNum, end) {
		s := q.at(seqNum)
		if s.set {
			q.drop(seqNum, elem)
			return
		}
		s.elem = elem
		s.set = true
		return
	}

	if seqnum.Lt32(seqNum, q.begin) {
		q.drop(seqNum, elem)
		return
	}

	// seqNum >= end
	totalEnd := end + (q.size() - q.count)
	newEnd := seqNum + 1
	if seqnum.Lt32(totalEnd, newEnd) {
		// evict from the front until seqNum fits
		newBegin := newEnd - q.size()
		for q.count > 0 && seqnum.Lt32(q.begin, newBegin) {
			s := q.at(q.begin)
			if s.set {
				var zero T
				elem := s.elem
				s.elem = zero
				s.set = false
				q.drop(q.begin, elem)
			}
			q.begin++
			q.count--
		}
		if q.count == 0 {
			q.begin = newBegin
		}
		end = q.begin + q.count
	}

	// slots between end and seqNum stay empty
	for cur := end; cur != seqNum; cur++ {
		s := q.at(cur)
		var zero T
		s.elem = zero
		s.set = false
	}

	s := q.at(seqNum)
	s.elem = elem
	s.set = true
	q.count = newEnd - q.begin
}

// Pull removes and returns the element at the low edge of the window if it is
// present. It returns false at the first gap.
func (q *Queue[T]) Pull() (uint32, T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.count == 0 {
		return 0, zero, false
	}
	s := q.at(q.begin)
	if !s.set {
		return 0, zero, false
	}

	seqNum := q.begin
	elem := s.elem
	s.elem = zero
	s.set = false
	q.begin++
	q.count--
	return seqNum, elem, true
}

// Peek returns the element index slots past the low edge without removing it.
func (q *Queue[T]) Peek(index uint32) (uint32, T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if index >= q.count {
		return 0, zero, false
	}
	seqNum := q.begin + index
	s := q.at(seqNum)
	if !s.set {
		return 0, zero, false
	}
	return seqNum, s.elem, true
}

// Drop evicts the element index slots past the low edge, invoking the drop
// callback. The window itself does not move.
func (q *Queue[T]) Drop(index uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index >= q.count {
		return
	}
	seqNum := q.begin + index
	s := q.at(seqNum)
	if !s.set {
		return
	}
	var zero T
	elem := s.elem
	s.elem = zero
	s.set = false
	q.drop(seqNum, elem)
}

// Count returns the number of slots between the low edge and the highest
// pushed sequence number, including gaps.
func (q *Queue[T]) Count() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Begin returns the next sequence number expected at the low edge.
func (q *Queue[T]) Begin() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.begin
}

// Size returns the window size.
func (q *Queue[T]) Size() uint32 {
	return q.size()
}
