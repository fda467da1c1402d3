package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Axixi2233/chiaki-android/errs"
	"github.com/Axixi2233/chiaki-android/metrics"
	"github.com/Axixi2233/chiaki-android/seqnum"
)

const (
	// SendBufferSize is the capacity of the send buffer of a session. Data
	// acks can never retire more than this many packets at once.
	SendBufferSize = 16

	// ResendTimeout is the age after which an unacked packet is sent again.
	ResendTimeout = 200 * time.Millisecond
	// ResendTriesMax bounds how often a packet is sent before it is given up.
	ResendTriesMax = 10
)

// RawSender writes finished datagrams to the peer.
type RawSender interface {
	SendRaw(buf []byte) error
}

type sentPacket struct {
	seqNum   uint32
	tries    int
	lastSend time.Time
	buf      []byte
}

// SendBuffer holds outbound DATA packets until the peer acknowledges them
// and resends the ones that stay unacknowledged for too long.
type SendBuffer struct {
	mu       sync.Mutex
	packets  []sentPacket
	capacity int

	sender  RawSender
	clock   Clock
	log     logrus.FieldLogger
	metrics *metrics.Collectors
}

// NewSendBuffer creates a buffer for up to capacity packets. sender may be
// nil when resending is not used.
func NewSendBuffer(sender RawSender, capacity int, logger logrus.FieldLogger) *SendBuffer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SendBuffer{
		packets:  make([]sentPacket, 0, capacity),
		capacity: capacity,
		sender:   sender,
		clock:    SystemClock{},
		log:      logger,
	}
}

// SetClock replaces the clock used to age packets.
func (b *SendBuffer) SetClock(c Clock) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = c
}

// SetMetrics attaches collectors. nil detaches them.
func (b *SendBuffer) SetMetrics(m *metrics.Collectors) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = m
}

// Push stores buf under seqNum. The buffer takes ownership of buf. It fails
// with errs.ErrOverflow when the buffer is full.
func (b *SendBuffer) Push(seqNum uint32, buf []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.packets) >= b.capacity {
		b.log.WithFields(logrus.Fields{
			"function": "SendBuffer.Push",
			"seq_num":  seqNum,
			"capacity": b.capacity,
		}).Error("Send buffer overflow")
		return fmt.Errorf("send buffer holds %d packets: %w", len(b.packets), errs.ErrOverflow)
	}

	b.packets = append(b.packets, sentPacket{
		seqNum:   seqNum,
		tries:    0,
		lastSend: b.clock.Now(),
		buf:      buf,
	})
	b.metrics.SetSendBufferDepth(len(b.packets))
	return nil
}

// Ack retires every packet at or before the cumulative sequence number
// seqNum and returns their sequence numbers.
func (b *SendBuffer) Ack(seqNum uint32) []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var acked []uint32
	kept := b.packets[:0]
	for _, p := range b.packets {
		if p.seqNum == seqNum || seqnum.Lt32(p.seqNum, seqNum) {
			acked = append(acked, p.seqNum)
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(b.packets); i++ {
		b.packets[i] = sentPacket{}
	}
	b.packets = kept
	b.metrics.SetSendBufferDepth(len(b.packets))
	return acked
}

// Len returns the number of unacknowledged packets.
func (b *SendBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.packets)
}

// Contains reports whether seqNum is awaiting acknowledgment.
func (b *SendBuffer) Contains(seqNum uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.packets {
		if p.seqNum == seqNum {
			return true
		}
	}
	return false
}

// Run resends overdue packets until ctx is done.
func (b *SendBuffer) Run(ctx context.Context) {
	ticker := time.NewTicker(ResendTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.resend()
		}
	}
}

// resend sends every packet older than ResendTimeout again. Packets that
// exhausted ResendTriesMax are dropped.
func (b *SendBuffer) resend() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	kept := b.packets[:0]
	for _, p := range b.packets {
		if now.Sub(p.lastSend) < ResendTimeout {
			kept = append(kept, p)
			continue
		}
		if p.tries >= ResendTriesMax {
			b.log.WithFields(logrus.Fields{
				"function": "SendBuffer.resend",
				"seq_num":  p.seqNum,
				"tries":    p.tries,
			}).Warn("Giving up on unacknowledged packet")
			continue
		}

		b.log.WithFields(logrus.Fields{
			"function": "SendBuffer.resend",
			"seq_num":  p.seqNum,
		}).Debug("Resending packet")
		if b.sender != nil {
			if err := b.sender.SendRaw(p.buf); err != nil {
				b.log.WithFields(logrus.Fields{
					"function": "SendBuffer.resend",
					"seq_num":  p.seqNum,
					"error":    err.Error(),
				}).Error("Resend failed")
			}
		}
		b.metrics.Retransmitted()
		p.tries++
		p.lastSend = now
		kept = append(kept, p)
	}
	for i := len(kept); i < len(b.packets); i++ {
		b.packets[i] = sentPacket{}
	}
	b.packets = kept
	b.metrics.SetSendBufferDepth(len(b.packets))
}
