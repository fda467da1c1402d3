// Package congestion periodically reports the AV packet loss seen by the
// client to the console, which adapts its bitrate in response.
package congestion

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Axixi2233/chiaki-android/transport"
)

// DefaultInterval is the time between two congestion reports.
const DefaultInterval = 200 * time.Millisecond

// Stats is the source of received and lost counts. Get with reset returns
// the counts since the previous reset.
type Stats interface {
	Get(reset bool) (received, lost uint64)
}

// Sender transmits a congestion report.
type Sender interface {
	SendCongestion(p transport.CongestionPacket) error
}

// Control sends a congestion report every interval until its context ends.
type Control struct {
	sender   Sender
	stats    Stats
	interval time.Duration
	log      logrus.FieldLogger
}

// New creates a Control. A non-positive interval means DefaultInterval.
func New(sender Sender, stats Stats, interval time.Duration, logger logrus.FieldLogger) *Control {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Control{
		sender:   sender,
		stats:    stats,
		interval: interval,
		log:      logger,
	}
}

// Run blocks until ctx is done.
func (c *Control) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.report()
		}
	}
}

func (c *Control) report() {
	received, lost := c.stats.Get(true)
	p := transport.CongestionPacket{
		Received: clamp16(received),
		Lost:     clamp16(lost),
	}

	c.log.WithFields(logrus.Fields{
		"function": "Control.report",
		"received": p.Received,
		"lost":     p.Lost,
	}).Trace("Sending Congestion Control Packet")

	if err := c.sender.SendCongestion(p); err != nil {
		c.log.WithFields(logrus.Fields{
			"function": "Control.report",
			"error":    err.Error(),
		}).Warn("Failed to send congestion packet")
	}
}

func clamp16(v uint64) uint16 {
	if v > 0xffff {
		return 0xffff
	}
	return uint16(v)
}
