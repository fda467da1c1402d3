// Package metrics exposes Prometheus collectors for Takion sessions and the
// frame processors fed by them.
//
// All recording methods are safe to call on a nil *Collectors, so components
// can be used without metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "takion"

// Collectors contains all Prometheus metrics of a session.
type Collectors struct {
	// Transport metrics
	PacketsReceived *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec
	PacketsSent     *prometheus.CounterVec
	Retransmissions prometheus.Counter
	SendBufferDepth prometheus.Gauge
	PostponedDepth  prometheus.Gauge
	DataMessages    prometheus.Counter
	Handshakes      *prometheus.CounterVec

	// Frame metrics
	FramesFlushed *prometheus.CounterVec
	StreamBitrate *prometheus.GaugeVec
	PacketsLost   prometheus.Counter
	UnitsReceived *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg
// registers with the default registry.
func New(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collectors{
		PacketsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Total number of datagrams received, by packet type",
		}, []string{"type"}),
		PacketsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Total number of datagrams discarded, by reason",
		}, []string{"reason"}),
		PacketsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Total number of datagrams sent, by packet type",
		}, []string{"type"}),
		Retransmissions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retransmissions_total",
			Help:      "Total number of DATA packets sent again for lack of an ack",
		}),
		SendBufferDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "send_buffer_depth",
			Help:      "Current number of unacknowledged DATA packets",
		}),
		PostponedDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "postponed_packets",
			Help:      "Current number of AV packets waiting for the remote crypt",
		}),
		DataMessages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_messages_total",
			Help:      "Total number of DATA messages delivered in order",
		}),
		Handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Total number of handshakes, by result",
		}, []string{"result"}),

		FramesFlushed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_flushed_total",
			Help:      "Total number of frames flushed, by stream and result",
		}, []string{"stream", "result"}),
		StreamBitrate: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_bitrate_bits",
			Help:      "Measured bitrate per stream in bits per second",
		}, []string{"stream"}),
		PacketsLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "av_units_lost_total",
			Help:      "Total number of AV units that never arrived",
		}),
		UnitsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "av_units_received_total",
			Help:      "Total number of AV units received, by stream",
		}, []string{"stream"}),
	}
}

// PacketReceived counts an inbound datagram of the given type.
func (c *Collectors) PacketReceived(packetType string) {
	if c == nil {
		return
	}
	c.PacketsReceived.WithLabelValues(packetType).Inc()
}

// PacketDropped counts a discarded datagram.
func (c *Collectors) PacketDropped(reason string) {
	if c == nil {
		return
	}
	c.PacketsDropped.WithLabelValues(reason).Inc()
}

// PacketSent counts an outbound datagram of the given type.
func (c *Collectors) PacketSent(packetType string) {
	if c == nil {
		return
	}
	c.PacketsSent.WithLabelValues(packetType).Inc()
}

// Retransmitted counts one resent DATA packet.
func (c *Collectors) Retransmitted() {
	if c == nil {
		return
	}
	c.Retransmissions.Inc()
}

// SetSendBufferDepth records the number of unacknowledged packets.
func (c *Collectors) SetSendBufferDepth(n int) {
	if c == nil {
		return
	}
	c.SendBufferDepth.Set(float64(n))
}

// SetPostponed records the number of postponed AV packets.
func (c *Collectors) SetPostponed(n int) {
	if c == nil {
		return
	}
	c.PostponedDepth.Set(float64(n))
}

// DataDelivered counts one in-order DATA message.
func (c *Collectors) DataDelivered() {
	if c == nil {
		return
	}
	c.DataMessages.Inc()
}

// HandshakeFinished counts a handshake by result, "success" or the error.
func (c *Collectors) HandshakeFinished(result string) {
	if c == nil {
		return
	}
	c.Handshakes.WithLabelValues(result).Inc()
}

// FrameFlushed counts a flushed frame of stream ("video" or "audio").
func (c *Collectors) FrameFlushed(stream, result string) {
	if c == nil {
		return
	}
	c.FramesFlushed.WithLabelValues(stream, result).Inc()
}

// SetBitrate records the measured bitrate of stream.
func (c *Collectors) SetBitrate(stream string, bps uint64) {
	if c == nil {
		return
	}
	c.StreamBitrate.WithLabelValues(stream).Set(float64(bps))
}

// UnitsObserved adds received and lost unit counts of stream.
func (c *Collectors) UnitsObserved(stream string, received, lost uint64) {
	if c == nil {
		return
	}
	c.UnitsReceived.WithLabelValues(stream).Add(float64(received))
	c.PacketsLost.Add(float64(lost))
}
