package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorsAreSafe(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.PacketReceived("video")
		c.PacketDropped("invalid_mac")
		c.PacketSent("control")
		c.Retransmitted()
		c.SetSendBufferDepth(3)
		c.SetPostponed(1)
		c.DataDelivered()
		c.HandshakeFinished("success")
		c.FrameFlushed("video", "success")
		c.SetBitrate("audio", 128000)
		c.UnitsObserved("video", 10, 2)
	})
}

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.PacketReceived("video")
	c.PacketReceived("video")
	c.PacketDropped("invalid_mac")
	c.Retransmitted()
	c.SetSendBufferDepth(5)
	c.FrameFlushed("audio", "fec_success")
	c.SetBitrate("video", 4000)
	c.UnitsObserved("video", 7, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.PacketsReceived.WithLabelValues("video")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PacketsDropped.WithLabelValues("invalid_mac")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Retransmissions))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.SendBufferDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FramesFlushed.WithLabelValues("audio", "fec_success")))
	assert.Equal(t, 4000.0, testutil.ToFloat64(c.StreamBitrate.WithLabelValues("video")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.UnitsReceived.WithLabelValues("video")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.PacketsLost))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewRegistersOnlyOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
