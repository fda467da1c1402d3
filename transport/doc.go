// Package transport implements Takion, the datagram protocol between a
// streaming client and a console.
//
// Takion resembles a trimmed down SCTP. A session opens with a four step
// handshake (INIT, INIT_ACK, COOKIE, COOKIE_ACK) over a connected UDP socket
// and then multiplexes control messages, video and audio units, congestion
// reports and controller feedback by the base type in the low nibble of the
// first datagram byte.
//
// Control messages carry DATA chunks that are sequenced, delivered in order
// through a 16 slot reorder window and acknowledged cumulatively. Outbound
// DATA stays in a SendBuffer until acknowledged and is resent meanwhile.
// Audio and video packets are parsed into AVPacket views; the wire layout
// depends on the protocol version (7, 9 or 12) selected at connect time.
//
// Every packet is authenticated with a truncated GMAC keyed by the position in
// the session's key stream. Inbound AV packets that arrive before the remote
// crypt is installed are postponed and replayed once it is.
//
// Example:
//
//	takion, err := transport.Connect(ctx, &transport.ConnectInfo{
//	    Addr:            "192.168.1.20:9297",
//	    ProtocolVersion: 12,
//	    EnableCrypt:     true,
//	    Handler:         handler,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer takion.Close()
//
// Events are delivered on the session goroutine and must not block.
package transport
