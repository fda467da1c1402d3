// Package takiontest provides an in-process fake console for exercising
// Takion sessions over loopback UDP.
//
// # Overview
//
// Console listens on 127.0.0.1, answers the INIT and COOKIE steps of the
// handshake and records every other datagram it receives. Tests drive the
// steady state by sending DATA, DATA_ACK and AV packets through the Console,
// optionally authenticated with a crypt matching the client's remote crypt.
//
// # Usage
//
//	console, err := takiontest.NewConsole(takiontest.Options{Tag: 0xbbbb})
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer console.Close()
//
//	session, err := transport.Connect(ctx, &transport.ConnectInfo{
//	    Addr:            console.Addr(),
//	    ProtocolVersion: 7,
//	    Handler:         handler,
//	})
//
// # Received Log
//
// Every datagram that is not part of the handshake is appended to the
// received log. Use Received to inspect it and WaitFor to block until a
// datagram matching a predicate shows up.
//
// # Thread Safety
//
// All methods on Console are safe for concurrent use.
package takiontest
