// Package chiaki connects to a console's stream endpoint over Takion and
// turns the received AV packets into video and audio frames.
//
// # Getting Started
//
// Load a configuration, create a session and register the frame consumers
// before starting it:
//
//	cfg, err := config.Load("client.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	opts, err := chiaki.OptionsFromConfig(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	session, err := chiaki.NewSession(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	session.CallbackVideoFrame(func(frame []byte) bool {
//	    return decoder.Push(frame) == nil
//	})
//	session.CallbackAudioFrame(sink.Frame)
//
//	if err := session.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//	<-session.Done()
//
// # Core Types
//
//   - [Session]: owns the Takion connection and the frame receivers
//   - [Options]: connection, key and stream settings of a session
//   - [Stats]: a snapshot of the stream counters
//
// # Threading
//
// Frame callbacks run on the session's receive goroutine and must return
// quickly. Frames passed to them are only valid during the call.
//
// Once connected, a session with keys installs the local and remote crypts
// and starts sending congestion reports built from the packet statistics
// of both receivers.
package chiaki
