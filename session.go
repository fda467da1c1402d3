package chiaki

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Axixi2233/chiaki-android/av"
	"github.com/Axixi2233/chiaki-android/config"
	"github.com/Axixi2233/chiaki-android/congestion"
	"github.com/Axixi2233/chiaki-android/crypto"
	"github.com/Axixi2233/chiaki-android/errs"
	"github.com/Axixi2233/chiaki-android/metrics"
	"github.com/Axixi2233/chiaki-android/transport"
)

// Options contains the configuration of a Session.
type Options struct {
	// Addr is the host:port of the console's stream endpoint.
	Addr             string
	ProtocolVersion  int
	EnableCrypt      bool
	DontFragment     bool
	HandshakeTimeout time.Duration
	RecvBuffer       int

	// HandshakeKey and ECDHSecret derive the session crypts. Without them
	// packets are neither authenticated nor decrypted.
	HandshakeKey []byte
	ECDHSecret   []byte

	VideoProfiles []av.VideoProfile
	// VideoFramerate is used to turn frame sizes into a bitrate.
	VideoFramerate     uint64
	CongestionInterval time.Duration

	Logger  logrus.FieldLogger
	Metrics *metrics.Collectors
}

// NewOptions returns Options with the defaults of config.Default.
func NewOptions() *Options {
	opts, _ := OptionsFromConfig(config.Default())
	return opts
}

// OptionsFromConfig converts a validated configuration into Options.
func OptionsFromConfig(cfg *config.Config) (*Options, error) {
	opts := &Options{
		Addr:               cfg.Takion.Address(),
		ProtocolVersion:    cfg.Takion.ProtocolVersion,
		EnableCrypt:        cfg.Takion.EnableCrypt,
		DontFragment:       cfg.Takion.DontFragment,
		HandshakeTimeout:   cfg.Takion.HandshakeTimeout,
		RecvBuffer:         cfg.Takion.RecvBuffer,
		VideoFramerate:     cfg.Stream.VideoFramerate,
		CongestionInterval: cfg.Stream.CongestionInterval,
	}
	if cfg.Crypto.Configured() {
		handshakeKey, ecdhSecret, err := cfg.Crypto.Keys()
		if err != nil {
			return nil, fmt.Errorf("crypto config: %w", err)
		}
		opts.HandshakeKey = handshakeKey
		opts.ECDHSecret = ecdhSecret
	}
	return opts, nil
}

// Stats is a snapshot of the session's stream counters.
type Stats struct {
	State        transport.State
	VideoFrames  uint64
	VideoBitrate uint64
	FramesLost   uint64
	AudioFrames  uint64
	Postponed    int
	SendBuffer   int
}

// Session owns one Takion connection and feeds its AV packets to the video
// and audio receivers. Received frames are reported through the Callback
// setters, which must be called before Start.
type Session struct {
	opts Options
	log  logrus.FieldLogger

	takion *transport.Takion
	stats  *av.PacketStats

	// mu guards the receivers, which are fed from the receive goroutine.
	mu    sync.Mutex
	video *av.VideoReceiver
	audio *av.AudioReceiver

	videoCb   av.VideoSampleFunc
	corruptCb av.CorruptFrameFunc
	audioCb   av.AudioFrameFunc
	hapticsCb av.AudioFrameFunc
	dataCb    func(e *transport.DataEvent)

	keyed  bool
	ctx    context.Context
	cancel context.CancelFunc
	// started is closed once takion is set; events wait for it.
	started   chan struct{}
	connected chan struct{}
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// NewSession creates a session. No I/O happens until Start.
func NewSession(opts *Options) (*Session, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if (opts.HandshakeKey == nil) != (opts.ECDHSecret == nil) {
		return nil, fmt.Errorf("handshake key and ECDH secret must be set together: %w", errs.ErrUninitialized)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Session{
		opts:      *opts,
		log:       logger,
		stats:     av.NewPacketStats(),
		started:   make(chan struct{}),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
	// the secrets are wiped once the crypts are derived
	s.opts.HandshakeKey = bytes.Clone(opts.HandshakeKey)
	s.opts.ECDHSecret = bytes.Clone(opts.ECDHSecret)
	s.keyed = opts.HandshakeKey != nil
	return s, nil
}

// CallbackVideoFrame sets the consumer of complete video frames. Returning
// false marks the frame as not decodable.
func (s *Session) CallbackVideoFrame(cb av.VideoSampleFunc) { s.videoCb = cb }

// CallbackCorruptFrame sets the consumer of corrupt frame ranges.
func (s *Session) CallbackCorruptFrame(cb av.CorruptFrameFunc) { s.corruptCb = cb }

// CallbackAudioFrame sets the consumer of encoded audio frames.
func (s *Session) CallbackAudioFrame(cb av.AudioFrameFunc) { s.audioCb = cb }

// CallbackHaptics sets the consumer of haptics frames.
func (s *Session) CallbackHaptics(cb av.AudioFrameFunc) { s.hapticsCb = cb }

// CallbackData sets the consumer of in-order DATA messages.
func (s *Session) CallbackData(cb func(e *transport.DataEvent)) { s.dataCb = cb }

// Start connects to the console. The session runs until ctx is done, Close
// is called or the connection fails.
func (s *Session) Start(ctx context.Context) error {
	if s.ctx != nil {
		return fmt.Errorf("session already started: %w", errs.ErrInvalidData)
	}

	s.video = av.NewVideoReceiver(av.VideoReceiverConfig{
		Profiles:     s.opts.VideoProfiles,
		Sample:       s.videoCb,
		CorruptFrame: s.corruptCb,
		PacketStats:  s.stats,
		Logger:       s.log,
		Metrics:      s.opts.Metrics,
	})
	s.audio = av.NewAudioReceiver(av.AudioReceiverConfig{
		Frame:       s.audioCb,
		Haptics:     s.hapticsCb,
		PacketStats: s.stats,
		Logger:      s.log,
		Metrics:     s.opts.Metrics,
	})

	s.ctx, s.cancel = context.WithCancel(ctx)

	t, err := transport.Connect(s.ctx, &transport.ConnectInfo{
		Addr:            s.opts.Addr,
		ProtocolVersion: s.opts.ProtocolVersion,
		EnableCrypt:     s.opts.EnableCrypt,
		DontFragment:    s.opts.DontFragment,
		RecvBuffer:      s.opts.RecvBuffer,
		ExpectTimeout:   s.opts.HandshakeTimeout,
		Handler:         s,
		Logger:          s.log,
		Metrics:         s.opts.Metrics,
	})
	if err != nil {
		s.cancel()
		return err
	}
	s.takion = t
	close(s.started)
	return nil
}

// HandleEvent dispatches a Takion event. It runs on the receive goroutine.
func (s *Session) HandleEvent(e *transport.Event) {
	<-s.started

	switch e.Type {
	case transport.EventConnected:
		s.onConnected()
	case transport.EventData:
		if s.dataCb != nil {
			s.dataCb(e.Data)
		}
	case transport.EventDataAck:
		s.log.WithFields(logrus.Fields{
			"function": "Session.HandleEvent",
			"seq_num":  e.DataAckSeqNum,
		}).Debug("Session data acknowledged")
	case transport.EventAV:
		s.onAV(e.AV)
	case transport.EventDisconnect:
		s.onDisconnect(e.Err)
	}
}

func (s *Session) onConnected() {
	if s.keyed {
		if err := s.installCrypts(); err != nil {
			s.log.WithFields(logrus.Fields{
				"function": "Session.onConnected",
				"error":    err.Error(),
			}).Error("Session failed to set up crypt")
			s.cancel()
			return
		}
	}

	s.log.WithFields(logrus.Fields{
		"function":   "Session.onConnected",
		"remote_tag": s.takion.RemoteTag(),
	}).Info("Session connected")

	if s.keyed {
		ctrl := congestion.New(s.takion, s.stats, s.opts.CongestionInterval, s.log)
		go ctrl.Run(s.ctx)
	}
	close(s.connected)
}

func (s *Session) installCrypts() error {
	defer crypto.Wipe(s.opts.HandshakeKey)
	defer crypto.Wipe(s.opts.ECDHSecret)

	local, err := crypto.NewGKCrypt(crypto.IndexLocal, s.opts.HandshakeKey, s.opts.ECDHSecret)
	if err != nil {
		return err
	}
	remote, err := crypto.NewGKCrypt(crypto.IndexRemote, s.opts.HandshakeKey, s.opts.ECDHSecret)
	if err != nil {
		return err
	}
	local.SetLogger(s.log)
	remote.SetLogger(s.log)
	s.takion.SetCryptLocal(local)
	s.takion.SetCryptRemote(remote)
	return nil
}

func (s *Session) onAV(p *transport.AVPacket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !p.IsVideo {
		s.audio.AVPacket(p)
		return
	}

	s.video.AVPacket(p)
	stats := s.video.StreamStats()
	if s.opts.VideoFramerate > 0 && stats.Frames >= s.opts.VideoFramerate {
		s.opts.Metrics.SetBitrate("video", stats.Bitrate(s.opts.VideoFramerate))
	}
}

func (s *Session) onDisconnect(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()

	if errs.IsShutdown(err) {
		s.log.WithField("function", "Session.onDisconnect").Info("Session closed")
	} else {
		s.log.WithFields(logrus.Fields{
			"function": "Session.onDisconnect",
			"error":    err.Error(),
		}).Error("Session disconnected")
	}
	s.cancel()
	close(s.done)
}

// Connected is closed once the handshake finished and the crypts are set.
func (s *Session) Connected() <-chan struct{} { return s.connected }

// Done is closed when the session ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the reason the session ended, nil while it runs.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Takion returns the underlying transport, nil before Start.
func (s *Session) Takion() *transport.Takion { return s.takion }

// SendData queues a DATA message on the reliable channel.
func (s *Session) SendData(channel uint16, data []byte) (uint32, error) {
	if s.takion == nil {
		return 0, errs.ErrDisconnected
	}
	return s.takion.SendMessageData(1, channel, data)
}

// Stats returns a snapshot of the stream counters.
func (s *Session) Stats() Stats {
	var st Stats
	if s.takion != nil {
		st.State = s.takion.State()
		st.Postponed = s.takion.PostponedCount()
		st.SendBuffer = s.takion.SendBuffer().Len()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.video != nil {
		video := s.video.StreamStats()
		st.VideoFrames = video.Frames
		st.VideoBitrate = video.Bitrate(s.opts.VideoFramerate)
		st.FramesLost = s.video.FramesLost()
	}
	if s.audio != nil {
		st.AudioFrames = s.audio.StreamStats().Frames
	}
	return st
}

// Close ends the session and waits for the transport to stop.
func (s *Session) Close() error {
	if s.takion == nil {
		return nil
	}
	return s.takion.Close()
}
