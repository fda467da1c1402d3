package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Axixi2233/chiaki-android/crypto"
	"github.com/Axixi2233/chiaki-android/errs"
	"github.com/Axixi2233/chiaki-android/metrics"
	"github.com/Axixi2233/chiaki-android/reorder"
)

// Protocol constants of the handshake and data path.
const (
	ARwnd            = 0x19000
	OutboundStreams  = 0x64
	InboundStreams   = 0x64
	CookieSize       = 0x20
	ReorderQueueSize = 4 // 2^4 slots
	PostponeCapacity = 32
	MTU              = 1500

	DefaultExpectTimeout = 5 * time.Second
)

// ConnectInfo configures a Takion session.
type ConnectInfo struct {
	// Addr is the host:port of the console's stream endpoint.
	Addr string
	// ProtocolVersion selects the AV wire format: 7, 9 or 12.
	ProtocolVersion int
	// EnableCrypt holds back AV packets until a remote crypt is installed.
	EnableCrypt bool
	// DontFragment sets the IP don't-fragment bit where supported.
	DontFragment bool
	// RecvBuffer is the socket receive buffer size. Zero means ARwnd.
	RecvBuffer int
	// ExpectTimeout bounds each handshake step. Zero means
	// DefaultExpectTimeout.
	ExpectTimeout time.Duration
	// LocalTag is the tag announced in INIT. Zero picks a random tag.
	LocalTag uint32

	Handler EventHandler
	Logger  logrus.FieldLogger
	Metrics *metrics.Collectors
}

// Takion is one client session of the Takion protocol. A single goroutine
// runs the handshake and then the receive loop; events are delivered on it.
// Send methods may be called from any goroutine once connected.
type Takion struct {
	conn          *net.UDPConn
	version       int
	parseAV       AVParser
	handler       EventHandler
	enableCrypt   bool
	expectTimeout time.Duration
	log           logrus.FieldLogger
	metrics       *metrics.Collectors

	tagLocal  uint32
	tagRemote atomic.Uint32
	state     atomic.Int32

	seqMu       sync.Mutex
	seqNumLocal uint32

	cryptMu      sync.Mutex
	gkcryptLocal *crypto.GKCrypt
	keyPosLocal  uint64

	gkcryptRemote atomic.Pointer[crypto.GKCrypt]
	keyState      *crypto.KeyState
	wake          atomic.Bool

	sendBuffer *SendBuffer
	dataQueue  *reorder.Queue[*dataEntry]

	// touched by the receive goroutine only
	postponed      [][]byte
	cryptAvailable bool
	postponedCount atomic.Int32

	cancel context.CancelFunc
	done   chan struct{}
}

type dataEntry struct {
	packet  []byte
	payload []byte
	channel uint16
}

// Connect opens the socket and starts the session goroutine, which performs
// the handshake and emits EventConnected on success. Connect returns as soon
// as the socket is set up; failures after that are reported through
// EventDisconnect. The session ends when ctx is done or Close is called.
func Connect(ctx context.Context, info *ConnectInfo) (*Takion, error) {
	logger := info.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	parseAV, err := AVParserForVersion(info.ProtocolVersion)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"function": "Connect",
			"version":  info.ProtocolVersion,
		}).Error("Unknown Takion protocol version")
		return nil, err
	}

	tag := info.LocalTag
	for tag == 0 {
		tag, err = randomTag()
		if err != nil {
			return nil, err
		}
	}

	expect := info.ExpectTimeout
	if expect <= 0 {
		expect = DefaultExpectTimeout
	}

	t := &Takion{
		version:       info.ProtocolVersion,
		parseAV:       parseAV,
		handler:       info.Handler,
		enableCrypt:   info.EnableCrypt,
		expectTimeout: expect,
		log:           logger,
		metrics:       info.Metrics,
		tagLocal:      tag,
		seqNumLocal:   tag,
		keyState:      crypto.NewKeyState(),
		done:          make(chan struct{}),
	}
	t.sendBuffer = NewSendBuffer(t, SendBufferSize, logger)
	t.sendBuffer.SetMetrics(info.Metrics)

	t.log.WithFields(logrus.Fields{
		"function": "Connect",
		"version":  info.ProtocolVersion,
		"addr":     info.Addr,
	}).Info("Takion connecting")

	var d net.Dialer
	c, err := d.DialContext(ctx, "udp", info.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %v: %w", info.Addr, err, errs.ErrNetwork)
	}
	conn, ok := c.(*net.UDPConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("dial %s returned %T: %w", info.Addr, c, errs.ErrNetwork)
	}
	recvBuffer := info.RecvBuffer
	if recvBuffer <= 0 {
		recvBuffer = ARwnd
	}
	if err := setSocketOptions(conn, recvBuffer, info.DontFragment, logger); err != nil {
		conn.Close()
		return nil, err
	}
	t.conn = conn

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	go t.watchCancel(ctx)
	go t.run(ctx)

	return t, nil
}

func randomTag() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to generate tag: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// watchCancel unblocks a pending read once ctx is done.
func (t *Takion) watchCancel(ctx context.Context) {
	select {
	case <-ctx.Done():
		_ = t.conn.SetReadDeadline(time.Unix(1, 0))
	case <-t.done:
	}
}

// Close stops the session and waits for its goroutine to finish.
func (t *Takion) Close() error {
	t.cancel()
	<-t.done
	return nil
}

// Done is closed once the session goroutine has terminated.
func (t *Takion) Done() <-chan struct{} {
	return t.done
}

// State returns the handshake state.
func (t *Takion) State() State {
	return State(t.state.Load())
}

func (t *Takion) setState(s State) {
	t.state.Store(int32(s))
}

// Version returns the protocol version negotiated for the session.
func (t *Takion) Version() int {
	return t.version
}

// LocalTag returns the tag this side announced in INIT.
func (t *Takion) LocalTag() uint32 {
	return t.tagLocal
}

// RemoteTag returns the tag received in INIT_ACK, zero before that.
func (t *Takion) RemoteTag() uint32 {
	return t.tagRemote.Load()
}

// SendBuffer exposes the buffer of unacknowledged DATA packets.
func (t *Takion) SendBuffer() *SendBuffer {
	return t.sendBuffer
}

// PostponedCount returns the number of AV packets held back for the remote
// crypt.
func (t *Takion) PostponedCount() int {
	return int(t.postponedCount.Load())
}

// SetCryptLocal installs the crypt used to authenticate outbound packets.
func (t *Takion) SetCryptLocal(g *crypto.GKCrypt) {
	t.cryptMu.Lock()
	defer t.cryptMu.Unlock()
	t.gkcryptLocal = g
}

// SetCryptRemote installs the crypt used to verify inbound packets. It may
// be called once, from any goroutine; postponed packets are replayed on the
// receive goroutine right after.
func (t *Takion) SetCryptRemote(g *crypto.GKCrypt) {
	if !t.gkcryptRemote.CompareAndSwap(nil, g) {
		t.log.WithField("function", "SetCryptRemote").Warn("Remote crypt already installed")
		return
	}
	t.wake.Store(true)
	// handshake reads run on their own deadline; the loop picks the crypt
	// up before its first read
	if t.State() == StateConnected {
		_ = t.conn.SetReadDeadline(time.Now())
	}
}

func (t *Takion) emit(e *Event) {
	if t.handler != nil {
		t.handler.HandleEvent(e)
	}
}

func (t *Takion) run(ctx context.Context) {
	defer close(t.done)
	defer t.conn.Close()

	err := t.serve(ctx)
	if errs.IsShutdown(err) {
		t.log.WithField("function", "run").Info("Takion closed")
	} else {
		t.log.WithFields(logrus.Fields{
			"function": "run",
			"error":    err.Error(),
		}).Error("Takion disconnected")
	}
	t.setState(StateDisconnected)
	t.emit(&Event{Type: EventDisconnect, Err: err})
}

func (t *Takion) serve(ctx context.Context) error {
	seqNumRemoteInitial, err := t.handshake(ctx)
	if err != nil {
		t.metrics.HandshakeFinished(handshakeResult(err))
		return err
	}
	t.metrics.HandshakeFinished("success")

	t.dataQueue = reorder.New[*dataEntry](ReorderQueueSize, seqNumRemoteInitial)
	t.dataQueue.SetDropCallback(func(seqNum uint32, _ *dataEntry) {
		t.log.WithFields(logrus.Fields{
			"function": "dataQueue",
			"seq_num":  seqNum,
		}).Error("Takion dropping data")
		t.metrics.PacketDropped("reorder_window")
	})

	resendCtx, stopResend := context.WithCancel(ctx)
	defer stopResend()
	go t.sendBuffer.Run(resendCtx)

	t.setState(StateConnected)
	t.emit(&Event{Type: EventConnected})

	t.cryptAvailable = t.gkcryptRemote.Load() != nil

	for {
		t.onCryptAvailable(t.gkcryptRemote.Load())

		buf := make([]byte, MTU)
		n, err := t.recv(ctx, buf, 0)
		if errors.Is(err, errWoken) {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		t.process(buf[:n])
	}
}

// process handles one datagram read by the loop. Postponed packets go first
// so they keep their arrival order.
func (t *Takion) process(buf []byte) {
	remote := t.gkcryptRemote.Load()
	t.onCryptAvailable(remote)
	t.handlePacket(buf, remote)
}

// onCryptAvailable re-verifies queued data and replays postponed packets once
// the remote crypt shows up.
func (t *Takion) onCryptAvailable(remote *crypto.GKCrypt) {
	if remote == nil {
		return
	}

	if t.enableCrypt && !t.cryptAvailable {
		t.cryptAvailable = true
		count := t.dataQueue.Count()
		t.log.WithFields(logrus.Fields{
			"function": "onCryptAvailable",
			"count":    count,
		}).Info("Crypt has become available, re-checking MACs of queued data")
		for i := uint32(0); i < count; i++ {
			_, entry, ok := t.dataQueue.Peek(i)
			if !ok || len(entry.packet) == 0 {
				continue
			}
			if err := t.verifyMAC(entry.packet, remote); err != nil {
				t.log.WithFields(logrus.Fields{
					"function": "onCryptAvailable",
					"index":    i,
				}).Warn("Found an invalid MAC")
				t.dataQueue.Drop(i)
			}
		}
	}

	if len(t.postponed) > 0 {
		t.log.WithFields(logrus.Fields{
			"function": "onCryptAvailable",
			"count":    len(t.postponed),
		}).Info("Takion flushing postponed packets")
		packets := t.postponed
		t.postponed = nil
		for _, p := range packets {
			t.handlePacket(p, remote)
		}
		t.postponedCount.Store(0)
		t.metrics.SetPostponed(0)
	}
}

// errWoken reports that a read was interrupted to re-check session state.
var errWoken = errors.New("woken")

// recv reads one datagram. A zero timeout blocks until data arrives, the
// context ends or SetCryptRemote wakes the loop. A wakeup during a timed read
// re-arms the remaining deadline.
func (t *Takion) recv(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return 0, fmt.Errorf("set read deadline: %v: %w", err, errs.ErrNetwork)
		}
		if ctx.Err() != nil {
			return 0, errs.ErrCanceled
		}
		if timeout == 0 && t.wake.Swap(false) {
			return 0, errWoken
		}

		n, err := t.conn.Read(buf)
		if err == nil {
			return n, nil
		}
		if ctx.Err() != nil {
			return 0, errs.ErrCanceled
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			if timeout == 0 {
				return 0, errWoken
			}
			if time.Now().Before(deadline) {
				continue
			}
			return 0, fmt.Errorf("no datagram within %s: %w", timeout, errs.ErrTimeout)
		}
		t.log.WithFields(logrus.Fields{
			"function": "recv",
			"error":    err.Error(),
		}).Error("Takion recv failed")
		return 0, fmt.Errorf("recv: %v: %w", err, errs.ErrNetwork)
	}
}

// verifyMAC checks the MAC of buf against remote and commits its key
// position on success. Without a remote crypt every packet passes.
func (t *Takion) verifyMAC(buf []byte, remote *crypto.GKCrypt) error {
	if remote == nil {
		return nil
	}

	low, err := readKeyPosLow(buf)
	if err != nil {
		return fmt.Errorf("failed to read key position: %w", err)
	}
	keyPos := t.keyState.RequestPos(low, false)

	expected, actual, err := PacketMAC(remote, buf, keyPos)
	if err != nil {
		return fmt.Errorf("failed to calculate MAC: %w", err)
	}
	if expected != actual {
		t.log.WithFields(logrus.Fields{
			"function":     "verifyMAC",
			"packet_type":  BaseType(buf[0]).String(),
			"key_pos":      keyPos,
			"mac":          fmt.Sprintf("%x", actual),
			"mac_expected": fmt.Sprintf("%x", expected),
		}).Error("Takion packet MAC mismatch")
		t.log.WithField("function", "verifyMAC").Debugf("Packet:\n%s", hexDump(buf))
		return errs.ErrInvalidMAC
	}

	t.keyState.Commit(keyPos)
	return nil
}

// handlePacket processes one datagram against the remote crypt snapshot the
// caller took.
func (t *Takion) handlePacket(buf []byte, remote *crypto.GKCrypt) {
	base := BaseType(buf[0])
	t.metrics.PacketReceived(base.String())

	if err := t.verifyMAC(buf, remote); err != nil {
		t.metrics.PacketDropped(dropReason(err))
		return
	}

	switch base {
	case PacketTypeControl:
		t.handleMessage(buf)
	case PacketTypeVideo, PacketTypeAudio:
		if t.enableCrypt && remote == nil {
			t.postpone(buf)
			return
		}
		t.handleAV(buf)
	default:
		t.log.WithFields(logrus.Fields{
			"function":    "handlePacket",
			"packet_type": base.String(),
		}).Warnf("Takion packet with unknown type received:\n%s", hexDump(buf))
		t.metrics.PacketDropped("unknown_type")
	}
}

func (t *Takion) postpone(buf []byte) {
	if len(t.postponed) >= PostponeCapacity {
		t.log.WithField("function", "postpone").Error("Should postpone a packet, but there is no space left")
		t.metrics.PacketDropped("postpone_overflow")
		return
	}
	t.log.WithFields(logrus.Fields{
		"function": "postpone",
		"size":     len(buf),
	}).Info("Postpone packet")
	t.postponed = append(t.postponed, buf)
	t.postponedCount.Store(int32(len(t.postponed)))
	t.metrics.SetPostponed(len(t.postponed))
}

func (t *Takion) parseMessage(buf []byte) (*Message, error) {
	msg, err := ParseMessage(buf)
	if err != nil {
		return nil, err
	}
	if msg.Tag != t.tagLocal {
		return nil, fmt.Errorf("message tag %#x, want %#x: %w", msg.Tag, t.tagLocal, errs.ErrInvalidData)
	}
	t.keyState.RequestPos(msg.KeyPosLow, true)
	return msg, nil
}

func (t *Takion) handleMessage(buf []byte) {
	msg, err := t.parseMessage(buf[1:])
	if err != nil {
		t.log.WithFields(logrus.Fields{
			"function": "handleMessage",
			"error":    err.Error(),
		}).Error("Takion received malformed message")
		t.metrics.PacketDropped("malformed")
		return
	}

	switch msg.ChunkType {
	case ChunkTypeData:
		t.handleData(buf, msg.ChunkFlags, msg.Payload)
	case ChunkTypeDataAck:
		t.handleDataAck(msg.Payload)
	default:
		t.log.WithFields(logrus.Fields{
			"function":   "handleMessage",
			"chunk_type": msg.ChunkType,
		}).Warn("Takion received message with unknown chunk type")
	}
}

const dataHeaderSize = 9

func (t *Takion) handleData(packet []byte, flags uint8, payload []byte) {
	if flags != 1 {
		t.log.WithFields(logrus.Fields{
			"function": "handleData",
			"flags":    flags,
		}).Warn("Takion received data with unexpected flags")
	}
	if len(payload) < dataHeaderSize {
		t.log.WithField("function", "handleData").Error("Takion received data with a size less than the header size")
		t.metrics.PacketDropped("malformed")
		return
	}

	seqNum := binary.BigEndian.Uint32(payload[0:])
	t.dataQueue.Push(seqNum, &dataEntry{
		packet:  packet,
		payload: payload,
		channel: binary.BigEndian.Uint16(payload[4:]),
	})
	t.flushDataQueue()
}

func (t *Takion) flushDataQueue() {
	var (
		seqNum uint32
		ack    bool
	)
	for {
		s, entry, ok := t.dataQueue.Pull()
		if !ok {
			break
		}
		seqNum, ack = s, true

		if zero := binary.BigEndian.Uint16(entry.payload[6:]); zero != 0 {
			t.log.WithFields(logrus.Fields{
				"function": "flushDataQueue",
				"value":    zero,
			}).Warn("Takion received data with unexpected nonzero field")
		}

		dataType := DataType(entry.payload[8])
		if !dataType.known() {
			t.log.WithFields(logrus.Fields{
				"function":  "flushDataQueue",
				"data_type": dataType.String(),
			}).Warnf("Takion received data with unexpected data type:\n%s", hexDump(entry.packet))
			continue
		}

		t.metrics.DataDelivered()
		t.emit(&Event{
			Type: EventData,
			Data: &DataEvent{
				DataType: dataType,
				Channel:  entry.channel,
				Buf:      entry.payload[dataHeaderSize:],
			},
		})
	}

	if ack {
		if err := t.sendDataAck(seqNum); err != nil {
			t.log.WithFields(logrus.Fields{
				"function": "flushDataQueue",
				"seq_num":  seqNum,
				"error":    err.Error(),
			}).Error("Takion failed to send data ack")
		}
	}
}

const dataAckSize = 0xc

func (t *Takion) handleDataAck(payload []byte) {
	if len(payload) < dataAckSize {
		t.log.WithFields(logrus.Fields{
			"function": "handleDataAck",
			"size":     len(payload),
		}).Error("Takion received data ack that is too short")
		return
	}

	cumulative := binary.BigEndian.Uint32(payload[0:])
	gapBlocks := binary.BigEndian.Uint16(payload[8:])
	dupTSNs := binary.BigEndian.Uint16(payload[0xa:])

	if len(payload) != int(gapBlocks)*4+dataAckSize {
		t.log.WithFields(logrus.Fields{
			"function":   "handleDataAck",
			"gap_blocks": gapBlocks,
		}).Warn("Takion received data ack with invalid gap ack blocks count")
		return
	}
	if dupTSNs != 0 {
		t.log.WithFields(logrus.Fields{
			"function": "handleDataAck",
			"dup_tsns": dupTSNs,
		}).Warn("Takion received data ack with nonzero dup tsns count")
	}

	t.log.WithFields(logrus.Fields{
		"function": "handleDataAck",
		"seq_num":  cumulative,
		"a_rwnd":   binary.BigEndian.Uint32(payload[4:]),
	}).Debug("Takion received data ack")

	for _, seqNum := range t.sendBuffer.Ack(cumulative) {
		t.emit(&Event{Type: EventDataAck, DataAckSeqNum: seqNum})
	}
}

func (t *Takion) handleAV(buf []byte) {
	packet, err := t.parseAV(buf, t.keyState)
	if err != nil {
		t.log.WithFields(logrus.Fields{
			"function": "handleAV",
			"error":    err.Error(),
		}).Error("Takion received invalid AV packet")
		t.metrics.PacketDropped("malformed")
		return
	}
	t.keyState.Commit(packet.KeyPos)
	t.emit(&Event{Type: EventAV, AV: packet})
}

func handshakeResult(err error) string {
	switch {
	case errors.Is(err, errs.ErrTimeout):
		return "timeout"
	case errors.Is(err, errs.ErrInvalidResponse):
		return "invalid_response"
	case errors.Is(err, errs.ErrCanceled):
		return "canceled"
	default:
		return "error"
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, errs.ErrInvalidMAC):
		return "invalid_mac"
	case errors.Is(err, errs.ErrBufTooSmall):
		return "too_small"
	default:
		return "malformed"
	}
}
