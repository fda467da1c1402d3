package transport

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Axixi2233/chiaki-android/errs"
)

const initPayloadSize = 0x10

// InitPayload is the content of INIT and the leading part of INIT_ACK.
type InitPayload struct {
	Tag             uint32
	ARwnd           uint32
	OutboundStreams uint16
	InboundStreams  uint16
	InitialSeqNum   uint32
}

// Put writes p into buf, which must hold at least 16 bytes.
func (p *InitPayload) Put(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:], p.Tag)
	binary.BigEndian.PutUint32(buf[4:], p.ARwnd)
	binary.BigEndian.PutUint16(buf[8:], p.OutboundStreams)
	binary.BigEndian.PutUint16(buf[0xa:], p.InboundStreams)
	binary.BigEndian.PutUint32(buf[0xc:], p.InitialSeqNum)
}

// ParseInitPayload reads an InitPayload from the first 16 bytes of buf.
func ParseInitPayload(buf []byte) (InitPayload, error) {
	if len(buf) < initPayloadSize {
		return InitPayload{}, errs.ErrBufTooSmall
	}
	return InitPayload{
		Tag:             binary.BigEndian.Uint32(buf[0:]),
		ARwnd:           binary.BigEndian.Uint32(buf[4:]),
		OutboundStreams: binary.BigEndian.Uint16(buf[8:]),
		InboundStreams:  binary.BigEndian.Uint16(buf[0xa:]),
		InitialSeqNum:   binary.BigEndian.Uint32(buf[0xc:]),
	}, nil
}

// InitAckPayload is the content of INIT_ACK.
type InitAckPayload struct {
	InitPayload
	Cookie [CookieSize]byte
}

// handshake runs INIT, INIT_ACK, COOKIE, COOKIE_ACK and returns the initial
// data sequence number of the remote side.
func (t *Takion) handshake(ctx context.Context) (uint32, error) {
	log := t.log.WithField("function", "handshake")

	init := InitPayload{
		Tag:             t.tagLocal,
		ARwnd:           ARwnd,
		OutboundStreams: OutboundStreams,
		InboundStreams:  InboundStreams,
		InitialSeqNum:   t.tagLocal,
	}
	if err := t.sendInit(&init); err != nil {
		log.WithError(err).Error("Takion failed to send init")
		return 0, err
	}
	t.setState(StateInitSent)
	log.WithField("tag", fmt.Sprintf("%#x", t.tagLocal)).Info("Takion sent init")

	initAck, err := t.recvInitAck(ctx)
	if err != nil {
		log.WithError(err).Error("Takion failed to receive init ack")
		return 0, err
	}
	if initAck.Tag == 0 {
		log.Error("Takion remote tag in init ack is 0")
		return 0, fmt.Errorf("remote tag is zero: %w", errs.ErrInvalidResponse)
	}

	log.WithFields(logrus.Fields{
		"remote_tag":       fmt.Sprintf("%#x", initAck.Tag),
		"outbound_streams": initAck.OutboundStreams,
		"inbound_streams":  initAck.InboundStreams,
	}).Info("Takion received init ack")

	t.tagRemote.Store(initAck.Tag)

	if initAck.OutboundStreams == 0 || initAck.InboundStreams == 0 ||
		initAck.OutboundStreams > InboundStreams || initAck.InboundStreams < OutboundStreams {
		log.Error("Takion min/max check failed")
		return 0, fmt.Errorf("stream counts %d/%d out of bounds: %w",
			initAck.OutboundStreams, initAck.InboundStreams, errs.ErrInvalidResponse)
	}
	t.setState(StateInitAckReceived)

	if err := t.sendCookie(initAck.Cookie[:]); err != nil {
		log.WithError(err).Error("Takion failed to send cookie")
		return 0, err
	}
	t.setState(StateCookieSent)
	log.Info("Takion sent cookie")

	if err := t.recvCookieAck(ctx); err != nil {
		log.WithError(err).Error("Takion failed to receive cookie ack")
		return 0, err
	}
	log.Info("Takion received cookie ack")
	log.Info("Takion connected")

	// the console starts its data sequence at its tag
	return initAck.Tag, nil
}

func (t *Takion) sendInit(p *InitPayload) error {
	msg := make([]byte, 1+MessageHeaderSize+initPayloadSize)
	msg[0] = byte(PacketTypeControl)
	WriteMessageHeader(msg[1:], t.tagRemote.Load(), 0, ChunkTypeInit, 0, initPayloadSize)
	p.Put(msg[1+MessageHeaderSize:])
	return t.SendRaw(msg)
}

func (t *Takion) sendCookie(cookie []byte) error {
	msg := make([]byte, 1+MessageHeaderSize+CookieSize)
	msg[0] = byte(PacketTypeControl)
	WriteMessageHeader(msg[1:], t.tagRemote.Load(), 0, ChunkTypeCookie, 0, CookieSize)
	copy(msg[1+MessageHeaderSize:], cookie)
	return t.SendRaw(msg)
}

// recvHandshakeMessage waits for a control message of chunkType with exactly
// payloadSize bytes of payload.
func (t *Takion) recvHandshakeMessage(ctx context.Context, chunkType ChunkType, payloadSize int) (*Message, error) {
	size := 1 + MessageHeaderSize + payloadSize
	buf := make([]byte, size)
	n, err := t.recv(ctx, buf, t.expectTimeout)
	if err != nil {
		return nil, err
	}
	if n < size {
		return nil, fmt.Errorf("received %d bytes while expecting %d: %w", n, size, errs.ErrInvalidResponse)
	}
	if buf[0] != byte(PacketTypeControl) {
		return nil, fmt.Errorf("received packet type %#x while expecting control: %w", buf[0], errs.ErrInvalidResponse)
	}

	msg, err := t.parseMessage(buf[1:n])
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %v: %w", err, errs.ErrInvalidResponse)
	}
	if msg.ChunkType != chunkType || msg.ChunkFlags != 0 {
		return nil, fmt.Errorf("unexpected message (%#x, %#x): %w", msg.ChunkType, msg.ChunkFlags, errs.ErrInvalidResponse)
	}
	if len(msg.Payload) != payloadSize {
		return nil, fmt.Errorf("payload of %d bytes, want %d: %w", len(msg.Payload), payloadSize, errs.ErrInvalidResponse)
	}
	return msg, nil
}

func (t *Takion) recvInitAck(ctx context.Context) (*InitAckPayload, error) {
	msg, err := t.recvHandshakeMessage(ctx, ChunkTypeInitAck, initPayloadSize+CookieSize)
	if err != nil {
		return nil, err
	}
	init, err := ParseInitPayload(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("init ack: %v: %w", err, errs.ErrInvalidResponse)
	}
	p := &InitAckPayload{InitPayload: init}
	copy(p.Cookie[:], msg.Payload[initPayloadSize:])
	return p, nil
}

func (t *Takion) recvCookieAck(ctx context.Context) error {
	_, err := t.recvHandshakeMessage(ctx, ChunkTypeCookieAck, 0)
	return err
}
