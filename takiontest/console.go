package takiontest

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Axixi2233/chiaki-android/crypto"
	"github.com/Axixi2233/chiaki-android/transport"
)

// Options configures a Console.
type Options struct {
	// Tag is sent in INIT_ACK. Zero uses DefaultTag.
	Tag uint32
	// OutboundStreams and InboundStreams are announced in INIT_ACK. Zero
	// uses transport.OutboundStreams and transport.InboundStreams.
	OutboundStreams uint16
	InboundStreams  uint16
	Cookie          [transport.CookieSize]byte
	// ZeroTag announces tag 0 in INIT_ACK, which clients must reject.
	ZeroTag bool
	// InitAckDelay holds INIT_ACK back after INIT arrives.
	InitAckDelay time.Duration
	// SkipCookieAck leaves COOKIE unanswered to provoke a handshake timeout.
	SkipCookieAck bool
	// Crypt authenticates packets sent by the console. It must match the
	// client's remote crypt.
	Crypt *crypto.GKCrypt

	Logger logrus.FieldLogger
}

// DefaultTag is the console tag used when Options.Tag is zero.
const DefaultTag = 0xbbbb

// Record is one datagram received by the console.
type Record struct {
	Type transport.PacketType
	Data []byte
	At   time.Time
}

// Console is a fake Takion peer.
type Console struct {
	conn *net.UDPConn
	opts Options
	log  logrus.FieldLogger

	mu         sync.Mutex
	client     *net.UDPAddr
	clientInit transport.InitPayload
	connected  bool
	received   []Record
	keyPos     uint64
	seqNum     uint32
	notify     chan struct{}

	done chan struct{}
}

// NewConsole starts a console listening on a random loopback port.
func NewConsole(opts Options) (*Console, error) {
	if opts.Tag == 0 {
		opts.Tag = DefaultTag
	}
	if opts.OutboundStreams == 0 {
		opts.OutboundStreams = transport.OutboundStreams
	}
	if opts.InboundStreams == 0 {
		opts.InboundStreams = transport.InboundStreams
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	c := &Console{
		conn:   conn,
		opts:   opts,
		log:    logger,
		seqNum: opts.Tag,
		notify: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.serve()

	logger.WithFields(logrus.Fields{
		"function": "NewConsole",
		"addr":     conn.LocalAddr().String(),
		"tag":      fmt.Sprintf("%#x", opts.Tag),
	}).Debug("Fake console listening")

	return c, nil
}

// Addr returns the host:port to connect to.
func (c *Console) Addr() string {
	return c.conn.LocalAddr().String()
}

// Close stops the console.
func (c *Console) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

// ClientInit returns the INIT payload sent by the client.
func (c *Console) ClientInit() transport.InitPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientInit
}

// Connected reports whether the console answered COOKIE.
func (c *Console) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Received returns a copy of the received log.
func (c *Console) Received() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.received))
	copy(out, c.received)
	return out
}

// WaitFor blocks until a received datagram satisfies match.
func (c *Console) WaitFor(ctx context.Context, match func(Record) bool) (Record, error) {
	seen := 0
	for {
		c.mu.Lock()
		for ; seen < len(c.received); seen++ {
			if match(c.received[seen]) {
				r := c.received[seen]
				c.mu.Unlock()
				return r, nil
			}
		}
		notify := c.notify
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-notify:
		}
	}
}

func (c *Console) serve() {
	defer close(c.done)

	buf := make([]byte, transport.MTU)
	for {
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				c.log.WithFields(logrus.Fields{
					"function": "Console.serve",
					"error":    err.Error(),
				}).Warn("Fake console read failed")
			}
			return
		}
		if n == 0 {
			continue
		}
		c.handle(bytes.Clone(buf[:n]), addr)
	}
}

func (c *Console) handle(data []byte, addr *net.UDPAddr) {
	if transport.BaseType(data[0]) == transport.PacketTypeControl && len(data) >= 1+transport.MessageHeaderSize {
		switch transport.ChunkType(data[1+0xc]) {
		case transport.ChunkTypeInit:
			c.handleInit(data, addr)
			return
		case transport.ChunkTypeCookie:
			c.handleCookie(data)
			return
		}
	}

	c.mu.Lock()
	c.received = append(c.received, Record{
		Type: transport.BaseType(data[0]),
		Data: data,
		At:   time.Now(),
	})
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()
}

func (c *Console) handleInit(data []byte, addr *net.UDPAddr) {
	msg, err := transport.ParseMessage(data[1:])
	if err != nil {
		c.log.WithField("function", "Console.handleInit").WithError(err).Warn("Malformed INIT")
		return
	}
	init, err := transport.ParseInitPayload(msg.Payload)
	if err != nil {
		c.log.WithField("function", "Console.handleInit").WithError(err).Warn("Malformed INIT payload")
		return
	}

	c.mu.Lock()
	c.client = addr
	c.clientInit = init
	c.mu.Unlock()

	tag := c.opts.Tag
	if c.opts.ZeroTag {
		tag = 0
	}
	payload := make([]byte, 0x10+transport.CookieSize)
	ack := transport.InitPayload{
		Tag:             tag,
		ARwnd:           transport.ARwnd,
		OutboundStreams: c.opts.OutboundStreams,
		InboundStreams:  c.opts.InboundStreams,
		InitialSeqNum:   c.opts.Tag,
	}
	ack.Put(payload)
	copy(payload[0x10:], c.opts.Cookie[:])

	send := func() {
		if err := c.sendMessage(transport.ChunkTypeInitAck, 0, payload, false); err != nil {
			c.log.WithField("function", "Console.handleInit").WithError(err).Warn("Failed to send INIT_ACK")
		}
	}
	if c.opts.InitAckDelay > 0 {
		time.AfterFunc(c.opts.InitAckDelay, send)
		return
	}
	send()
}

func (c *Console) handleCookie(data []byte) {
	msg, err := transport.ParseMessage(data[1:])
	if err != nil || !bytes.Equal(msg.Payload, c.opts.Cookie[:]) {
		c.log.WithField("function", "Console.handleCookie").Warn("Unexpected COOKIE")
		return
	}
	if c.opts.SkipCookieAck {
		return
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	if err := c.sendMessage(transport.ChunkTypeCookieAck, 0, nil, false); err != nil {
		c.log.WithField("function", "Console.handleCookie").WithError(err).Warn("Failed to send COOKIE_ACK")
	}
}

func (c *Console) advanceKeyPos(size int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.Crypt == nil {
		return 0
	}
	pos := c.keyPos
	c.keyPos += uint64(size)
	return pos
}

// Send writes a raw datagram to the client.
func (c *Console) Send(buf []byte) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return errors.New("no client has sent INIT yet")
	}
	_, err := c.conn.WriteToUDP(buf, client)
	return err
}

// SendSigned authenticates buf at keyPos with the console crypt, if any, and
// sends it.
func (c *Console) SendSigned(buf []byte, keyPos uint64) error {
	if _, _, err := transport.PacketMAC(c.opts.Crypt, buf, keyPos); err != nil {
		return err
	}
	return c.Send(buf)
}

func (c *Console) sendMessage(chunkType transport.ChunkType, flags uint8, payload []byte, sign bool) error {
	buf := make([]byte, 1+transport.MessageHeaderSize+len(payload))
	buf[0] = byte(transport.PacketTypeControl)

	var keyPos uint64
	if sign {
		keyPos = c.advanceKeyPos(len(buf))
	}
	c.mu.Lock()
	tag := c.clientInit.Tag
	c.mu.Unlock()

	transport.WriteMessageHeader(buf[1:], tag, keyPos, chunkType, flags, len(payload))
	copy(buf[1+transport.MessageHeaderSize:], payload)
	if sign {
		return c.SendSigned(buf, keyPos)
	}
	return c.Send(buf)
}

// NextSeqNum returns the sequence number the next SendData call will use.
func (c *Console) NextSeqNum() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seqNum
}

// SendData sends a DATA message with the next console sequence number and
// returns that number.
func (c *Console) SendData(channel uint16, dataType transport.DataType, data []byte) (uint32, error) {
	c.mu.Lock()
	seqNum := c.seqNum
	c.seqNum++
	c.mu.Unlock()
	return seqNum, c.SendDataSeq(seqNum, channel, dataType, data)
}

// SendDataSeq sends a DATA message with an explicit sequence number.
func (c *Console) SendDataSeq(seqNum uint32, channel uint16, dataType transport.DataType, data []byte) error {
	payload := make([]byte, 9+len(data))
	binary.BigEndian.PutUint32(payload[0:], seqNum)
	binary.BigEndian.PutUint16(payload[4:], channel)
	payload[8] = byte(dataType)
	copy(payload[9:], data)
	return c.sendMessage(transport.ChunkTypeData, 1, payload, true)
}

// SendDataAck acknowledges client DATA up to and including seqNum.
func (c *Console) SendDataAck(seqNum uint32) error {
	payload := make([]byte, 0xc)
	binary.BigEndian.PutUint32(payload[0:], seqNum)
	binary.BigEndian.PutUint32(payload[4:], transport.ARwnd)
	return c.sendMessage(transport.ChunkTypeDataAck, 0, payload, true)
}

// SendAV sends an AV packet in the version 7 layout with the given payload.
// The packet's key position is assigned by the console.
func (c *Console) SendAV(p *transport.AVPacket, payload []byte) error {
	buf := make([]byte, 0x20+len(payload))
	p.KeyPos = c.advanceKeyPos(len(payload))
	n, err := transport.FormatAVHeaderV7(buf, p)
	if err != nil {
		return err
	}
	buf = append(buf[:n], payload...)
	return c.SendSigned(buf, p.KeyPos)
}
