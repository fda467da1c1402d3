package transport

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/Axixi2233/chiaki-android/crypto"
	"github.com/Axixi2233/chiaki-android/errs"
)

// CongestionPacketSize is the fixed size of a CONGESTION datagram.
const CongestionPacketSize = 0xf

// feedbackHeaderSize is the envelope in front of feedback payloads:
// type, 16-bit sequence number, reserved byte, key position and GMAC.
const feedbackHeaderSize = 0xc

func hexDump(buf []byte) string {
	return hex.Dump(buf)
}

// SendRaw writes buf to the socket as is.
func (t *Takion) SendRaw(buf []byte) error {
	if _, err := t.conn.Write(buf); err != nil {
		return fmt.Errorf("send: %v: %w", err, errs.ErrNetwork)
	}
	if len(buf) > 0 {
		t.metrics.PacketSent(BaseType(buf[0]).String())
	}
	return nil
}

// AdvanceKeyPos reserves size bytes of the local key stream and returns
// their start. Without a local crypt it returns 0 and reserves nothing.
func (t *Takion) AdvanceKeyPos(size int) (uint64, error) {
	t.cryptMu.Lock()
	defer t.cryptMu.Unlock()
	return t.advanceKeyPosLocked(size)
}

func (t *Takion) advanceKeyPosLocked(size int) (uint64, error) {
	if t.gkcryptLocal == nil {
		return 0, nil
	}
	cur := t.keyPosLocal
	if math.MaxUint64-cur < uint64(size) {
		return 0, fmt.Errorf("key position %#x: %w", cur, errs.ErrOverflow)
	}
	t.keyPosLocal = cur + uint64(size)
	return cur, nil
}

// mac authenticates buf in place with the local crypt.
func (t *Takion) mac(buf []byte, keyPos uint64) error {
	t.cryptMu.Lock()
	defer t.cryptMu.Unlock()
	_, _, err := PacketMAC(t.gkcryptLocal, buf, keyPos)
	return err
}

// Send authenticates buf at keyPos and writes it to the socket.
func (t *Takion) Send(buf []byte, keyPos uint64) error {
	if err := t.mac(buf, keyPos); err != nil {
		return err
	}
	return t.SendRaw(buf)
}

// SendMessageData sends data as a DATA message on channel and keeps it in
// the send buffer until acknowledged. It returns the sequence number used.
func (t *Takion) SendMessageData(chunkFlags uint8, channel uint16, data []byte) (uint32, error) {
	if t.State() != StateConnected {
		return 0, errs.ErrDisconnected
	}

	keyPos, err := t.AdvanceKeyPos(len(data))
	if err != nil {
		return 0, err
	}

	packet := make([]byte, 1+MessageHeaderSize+dataHeaderSize+len(data))
	packet[0] = byte(PacketTypeControl)
	WriteMessageHeader(packet[1:], t.tagRemote.Load(), keyPos, ChunkTypeData, chunkFlags, dataHeaderSize+len(data))

	// the sequence number is only consumed once the packet is buffered
	t.seqMu.Lock()
	seqNum := t.seqNumLocal

	payload := packet[1+MessageHeaderSize:]
	binary.BigEndian.PutUint32(payload[0:], seqNum)
	binary.BigEndian.PutUint16(payload[4:], channel)
	payload[6], payload[7], payload[8] = 0, 0, 0
	copy(payload[dataHeaderSize:], data)

	if err := t.mac(packet, keyPos); err != nil {
		t.seqMu.Unlock()
		return 0, err
	}
	if err := t.sendBuffer.Push(seqNum, packet); err != nil {
		t.seqMu.Unlock()
		return 0, err
	}
	t.seqNumLocal++
	t.seqMu.Unlock()

	if err := t.SendRaw(packet); err != nil {
		t.log.WithFields(logrus.Fields{
			"function": "SendMessageData",
			"seq_num":  seqNum,
			"error":    err.Error(),
		}).Error("Takion failed to send data packet")
		return seqNum, err
	}
	return seqNum, nil
}

func (t *Takion) sendDataAck(seqNum uint32) error {
	buf := make([]byte, 1+MessageHeaderSize+dataAckSize)
	buf[0] = byte(PacketTypeControl)

	keyPos, err := t.AdvanceKeyPos(len(buf))
	if err != nil {
		return err
	}
	WriteMessageHeader(buf[1:], t.tagRemote.Load(), keyPos, ChunkTypeDataAck, 0, dataAckSize)

	ack := buf[1+MessageHeaderSize:]
	binary.BigEndian.PutUint32(ack[0:], seqNum)
	binary.BigEndian.PutUint32(ack[4:], ARwnd)
	binary.BigEndian.PutUint16(ack[8:], 0)
	binary.BigEndian.PutUint16(ack[0xa:], 0)

	return t.Send(buf, keyPos)
}

// FormatCongestion lays out a CONGESTION datagram with an empty MAC.
func FormatCongestion(p CongestionPacket, keyPos uint64) [CongestionPacketSize]byte {
	var buf [CongestionPacketSize]byte
	buf[0] = byte(PacketTypeCongestion)
	binary.BigEndian.PutUint16(buf[1:], p.Word0)
	binary.BigEndian.PutUint16(buf[3:], p.Received)
	binary.BigEndian.PutUint16(buf[5:], p.Lost)
	binary.BigEndian.PutUint32(buf[0xb:], uint32(keyPos))
	return buf
}

// SendCongestion reports received and lost AV units to the console.
func (t *Takion) SendCongestion(p CongestionPacket) error {
	keyPos, err := t.AdvanceKeyPos(CongestionPacketSize)
	if err != nil {
		return err
	}
	buf := FormatCongestion(p, keyPos)
	return t.Send(buf[:], keyPos)
}

// sendFeedback encrypts the payload behind the feedback envelope in buf,
// authenticates the whole datagram and sends it.
func (t *Takion) sendFeedback(buf []byte) error {
	payloadSize := len(buf) - feedbackHeaderSize

	t.cryptMu.Lock()
	if t.gkcryptLocal == nil {
		t.cryptMu.Unlock()
		return fmt.Errorf("feedback without local crypt: %w", errs.ErrUninitialized)
	}
	keyPos, err := t.advanceKeyPosLocked(payloadSize + crypto.BlockSize)
	if err != nil {
		t.cryptMu.Unlock()
		return err
	}
	t.gkcryptLocal.Encrypt(keyPos+crypto.BlockSize, buf[feedbackHeaderSize:])
	binary.BigEndian.PutUint32(buf[4:], uint32(keyPos))
	tag, err := t.gkcryptLocal.GMAC(keyPos, buf)
	t.cryptMu.Unlock()
	if err != nil {
		return err
	}
	copy(buf[8:], tag[:])

	return t.SendRaw(buf)
}

func feedbackPacket(packetType PacketType, seqNum uint16, payload []byte) []byte {
	buf := make([]byte, feedbackHeaderSize+len(payload))
	buf[0] = byte(packetType)
	binary.BigEndian.PutUint16(buf[1:], seqNum)
	copy(buf[feedbackHeaderSize:], payload)
	return buf
}

// SendFeedbackState sends an already formatted controller state.
func (t *Takion) SendFeedbackState(seqNum uint16, state []byte) error {
	return t.sendFeedback(feedbackPacket(PacketTypeFeedbackState, seqNum, state))
}

// SendFeedbackHistory sends an already formatted controller event history.
func (t *Takion) SendFeedbackHistory(seqNum uint16, history []byte) error {
	return t.sendFeedback(feedbackPacket(PacketTypeFeedbackHistory, seqNum, history))
}
