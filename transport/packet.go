package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/Axixi2233/chiaki-android/crypto"
	"github.com/Axixi2233/chiaki-android/errs"
)

// PacketType is the base type of a Takion datagram, stored in the low nibble
// of its first byte.
type PacketType uint8

const (
	PacketTypeControl             PacketType = 0
	PacketTypeFeedbackHistory     PacketType = 1
	PacketTypeVideo               PacketType = 2
	PacketTypeAudio               PacketType = 3
	PacketTypeHandshake           PacketType = 4
	PacketTypeCongestion          PacketType = 5
	PacketTypeFeedbackState       PacketType = 6
	PacketTypeClientInfo          PacketType = 8
	PacketTypePadInfoEvent        PacketType = 9
	PacketTypePadAdaptiveTriggers PacketType = 11
)

// PacketBaseTypeMask selects the base type from the first datagram byte.
const PacketBaseTypeMask = 0xf

// flagNALUInfoStructs is set in the first byte of AV packets carrying the
// extended NALU info header.
const flagNALUInfoStructs = 0x10

// BaseType extracts the packet type from the first byte of a datagram.
func BaseType(b byte) PacketType {
	return PacketType(b & PacketBaseTypeMask)
}

// String returns a human readable name for logging.
func (t PacketType) String() string {
	switch t {
	case PacketTypeControl:
		return "control"
	case PacketTypeFeedbackHistory:
		return "feedback_history"
	case PacketTypeVideo:
		return "video"
	case PacketTypeAudio:
		return "audio"
	case PacketTypeHandshake:
		return "handshake"
	case PacketTypeCongestion:
		return "congestion"
	case PacketTypeFeedbackState:
		return "feedback_state"
	case PacketTypeClientInfo:
		return "client_info"
	case PacketTypePadInfoEvent:
		return "pad_info_event"
	case PacketTypePadAdaptiveTriggers:
		return "pad_adaptive_triggers"
	default:
		return fmt.Sprintf("unknown(%#x)", uint8(t))
	}
}

// MACOffset returns the offset of the GMAC field inside packets of type t.
func MACOffset(t PacketType) (int, error) {
	switch t {
	case PacketTypeControl:
		return 5, nil
	case PacketTypeVideo, PacketTypeAudio:
		return 0xa, nil
	case PacketTypeCongestion:
		return 7, nil
	default:
		return 0, fmt.Errorf("no MAC for packet type %s: %w", t, errs.ErrInvalidData)
	}
}

// KeyPosOffset returns the offset of the 32-bit key position field inside
// packets of type t.
func KeyPosOffset(t PacketType) (int, error) {
	switch t {
	case PacketTypeControl:
		return 9, nil
	case PacketTypeVideo, PacketTypeAudio:
		return 0xe, nil
	case PacketTypeCongestion:
		return 0xb, nil
	default:
		return 0, fmt.Errorf("no key position for packet type %s: %w", t, errs.ErrInvalidData)
	}
}

// PacketMAC computes the GMAC of buf at keyPos and stores it in the packet's
// MAC field. It returns the new MAC along with the value the field held
// before, so a receiver verifies a packet by comparing the two.
//
// The MAC field is zeroed while computing. For control and congestion packets
// the key position field is excluded as well and restored afterwards. With a
// nil crypt the MAC field is only cleared.
func PacketMAC(crypt *crypto.GKCrypt, buf []byte, keyPos uint64) (mac, macOld [crypto.GMACSize]byte, err error) {
	if len(buf) < 1 {
		return mac, macOld, errs.ErrBufTooSmall
	}

	base := BaseType(buf[0])
	macOffset, err := MACOffset(base)
	if err != nil {
		return mac, macOld, err
	}
	keyPosOffset, err := KeyPosOffset(base)
	if err != nil {
		return mac, macOld, err
	}
	if len(buf) < macOffset+crypto.GMACSize || len(buf) < keyPosOffset+4 {
		return mac, macOld, fmt.Errorf("%s packet of %d bytes: %w", base, len(buf), errs.ErrBufTooSmall)
	}

	field := buf[macOffset : macOffset+crypto.GMACSize]
	copy(macOld[:], field)
	clear(field)

	if crypt != nil {
		excludeKeyPos := base == PacketTypeControl || base == PacketTypeCongestion
		var keyPosTmp [4]byte
		if excludeKeyPos {
			copy(keyPosTmp[:], buf[keyPosOffset:keyPosOffset+4])
			clear(buf[keyPosOffset : keyPosOffset+4])
		}
		tag, gerr := crypt.GMAC(keyPos, buf)
		if excludeKeyPos {
			copy(buf[keyPosOffset:keyPosOffset+4], keyPosTmp[:])
		}
		if gerr != nil {
			return mac, macOld, gerr
		}
		copy(field, tag[:])
	}

	copy(mac[:], field)
	return mac, macOld, nil
}

// readKeyPosLow returns the wire key position of buf.
func readKeyPosLow(buf []byte) (uint32, error) {
	if len(buf) < 1 {
		return 0, errs.ErrBufTooSmall
	}
	off, err := KeyPosOffset(BaseType(buf[0]))
	if err != nil {
		return 0, err
	}
	if len(buf) < off+4 {
		return 0, errs.ErrBufTooSmall
	}
	return binary.BigEndian.Uint32(buf[off:]), nil
}

// ChunkType identifies the message carried by a control packet.
type ChunkType uint8

const (
	ChunkTypeData      ChunkType = 0
	ChunkTypeInit      ChunkType = 1
	ChunkTypeInitAck   ChunkType = 2
	ChunkTypeDataAck   ChunkType = 3
	ChunkTypeCookie    ChunkType = 0xa
	ChunkTypeCookieAck ChunkType = 0xb
)

// MessageHeaderSize is the size of the message header following the type
// byte of a control packet.
const MessageHeaderSize = 0x10

// Message is a parsed control message. Payload aliases the datagram.
type Message struct {
	Tag        uint32
	KeyPosLow  uint32
	ChunkType  ChunkType
	ChunkFlags uint8
	Payload    []byte
}

// WriteMessageHeader writes a message header into buf, which must hold at
// least MessageHeaderSize bytes. payloadSize excludes the chunk header.
func WriteMessageHeader(buf []byte, tag uint32, keyPos uint64, chunkType ChunkType, chunkFlags uint8, payloadSize int) {
	binary.BigEndian.PutUint32(buf[0:], tag)
	clear(buf[4 : 4+crypto.GMACSize])
	binary.BigEndian.PutUint32(buf[8:], uint32(keyPos))
	buf[0xc] = byte(chunkType)
	buf[0xd] = chunkFlags
	binary.BigEndian.PutUint16(buf[0xe:], uint16(payloadSize+4))
}

// ParseMessage parses the message in buf, which starts right after the
// packet type byte.
func ParseMessage(buf []byte) (*Message, error) {
	if len(buf) < MessageHeaderSize {
		return nil, fmt.Errorf("message of %d bytes is too short: %w", len(buf), errs.ErrInvalidData)
	}

	msg := &Message{
		Tag:        binary.BigEndian.Uint32(buf[0:]),
		KeyPosLow:  binary.BigEndian.Uint32(buf[8:]),
		ChunkType:  ChunkType(buf[0xc]),
		ChunkFlags: buf[0xd],
	}

	size := int(binary.BigEndian.Uint16(buf[0xe:]))
	if len(buf) != size+0xc {
		return nil, fmt.Errorf("message length field %#x does not match %d bytes: %w", size, len(buf), errs.ErrInvalidData)
	}
	if size-4 > 0 {
		msg.Payload = buf[MessageHeaderSize:]
	}
	return msg, nil
}
