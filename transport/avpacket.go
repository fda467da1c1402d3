package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/Axixi2233/chiaki-android/crypto"
	"github.com/Axixi2233/chiaki-android/errs"
)

// AV header sizes per protocol version.
const (
	V7AVHeaderSizeBase               = 0x12
	V7AVHeaderSizeVideoAdd           = 0x3
	V7AVHeaderSizeNALUInfoStructsAdd = 0x3

	V9AVHeaderSizeVideo = 0x17
	V9AVHeaderSizeAudio = 0x12

	V12AVHeaderSizeVideo = 0x17
	V12AVHeaderSizeAudio = 0x13
)

// AVPacket is a parsed view of a video or audio datagram. Data aliases the
// datagram, the packet owns nothing.
type AVPacket struct {
	IsVideo             bool
	UsesNALUInfoStructs bool
	// IsHaptics marks v12 audio packets carrying haptics instead of sound.
	IsHaptics bool

	PacketIndex uint16
	FrameIndex  uint16
	UnitIndex   uint16
	// UnitsInFrameTotal counts source and FEC units of the frame.
	UnitsInFrameTotal uint16
	// UnitsInFrameFEC is the raw FEC field. Audio packets pack more than a
	// count into it.
	UnitsInFrameFEC uint16
	Codec           uint8

	// VideoWord is the opaque 16-bit field following the common header of
	// video packets.
	VideoWord           uint16
	AdaptiveStreamIndex uint8
	// VideoByte is the first byte after the video extension.
	VideoByte uint8

	KeyPos uint64
	Data   []byte
}

// AVParser decodes a datagram into an AVPacket. The key position is
// requested from ks without committing it.
type AVParser func(buf []byte, ks *crypto.KeyState) (*AVPacket, error)

// AVParserForVersion selects the parser of a protocol version.
func AVParserForVersion(version int) (AVParser, error) {
	switch version {
	case 7:
		return ParseAVPacketV7, nil
	case 9:
		return ParseAVPacketV9, nil
	case 12:
		return ParseAVPacketV12, nil
	default:
		return nil, fmt.Errorf("takion protocol version %d: %w", version, errs.ErrVersionMismatch)
	}
}

func avBaseType(buf []byte) (isVideo, nalu bool, err error) {
	if len(buf) < 1 {
		return false, false, errs.ErrBufTooSmall
	}
	switch BaseType(buf[0]) {
	case PacketTypeVideo:
		isVideo = true
	case PacketTypeAudio:
	default:
		return false, false, fmt.Errorf("packet type %s is not AV: %w", BaseType(buf[0]), errs.ErrInvalidData)
	}
	return isVideo, buf[0]&flagNALUInfoStructs != 0, nil
}

func unpackVideoUnits(p *AVPacket, dword uint32) {
	p.UnitIndex = uint16((dword >> 0x15) & 0x7ff)
	p.UnitsInFrameTotal = uint16(((dword >> 0xa) & 0x7ff) + 1)
	p.UnitsInFrameFEC = uint16(dword & 0x3ff)
}

func unpackAudioUnits(p *AVPacket, dword uint32) {
	p.UnitIndex = uint16((dword >> 0x18) & 0xff)
	p.UnitsInFrameTotal = uint16(((dword >> 0x10) & 0xff) + 1)
	p.UnitsInFrameFEC = uint16(dword & 0xffff)
}

// ParseAVPacketV7 parses the version 7 layout. Both video and audio use the
// 11/11/10 bit unit packing.
func ParseAVPacketV7(buf []byte, ks *crypto.KeyState) (*AVPacket, error) {
	isVideo, nalu, err := avBaseType(buf)
	if err != nil {
		return nil, err
	}
	p := &AVPacket{IsVideo: isVideo, UsesNALUInfoStructs: nalu}

	headerSize := V7AVHeaderSizeBase
	if isVideo {
		headerSize += V7AVHeaderSizeVideoAdd
	}
	if nalu {
		headerSize += V7AVHeaderSizeNALUInfoStructsAdd
	}
	if len(buf) < headerSize {
		return nil, fmt.Errorf("v7 AV packet of %d bytes: %w", len(buf), errs.ErrBufTooSmall)
	}

	p.PacketIndex = binary.BigEndian.Uint16(buf[1:])
	p.FrameIndex = binary.BigEndian.Uint16(buf[3:])
	unpackVideoUnits(p, binary.BigEndian.Uint32(buf[5:]))
	p.Codec = buf[9]
	p.KeyPos = ks.RequestPos(binary.BigEndian.Uint32(buf[0xe:]), false)

	cur := buf[V7AVHeaderSizeBase:]
	if isVideo {
		p.VideoWord = binary.BigEndian.Uint16(cur)
		p.AdaptiveStreamIndex = cur[2] >> 5
		cur = cur[3:]
	}
	if nalu {
		cur = cur[3:]
	}
	p.Data = cur
	return p, nil
}

// FormatAVHeaderV7 writes the version 7 header of p into buf and returns its
// size.
func FormatAVHeaderV7(buf []byte, p *AVPacket) (int, error) {
	headerSize := V7AVHeaderSizeBase
	if p.IsVideo {
		headerSize += V7AVHeaderSizeVideoAdd
	}
	if p.UsesNALUInfoStructs {
		headerSize += V7AVHeaderSizeNALUInfoStructsAdd
	}
	if len(buf) < headerSize {
		return headerSize, errs.ErrBufTooSmall
	}

	buf[0] = byte(PacketTypeAudio)
	if p.IsVideo {
		buf[0] = byte(PacketTypeVideo)
	}
	if p.UsesNALUInfoStructs {
		buf[0] |= flagNALUInfoStructs
	}

	binary.BigEndian.PutUint16(buf[1:], p.PacketIndex)
	binary.BigEndian.PutUint16(buf[3:], p.FrameIndex)
	binary.BigEndian.PutUint32(buf[5:],
		uint32(p.UnitsInFrameFEC&0x3ff)|
			uint32((p.UnitsInFrameTotal-1)&0x7ff)<<0xa|
			uint32(p.UnitIndex&0x7ff)<<0x15)
	buf[9] = p.Codec
	clear(buf[0xa:0xe])
	binary.BigEndian.PutUint32(buf[0xe:], uint32(p.KeyPos))

	cur := buf[V7AVHeaderSizeBase:headerSize]
	if p.IsVideo {
		binary.BigEndian.PutUint16(cur, p.VideoWord)
		cur[2] = p.AdaptiveStreamIndex << 5
		cur = cur[3:]
	}
	if p.UsesNALUInfoStructs {
		clear(cur[:3])
	}
	return headerSize, nil
}

// ParseAVPacketV9 parses the version 9 layout.
func ParseAVPacketV9(buf []byte, ks *crypto.KeyState) (*AVPacket, error) {
	p, rest, err := parseAVHeader(buf, ks, V9AVHeaderSizeVideo, V9AVHeaderSizeAudio)
	if err != nil {
		return nil, err
	}
	p.Data = rest
	return p, nil
}

// ParseAVPacketV12 parses the version 12 layout, which adds the haptics
// marker to audio packets.
func ParseAVPacketV12(buf []byte, ks *crypto.KeyState) (*AVPacket, error) {
	p, rest, err := parseAVHeader(buf, ks, V12AVHeaderSizeVideo, V12AVHeaderSizeAudio)
	if err != nil {
		return nil, err
	}
	if !p.IsVideo {
		rest = parseHapticsMarker(p, rest)
	}
	p.Data = rest
	return p, nil
}

// parseAVHeader reads the header shared by versions 9 and 12 and returns
// the bytes following it. The size checks use the header size of the
// version, so the rest always holds at least one byte.
func parseAVHeader(buf []byte, ks *crypto.KeyState, videoSize, audioSize int) (*AVPacket, []byte, error) {
	isVideo, nalu, err := avBaseType(buf)
	if err != nil {
		return nil, nil, err
	}
	p := &AVPacket{IsVideo: isVideo, UsesNALUInfoStructs: nalu}

	headerSize := audioSize
	if isVideo {
		headerSize = videoSize
	}

	av := buf[1:]
	extra := 0
	if nalu {
		extra = 3
	}
	if len(av) < headerSize+1+extra {
		return nil, nil, fmt.Errorf("AV packet of %d bytes: %w", len(buf), errs.ErrBufTooSmall)
	}

	p.PacketIndex = binary.BigEndian.Uint16(av[0:])
	p.FrameIndex = binary.BigEndian.Uint16(av[2:])
	dword := binary.BigEndian.Uint32(av[4:])
	if isVideo {
		unpackVideoUnits(p, dword)
	} else {
		unpackAudioUnits(p, dword)
	}
	p.Codec = av[8]
	p.KeyPos = ks.RequestPos(binary.BigEndian.Uint32(av[0xd:]), false)

	av = av[0x11:]
	if isVideo {
		p.VideoWord = binary.BigEndian.Uint16(av)
		p.AdaptiveStreamIndex = av[2] >> 5
		av = av[3:]
		p.VideoByte = av[0]
	} else {
		av = av[1:]
	}

	if nalu {
		av = av[3:]
	}
	return p, av, nil
}

// parseHapticsMarker consumes the v12 audio marker byte; 0x02 tags haptics.
func parseHapticsMarker(p *AVPacket, av []byte) []byte {
	p.IsHaptics = av[0] == 0x02
	return av[1:]
}
