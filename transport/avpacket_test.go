package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axixi2233/chiaki-android/crypto"
	"github.com/Axixi2233/chiaki-android/errs"
)

var v9VideoPacket = []byte{
	0x2, 0x0, 0x2d, 0x0, 0x5, 0x0, 0xc0, 0x1c, 0x1, 0x3, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0,
	0xe4, 0x10, 0x3, 0x67, 0x0, 0x29, 0xf3, 0x2f, 0x98, 0xf6, 0x99, 0x82, 0x83, 0x78, 0xdb, 0x29,
	0x43, 0xa9, 0xe5, 0x88, 0xf2, 0x11, 0x4, 0x20, 0xe6, 0x20, 0x96, 0xe9, 0x6, 0xee, 0xd, 0x27,
	0xa1, 0x83, 0x82, 0x88, 0xe6, 0x21, 0x49, 0x2, 0x75, 0x74, 0x32, 0x5b, 0xf6, 0xe9, 0xdc, 0x93,
	0xea, 0x31, 0x88, 0xd, 0x2b, 0x4b, 0x34, 0xf9, 0xec, 0x1b, 0x26, 0xcc, 0xbb, 0xbb, 0x81, 0xf2,
	0xd9, 0x2d, 0x8e, 0xa1, 0xb9, 0xe2, 0xb3, 0xca, 0xb2, 0x7d, 0xa3, 0x31, 0xf0, 0x42, 0xb7, 0xb6,
	0x1e, 0x8f, 0x6d, 0xa2, 0x70, 0x46, 0xfd, 0x7e, 0x9b, 0x60, 0x85, 0xb0, 0xed, 0x4f, 0x20, 0xb5,
	0x1, 0x71, 0xa9, 0xaa, 0x18, 0x6b, 0x2a, 0x90, 0xf3, 0xa7, 0x84, 0x36, 0xfd, 0x6d, 0x14, 0x83,
	0x68, 0xa3, 0x9b, 0x3a, 0xc8, 0xd4, 0x3a, 0x31, 0xa0, 0x9b, 0x61, 0xde, 0xa7, 0xed, 0x46, 0xb4,
	0xa3, 0xdf, 0x3f, 0x44, 0x8f, 0xad, 0x64, 0x9, 0xfc, 0x7a, 0xe7, 0x24, 0xf0, 0xd2, 0x42, 0xd3,
	0x57, 0x5a, 0x76, 0x0, 0xc5, 0xe0, 0x93, 0xa9, 0xf5, 0x32, 0x5d, 0xee, 0xf7, 0x9d,
}

func TestParseAVPacketV9Video(t *testing.T) {
	ks := crypto.NewKeyState()
	p, err := ParseAVPacketV9(v9VideoPacket, ks)
	require.NoError(t, err)

	assert.True(t, p.IsVideo)
	assert.False(t, p.UsesNALUInfoStructs)
	assert.Equal(t, uint16(45), p.PacketIndex)
	assert.Equal(t, uint16(5), p.FrameIndex)
	assert.Equal(t, uint16(6), p.UnitIndex)
	assert.Equal(t, uint16(8), p.UnitsInFrameTotal)
	assert.Equal(t, uint16(1), p.UnitsInFrameFEC)
	assert.Equal(t, uint8(3), p.Codec)
	assert.Equal(t, uint8(0), p.AdaptiveStreamIndex)
	assert.Equal(t, uint64(0xe410), p.KeyPos)

	require.Len(t, p.Data, 0x99)
	assert.Same(t, &v9VideoPacket[0x15], &p.Data[0])

	// parsing must not commit the key position
	assert.Equal(t, uint64(0), ks.Pos())
}

func TestParseAVPacketV9Audio(t *testing.T) {
	buf := make([]byte, 1+V9AVHeaderSizeAudio+10)
	buf[0] = byte(PacketTypeAudio)
	buf[1], buf[2] = 0x01, 0x02 // packet index
	buf[3], buf[4] = 0x00, 0x07 // frame index
	buf[5], buf[6], buf[7], buf[8] = 0x02, 0x03, 0x12, 0x34
	buf[9] = 0x05

	p, err := ParseAVPacketV9(buf, crypto.NewKeyState())
	require.NoError(t, err)
	assert.False(t, p.IsVideo)
	assert.Equal(t, uint16(0x0102), p.PacketIndex)
	assert.Equal(t, uint16(7), p.FrameIndex)
	assert.Equal(t, uint16(2), p.UnitIndex)
	assert.Equal(t, uint16(4), p.UnitsInFrameTotal)
	assert.Equal(t, uint16(0x1234), p.UnitsInFrameFEC)
	assert.Equal(t, uint8(5), p.Codec)
	assert.False(t, p.IsHaptics)
	assert.Len(t, p.Data, len(buf)-(1+0x11+1))
}

func TestParseAVPacketV12AudioHaptics(t *testing.T) {
	buf := make([]byte, 1+V12AVHeaderSizeAudio+4)
	buf[0] = byte(PacketTypeAudio)
	buf[1+0x11+1] = 0x02

	p, err := ParseAVPacketV12(buf, crypto.NewKeyState())
	require.NoError(t, err)
	assert.True(t, p.IsHaptics)
	assert.Len(t, p.Data, len(buf)-(1+0x11+2))

	buf[1+0x11+1] = 0x01
	p, err = ParseAVPacketV12(buf, crypto.NewKeyState())
	require.NoError(t, err)
	assert.False(t, p.IsHaptics)

	// v9 has no haptics byte
	p, err = ParseAVPacketV9(buf, crypto.NewKeyState())
	require.NoError(t, err)
	assert.Len(t, p.Data, len(buf)-(1+0x11+1))
}

func TestParseAVPacketV12VideoMatchesV9(t *testing.T) {
	v9, err := ParseAVPacketV9(v9VideoPacket, crypto.NewKeyState())
	require.NoError(t, err)
	v12, err := ParseAVPacketV12(v9VideoPacket, crypto.NewKeyState())
	require.NoError(t, err)
	assert.Equal(t, v9, v12)
	assert.False(t, v12.IsHaptics)
}

func TestParseAVPacketV12AudioTooShort(t *testing.T) {
	// long enough for v9 audio, one byte short for the v12 marker
	buf := make([]byte, 1+V9AVHeaderSizeAudio+1)
	buf[0] = byte(PacketTypeAudio)

	_, err := ParseAVPacketV9(buf, crypto.NewKeyState())
	require.NoError(t, err)
	_, err = ParseAVPacketV12(buf, crypto.NewKeyState())
	assert.ErrorIs(t, err, errs.ErrBufTooSmall)
}

func TestParseAVPacketNALUInfoStructs(t *testing.T) {
	buf := make([]byte, 1+V12AVHeaderSizeVideo+3+8)
	buf[0] = byte(PacketTypeVideo) | flagNALUInfoStructs
	buf[1+0x11+2] = 3 << 5

	p, err := ParseAVPacketV12(buf, crypto.NewKeyState())
	require.NoError(t, err)
	assert.True(t, p.UsesNALUInfoStructs)
	assert.Equal(t, uint8(3), p.AdaptiveStreamIndex)
	assert.Len(t, p.Data, len(buf)-(1+0x11+3+3))
}

func TestFormatAndParseAVPacketV7(t *testing.T) {
	tests := []struct {
		name string
		in   AVPacket
	}{
		{"video", AVPacket{IsVideo: true, PacketIndex: 300, FrameIndex: 12, UnitIndex: 9, UnitsInFrameTotal: 14, UnitsInFrameFEC: 3, Codec: 6, VideoWord: 0x1234, AdaptiveStreamIndex: 2, KeyPos: 0x4321}},
		{"video nalu", AVPacket{IsVideo: true, UsesNALUInfoStructs: true, FrameIndex: 1, UnitIndex: 0, UnitsInFrameTotal: 2, UnitsInFrameFEC: 1, KeyPos: 16}},
		{"audio", AVPacket{PacketIndex: 7, FrameIndex: 99, UnitIndex: 1, UnitsInFrameTotal: 3, UnitsInFrameFEC: 1, Codec: 5, KeyPos: 0x100}},
	}

	payload := []byte("unit payload")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 64)
			n, err := FormatAVHeaderV7(buf, &tt.in)
			require.NoError(t, err)
			buf = append(buf[:n], payload...)

			out, err := ParseAVPacketV7(buf, crypto.NewKeyState())
			require.NoError(t, err)

			want := tt.in
			want.Data = payload
			assert.Equal(t, &want, out)
		})
	}
}

func TestParseAVPacketErrors(t *testing.T) {
	ks := crypto.NewKeyState()

	_, err := ParseAVPacketV9(nil, ks)
	assert.ErrorIs(t, err, errs.ErrBufTooSmall)

	_, err = ParseAVPacketV9(v9VideoPacket[:0x10], ks)
	assert.ErrorIs(t, err, errs.ErrBufTooSmall)

	_, err = ParseAVPacketV7(v9VideoPacket[:V7AVHeaderSizeBase], ks)
	assert.ErrorIs(t, err, errs.ErrBufTooSmall)

	control := append([]byte(nil), v9VideoPacket...)
	control[0] = byte(PacketTypeControl)
	_, err = ParseAVPacketV12(control, ks)
	assert.ErrorIs(t, err, errs.ErrInvalidData)

	_, err = FormatAVHeaderV7(make([]byte, 4), &AVPacket{IsVideo: true})
	assert.ErrorIs(t, err, errs.ErrBufTooSmall)
}

func TestAVParserForVersion(t *testing.T) {
	for _, v := range []int{7, 9, 12} {
		p, err := AVParserForVersion(v)
		require.NoError(t, err)
		assert.NotNil(t, p)
	}
	_, err := AVParserForVersion(8)
	assert.ErrorIs(t, err, errs.ErrVersionMismatch)
}
