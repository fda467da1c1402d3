package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testHandshakeKey = []byte{0x54, 0x65, 0x4c, 0x34, 0x5c, 0xac, 0x56, 0xb8, 0xea, 0xe6, 0x15, 0x2a, 0xde, 0x1c, 0xe2, 0xe8}
	testECDHSecret   = []byte{
		0x00, 0x34, 0xf8, 0x21, 0xc7, 0xd9, 0xde, 0xa9, 0xe9, 0x11, 0xca, 0x5a, 0xd6, 0x7d, 0x11, 0xce,
		0x4f, 0x02, 0xb1, 0xce, 0x1e, 0xe7, 0xc3, 0x8d, 0x54, 0x39, 0xfa, 0x64, 0xe3, 0xdb, 0xd8, 0x0d,
	}
)

func TestNewGKCryptRejectsBadKeySizes(t *testing.T) {
	_, err := NewGKCrypt(IndexLocal, testHandshakeKey[:8], testECDHSecret)
	assert.Error(t, err)
	_, err = NewGKCrypt(IndexLocal, testHandshakeKey, testECDHSecret[:16])
	assert.Error(t, err)
}

func TestGKCryptIndexChangesKeys(t *testing.T) {
	local, err := NewGKCrypt(IndexLocal, testHandshakeKey, testECDHSecret)
	require.NoError(t, err)
	remote, err := NewGKCrypt(IndexRemote, testHandshakeKey, testECDHSecret)
	require.NoError(t, err)

	assert.NotEqual(t, local.keyBase, remote.keyBase)
	assert.NotEqual(t, local.iv, remote.iv)
	assert.Equal(t, uint8(IndexLocal), local.Index())
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	g, err := NewGKCrypt(IndexLocal, testHandshakeKey, testECDHSecret)
	require.NoError(t, err)

	plain := []byte("the quick brown fox jumps over the lazy dog, twice over")
	for _, keyPos := range []uint64{0, 3, 0x10, 0x1e5, 90001} {
		buf := append([]byte(nil), plain...)
		g.Encrypt(keyPos, buf)
		assert.False(t, bytes.Equal(buf, plain), "key pos %d", keyPos)
		g.Decrypt(keyPos, buf)
		assert.Equal(t, plain, buf, "key pos %d", keyPos)
	}
}

func TestEncryptUnalignedMatchesAligned(t *testing.T) {
	g, err := NewGKCrypt(IndexLocal, testHandshakeKey, testECDHSecret)
	require.NoError(t, err)

	whole := make([]byte, 48)
	g.Encrypt(0x20, whole)

	part := make([]byte, 16)
	g.Encrypt(0x25, part)
	assert.Equal(t, whole[5:21], part)
}

func TestGMACDependsOnKeyPosAndData(t *testing.T) {
	g, err := NewGKCrypt(IndexRemote, testHandshakeKey, testECDHSecret)
	require.NoError(t, err)

	buf := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	a, err := g.GMAC(0x100, buf)
	require.NoError(t, err)
	again, err := g.GMAC(0x100, buf)
	require.NoError(t, err)
	assert.Equal(t, a, again)

	b, err := g.GMAC(0x200, buf)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	buf[4] ^= 1
	c, err := g.GMAC(0x100, buf)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestGMACKeyRefresh(t *testing.T) {
	g, err := NewGKCrypt(IndexRemote, testHandshakeKey, testECDHSecret)
	require.NoError(t, err)

	buf := []byte("refresh")
	early, err := g.GMAC(100, buf)
	require.NoError(t, err)

	// jumping ahead rolls the current key, going back must still verify
	_, err = g.GMAC(3*GMACKeyRefreshKeyPos+10, buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), g.keyGMACIndexCurrent)

	earlyAgain, err := g.GMAC(100, buf)
	require.NoError(t, err)
	assert.Equal(t, early, earlyAgain)

	mid1, err := g.GMAC(GMACKeyRefreshKeyPos+16, buf)
	require.NoError(t, err)
	mid2, err := g.GMAC(GMACKeyRefreshKeyPos+16, buf)
	require.NoError(t, err)
	assert.Equal(t, mid1, mid2)
}

func TestCounterAddCarries(t *testing.T) {
	var base [BlockSize]byte
	base[0] = 0xff
	base[1] = 0xff
	base[5] = 0x42

	var out [BlockSize]byte
	counterAdd(&out, base, 1)
	assert.Equal(t, byte(0), out[0])
	assert.Equal(t, byte(0), out[1])
	assert.Equal(t, byte(1), out[2])
	assert.Equal(t, byte(0x42), out[5])
}
