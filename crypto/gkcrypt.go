package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Axixi2233/chiaki-android/errs"
)

const (
	// BlockSize is the AES block size used by the key stream.
	BlockSize = 0x10
	// KeySize is the size of the derived AES keys.
	KeySize = 0x10
	// GMACSize is the size of the truncated GMAC tag carried in packets.
	GMACSize = 4
	// HandshakeKeySize is the size of the handshake key from session setup.
	HandshakeKeySize = 0x10
	// ECDHSecretSize is the size of the shared ECDH secret from session setup.
	ECDHSecretSize = 0x20

	// GMACKeyRefreshKeyPos is the key stream distance after which a new GMAC
	// key is derived.
	GMACKeyRefreshKeyPos = 45000
	// GMACKeyRefreshIVOffset is the IV counter step between GMAC key generations.
	GMACKeyRefreshIVOffset = 44910
)

// Index values used by the two directions of a stream connection.
const (
	IndexLocal  = 2
	IndexRemote = 3
)

// GKCrypt holds the symmetric state of one direction of a Takion session: the
// base key and IV derived from the session secrets, and the rolling GMAC key.
//
// A GKCrypt is safe for concurrent use.
type GKCrypt struct {
	index   uint8
	keyBase [KeySize]byte
	iv      [BlockSize]byte
	block   cipher.Block
	log     logrus.FieldLogger

	mu                  sync.Mutex
	keyGMACBase         [KeySize]byte
	keyGMACCurrent      [KeySize]byte
	keyGMACIndexCurrent uint64
}

// NewGKCrypt derives the key material for index from the handshake key and
// ECDH secret produced by the session setup.
func NewGKCrypt(index uint8, handshakeKey, ecdhSecret []byte) (*GKCrypt, error) {
	if len(handshakeKey) != HandshakeKeySize {
		return nil, fmt.Errorf("handshake key has %d bytes, want %d: %w", len(handshakeKey), HandshakeKeySize, errs.ErrInvalidData)
	}
	if len(ecdhSecret) != ECDHSecretSize {
		return nil, fmt.Errorf("ecdh secret has %d bytes, want %d: %w", len(ecdhSecret), ECDHSecretSize, errs.ErrInvalidData)
	}

	g := &GKCrypt{index: index, log: logrus.StandardLogger()}

	data := make([]byte, 0, 3+HandshakeKeySize+2)
	data = append(data, 1, index, 0)
	data = append(data, handshakeKey...)
	data = append(data, 1, 0)

	mac := hmac.New(sha256.New, ecdhSecret)
	mac.Write(data)
	sum := mac.Sum(nil)
	copy(g.keyBase[:], sum[:KeySize])
	copy(g.iv[:], sum[KeySize:KeySize+BlockSize])
	Wipe(data)
	Wipe(sum)

	block, err := aes.NewCipher(g.keyBase[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create key stream cipher: %w", err)
	}
	g.block = block

	g.keyGMACBase = GenGMACKey(0, g.keyBase, g.iv)
	g.keyGMACCurrent = g.keyGMACBase

	NewLogger("NewGKCrypt").
		WithField("index", index).
		WithFields(SecureFieldHash(handshakeKey, "handshake_key")).
		Debug("Derived key material")

	return g, nil
}

// SetLogger directs the debug output of g to logger. It must be called before
// g is shared.
func (g *GKCrypt) SetLogger(logger logrus.FieldLogger) {
	if logger != nil {
		g.log = logger
	}
}

// Index returns the derivation index of this context.
func (g *GKCrypt) Index() uint8 {
	return g.index
}

// counterAdd writes base + v into out, treating the block as a little endian
// integer.
func counterAdd(out *[BlockSize]byte, base [BlockSize]byte, v uint64) {
	i := 0
	for ; i < BlockSize; i++ {
		r := uint64(base[i]) + v
		out[i] = byte(r)
		v = r >> 8
		if v == 0 {
			i++
			break
		}
	}
	copy(out[i:], base[i:])
}

// GenGMACKey derives the GMAC key of generation index.
func GenGMACKey(index uint64, keyBase [KeySize]byte, iv [BlockSize]byte) [KeySize]byte {
	var data [KeySize + BlockSize]byte
	copy(data[:KeySize], keyBase[:])
	var ivCounter [BlockSize]byte
	counterAdd(&ivCounter, iv, index*GMACKeyRefreshIVOffset)
	copy(data[KeySize:], ivCounter[:])

	md := sha256.Sum256(data[:])
	var key [KeySize]byte
	for i := range key {
		key[i] = md[i] ^ md[i+KeySize]
	}
	return key
}

// gmacKeyFor returns the GMAC key responsible for keyPos, rolling the current
// generation forward when keyPos has moved past it.
func (g *GKCrypt) gmacKeyFor(keyPos uint64) [KeySize]byte {
	var keyIndex uint64
	if keyPos > 0 {
		keyIndex = (keyPos - 1) / GMACKeyRefreshKeyPos
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case keyIndex == g.keyGMACIndexCurrent:
		return g.keyGMACCurrent
	case keyIndex == 0:
		return g.keyGMACBase
	case keyIndex > g.keyGMACIndexCurrent:
		g.keyGMACCurrent = GenGMACKey(keyIndex, g.keyGMACBase, g.iv)
		g.keyGMACIndexCurrent = keyIndex
		NewLoggerWith(g.log, "GKCrypt.gmacKeyFor").
			WithField("index", g.index).
			WithFields(KeyPosFields(keyPos)).
			Debug("Refreshed GMAC key")
		return g.keyGMACCurrent
	default:
		return GenGMACKey(keyIndex, g.keyGMACBase, g.iv)
	}
}

// GMAC computes the truncated GMAC tag of buf at keyPos.
func (g *GKCrypt) GMAC(keyPos uint64, buf []byte) ([GMACSize]byte, error) {
	var tag [GMACSize]byte

	var iv [BlockSize]byte
	counterAdd(&iv, g.iv, keyPos/BlockSize)

	key := g.gmacKeyFor(keyPos)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return tag, fmt.Errorf("failed to create gmac cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, BlockSize)
	if err != nil {
		return tag, fmt.Errorf("failed to create gmac: %w", err)
	}

	// GMAC is GCM over empty plaintext with buf as additional data. A
	// truncated GCM tag is the prefix of the full tag.
	full := gcm.Seal(nil, iv[:], nil, buf)
	copy(tag[:], full[:GMACSize])
	return tag, nil
}

// keyStream fills out with key stream bytes starting at the block aligned
// position keyPos.
func (g *GKCrypt) keyStream(keyPos uint64, out []byte) {
	counter := keyPos / BlockSize
	var ctr [BlockSize]byte
	for off := 0; off < len(out); off += BlockSize {
		counterAdd(&ctr, g.iv, counter)
		g.block.Encrypt(out[off:off+BlockSize], ctr[:])
		counter++
	}
}

// Encrypt XORs buf in place with the key stream at keyPos.
func (g *GKCrypt) Encrypt(keyPos uint64, buf []byte) {
	if len(buf) == 0 {
		return
	}
	paddingPre := int(keyPos % BlockSize)
	fullSize := ((paddingPre + len(buf) + BlockSize - 1) / BlockSize) * BlockSize
	stream := make([]byte, fullSize)
	g.keyStream(keyPos-uint64(paddingPre), stream)
	for i := range buf {
		buf[i] ^= stream[paddingPre+i]
	}
}

// Decrypt is the inverse of Encrypt, which for a stream cipher is the same
// operation.
func (g *GKCrypt) Decrypt(keyPos uint64, buf []byte) {
	g.Encrypt(keyPos, buf)
}
