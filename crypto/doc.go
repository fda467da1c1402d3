// Package crypto implements the symmetric state of a Takion session.
//
// # Key position
//
// Every byte sent in one direction of a session occupies a position in a
// conceptually infinite key stream. Packets carry the low 32 bits of the
// position at which they were authenticated; [KeyState] extrapolates the full
// 64-bit value and is only committed after a packet's MAC has been verified.
//
// # GKCrypt
//
// [GKCrypt] derives a base key and IV from the session's handshake key and
// ECDH secret:
//
//	local, _ := crypto.NewGKCrypt(crypto.IndexLocal, handshakeKey, ecdhSecret)
//	remote, _ := crypto.NewGKCrypt(crypto.IndexRemote, handshakeKey, ecdhSecret)
//
// It offers a truncated GMAC over a buffer at a key position (packet
// authentication) and a counter mode key stream (feedback payload
// encryption). The GMAC key rolls over every [GMACKeyRefreshKeyPos] bytes.
package crypto
