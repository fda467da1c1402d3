package crypto

import "runtime"

// Wipe overwrites key material with zeros once it is no longer needed.
func Wipe(data []byte) {
	clear(data)
	runtime.KeepAlive(data)
}
