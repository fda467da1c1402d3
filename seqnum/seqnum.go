// Package seqnum implements serial number arithmetic (RFC 1982) for the 16 and
// 32 bit sequence numbers used on the wire.
package seqnum

const (
	half16 = 1 << 15
	half32 = 1 << 31
)

// Lt16 reports whether a precedes b in 16-bit serial number space.
func Lt16(a, b uint16) bool {
	if a == b {
		return false
	}
	return (a < b && b-a < half16) || (a > b && a-b > half16)
}

// Gt16 reports whether a follows b in 16-bit serial number space.
func Gt16(a, b uint16) bool {
	if a == b {
		return false
	}
	return (a < b && b-a > half16) || (a > b && a-b < half16)
}

// Lt32 reports whether a precedes b in 32-bit serial number space.
func Lt32(a, b uint32) bool {
	if a == b {
		return false
	}
	return (a < b && b-a < half32) || (a > b && a-b > half32)
}

// Gt32 reports whether a follows b in 32-bit serial number space.
func Gt32(a, b uint32) bool {
	if a == b {
		return false
	}
	return (a < b && b-a > half32) || (a > b && a-b < half32)
}

// Le32 reports whether a equals or precedes b.
func Le32(a, b uint32) bool {
	return a == b || Lt32(a, b)
}

// Ge32 reports whether a equals or follows b.
func Ge32(a, b uint32) bool {
	return a == b || Gt32(a, b)
}
