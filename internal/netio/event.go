package netio

// Socket event subtypes, carried in the first byte of a
// core.PTypeSocket message's payload (spec §4.9's SOCKET_OPEN /
// SOCKET_DATA / SOCKET_CLOSE / SOCKET_ERR / SOCKET_WARNING /
// SOCKET_UDP family). The remainder of the payload is event-specific:
// OPEN/CLOSE carry just the socket id (4 bytes, big-endian) appended
// after the tag; ERR carries id + the error text; DATA and UDP carry
// id + raw bytes (UDP with the 7- or 19-byte address blob appended,
// see EncodeAddr); WARNING carries id + a 4-byte
// KiB count.
const (
	EventOpen    byte = iota + 1
	EventData
	EventClose
	EventErr
	EventWarning
	EventUDP
)

func encodeEvent(tag byte, id uint32, rest []byte) []byte {
	buf := make([]byte, 5+len(rest))
	buf[0] = tag
	buf[1] = byte(id >> 24)
	buf[2] = byte(id >> 16)
	buf[3] = byte(id >> 8)
	buf[4] = byte(id)
	copy(buf[5:], rest)
	return buf
}
