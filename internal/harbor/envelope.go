package harbor

import (
	"encoding/binary"
	"fmt"

	"github.com/webitel/skywork/internal/core"
)

// encodeEnvelope flattens a Message to bytes for the delegate
// transport: source(4) dest(4) session(4) type(1) payload.
func encodeEnvelope(msg core.Message) []byte {
	buf := make([]byte, 13+len(msg.Payload))
	binary.BigEndian.PutUint32(buf[0:], uint32(msg.Source))
	binary.BigEndian.PutUint32(buf[4:], uint32(msg.Dest))
	binary.BigEndian.PutUint32(buf[8:], uint32(msg.Session))
	buf[12] = msg.Type
	copy(buf[13:], msg.Payload)
	return buf
}

func decodeEnvelope(b []byte) (core.Message, error) {
	if len(b) < 13 {
		return core.Message{}, fmt.Errorf("harbor: truncated envelope (%d bytes)", len(b))
	}
	payload := append([]byte(nil), b[13:]...)
	return core.Message{
		Source:  core.Handle(binary.BigEndian.Uint32(b[0:])),
		Dest:    core.Handle(binary.BigEndian.Uint32(b[4:])),
		Session: int32(binary.BigEndian.Uint32(b[8:])),
		Type:    b[12],
		Payload: payload,
	}, nil
}
