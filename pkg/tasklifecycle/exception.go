package tasklifecycle

import (
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

// kMessagePackOffset is the fixed width, in bytes, of the header
// MarkPendingTaskFailed prepends to a creation-task exception's body: a
// single msgpack fixed-width uint64 (tag 0xcf + 8 big-endian bytes). It is
// implementation-defined but fixed across the process, as required by the
// wire contract.
const kMessagePackOffset = 9

const msgpackUint64Tag = 0xcf

// CreationTaskException wraps the serialized bytes of an actor-creation
// failure. Serialization format internals are out of scope for this
// module; Payload is whatever bytes the caller already produced (for
// instance, via protobuf) to describe the exception.
type CreationTaskException struct {
	Payload []byte
}

// encodeFailurePayload builds the on-disk layout MarkPendingTaskFailed
// stores for a creation-task exception:
//
//	[kMessagePackOffset-byte header][msgpack bin envelope of Payload]
//
// The header is built by hand rather than through the msgpack encoder,
// because a general-purpose encoder right-sizes integers to the smallest
// representation that fits the value, and this layout requires the header
// to always be exactly kMessagePackOffset bytes regardless of the body's
// length.
func encodeFailurePayload(exc CreationTaskException) ([]byte, error) {
	body, err := msgpack.Marshal(exc.Payload)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, kMessagePackOffset+len(body))
	buf[0] = msgpackUint64Tag
	binary.BigEndian.PutUint64(buf[1:kMessagePackOffset], uint64(len(body)))
	copy(buf[kMessagePackOffset:], body)
	return buf, nil
}
