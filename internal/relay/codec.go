package relay

import (
	"encoding/json"
	"fmt"
)

// DefaultMaxChunkBytes is the hard per-envelope byte ceiling used when a
// Codec is constructed without an explicit override.
//
// 1 MiB chunk bodies base64-inflate to ~1.333 MiB; the 1.5x multiplier
// leaves headroom for JSON structure and field overhead around the
// chunk string.
const DefaultMaxChunkBytes = (1 << 20) + (1 << 20 / 2)

// knownTypes is the set of message types the codec will decode. Anything
// else is ErrUnknownMessageType -- a soft failure: log and discard,
// never invoke the Router.
var knownTypes = map[MessageType]struct{}{
	TypeRegister:         {},
	TypePing:             {},
	TypeTransferRequest:  {},
	TypeTransferResponse: {},
	TypeFileChunk:        {},
	TypeChunkAck:         {},
	TypeTransferComplete: {},
	TypeCancelTransfer:   {},
	TypeResumeTransfer:   {},
	TypeRegistered:       {},
	TypePong:             {},
	TypeDevices:          {},
	TypeTransferAccept:   {},
	TypeTransferReject:   {},
	TypeSyncStatus:       {},
	TypeTransferError:    {},
}

// Codec marshals and unmarshals the tagged {type, data} envelope that
// rides every duplex-channel frame.
//
// The codec never decodes base64 chunk bodies into a distinct buffer: a
// file-chunk's data.chunk is unmarshaled as an opaque Go string and
// re-marshaled unchanged into the outbound frame it gets rewritten into;
// its base64 content is never decoded to bytes on the relay path.
type Codec struct {
	maxBytes int
}

// NewCodec returns a Codec enforcing maxBytes as the per-envelope byte
// ceiling. A maxBytes of 0 uses DefaultMaxChunkBytes.
func NewCodec(maxBytes int) *Codec {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxChunkBytes
	}
	return &Codec{maxBytes: maxBytes}
}

// Decode parses one wire frame into an Envelope.
//
// Returns ErrEnvelopeTooLarge if len(raw) exceeds the configured
// ceiling, ErrMalformedEnvelope if raw is not valid {type, data} JSON,
// and ErrUnknownMessageType if Type names no recognized variant. All
// three are soft failures the caller should log and discard without
// invoking the Router.
func (c *Codec) Decode(raw []byte) (Envelope, error) {
	if len(raw) > c.maxBytes {
		return Envelope{}, fmt.Errorf("decode envelope (%d bytes > %d): %w",
			len(raw), c.maxBytes, ErrEnvelopeTooLarge)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w: %w", ErrMalformedEnvelope, err)
	}

	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: %w", ErrMalformedEnvelope)
	}

	if _, ok := knownTypes[env.Type]; !ok {
		return Envelope{}, fmt.Errorf("decode envelope type %q: %w", env.Type, ErrUnknownMessageType)
	}

	return env, nil
}

// DecodeData unmarshals env.Data into dst. Callers use this after Decode
// has validated the envelope shape and type, once they know which typed
// struct in message.go to target.
func DecodeData(env Envelope, dst any) error {
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w: %w", env.Type, ErrMalformedEnvelope, err)
	}
	return nil
}

// Encode builds a wire frame for the given message type and payload.
func (c *Codec) Encode(msgType MessageType, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}

	frame, err := json.Marshal(Envelope{Type: msgType, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", msgType, err)
	}

	if len(frame) > c.maxBytes {
		return nil, fmt.Errorf("encode %s envelope (%d bytes > %d): %w",
			msgType, len(frame), c.maxBytes, ErrEnvelopeTooLarge)
	}

	return frame, nil
}
