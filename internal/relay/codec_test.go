package relay_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/meshdrop/relay/internal/relay"
)

func TestCodecEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	codec := relay.NewCodec(0)

	frame, err := codec.Encode(relay.TypePing, relay.PingData{Timestamp: 42})
	if err != nil {
		t.Fatalf("encode: unexpected error: %v", err)
	}

	env, err := codec.Decode(frame)
	if err != nil {
		t.Fatalf("decode: unexpected error: %v", err)
	}
	if env.Type != relay.TypePing {
		t.Fatalf("decoded type = %q, want %q", env.Type, relay.TypePing)
	}

	var data relay.PingData
	if err := relay.DecodeData(env, &data); err != nil {
		t.Fatalf("decode data: unexpected error: %v", err)
	}
	if data.Timestamp != 42 {
		t.Fatalf("decoded timestamp = %d, want 42", data.Timestamp)
	}
}

func TestCodecDecodeRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	codec := relay.NewCodec(0)

	_, err := codec.Decode([]byte("not json"))
	if !errors.Is(err, relay.ErrMalformedEnvelope) {
		t.Fatalf("err = %v, want ErrMalformedEnvelope", err)
	}
}

func TestCodecDecodeRejectsMissingType(t *testing.T) {
	t.Parallel()

	codec := relay.NewCodec(0)

	_, err := codec.Decode([]byte(`{"data":{}}`))
	if !errors.Is(err, relay.ErrMalformedEnvelope) {
		t.Fatalf("err = %v, want ErrMalformedEnvelope", err)
	}
}

func TestCodecDecodeRejectsUnknownType(t *testing.T) {
	t.Parallel()

	codec := relay.NewCodec(0)

	_, err := codec.Decode([]byte(`{"type":"no-such-type","data":{}}`))
	if !errors.Is(err, relay.ErrUnknownMessageType) {
		t.Fatalf("err = %v, want ErrUnknownMessageType", err)
	}
}

func TestCodecDecodeRejectsOversizedEnvelope(t *testing.T) {
	t.Parallel()

	codec := relay.NewCodec(16)

	raw := []byte(`{"type":"ping","data":{"timestamp":` + strings.Repeat("9", 64) + `}}`)

	_, err := codec.Decode(raw)
	if !errors.Is(err, relay.ErrEnvelopeTooLarge) {
		t.Fatalf("err = %v, want ErrEnvelopeTooLarge", err)
	}
}

func TestCodecEncodeRejectsOversizedEnvelope(t *testing.T) {
	t.Parallel()

	codec := relay.NewCodec(16)

	_, err := codec.Encode(relay.TypeFileChunk, relay.FileChunkData{
		FileID: "f1",
		Chunk:  strings.Repeat("A", 1024),
	})
	if !errors.Is(err, relay.ErrEnvelopeTooLarge) {
		t.Fatalf("err = %v, want ErrEnvelopeTooLarge", err)
	}
}
