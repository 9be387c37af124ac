package relay

import "errors"

// Sentinel errors returned by the Registry, TransferTable, and Router.
var (
	// ErrDuplicateSession indicates register was called with a session-id
	// that already names a live session.
	ErrDuplicateSession = errors.New("duplicate session")

	// ErrSessionNotFound indicates a lookup or send targeted a session-id
	// with no live Session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTokenExhausted indicates the session-id allocator could not find
	// a unique token after the maximum number of attempts.
	ErrTokenExhausted = errors.New("session-id allocator exhausted")

	// ErrTransferNotFound indicates a chunk, ack, or control message
	// referenced a transfer triple with no pending or active Transfer.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrDuplicateTransfer indicates transfer-request named a triple that
	// already has a pending or active Transfer.
	ErrDuplicateTransfer = errors.New("duplicate transfer")

	// ErrInvalidFileDescriptor indicates fileInfo.totalChunks was zero or
	// otherwise could not back a valid Transfer.
	ErrInvalidFileDescriptor = errors.New("invalid file descriptor")

	// ErrChunkIndexOutOfRange indicates chunkIndex >= totalChunks for the
	// Transfer's FileDescriptor.
	ErrChunkIndexOutOfRange = errors.New("chunk index out of range")

	// ErrTargetNotFound indicates toUserId named no live session.
	ErrTargetNotFound = errors.New("target user not found")

	// ErrTargetDisconnected indicates the counter-peer of a Transfer is no
	// longer a live session at forward time.
	ErrTargetDisconnected = errors.New("target user disconnected")

	// ErrEnvelopeTooLarge indicates an envelope's encoded size (the whole
	// wire frame) exceeded the configured max-chunk-bytes ceiling.
	ErrEnvelopeTooLarge = errors.New("envelope exceeds max-chunk-bytes")

	// ErrMalformedEnvelope indicates the wire bytes did not decode into a
	// well-formed {type, data} envelope.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrUnknownMessageType indicates envelope.Type named no recognized
	// message variant.
	ErrUnknownMessageType = errors.New("unknown message type")
)
