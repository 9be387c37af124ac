package relay

import "encoding/json"

// MessageType names one of the wire message variants the coordinator
// understands. It selects how Codec.Decode interprets Envelope.Data and
// which Router handler receives the message.
type MessageType string

// Client -> core message types.
const (
	TypeRegister         MessageType = "register"
	TypePing             MessageType = "ping"
	TypeTransferRequest  MessageType = "transfer-request"
	TypeTransferResponse MessageType = "transfer-response"
	TypeFileChunk        MessageType = "file-chunk"
	TypeChunkAck         MessageType = "chunk-ack"
	TypeTransferComplete MessageType = "transfer-complete"
	TypeCancelTransfer   MessageType = "cancel-transfer"
	TypeResumeTransfer   MessageType = "resume-transfer"
)

// Core -> client message types not already listed above. Some types,
// like file-chunk and chunk-ack, are reused verbatim in both directions
// with different field sets.
const (
	TypeRegistered     MessageType = "registered"
	TypePong           MessageType = "pong"
	TypeDevices        MessageType = "devices"
	TypeTransferAccept MessageType = "transfer-accepted"
	TypeTransferReject MessageType = "transfer-rejected"
	TypeSyncStatus     MessageType = "sync-status"
	TypeTransferError  MessageType = "transfer-error"
)

// Envelope is the tagged wire message: { "type": ..., "data": ... }.
// Data is kept as a raw JSON value until Type is known, so the codec
// never pays for a second round of generic unmarshaling.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// FileInfo is the sender-declared metadata for a file about to be
// transferred, minus the server-chosen file-id which travels alongside
// it in TransferRequestData.
type FileInfo struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Type        string `json:"type,omitempty"`
	TotalChunks int    `json:"totalChunks"`
	ChunkSize   int    `json:"chunkSize"`
}

// RegisterData is the payload of a client -> core "register" message.
type RegisterData struct {
	UserID     string `json:"userId,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
}

// RegisteredData is the payload of a core -> client "registered" message.
type RegisteredData struct {
	UserID string `json:"userId"`
}

// PingData / PongData carry the liveness echo timestamp verbatim.
type PingData struct {
	Timestamp int64 `json:"timestamp"`
}

type PongData struct {
	Timestamp int64 `json:"timestamp"`
}

// RosterEntryData is one entry of a "devices" broadcast.
type RosterEntryData struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DevicesData is the payload of a core -> client "devices" message.
type DevicesData struct {
	Devices []RosterEntryData `json:"devices"`
}

// TransferRequestData is the payload of "transfer-request" in both
// directions: client -> core carries ToUserID, core -> client rewrites
// it to From.
type TransferRequestData struct {
	ToUserID string   `json:"toUserId,omitempty"`
	From     string   `json:"from,omitempty"`
	FileID   string   `json:"fileId"`
	FileInfo FileInfo `json:"fileInfo"`
}

// TransferResponseData is the payload of a client -> core
// "transfer-response" message.
type TransferResponseData struct {
	ToUserID string `json:"toUserId"`
	FileID   string `json:"fileId"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// TransferAcceptedData / TransferRejectedData are the core -> client
// replies to a transfer-response.
type TransferAcceptedData struct {
	FromUserID string `json:"fromUserId"`
	FileID     string `json:"fileId"`
}

type TransferRejectedData struct {
	FromUserID string `json:"fromUserId"`
	FileID     string `json:"fileId"`
	Reason     string `json:"reason,omitempty"`
}

// FileChunkData is the payload of "file-chunk" in both directions.
// Chunk is the base64 body, carried through the relay path as an opaque
// string.
type FileChunkData struct {
	ToUserID    string `json:"toUserId,omitempty"`
	From        string `json:"from,omitempty"`
	FileID      string `json:"fileId"`
	ChunkIndex  int    `json:"chunkIndex"`
	Chunk       string `json:"chunk"`
	TotalChunks int    `json:"totalChunks"`
	ChunkSize   int    `json:"chunkSize,omitempty"`
	Progress    int    `json:"progress,omitempty"`
}

// ChunkAckStatus is the status field of a chunk-ack message.
type ChunkAckStatus string

const (
	AckReceived  ChunkAckStatus = "received"
	AckDuplicate ChunkAckStatus = "duplicate"
)

// ChunkAckData is the payload of "chunk-ack" in both directions.
type ChunkAckData struct {
	ToUserID         string         `json:"toUserId,omitempty"`
	FileID           string         `json:"fileId"`
	ChunkIndex       int            `json:"chunkIndex"`
	Status           ChunkAckStatus `json:"status"`
	ReceiverProgress int            `json:"receiverProgress,omitempty"`
}

// TransferCompleteData is the payload of "transfer-complete" in both
// directions.
type TransferCompleteData struct {
	ToUserID string `json:"toUserId,omitempty"`
	From     string `json:"from,omitempty"`
	FileID   string `json:"fileId"`
	FileName string `json:"fileName,omitempty"`
}

// CancelTransferData is the payload of a "cancel-transfer" message.
type CancelTransferData struct {
	TransferID string `json:"transferId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ResumeTransferData is the payload of a "resume-transfer" message,
// forwarded without interpretation.
type ResumeTransferData struct {
	ToUserID  string `json:"toUserId"`
	FileID    string `json:"fileId"`
	FromChunk int    `json:"fromChunk"`
}

// SyncStatusData is the payload of a "sync-status" message.
type SyncStatusData struct {
	SenderID           string `json:"senderId"`
	ReceiverID         string `json:"receiverId"`
	FileID             string `json:"fileId"`
	SenderProgress     int    `json:"senderProgress"`
	ReceiverProgress   int    `json:"receiverProgress"`
	SyncLag            int    `json:"syncLag"`
	DuplicatesRejected int    `json:"duplicatesRejected"`
	LastChunkTime      int64  `json:"lastChunkTime"`
}

// TransferErrorData is the payload of a "transfer-error" message.
type TransferErrorData struct {
	Error  string `json:"error"`
	FileID string `json:"fileId,omitempty"`
}
