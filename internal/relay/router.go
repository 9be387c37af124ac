package relay

import (
	"context"
	"log/slog"
	"time"
)

// DefaultTransferIdleTimeout is the default chunk-inactivity cutoff
// after which an active Transfer is marked failed.
const DefaultTransferIdleTimeout = 600 * time.Second

// DefaultCompletionGrace is the default delay between transfer-complete
// and a completed Transfer's removal from the table.
const DefaultCompletionGrace = 30 * time.Second

// DefaultIdleSweepInterval is the default period between idle-transfer
// sweeps.
const DefaultIdleSweepInterval = 30 * time.Second

// Router is the dispatcher sitting between the Codec, the Session
// Registry, and the Transfer Table: it validates each inbound envelope
// against the owning Transfer's current state, mutates the table, and
// forwards envelopes (possibly rewritten) to the counter-peer.
type Router struct {
	codec     *Codec
	registry  *Registry
	transfers *TransferTable

	completionGrace time.Duration
	idleTimeout     time.Duration
	idleSweep       time.Duration

	logger  *slog.Logger
	metrics MetricsReporter

	now func() time.Time
}

// RouterOption configures optional Router parameters.
type RouterOption func(*Router)

// WithCompletionGrace overrides the default completion grace period.
func WithCompletionGrace(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.completionGrace = d
		}
	}
}

// WithTransferIdleTimeout overrides the default transfer-idle cutoff.
func WithTransferIdleTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// WithIdleSweepInterval overrides the default idle-sweep period.
func WithIdleSweepInterval(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.idleSweep = d
		}
	}
}

// WithRouterMetrics sets the MetricsReporter used by the Router.
func WithRouterMetrics(mr MetricsReporter) RouterOption {
	return func(r *Router) {
		if mr != nil {
			r.metrics = mr
		}
	}
}

// NewRouter wires a Router over the given Codec, Registry, and
// TransferTable, and installs the Registry's unregister hook so a
// departing session's outstanding Transfers are cancelled automatically.
func NewRouter(codec *Codec, registry *Registry, transfers *TransferTable, logger *slog.Logger, opts ...RouterOption) *Router {
	r := &Router{
		codec:           codec,
		registry:        registry,
		transfers:       transfers,
		completionGrace: DefaultCompletionGrace,
		idleTimeout:     DefaultTransferIdleTimeout,
		idleSweep:       DefaultIdleSweepInterval,
		logger:          logger.With(slog.String("component", "relay.router")),
		metrics:         noopMetrics{},
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	registry.SetUnregisterHook(r.cancelSessionTransfers)

	return r
}

// Register handles the envelope that establishes a new Session: it
// allocates or reserves a session-id, inserts the Session into the
// Registry, and replies with "registered". Transport implementations
// call this for the first frame off a freshly accepted connection.
func (r *Router) Register(handle OutboundHandle, data RegisterData) (*Session, error) {
	sessionID, err := r.registry.AllocateSessionID(data.UserID)
	if err != nil {
		return nil, err
	}

	sess, err := r.registry.Register(sessionID, data.DeviceName, handle)
	if err != nil {
		return nil, err
	}

	if err := handle.Send(TypeRegistered, RegisteredData{UserID: sessionID}); err != nil {
		r.logger.Debug("send registered failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
	}

	return sess, nil
}

// Dispatch decodes one inbound frame for an established session and
// routes it to the handler for its type. Malformed or unrecognized
// frames are logged and dropped without refreshing the session's
// liveness clock; every frame the codec accepts does refresh it,
// regardless of what the handler itself does with the message.
func (r *Router) Dispatch(sessionID string, raw []byte) {
	env, err := r.codec.Decode(raw)
	if err != nil {
		r.logger.Warn("dropping envelope", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		return
	}

	r.registry.Touch(sessionID)

	switch env.Type {
	case TypeRegister:
		r.handleRegisterRedeclare(sessionID, env)
	case TypePing:
		r.handlePing(sessionID, env)
	case TypeTransferRequest:
		r.handleTransferRequest(sessionID, env)
	case TypeTransferResponse:
		r.handleTransferResponse(sessionID, env)
	case TypeFileChunk:
		r.handleFileChunk(sessionID, env)
	case TypeChunkAck:
		r.handleChunkAck(sessionID, env)
	case TypeTransferComplete:
		r.handleTransferComplete(sessionID, env)
	case TypeCancelTransfer:
		r.handleCancelTransfer(sessionID, env)
	case TypeResumeTransfer:
		r.handleResumeTransfer(sessionID, env)
	default:
		r.logger.Warn("no handler for envelope type", slog.String("session_id", sessionID), slog.String("type", string(env.Type)))
	}
}

// Disconnect tears down sessionID's Session, which in turn cancels its
// outstanding Transfers via the unregister hook installed in NewRouter.
func (r *Router) Disconnect(sessionID string) {
	r.registry.Unregister(sessionID)
}

func (r *Router) decodeOrLog(sessionID string, env Envelope, dst any) bool {
	if err := DecodeData(env, dst); err != nil {
		r.logger.Warn("dropping envelope", slog.String("session_id", sessionID), slog.String("type", string(env.Type)), slog.String("error", err.Error()))
		return false
	}
	return true
}

func (r *Router) handleRegisterRedeclare(sessionID string, env Envelope) {
	var data RegisterData
	if !r.decodeOrLog(sessionID, env, &data) {
		return
	}

	if data.DeviceName != "" {
		if err := r.registry.UpdateDeviceName(sessionID, data.DeviceName); err != nil {
			r.logger.Warn("redeclare device name", slog.String("session_id", sessionID), slog.String("error", err.Error()))
			return
		}
	}

	r.registry.Send(sessionID, TypeRegistered, RegisteredData{UserID: sessionID})
}

func (r *Router) handlePing(sessionID string, env Envelope) {
	var data PingData
	if !r.decodeOrLog(sessionID, env, &data) {
		return
	}

	r.registry.Send(sessionID, TypePong, PongData{Timestamp: data.Timestamp})
}

// handleTransferRequest implements the "transfer-request from S to R"
// row of the lifecycle table: validates the target exists and the file
// descriptor is sane, creates the Transfer, and forwards the request.
func (r *Router) handleTransferRequest(sessionID string, env Envelope) {
	var data TransferRequestData
	if !r.decodeOrLog(sessionID, env, &data) {
		return
	}

	if _, ok := r.registry.Lookup(data.ToUserID); !ok {
		r.registry.Send(sessionID, TypeTransferError, TransferErrorData{
			Error:  "Target user not found",
			FileID: data.FileID,
		})
		return
	}

	key := TransferKey{Sender: sessionID, Receiver: data.ToUserID, FileID: data.FileID}
	fd := FileDescriptor{
		FileID:      data.FileID,
		Name:        data.FileInfo.Name,
		Size:        data.FileInfo.Size,
		MimeType:    data.FileInfo.Type,
		ChunkSize:   data.FileInfo.ChunkSize,
		TotalChunks: data.FileInfo.TotalChunks,
	}

	tr, err := r.transfers.Create(key, fd)
	if err != nil {
		r.registry.Send(sessionID, TypeTransferError, TransferErrorData{
			Error:  "invalid file descriptor",
			FileID: data.FileID,
		})
		r.logger.Warn("reject transfer-request", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		return
	}

	r.metrics.TransferStarted()

	r.registry.Send(data.ToUserID, TypeTransferRequest, TransferRequestData{
		From:     sessionID,
		FileID:   data.FileID,
		FileInfo: data.FileInfo,
	})

	r.broadcastSyncStatus(tr)
}

func (r *Router) handleTransferResponse(sessionID string, env Envelope) {
	var data TransferResponseData
	if !r.decodeOrLog(sessionID, env, &data) {
		return
	}

	key := TransferKey{Sender: data.ToUserID, Receiver: sessionID, FileID: data.FileID}
	tr, ok := r.transfers.Get(key)
	if !ok {
		r.logger.Warn("transfer-response for unknown transfer", slog.String("session_id", sessionID), slog.String("file_id", data.FileID))
		return
	}

	if data.Accepted {
		result := tr.applyEvent(EventAccept)
		r.executeActions(key, result.Actions)
		r.registry.Send(data.ToUserID, TypeTransferAccept, TransferAcceptedData{
			FromUserID: sessionID,
			FileID:     data.FileID,
		})
		return
	}

	result := tr.applyEvent(EventReject)
	r.executeActions(key, result.Actions)
	r.registry.Send(data.ToUserID, TypeTransferReject, TransferRejectedData{
		FromUserID: sessionID,
		FileID:     data.FileID,
		Reason:     data.Reason,
	})
	r.metrics.TransferEnded(StateCancelled)
}

// handleFileChunk implements the chunk-relay algorithm (the core
// algorithm): duplicate detection, bitset insertion, forward-with-
// rewrite, and the sender-side ack, in that order.
func (r *Router) handleFileChunk(sessionID string, env Envelope) {
	var data FileChunkData
	if !r.decodeOrLog(sessionID, env, &data) {
		return
	}

	key := TransferKey{Sender: sessionID, Receiver: data.ToUserID, FileID: data.FileID}
	tr, ok := r.transfers.Get(key)
	if !ok {
		r.logger.Warn("file-chunk for unknown transfer", slog.String("session_id", sessionID), slog.String("file_id", data.FileID))
		return
	}

	result := tr.applyEvent(EventChunkActivity)
	r.executeActions(key, result.Actions)

	chunkResult, err := tr.IngestChunk(data.ChunkIndex, r.now())
	if err != nil {
		r.registry.Send(sessionID, TypeTransferError, TransferErrorData{
			Error:  "invalid chunk index",
			FileID: data.FileID,
		})
		r.logger.Error("chunk index invariant violated",
			slog.String("bug", "chunk index out of range"),
			slog.String("session_id", sessionID),
			slog.String("file_id", data.FileID),
			slog.Int("chunk_index", data.ChunkIndex),
		)
		r.destroyTransfer(key, StateFailed)
		return
	}

	if chunkResult.Duplicate {
		r.metrics.ChunkDuplicate()
		r.registry.Send(sessionID, TypeChunkAck, ChunkAckData{
			FileID:     data.FileID,
			ChunkIndex: data.ChunkIndex,
			Status:     AckDuplicate,
		})
		r.broadcastSyncStatus(tr)
		return
	}

	delivered := r.registry.Send(data.ToUserID, TypeFileChunk, FileChunkData{
		From:        sessionID,
		FileID:      data.FileID,
		ChunkIndex:  data.ChunkIndex,
		Chunk:       data.Chunk,
		TotalChunks: data.TotalChunks,
		Progress:    chunkResult.ReceivedProgress,
	})
	if !delivered {
		r.failTransfer(key, sessionID, data.FileID)
		return
	}

	r.metrics.ChunkRelayed()

	r.registry.Send(sessionID, TypeChunkAck, ChunkAckData{
		FileID:           data.FileID,
		ChunkIndex:       data.ChunkIndex,
		Status:           AckReceived,
		ReceiverProgress: chunkResult.ReceivedProgress,
	})

	r.broadcastSyncStatus(tr)
}

// handleChunkAck handles a receiver-emitted acknowledgement routed
// through the core, rather than one the core itself already sent on
// chunk ingestion.
func (r *Router) handleChunkAck(sessionID string, env Envelope) {
	var data ChunkAckData
	if !r.decodeOrLog(sessionID, env, &data) {
		return
	}

	key := TransferKey{Sender: data.ToUserID, Receiver: sessionID, FileID: data.FileID}
	tr, ok := r.transfers.Get(key)
	if !ok {
		r.logger.Warn("chunk-ack for unknown transfer", slog.String("session_id", sessionID), slog.String("file_id", data.FileID))
		return
	}

	tr.touchChunkActivity(r.now())
	duplicatesBefore := tr.Duplicates()
	tr.ApplyAck(data.Status, data.ChunkIndex, data.ReceiverProgress)
	if tr.Duplicates() > duplicatesBefore {
		r.metrics.ChunkDuplicate()
	}

	r.registry.Send(data.ToUserID, TypeChunkAck, data)
	r.broadcastSyncStatus(tr)
}

func (r *Router) handleTransferComplete(sessionID string, env Envelope) {
	var data TransferCompleteData
	if !r.decodeOrLog(sessionID, env, &data) {
		return
	}

	key := TransferKey{Sender: sessionID, Receiver: data.ToUserID, FileID: data.FileID}
	tr, ok := r.transfers.Get(key)
	if !ok {
		r.logger.Warn("transfer-complete for unknown transfer", slog.String("session_id", sessionID), slog.String("file_id", data.FileID))
		return
	}

	delivered := r.registry.Send(data.ToUserID, TypeTransferComplete, TransferCompleteData{
		From:     sessionID,
		FileID:   data.FileID,
		FileName: data.FileName,
	})
	if !delivered {
		r.failTransfer(key, sessionID, data.FileID)
		return
	}

	result := tr.applyEvent(EventComplete)
	r.metrics.TransferEnded(StateCompleted)
	r.executeActions(key, result.Actions)
}

// handleCancelTransfer resolves the Transfer named by TransferID among
// the sessions the caller participates in and forwards the cancellation
// to the other peer. A second cancel for an already-destroyed Transfer
// finds nothing and is silently a no-op, matching the idempotence law.
func (r *Router) handleCancelTransfer(sessionID string, env Envelope) {
	var data CancelTransferData
	if !r.decodeOrLog(sessionID, env, &data) {
		return
	}

	for _, key := range r.transfers.ForSession(sessionID) {
		if key.FileID != data.TransferID {
			continue
		}

		tr, ok := r.transfers.Get(key)
		if !ok {
			continue
		}

		result := tr.applyEvent(EventCancel)
		if !result.Ok {
			continue
		}

		peer := otherPeer(key, sessionID)
		r.registry.Send(peer, TypeCancelTransfer, CancelTransferData{
			TransferID: data.TransferID,
			Reason:     data.Reason,
		})
		r.metrics.TransferEnded(StateCancelled)
		r.executeActions(key, result.Actions)
		return
	}
}

// handleResumeTransfer forwards without interpretation: the core does
// not track resume offsets itself.
func (r *Router) handleResumeTransfer(sessionID string, env Envelope) {
	var data ResumeTransferData
	if !r.decodeOrLog(sessionID, env, &data) {
		return
	}

	r.registry.Send(data.ToUserID, TypeResumeTransfer, data)
}

// failTransfer converts a missing-destination or failed forward into a
// transfer-error delivered to the surviving peer and destroys the
// Transfer.
func (r *Router) failTransfer(key TransferKey, survivor, fileID string) {
	r.registry.Send(survivor, TypeTransferError, TransferErrorData{
		Error:  "Target user disconnected",
		FileID: fileID,
	})
	r.destroyTransfer(key, StateFailed)
}

func (r *Router) destroyTransfer(key TransferKey, finalState TransferState) {
	r.metrics.TransferEnded(finalState)
	r.transfers.Delete(key)
}

// executeActions runs the side effects an FSM transition reported.
func (r *Router) executeActions(key TransferKey, actions []TransferAction) {
	for _, action := range actions {
		switch action {
		case ActionDestroyNow:
			r.transfers.Delete(key)
		case ActionScheduleGraceDeletion:
			r.transfers.DeleteAfter(key, r.completionGrace)
		}
	}
}

// broadcastSyncStatus emits sync-status to both participants of tr, if
// they are still registered.
func (r *Router) broadcastSyncStatus(tr *Transfer) {
	status := tr.SyncStatus()
	r.registry.Send(tr.Key.Sender, TypeSyncStatus, status)
	r.registry.Send(tr.Key.Receiver, TypeSyncStatus, status)
}

// cancelSessionTransfers is the Registry's UnregisterHook: it notifies
// the surviving peer of every Transfer the departing session took part
// in, then destroys those Transfers.
func (r *Router) cancelSessionTransfers(sessionID string) {
	for _, key := range r.transfers.ForSession(sessionID) {
		tr, ok := r.transfers.Get(key)
		if !ok {
			continue
		}

		result := tr.applyEvent(EventPeerDisconnect)
		if !result.Ok {
			continue
		}

		survivor := otherPeer(key, sessionID)
		r.registry.Send(survivor, TypeTransferError, TransferErrorData{
			Error:  "Target user disconnected",
			FileID: key.FileID,
		})

		r.metrics.TransferEnded(StateFailed)
		r.executeActions(key, result.Actions)
	}
}

// RunIdleSweep blocks, periodically failing active Transfers that have
// seen no chunk activity for longer than the configured idle timeout,
// until ctx is cancelled. Intended to run alongside LivenessMonitor.Run
// under the same errgroup.
func (r *Router) RunIdleSweep(ctx context.Context) error {
	ticker := time.NewTicker(r.idleSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweepIdleOnce()
		}
	}
}

func (r *Router) sweepIdleOnce() {
	cutoff := r.now().Add(-r.idleTimeout)

	for _, key := range r.transfers.StaleActive(cutoff) {
		tr, ok := r.transfers.Get(key)
		if !ok {
			continue
		}

		result := tr.applyEvent(EventIdleTimeout)
		if !result.Ok {
			continue
		}

		r.logger.Info("transfer idle timeout",
			slog.String("sender", key.Sender),
			slog.String("receiver", key.Receiver),
			slog.String("file_id", key.FileID),
		)

		r.registry.Send(key.Sender, TypeTransferError, TransferErrorData{Error: "transfer idle", FileID: key.FileID})
		r.registry.Send(key.Receiver, TypeTransferError, TransferErrorData{Error: "transfer idle", FileID: key.FileID})

		r.metrics.TransferEnded(StateFailed)
		r.executeActions(key, result.Actions)
	}
}

// otherPeer returns the participant of key that is not sessionID.
func otherPeer(key TransferKey, sessionID string) string {
	if key.Sender == sessionID {
		return key.Receiver
	}
	return key.Sender
}
