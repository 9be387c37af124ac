package relay

// MetricsReporter receives domain events from the Registry, Liveness
// Monitor, and Router for external observability (Prometheus in
// internal/metrics). Never nil inside the core -- NewRegistry, NewRouter
// and NewLivenessMonitor fall back to noopMetrics when no reporter is
// configured.
type MetricsReporter interface {
	SessionRegistered()
	SessionUnregistered()
	SessionEvicted()
	TransferStarted()
	TransferEnded(state TransferState)
	ChunkRelayed()
	ChunkDuplicate()
	RosterBroadcast(recipients int)
}

// noopMetrics discards every event. Used when no MetricsReporter is
// configured.
type noopMetrics struct{}

func (noopMetrics) SessionRegistered()              {}
func (noopMetrics) SessionUnregistered()            {}
func (noopMetrics) SessionEvicted()                 {}
func (noopMetrics) TransferStarted()                {}
func (noopMetrics) TransferEnded(_ TransferState)   {}
func (noopMetrics) ChunkRelayed()                   {}
func (noopMetrics) ChunkDuplicate()                 {}
func (noopMetrics) RosterBroadcast(_ int)           {}
