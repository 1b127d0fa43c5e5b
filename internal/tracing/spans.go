package tracing

// Span attribute keys. These are the semantic conventions for relay spans.
const (
	// Session attributes
	AttrSessionID  = "session.id"
	AttrChannelID  = "channel.id"
	AttrClientType = "client.type"
	AttrModel      = "model"
	AttrWorkDir    = "work_dir"

	// Turn attributes
	AttrTurnEvents   = "turn.events"
	AttrInputTokens  = "tokens.input"
	AttrOutputTokens = "tokens.output"

	// Permission attributes
	AttrRequestID = "request.id"
	AttrToolName  = "tool.name"
	AttrDecision  = "permission.decision"
	AttrMemoryHit = "permission.memory_hit"

	// Error attributes
	AttrErrorMessage = "error.message"
	AttrErrorReason  = "error.reason"
)

// Span names.
const (
	SpanSessionLaunch     = "session.launch"
	SpanSessionTurn       = "session.turn"
	SpanSessionInterrupt  = "session.interrupt"
	SpanSessionRestart    = "session.restart"
	SpanHistoryLoad       = "history.load"
	SpanPermissionResolve = "permission.resolve"
	SpanPermissionScan    = "permission.scan"
)

// Event names for span events.
const (
	EventProcessSpawned  = "process.spawned"
	EventProcessReady    = "process.ready"
	EventStreamStarted   = "stream.started"
	EventStreamEnded     = "stream.ended"
	EventRequestDetected = "request.detected"
	EventResponseWritten = "response.written"
	EventErrorOccurred   = "error.occurred"
)
