package session

import (
	"context"
	"time"

	"github.com/zjrosen/relay/internal/client"
	"github.com/zjrosen/relay/internal/conversation"
	"github.com/zjrosen/relay/internal/log"
)

// Phase is the handler's streaming position within a turn.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseThinking
	PhaseStreamingText
	PhaseStreamingThinking
)

func (p Phase) String() string {
	switch p {
	case PhaseThinking:
		return "thinking"
	case PhaseStreamingText:
		return "streaming_text"
	case PhaseStreamingThinking:
		return "streaming_thinking"
	default:
		return "idle"
	}
}

const (
	defaultBackfillRetries = 3
	defaultBackfillBackoff = 250 * time.Millisecond
)

// Handler is the per-session adapter consuming a provider's normalized event
// stream and mutating session State. One handler exists per launch; all
// Handle calls arrive serially on the process event goroutine, so the
// handler holds no lock.
//
// Streaming segments: deltas continue the last block of their kind only
// while that kind's segment flag is set. A tool invocation clears both
// flags, so post-tool deltas open fresh blocks instead of continuing
// pre-tool text.
type Handler struct {
	state      *State
	dispatcher *Dispatcher
	coalescer  *Coalescer
	history    HistoryReader

	phase           Phase
	isStreamingTurn bool
	turnEnded       bool
	textActive      bool
	thinkingActive  bool

	// accumIdx is the index of the assistant message being accumulated this
	// turn, or -1.
	accumIdx int

	backfillRetries int
	backfillBackoff time.Duration
}

// NewHandler creates a handler bound to a session's state and delivery
// machinery.
func NewHandler(state *State, dispatcher *Dispatcher, coalescer *Coalescer, history HistoryReader) *Handler {
	return &Handler{
		state:           state,
		dispatcher:      dispatcher,
		coalescer:       coalescer,
		history:         history,
		accumIdx:        -1,
		backfillRetries: defaultBackfillRetries,
		backfillBackoff: defaultBackfillBackoff,
	}
}

// Phase returns the current streaming phase.
func (h *Handler) Phase() Phase {
	return h.phase
}

// IsStreamingTurn reports whether a streaming turn is open.
func (h *Handler) IsStreamingTurn() bool {
	return h.isStreamingTurn
}

// Handle processes one normalized provider event. Malformed payloads are
// logged and skipped; handler state survives them.
func (h *Handler) Handle(ctx context.Context, ev client.AgentEvent) {
	if h.state.SessionID == "" && ev.SessionID != "" {
		if !h.state.AdoptSessionID(ev.SessionID) {
			log.Warn(log.CatSession, "discarding invalid session id", "id", ev.SessionID)
		}
	}

	switch ev.Type {
	case client.EventSystem:
		h.handleInit(ev)
	case client.EventAssistant:
		h.handleAssistant(ev)
	case client.EventUser:
		h.handleUserEcho(ev)
	case client.EventToolResult:
		h.handleToolResult(ev)
	case client.EventThinking:
		h.phase = PhaseThinking
	case client.EventContentDelta:
		h.appendDelta("text", ev.Delta)
		h.phase = PhaseStreamingText
	case client.EventThinkingDelta:
		h.appendDelta("thinking", ev.Delta)
		h.phase = PhaseStreamingThinking
	case client.EventStreamStart:
		h.handleStreamStart()
	case client.EventStreamEnd:
		h.endTurn()
	case client.EventMessageEnd:
		// Inner message boundary within a turn; the turn-level boundary is
		// stream-end.
	case client.EventResult:
		h.handleResult(ev)
	case client.EventTokenCount:
		h.applyUsage(ev.Usage)
	case client.EventSlashCommands:
		h.state.SlashCommands = ev.SlashCommands
		h.dispatcher.Notify(NotifySlashCommands, ev.SlashCommands)
	case client.EventError:
		h.handleError(ev.ErrorMessage())
	case client.EventComplete:
		h.handleComplete(ctx)
	default:
		log.Debug(log.CatSession, "unhandled event", "type", ev.Type)
	}
}

func (h *Handler) handleInit(ev client.AgentEvent) {
	if ev.Model != "" {
		h.state.Model = ev.Model
	}
	if len(ev.SlashCommands) > 0 {
		h.state.SlashCommands = ev.SlashCommands
		h.dispatcher.Notify(NotifySlashCommands, ev.SlashCommands)
	}
	h.dispatcher.Notify(NotifyStateChanged)
}

// handleAssistant merges a full assistant snapshot into the accumulating
// message. Mid-turn snapshots are suppressed from the UI unless they carry a
// tool invocation: tool invocations never stream and must flush immediately.
func (h *Handler) handleAssistant(ev client.AgentEvent) {
	if ev.Raw == nil {
		log.Warn(log.CatSession, "assistant event without raw tree, skipping")
		return
	}
	hasTool := conversation.HasToolUse(ev.Raw)

	accum := h.ensureAccum()
	snapshot := guardUsage(accum.Raw, ev.Raw)
	snapshot = h.reconcileStreamedBlocks(accum, snapshot)
	accum.Raw = conversation.Merge(accum.Raw, snapshot)
	h.recomputeContent(accum)
	h.state.LastModified = time.Now()
	h.applyUsage(ev.Usage)

	// The record closes the message it snapshots; later deltas open a
	// fresh segment.
	h.textActive = false
	h.thinkingActive = false

	if hasTool {
		h.coalescer.Enqueue(h.state.SnapshotMessages())
		h.coalescer.Flush(nil)
		return
	}
	if h.isStreamingTurn {
		// Deltas already painted this content.
		return
	}
	h.coalescer.Enqueue(h.state.SnapshotMessages())
}

// handleUserEcho drops wire echoes of text the user just sent; anything else
// that parses as a real user message is appended.
func (h *Handler) handleUserEcho(ev client.AgentEvent) {
	msg, ok := conversation.ParseWireMessage(ev.Raw)
	if !ok {
		return
	}
	for i := len(h.state.Messages) - 1; i >= 0; i-- {
		prev := h.state.Messages[i]
		if prev.Role != conversation.RoleUser {
			continue
		}
		if prev.Content == msg.Content {
			if prev.UUID == "" && msg.UUID != "" {
				h.state.Messages[i].UUID = msg.UUID
			}
			return
		}
		break
	}
	h.state.Append(msg)
	h.coalescer.Enqueue(h.state.SnapshotMessages())
}

// handleToolResult merges a tool result into the accumulating message by its
// tool_use_id identity and flushes so the UI shows outcomes promptly.
func (h *Handler) handleToolResult(ev client.AgentEvent) {
	if ev.Raw == nil {
		return
	}
	msg, _ := ev.Raw["message"].(map[string]any)
	if msg == nil {
		return
	}
	content, ok := msg["content"].([]any)
	if !ok {
		return
	}
	accum := h.ensureAccum()
	// Merge only the content so the result blocks attach by tool_use_id
	// without the user-record envelope overwriting the assistant tree.
	accum.Raw = conversation.Merge(accum.Raw, map[string]any{
		"message": map[string]any{"content": content},
	})
	h.state.LastModified = time.Now()
	h.coalescer.Enqueue(h.state.SnapshotMessages())
	h.coalescer.Flush(nil)
}

func (h *Handler) handleStreamStart() {
	h.isStreamingTurn = true
	h.turnEnded = false
	h.textActive = false
	h.thinkingActive = false
	h.coalescer.SetStreamActive(true)
}

// endTurn closes the streaming turn: force-flush so the UI reflects final
// state, clear busy/loading, and arm the idempotence guard so the trailing
// complete event is a no-op.
func (h *Handler) endTurn() {
	h.isStreamingTurn = false
	h.turnEnded = true
	h.textActive = false
	h.thinkingActive = false
	h.phase = PhaseIdle
	h.accumIdx = -1
	h.state.Busy = false
	h.state.Loading = false
	h.coalescer.SetStreamActive(false)
	h.coalescer.Enqueue(h.state.SnapshotMessages())
	h.coalescer.Flush(func() {
		h.dispatcher.Notify(NotifyStateChanged)
	})
}

func (h *Handler) handleResult(ev client.AgentEvent) {
	if ev.IsErrorResult {
		msg := ev.Result
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		h.handleError(msg)
		return
	}
	h.applyUsage(ev.Usage)
	if h.state.Summary == "" && ev.Result != "" {
		h.state.Summary = firstLine(ev.Result)
	}
}

// handleComplete is the turn's terminal event. If the turn already ended via
// stream-end this is a no-op; otherwise it finalizes a non-streaming turn
// and kicks the durable-id backfill.
func (h *Handler) handleComplete(ctx context.Context) {
	if h.turnEnded {
		return
	}
	wasStreaming := h.isStreamingTurn
	h.endTurn()
	if !wasStreaming {
		h.backfillUserID(ctx)
	}
}

func (h *Handler) handleError(message string) {
	if message == "" {
		message = "unknown provider error"
	}
	log.ErrorErr(log.CatSession, "provider error", nil, "message", message)
	h.state.Err = message
	h.state.Append(conversation.Message{
		Role:      conversation.RoleError,
		Content:   message,
		Timestamp: time.Now(),
	})
	h.isStreamingTurn = false
	h.turnEnded = true
	h.textActive = false
	h.thinkingActive = false
	h.phase = PhaseIdle
	h.accumIdx = -1
	h.state.Busy = false
	h.state.Loading = false
	h.coalescer.SetStreamActive(false)
	h.coalescer.Enqueue(h.state.SnapshotMessages())
	h.coalescer.Flush(func() {
		h.dispatcher.Notify(NotifySessionError, message)
		h.dispatcher.Notify(NotifyStateChanged)
	})
}

// ensureAccum returns the assistant message being accumulated this turn,
// creating it on first content.
func (h *Handler) ensureAccum() *conversation.Message {
	if h.accumIdx >= 0 && h.accumIdx < len(h.state.Messages) {
		return &h.state.Messages[h.accumIdx]
	}
	h.state.Append(conversation.Message{
		Role:      conversation.RoleAssistant,
		Timestamp: time.Now(),
		Raw: map[string]any{
			"type": "assistant",
			"message": map[string]any{
				"role":    "assistant",
				"content": []any{},
			},
		},
	})
	h.accumIdx = len(h.state.Messages) - 1
	return &h.state.Messages[h.accumIdx]
}

// appendDelta appends streamed text to the open segment of the given kind,
// opening a fresh block when no segment of that kind is active.
func (h *Handler) appendDelta(kind, delta string) {
	if delta == "" {
		return
	}
	accum := h.ensureAccum()
	msg, _ := accum.Raw["message"].(map[string]any)
	if msg == nil {
		log.Warn(log.CatSession, "accumulating message lost its tree, skipping delta")
		return
	}
	content, _ := msg["content"].([]any)

	active := h.textActive
	textKey := "text"
	if kind == "thinking" {
		active = h.thinkingActive
		textKey = "thinking"
	}

	var block map[string]any
	if active {
		block = lastBlockOfKind(content, kind)
	}
	if block == nil {
		block = map[string]any{"type": kind, textKey: ""}
		content = append(content, block)
	}
	existing, _ := block[textKey].(string)
	block[textKey] = existing + delta
	msg["content"] = content

	if kind == "thinking" {
		h.thinkingActive = true
	} else {
		h.textActive = true
	}
	h.recomputeContent(accum)
	h.state.LastModified = time.Now()
	h.coalescer.Enqueue(h.state.SnapshotMessages())
}

// recomputeContent rederives the display text from the raw tree so deltas
// and snapshot merges stay consistent.
func (h *Handler) recomputeContent(m *conversation.Message) {
	msg, _ := m.Raw["message"].(map[string]any)
	if msg == nil {
		return
	}
	content, _ := msg["content"].([]any)
	m.Content = conversation.BlockText(content, "text")
}

// applyUsage updates the display usage. Zero-valued usage is backfillable
// from any source; non-zero usage is never overwritten by zero.
func (h *Handler) applyUsage(u *client.UsageInfo) {
	if u.IsZero() {
		return
	}
	h.state.Usage = u
}

// backfillUserID re-fetches persisted history and assigns a durable id to
// the most recent user message lacking one, matching by exact content.
// Retries tolerate the provider flushing its transcript after the turn's
// completion event.
func (h *Handler) backfillUserID(ctx context.Context) {
	if h.history == nil {
		return
	}
	target := -1
	for i := len(h.state.Messages) - 1; i >= 0; i-- {
		m := h.state.Messages[i]
		if m.Role == conversation.RoleUser && m.UUID == "" {
			target = i
			break
		}
	}
	if target < 0 {
		return
	}
	want := h.state.Messages[target].Content

	for attempt := 0; attempt < h.backfillRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(h.backfillBackoff):
			}
		}
		persisted, err := h.history.Messages(ctx, h.state.WorkDir, h.state.SessionID)
		if err != nil {
			log.Debug(log.CatHistory, "backfill fetch failed", "attempt", attempt+1, "error", err)
			continue
		}
		for i := len(persisted) - 1; i >= 0; i-- {
			p := persisted[i]
			if p.Role == conversation.RoleUser && p.UUID != "" && p.Content == want {
				h.state.Messages[target].UUID = p.UUID
				log.Debug(log.CatHistory, "backfilled user message id", "uuid", p.UUID)
				return
			}
		}
	}
	log.Debug(log.CatHistory, "backfill exhausted retries", "content_len", len(want))
}

// reconcileStreamedBlocks folds a record's identity-less streamed blocks
// into the segments the deltas already built. Both wires emit the complete
// record after its deltas; merged naively, the record's text block has no
// identity key, appends beside the accumulated block, and the message
// content doubles. The record wins for the segment it closes, so a delta
// lost in flight is repaired here.
func (h *Handler) reconcileStreamedBlocks(accum *conversation.Message, snapshot map[string]any) map[string]any {
	if !h.textActive && !h.thinkingActive {
		return snapshot
	}
	snapMsg, _ := snapshot["message"].(map[string]any)
	if snapMsg == nil {
		return snapshot
	}
	snapContent, ok := snapMsg["content"].([]any)
	if !ok {
		return snapshot
	}
	accMsg, _ := accum.Raw["message"].(map[string]any)
	if accMsg == nil {
		return snapshot
	}
	accContent, _ := accMsg["content"].([]any)

	// Only the record's trailing loose block of each kind corresponds to an
	// open segment; earlier same-kind blocks were closed by tool invocations
	// and merge positionally.
	closing := map[int]bool{}
	for _, kind := range []string{"text", "thinking"} {
		if kind == "text" && !h.textActive {
			continue
		}
		if kind == "thinking" && !h.thinkingActive {
			continue
		}
		si := lastLooseBlockIdx(snapContent, kind)
		ai := lastLooseBlockIdx(accContent, kind)
		if si >= 0 && ai >= 0 {
			accContent[ai] = snapContent[si]
			closing[si] = true
		}
	}
	if len(closing) == 0 {
		return snapshot
	}

	remaining := make([]any, 0, len(snapContent)-len(closing))
	for i, b := range snapContent {
		if !closing[i] {
			remaining = append(remaining, b)
		}
	}
	trimmedMsg := make(map[string]any, len(snapMsg))
	for k, v := range snapMsg {
		trimmedMsg[k] = v
	}
	trimmedMsg["content"] = remaining
	trimmed := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		trimmed[k] = v
	}
	trimmed["message"] = trimmedMsg
	return trimmed
}

// lastLooseBlockIdx returns the index of the last block of the given type
// that carries no identity key, or -1.
func lastLooseBlockIdx(content []any, kind string) int {
	for i := len(content) - 1; i >= 0; i-- {
		block, ok := content[i].(map[string]any)
		if !ok {
			continue
		}
		if id, _ := block["id"].(string); id != "" {
			continue
		}
		if t, _ := block["type"].(string); t == kind {
			return i
		}
	}
	return -1
}

// lastBlockOfKind returns the trailing block of the given type, or nil if a
// different block kind intervenes.
func lastBlockOfKind(content []any, kind string) map[string]any {
	for i := len(content) - 1; i >= 0; i-- {
		block, ok := content[i].(map[string]any)
		if !ok {
			return nil
		}
		t, _ := block["type"].(string)
		if t == kind {
			return block
		}
		return nil
	}
	return nil
}

// guardUsage strips an all-zero usage object from an incoming snapshot when
// the accumulating tree already carries non-zero usage, so the merge cannot
// zero it out.
func guardUsage(old, incoming map[string]any) map[string]any {
	newMsg, ok := incoming["message"].(map[string]any)
	if !ok {
		return incoming
	}
	newUsage, ok := newMsg["usage"].(map[string]any)
	if !ok || !usageTreeZero(newUsage) {
		return incoming
	}
	if old == nil {
		return incoming
	}
	oldMsg, _ := old["message"].(map[string]any)
	if oldMsg == nil {
		return incoming
	}
	oldUsage, _ := oldMsg["usage"].(map[string]any)
	if oldUsage == nil || usageTreeZero(oldUsage) {
		return incoming
	}

	trimmedMsg := make(map[string]any, len(newMsg))
	for k, v := range newMsg {
		if k != "usage" {
			trimmedMsg[k] = v
		}
	}
	trimmed := make(map[string]any, len(incoming))
	for k, v := range incoming {
		trimmed[k] = v
	}
	trimmed["message"] = trimmedMsg
	return trimmed
}

func usageTreeZero(usage map[string]any) bool {
	for _, v := range usage {
		if f, ok := v.(float64); ok && f != 0 {
			return false
		}
	}
	return true
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
