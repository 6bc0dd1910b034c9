package anthropic

import (
	"log/slog"
	"time"

	"github.com/rhuss/dolmetscher/pkg/api"
	"github.com/rhuss/dolmetscher/pkg/debug"
)

type streamPhase int

const (
	phaseIdle streamPhase = iota
	phaseStarted
	phaseStopped
)

type blockKind int

const (
	blockKindText blockKind = iota
	blockKindToolUse
	blockKindOther
)

type blockState struct {
	kind   blockKind
	slot   int
	closed bool
}

// StreamState is the translation state of exactly one stream. It is
// created per request, threaded through every Translate call, and never
// shared between goroutines.
type StreamState struct {
	includeUsage bool

	phase    streamPhase
	id       string
	model    string
	blocks   map[int]*blockState
	nextSlot int

	inputTokens  int
	outputTokens int
}

// NewStreamState returns the state for a new stream. includeUsage attaches
// usage to the finish chunk.
func NewStreamState(includeUsage bool) *StreamState {
	return &StreamState{
		includeUsage: includeUsage,
		blocks:       make(map[int]*blockState),
	}
}

// Started reports whether message_start has been seen.
func (s *StreamState) Started() bool { return s.phase != phaseIdle }

// Stopped reports whether message_stop has been seen.
func (s *StreamState) Stopped() bool { return s.phase == phaseStopped }

// Model returns the upstream model reported by message_start.
func (s *StreamState) Model() string { return s.model }

// Usage returns the token counts accumulated so far.
func (s *StreamState) Usage() (input, output int) { return s.inputTokens, s.outputTokens }

// ToolCalls returns how many tool slots were allocated.
func (s *StreamState) ToolCalls() int { return s.nextSlot }

// StreamTranslator converts upstream stream events into downstream chunks.
type StreamTranslator struct {
	// Now stamps the created field. Defaults to time.Now.
	Now func() time.Time
}

// Translate folds one event into state. It returns the chunks to emit, in
// order, and done=true once the stream has ended successfully. A non-nil
// error is always a *StreamError and ends the stream.
func (t StreamTranslator) Translate(state *StreamState, ev Event) ([]api.ChatCompletionChunk, bool, error) {
	if state.phase == phaseStopped {
		return nil, false, protocolError("%s event after message_stop", ev.EventType())
	}

	switch e := ev.(type) {
	case Ping:
		return nil, false, nil
	case UnknownEvent:
		slog.Warn("skipping unknown upstream stream event", "type", e.Type)
		return nil, false, nil
	case Error:
		return nil, false, &StreamError{Kind: StreamUpstream, Type: e.Error.Type, Message: e.Error.Message}
	case MessageStart:
		if state.phase != phaseIdle {
			return nil, false, protocolError("duplicate message_start")
		}
		return t.messageStart(state, e), false, nil
	}

	if state.phase == phaseIdle {
		return nil, false, protocolError("%s event before message_start", ev.EventType())
	}

	switch e := ev.(type) {
	case ContentBlockStart:
		return t.blockStart(state, e)
	case ContentBlockDelta:
		return t.blockDelta(state, e)
	case ContentBlockStop:
		block, ok := state.blocks[e.Index]
		if !ok {
			return nil, false, protocolError("content_block_stop for unknown block %d", e.Index)
		}
		block.closed = true
		return nil, false, nil
	case MessageDelta:
		return t.messageDelta(state, e), false, nil
	case MessageStop:
		state.phase = phaseStopped
		return []api.ChatCompletionChunk{t.chunk(state, api.ChunkDelta{}, api.FinishReasonStop, nil)}, true, nil
	default:
		slog.Warn("skipping unknown upstream stream event", "type", ev.EventType())
		return nil, false, nil
	}
}

func (t StreamTranslator) messageStart(state *StreamState, e MessageStart) []api.ChatCompletionChunk {
	state.phase = phaseStarted
	state.id = e.Message.ID
	if state.id == "" {
		state.id = api.NewCompletionID()
	}
	state.model = e.Message.Model
	state.inputTokens = e.Message.Usage.InputTokens
	state.outputTokens = e.Message.Usage.OutputTokens

	debug.Log("streaming", "stream started", "id", state.id, "model", state.model)
	return []api.ChatCompletionChunk{t.chunk(state, api.ChunkDelta{Role: api.RoleAssistant}, "", nil)}
}

func (t StreamTranslator) blockStart(state *StreamState, e ContentBlockStart) ([]api.ChatCompletionChunk, bool, error) {
	if _, exists := state.blocks[e.Index]; exists {
		return nil, false, protocolError("content_block_start for block %d that is already open", e.Index)
	}

	switch e.ContentBlock.Type {
	case BlockText:
		state.blocks[e.Index] = &blockState{kind: blockKindText}
		return nil, false, nil
	case BlockToolUse:
		slot := state.nextSlot
		state.nextSlot++
		state.blocks[e.Index] = &blockState{kind: blockKindToolUse, slot: slot}
		delta := api.ChunkDelta{ToolCalls: []api.ToolCallDelta{{
			Index:    slot,
			ID:       e.ContentBlock.ID,
			Type:     "function",
			Function: api.FunctionCallDelta{Name: e.ContentBlock.Name},
		}}}
		return []api.ChatCompletionChunk{t.chunk(state, delta, "", nil)}, false, nil
	default:
		debug.Log("streaming", "ignoring content block", "type", e.ContentBlock.Type, "index", e.Index)
		state.blocks[e.Index] = &blockState{kind: blockKindOther}
		return nil, false, nil
	}
}

func (t StreamTranslator) blockDelta(state *StreamState, e ContentBlockDelta) ([]api.ChatCompletionChunk, bool, error) {
	block, ok := state.blocks[e.Index]
	if !ok {
		return nil, false, protocolError("content_block_delta for unknown block %d", e.Index)
	}
	if block.closed {
		return nil, false, protocolError("content_block_delta for closed block %d", e.Index)
	}

	switch e.Delta.Type {
	case DeltaText:
		if block.kind != blockKindText {
			return nil, false, protocolError("text_delta on non-text block %d", e.Index)
		}
		text := e.Delta.Text
		return []api.ChatCompletionChunk{t.chunk(state, api.ChunkDelta{Content: &text}, "", nil)}, false, nil
	case DeltaInputJSON:
		if block.kind != blockKindToolUse {
			return nil, false, protocolError("input_json_delta on non-tool block %d", e.Index)
		}
		if e.Delta.PartialJSON == "" {
			return nil, false, nil
		}
		delta := api.ChunkDelta{ToolCalls: []api.ToolCallDelta{{
			Index:    block.slot,
			Function: api.FunctionCallDelta{Arguments: e.Delta.PartialJSON},
		}}}
		return []api.ChatCompletionChunk{t.chunk(state, delta, "", nil)}, false, nil
	default:
		debug.Log("streaming", "ignoring content block delta", "type", e.Delta.Type, "index", e.Index)
		return nil, false, nil
	}
}

func (t StreamTranslator) messageDelta(state *StreamState, e MessageDelta) []api.ChatCompletionChunk {
	if e.Usage != nil {
		state.outputTokens = e.Usage.OutputTokens
		if e.Usage.InputTokens != nil {
			state.inputTokens = *e.Usage.InputTokens
		}
	}
	if e.Delta.StopReason == "" {
		return nil
	}

	var usage *api.Usage
	if state.includeUsage {
		usage = api.NewUsage(state.inputTokens, state.outputTokens)
	}
	return []api.ChatCompletionChunk{t.chunk(state, api.ChunkDelta{}, MapStopReason(e.Delta.StopReason), usage)}
}

func (t StreamTranslator) chunk(state *StreamState, delta api.ChunkDelta, finish string, usage *api.Usage) api.ChatCompletionChunk {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	choice := api.ChunkChoice{Index: 0, Delta: delta}
	if finish != "" {
		choice.FinishReason = &finish
	}
	return api.ChatCompletionChunk{
		ID:      state.id,
		Object:  api.ObjectChatCompletionChunk,
		Created: now().Unix(),
		Model:   state.model,
		Choices: []api.ChunkChoice{choice},
		Usage:   usage,
	}
}
