package gemini

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/ribelo/prism-sub000/services/providers"
)

const (
	partNone = iota
	partThought
	partText
)

// streamDecoder converts streamGenerateContent chunks. Gemini sends no
// terminator, so the closing events come from Finish at EOF.
type streamDecoder struct {
	started     bool
	finished    bool
	open        int
	index       int
	hasToolCall bool
	finish      string
	usage       *providers.Usage
}

func newStreamDecoder() *streamDecoder {
	return &streamDecoder{index: -1}
}

func (d *streamDecoder) Decode(ev *providers.SSEEvent) ([]providers.StreamEvent, error) {
	if d.finished || len(ev.Data) == 0 {
		return nil, nil
	}

	var chunk GenerateContentResponse
	if err := json.Unmarshal(ev.Data, &chunk); err != nil {
		return nil, fmt.Errorf("invalid gemini chunk: %w", err)
	}

	var out []providers.StreamEvent
	if !d.started {
		d.started = true
		id := chunk.ResponseID
		if id == "" {
			id = "gen_" + uuid.NewString()
		}
		out = append(out, providers.StreamEvent{
			Type:    providers.EventMessageStart,
			Message: &providers.ChatResponse{ID: id, Model: chunk.ModelVersion},
		})
	}
	if chunk.UsageMetadata != nil {
		u := usageToCanonical(chunk.UsageMetadata)
		d.usage = &u
	}

	for _, cand := range chunk.Candidates {
		if cand.Index != 0 {
			continue
		}
		if cand.Content != nil {
			for _, p := range cand.Content.Parts {
				out = append(out, d.part(p)...)
			}
		}
		if cand.FinishReason != "" {
			d.finish = cand.FinishReason
		}
	}
	return out, nil
}

func (d *streamDecoder) part(p Part) []providers.StreamEvent {
	switch {
	case p.FunctionCall != nil:
		// function calls arrive whole, so each becomes a complete block
		d.hasToolCall = true
		out := d.closeBlock()
		d.index++
		id := p.FunctionCall.ID
		if id == "" {
			id = fmt.Sprintf("call_%d_%s", d.index, p.FunctionCall.Name)
		}
		args := p.FunctionCall.Args
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		return append(out,
			providers.StreamEvent{Type: providers.EventContentBlockStart, Index: d.index, Block: &providers.ContentBlock{
				Type: providers.BlockToolUse, ID: id, Name: p.FunctionCall.Name,
			}},
			providers.StreamEvent{Type: providers.EventContentBlockDelta, Index: d.index, Delta: &providers.Delta{
				Type: providers.DeltaInputJSON, PartialJSON: string(args),
			}},
			providers.StreamEvent{Type: providers.EventContentBlockStop, Index: d.index},
		)
	case p.Thought && p.Text != "":
		out := d.ensure(partThought, providers.ContentBlock{Type: providers.BlockThinking})
		return append(out, providers.StreamEvent{
			Type: providers.EventContentBlockDelta, Index: d.index,
			Delta: &providers.Delta{Type: providers.DeltaThinking, Thinking: p.Text},
		})
	case p.Text != "":
		out := d.ensure(partText, providers.TextBlock(""))
		return append(out, providers.StreamEvent{
			Type: providers.EventContentBlockDelta, Index: d.index,
			Delta: &providers.Delta{Type: providers.DeltaText, Text: p.Text},
		})
	}
	return nil
}

func (d *streamDecoder) ensure(kind int, block providers.ContentBlock) []providers.StreamEvent {
	if d.open == kind {
		return nil
	}
	out := d.closeBlock()
	d.index++
	d.open = kind
	return append(out, providers.StreamEvent{Type: providers.EventContentBlockStart, Index: d.index, Block: &block})
}

func (d *streamDecoder) closeBlock() []providers.StreamEvent {
	if d.open == partNone {
		return nil
	}
	d.open = partNone
	return []providers.StreamEvent{{Type: providers.EventContentBlockStop, Index: d.index}}
}

// Finish closes the open block and emits message_delta and message_stop
func (d *streamDecoder) Finish() []providers.StreamEvent {
	if d.finished || !d.started {
		return nil
	}
	d.finished = true

	stop := stopReason(d.finish, d.hasToolCall)
	if stop == "" {
		stop = providers.StopEndTurn
	}
	return append(d.closeBlock(),
		providers.StreamEvent{Type: providers.EventMessageDelta, StopReason: stop, Usage: d.usage},
		providers.StreamEvent{Type: providers.EventMessageStop},
	)
}

// streamEncoder renders canonical events as streamGenerateContent chunks.
// Tool arguments are buffered until the block closes because Gemini only
// carries complete function calls.
type streamEncoder struct {
	id    string
	model string
	tools map[int]*pendingCall
}

type pendingCall struct {
	id   string
	name string
	args []byte
}

func newStreamEncoder() *streamEncoder {
	return &streamEncoder{tools: make(map[int]*pendingCall)}
}

func (e *streamEncoder) Encode(ev providers.StreamEvent) ([]providers.SSEEvent, error) {
	switch ev.Type {
	case providers.EventMessageStart:
		if ev.Message != nil {
			e.id = ev.Message.ID
			e.model = ev.Message.Model
		}
		return nil, nil

	case providers.EventContentBlockStart:
		if ev.Block != nil && ev.Block.Type == providers.BlockToolUse {
			e.tools[ev.Index] = &pendingCall{id: ev.Block.ID, name: ev.Block.Name}
		}
		return nil, nil

	case providers.EventContentBlockDelta:
		if ev.Delta == nil {
			return nil, nil
		}
		switch ev.Delta.Type {
		case providers.DeltaText:
			return e.chunk(&Candidate{Content: &Content{Role: "model", Parts: []Part{{Text: ev.Delta.Text}}}}, nil)
		case providers.DeltaThinking:
			return e.chunk(&Candidate{Content: &Content{Role: "model", Parts: []Part{{Text: ev.Delta.Thinking, Thought: true}}}}, nil)
		case providers.DeltaInputJSON:
			call, ok := e.tools[ev.Index]
			if !ok {
				return nil, fmt.Errorf("input_json_delta for unknown block %d", ev.Index)
			}
			call.args = append(call.args, ev.Delta.PartialJSON...)
		}
		return nil, nil

	case providers.EventContentBlockStop:
		call, ok := e.tools[ev.Index]
		if !ok {
			return nil, nil
		}
		delete(e.tools, ev.Index)
		args := json.RawMessage(call.args)
		if len(args) == 0 || !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		return e.chunk(&Candidate{Content: &Content{Role: "model", Parts: []Part{{
			FunctionCall: &FunctionCall{ID: call.id, Name: call.name, Args: args},
		}}}}, nil)

	case providers.EventMessageDelta:
		var usage *UsageMetadata
		if ev.Usage != nil {
			usage = &UsageMetadata{
				PromptTokenCount:     ev.Usage.InputTokens,
				CandidatesTokenCount: ev.Usage.OutputTokens,
				TotalTokenCount:      ev.Usage.InputTokens + ev.Usage.OutputTokens,
			}
		}
		return e.chunk(&Candidate{FinishReason: finishReason(ev.StopReason)}, usage)

	case providers.EventError:
		body := ErrorResponse{Error: ErrorBody{Code: http.StatusInternalServerError, Status: "INTERNAL", Message: "upstream error"}}
		if ev.Error != nil {
			body.Error.Message = ev.Error.Message
			if ev.Error.Type != "" {
				body.Error.Status = ev.Error.Type
			}
		}
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		return []providers.SSEEvent{{Data: data}}, nil
	}
	return nil, nil
}

// Finish returns nothing; Gemini streams end at EOF
func (e *streamEncoder) Finish() []providers.SSEEvent {
	return nil
}

func (e *streamEncoder) chunk(cand *Candidate, usage *UsageMetadata) ([]providers.SSEEvent, error) {
	data, err := json.Marshal(GenerateContentResponse{
		Candidates:    []Candidate{*cand},
		UsageMetadata: usage,
		ModelVersion:  e.model,
		ResponseID:    e.id,
	})
	if err != nil {
		return nil, err
	}
	return []providers.SSEEvent{{Data: data}}, nil
}
