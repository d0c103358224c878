package openai

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ribelo/prism-sub000/services/providers"
)

const (
	blockNone = iota
	blockThinking
	blockText
	blockTool
)

// streamDecoder rebuilds canonical block structure from flat chunk deltas.
type streamDecoder struct {
	started    bool
	finished   bool
	open       int
	index      int
	toolIndex  int
	stopReason string
	usage      *providers.Usage
}

func newStreamDecoder() *streamDecoder {
	return &streamDecoder{open: blockNone, index: -1, toolIndex: -1}
}

func (d *streamDecoder) Decode(ev *providers.SSEEvent) ([]providers.StreamEvent, error) {
	if d.finished {
		return nil, nil
	}
	if providers.IsDone(ev) {
		return d.Finish(), nil
	}

	var chunk OpenAIChunk
	if err := json.Unmarshal(ev.Data, &chunk); err != nil {
		return nil, fmt.Errorf("invalid chat completion chunk: %w", err)
	}

	var out []providers.StreamEvent
	if !d.started {
		d.started = true
		out = append(out, providers.StreamEvent{
			Type:    providers.EventMessageStart,
			Message: &providers.ChatResponse{ID: chunk.ID, Model: chunk.Model},
		})
	}

	if chunk.Usage != nil {
		d.usage = &providers.Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
	}

	for _, choice := range chunk.Choices {
		if choice.Index != 0 {
			continue
		}
		delta := choice.Delta

		reasoning := delta.Reasoning
		if reasoning == "" {
			reasoning = delta.ReasoningContent
		}
		if reasoning != "" {
			out = append(out, d.ensureBlock(blockThinking, providers.ContentBlock{Type: providers.BlockThinking})...)
			out = append(out, providers.StreamEvent{
				Type:  providers.EventContentBlockDelta,
				Index: d.index,
				Delta: &providers.Delta{Type: providers.DeltaThinking, Thinking: reasoning},
			})
		}

		if delta.Content != "" {
			out = append(out, d.ensureBlock(blockText, providers.TextBlock(""))...)
			out = append(out, providers.StreamEvent{
				Type:  providers.EventContentBlockDelta,
				Index: d.index,
				Delta: &providers.Delta{Type: providers.DeltaText, Text: delta.Content},
			})
		}

		for _, tc := range delta.ToolCalls {
			idx := d.toolIndex
			if tc.Index != nil {
				idx = *tc.Index
			} else if tc.ID != "" {
				idx++
			}
			if d.open != blockTool || idx != d.toolIndex || (tc.ID != "" && tc.Index == nil) {
				d.toolIndex = idx
				out = append(out, d.startBlock(blockTool, providers.ContentBlock{
					Type: providers.BlockToolUse,
					ID:   tc.ID,
					Name: tc.Function.Name,
				})...)
			}
			if tc.Function.Arguments != "" {
				out = append(out, providers.StreamEvent{
					Type:  providers.EventContentBlockDelta,
					Index: d.index,
					Delta: &providers.Delta{Type: providers.DeltaInputJSON, PartialJSON: tc.Function.Arguments},
				})
			}
		}

		if choice.FinishReason != nil && *choice.FinishReason != "" {
			d.stopReason = stopReasonFromFinish(*choice.FinishReason)
			out = append(out, d.closeBlock()...)
		}
	}
	return out, nil
}

// Finish closes the open block and emits message_delta and message_stop
func (d *streamDecoder) Finish() []providers.StreamEvent {
	if d.finished || !d.started {
		return nil
	}
	d.finished = true

	out := d.closeBlock()
	stop := d.stopReason
	if stop == "" {
		stop = providers.StopEndTurn
	}
	out = append(out,
		providers.StreamEvent{Type: providers.EventMessageDelta, StopReason: stop, Usage: d.usage},
		providers.StreamEvent{Type: providers.EventMessageStop},
	)
	return out
}

func (d *streamDecoder) ensureBlock(kind int, block providers.ContentBlock) []providers.StreamEvent {
	if d.open == kind {
		return nil
	}
	return d.startBlock(kind, block)
}

func (d *streamDecoder) startBlock(kind int, block providers.ContentBlock) []providers.StreamEvent {
	out := d.closeBlock()
	d.index++
	d.open = kind
	return append(out, providers.StreamEvent{Type: providers.EventContentBlockStart, Index: d.index, Block: &block})
}

func (d *streamDecoder) closeBlock() []providers.StreamEvent {
	if d.open == blockNone {
		return nil
	}
	d.open = blockNone
	return []providers.StreamEvent{{Type: providers.EventContentBlockStop, Index: d.index}}
}

// streamEncoder renders canonical events as chat.completion.chunk frames.
type streamEncoder struct {
	id       string
	model    string
	created  int64
	tools    map[int]int
	nextTool int
}

func newStreamEncoder() *streamEncoder {
	return &streamEncoder{tools: make(map[int]int)}
}

func (e *streamEncoder) Encode(ev providers.StreamEvent) ([]providers.SSEEvent, error) {
	switch ev.Type {
	case providers.EventMessageStart:
		e.created = time.Now().Unix()
		if ev.Message != nil {
			e.id = ev.Message.ID
			e.model = ev.Message.Model
		}
		if e.id == "" {
			e.id = "chatcmpl-" + uuid.NewString()
		}
		return e.chunk(ChunkDelta{Role: "assistant"}, nil, nil)

	case providers.EventContentBlockStart:
		if ev.Block == nil || ev.Block.Type != providers.BlockToolUse {
			return nil, nil
		}
		idx := e.nextTool
		e.nextTool++
		e.tools[ev.Index] = idx
		return e.chunk(ChunkDelta{ToolCalls: []OpenAIToolCall{{
			Index:    &idx,
			ID:       ev.Block.ID,
			Type:     "function",
			Function: OpenAIFunctionCall{Name: ev.Block.Name, Arguments: ""},
		}}}, nil, nil)

	case providers.EventContentBlockDelta:
		if ev.Delta == nil {
			return nil, nil
		}
		switch ev.Delta.Type {
		case providers.DeltaText:
			return e.chunk(ChunkDelta{Content: ev.Delta.Text}, nil, nil)
		case providers.DeltaThinking:
			return e.chunk(ChunkDelta{Reasoning: ev.Delta.Thinking}, nil, nil)
		case providers.DeltaInputJSON:
			idx, ok := e.tools[ev.Index]
			if !ok {
				return nil, fmt.Errorf("input_json_delta for unknown block %d", ev.Index)
			}
			return e.chunk(ChunkDelta{ToolCalls: []OpenAIToolCall{{
				Index:    &idx,
				Function: OpenAIFunctionCall{Arguments: ev.Delta.PartialJSON},
			}}}, nil, nil)
		}
		return nil, nil

	case providers.EventMessageDelta:
		finish := finishFromStopReason(ev.StopReason)
		var usage *OpenAIUsage
		if ev.Usage != nil {
			usage = &OpenAIUsage{
				PromptTokens:     ev.Usage.InputTokens,
				CompletionTokens: ev.Usage.OutputTokens,
				TotalTokens:      ev.Usage.InputTokens + ev.Usage.OutputTokens,
			}
		}
		return e.chunk(ChunkDelta{}, &finish, usage)

	case providers.EventError:
		body := OpenAIErrorResponse{}
		body.Error.Type = "api_error"
		body.Error.Message = "upstream error"
		if ev.Error != nil {
			body.Error.Type = ev.Error.Type
			body.Error.Message = ev.Error.Message
		}
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		return []providers.SSEEvent{{Data: data}}, nil

	default:
		// block stops, message_stop and pings have no chunk equivalent
		return nil, nil
	}
}

// Finish emits the [DONE] sentinel
func (e *streamEncoder) Finish() []providers.SSEEvent {
	return []providers.SSEEvent{{Data: []byte("[DONE]")}}
}

func (e *streamEncoder) chunk(delta ChunkDelta, finish *string, usage *OpenAIUsage) ([]providers.SSEEvent, error) {
	data, err := json.Marshal(OpenAIChunk{
		ID:      e.id,
		Object:  "chat.completion.chunk",
		Created: e.created,
		Model:   e.model,
		Choices: []ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		Usage:   usage,
	})
	if err != nil {
		return nil, err
	}
	return []providers.SSEEvent{{Data: data}}, nil
}
