package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/ribelo/prism-sub000/services/providers"
)

// WireStreamEvent is one Anthropic SSE payload
type WireStreamEvent struct {
	Type         string            `json:"type"`
	Message      *MessagesResponse `json:"message,omitempty"`
	Index        *int              `json:"index,omitempty"`
	ContentBlock json.RawMessage   `json:"content_block,omitempty"`
	Delta        *WireDelta        `json:"delta,omitempty"`
	Usage        *WireUsage        `json:"usage,omitempty"`
	Error        *WireErrorBody    `json:"error,omitempty"`
}

// WireDelta covers both content_block_delta and message_delta payloads
type WireDelta struct {
	Type         string  `json:"type,omitempty"`
	Text         string  `json:"text,omitempty"`
	PartialJSON  string  `json:"partial_json,omitempty"`
	Thinking     string  `json:"thinking,omitempty"`
	Signature    string  `json:"signature,omitempty"`
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

type streamDecoder struct {
	started bool
	stopped bool
}

// Decode maps Anthropic events one to one onto canonical events.
func (d *streamDecoder) Decode(ev *providers.SSEEvent) ([]providers.StreamEvent, error) {
	var wire WireStreamEvent
	if err := json.Unmarshal(ev.Data, &wire); err != nil {
		return nil, fmt.Errorf("invalid anthropic stream event: %w", err)
	}

	index := 0
	if wire.Index != nil {
		index = *wire.Index
	}

	switch providers.StreamEventType(wire.Type) {
	case providers.EventMessageStart:
		if wire.Message == nil {
			return nil, fmt.Errorf("message_start without message")
		}
		msg, err := ResponseToCanonical(wire.Message)
		if err != nil {
			return nil, err
		}
		d.started = true
		return []providers.StreamEvent{{Type: providers.EventMessageStart, Message: msg}}, nil

	case providers.EventContentBlockStart:
		var b WireBlock
		if err := json.Unmarshal(wire.ContentBlock, &b); err != nil {
			return nil, fmt.Errorf("invalid content_block: %w", err)
		}
		block, err := decodeBlock(b)
		if err != nil {
			return nil, err
		}
		return []providers.StreamEvent{{Type: providers.EventContentBlockStart, Index: index, Block: &block}}, nil

	case providers.EventContentBlockDelta:
		if wire.Delta == nil {
			return nil, fmt.Errorf("content_block_delta without delta")
		}
		if wire.Delta.Type == "signature_delta" {
			return nil, nil
		}
		delta := &providers.Delta{
			Type:        wire.Delta.Type,
			Text:        wire.Delta.Text,
			PartialJSON: wire.Delta.PartialJSON,
			Thinking:    wire.Delta.Thinking,
		}
		return []providers.StreamEvent{{Type: providers.EventContentBlockDelta, Index: index, Delta: delta}}, nil

	case providers.EventContentBlockStop:
		return []providers.StreamEvent{{Type: providers.EventContentBlockStop, Index: index}}, nil

	case providers.EventMessageDelta:
		out := providers.StreamEvent{Type: providers.EventMessageDelta}
		if wire.Delta != nil {
			out.StopReason = wire.Delta.StopReason
		}
		if wire.Usage != nil {
			out.Usage = &providers.Usage{InputTokens: wire.Usage.InputTokens, OutputTokens: wire.Usage.OutputTokens}
		}
		return []providers.StreamEvent{out}, nil

	case providers.EventMessageStop:
		d.stopped = true
		return []providers.StreamEvent{{Type: providers.EventMessageStop}}, nil

	case providers.EventPing:
		return []providers.StreamEvent{{Type: providers.EventPing}}, nil

	case providers.EventError:
		if wire.Error == nil {
			return []providers.StreamEvent{providers.ErrorEvent("api_error", "unknown upstream error")}, nil
		}
		return []providers.StreamEvent{providers.ErrorEvent(wire.Error.Type, wire.Error.Message)}, nil

	default:
		return nil, nil
	}
}

// Finish closes a stream that was cut before message_stop
func (d *streamDecoder) Finish() []providers.StreamEvent {
	if d.started && !d.stopped {
		d.stopped = true
		return []providers.StreamEvent{{Type: providers.EventMessageStop}}
	}
	return nil
}

type streamEncoder struct{}

// Encode renders canonical events as Anthropic SSE frames
func (e *streamEncoder) Encode(ev providers.StreamEvent) ([]providers.SSEEvent, error) {
	wire := WireStreamEvent{Type: string(ev.Type)}

	switch ev.Type {
	case providers.EventMessageStart:
		msg := ev.Message
		if msg == nil {
			msg = &providers.ChatResponse{}
		}
		if msg.ID == "" {
			msg.ID = "msg_" + uuid.NewString()
		}
		wire.Message = ResponseFromCanonical(msg)
		wire.Message.StopReason = ""

	case providers.EventContentBlockStart:
		wire.Index = intPtr(ev.Index)
		wire.ContentBlock = startBlockJSON(ev.Block)

	case providers.EventContentBlockDelta:
		wire.Index = intPtr(ev.Index)
		if ev.Delta != nil {
			wire.Delta = &WireDelta{
				Type:        ev.Delta.Type,
				Text:        ev.Delta.Text,
				PartialJSON: ev.Delta.PartialJSON,
				Thinking:    ev.Delta.Thinking,
			}
		}

	case providers.EventContentBlockStop:
		wire.Index = intPtr(ev.Index)

	case providers.EventMessageDelta:
		wire.Delta = &WireDelta{StopReason: ev.StopReason}
		if ev.Usage != nil {
			wire.Usage = &WireUsage{InputTokens: ev.Usage.InputTokens, OutputTokens: ev.Usage.OutputTokens}
		}

	case providers.EventMessageStop, providers.EventPing:

	case providers.EventError:
		wire.Error = &WireErrorBody{Type: "api_error", Message: "upstream error"}
		if ev.Error != nil {
			wire.Error = &WireErrorBody{Type: ev.Error.Type, Message: ev.Error.Message}
		}

	default:
		return nil, fmt.Errorf("unknown stream event type %q", ev.Type)
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	return []providers.SSEEvent{{Event: string(ev.Type), Data: data}}, nil
}

func (e *streamEncoder) Finish() []providers.SSEEvent { return nil }

// startBlockJSON keeps the empty text/thinking fields clients expect.
func startBlockJSON(b *providers.ContentBlock) json.RawMessage {
	if b == nil {
		return json.RawMessage(`{"type":"text","text":""}`)
	}
	var v interface{}
	switch b.Type {
	case providers.BlockToolUse:
		v = map[string]interface{}{"type": b.Type, "id": b.ID, "name": b.Name, "input": map[string]interface{}{}}
	case providers.BlockThinking:
		v = map[string]interface{}{"type": b.Type, "thinking": b.Thinking}
	default:
		v = map[string]interface{}{"type": providers.BlockText, "text": b.Text}
	}
	data, _ := json.Marshal(v)
	return data
}

func intPtr(i int) *int { return &i }
