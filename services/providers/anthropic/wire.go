package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ribelo/prism-sub000/services/providers"
)

// MessagesRequest is the Anthropic Messages API request body
type MessagesRequest struct {
	Model         string          `json:"model" validate:"required"`
	System        json.RawMessage `json:"system,omitempty"`
	Messages      []WireMessage   `json:"messages" validate:"required,min=1,dive"`
	MaxTokens     int             `json:"max_tokens" validate:"gte=0"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Tools         []WireTool      `json:"tools,omitempty"`
	ToolChoice    *WireToolChoice `json:"tool_choice,omitempty"`
	Thinking      *WireThinking   `json:"thinking,omitempty"`
	Metadata      *WireMetadata   `json:"metadata,omitempty"`
}

// WireMessage content is either a string or a list of blocks
type WireMessage struct {
	Role    string          `json:"role" validate:"required,oneof=user assistant"`
	Content json.RawMessage `json:"content" validate:"required"`
}

// WireBlock is an Anthropic content block
type WireBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Source *WireImageSource `json:"source,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type WireImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type WireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type WireToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type WireThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type WireMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

// MessagesResponse is the Anthropic Messages API response body
type MessagesResponse struct {
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	Role         string      `json:"role"`
	Model        string      `json:"model"`
	Content      []WireBlock `json:"content"`
	StopReason   string      `json:"stop_reason,omitempty"`
	StopSequence *string     `json:"stop_sequence"`
	Usage        WireUsage   `json:"usage"`
}

type WireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// WireError is the error envelope used in bodies and stream events
type WireError struct {
	Type  string        `json:"type"`
	Error WireErrorBody `json:"error"`
}

type WireErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ToCanonical converts an Anthropic request into the hub request
func (r *MessagesRequest) ToCanonical() (*providers.ChatRequest, error) {
	system, err := decodeSystem(r.System)
	if err != nil {
		return nil, err
	}

	out := &providers.ChatRequest{
		Model:         r.Model,
		System:        system,
		MaxTokens:     r.MaxTokens,
		Temperature:   r.Temperature,
		TopP:          r.TopP,
		TopK:          r.TopK,
		StopSequences: r.StopSequences,
		Stream:        r.Stream,
	}

	for i, m := range r.Messages {
		blocks, err := decodeContent(m.Content)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		out.Messages = append(out.Messages, providers.Message{Role: m.Role, Content: blocks})
	}

	for _, t := range r.Tools {
		out.Tools = append(out.Tools, providers.Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	if r.ToolChoice != nil {
		out.ToolChoice = &providers.ToolChoice{Type: r.ToolChoice.Type, Name: r.ToolChoice.Name}
	}
	if r.Thinking != nil && r.Thinking.Type == "enabled" {
		out.Thinking = &providers.Thinking{BudgetTokens: r.Thinking.BudgetTokens}
	}
	if r.Metadata != nil && r.Metadata.UserID != "" {
		out.Metadata = map[string]string{"user_id": r.Metadata.UserID}
	}
	return out, nil
}

// FromCanonical builds an Anthropic request from the hub request
func FromCanonical(req *providers.ChatRequest) *MessagesRequest {
	out := &MessagesRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
		Stream:        req.Stream,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = defaultMaxTokens
	}
	if req.System != "" {
		out.System, _ = json.Marshal(req.System)
	}

	for _, m := range req.Messages {
		blocks := make([]WireBlock, 0, len(m.Content))
		for _, c := range m.Content {
			blocks = append(blocks, encodeBlock(c))
		}
		content, _ := json.Marshal(blocks)
		out.Messages = append(out.Messages, WireMessage{Role: m.Role, Content: content})
	}

	for _, t := range req.Tools {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		out.Tools = append(out.Tools, WireTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	if req.ToolChoice != nil && req.ToolChoice.Type != "none" {
		out.ToolChoice = &WireToolChoice{Type: req.ToolChoice.Type, Name: req.ToolChoice.Name}
	}
	if req.ToolChoice != nil && req.ToolChoice.Type == "none" {
		out.Tools = nil
	}

	budget := 0
	if req.Thinking != nil {
		budget = req.Thinking.BudgetTokens
	} else if req.ReasoningEffort != "" {
		budget = providers.BudgetForEffort(req.ReasoningEffort)
	}
	if budget > 0 {
		// budget_tokens must be at least 1024 and below max_tokens
		if budget < 1024 {
			budget = 1024
		}
		if out.MaxTokens <= budget {
			out.MaxTokens = budget + defaultMaxTokens
		}
		out.Thinking = &WireThinking{Type: "enabled", BudgetTokens: budget}
		out.Temperature = nil
		out.TopK = nil
	}

	if uid := req.Metadata["user_id"]; uid != "" {
		out.Metadata = &WireMetadata{UserID: uid}
	}
	return out
}

func decodeSystem(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var blocks []WireBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", fmt.Errorf("system must be a string or a list of text blocks: %w", err)
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == providers.BlockText {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func decodeContent(raw json.RawMessage) ([]providers.ContentBlock, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []providers.ContentBlock{providers.TextBlock(s)}, nil
	}
	var blocks []WireBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("content must be a string or a list of blocks: %w", err)
	}
	out := make([]providers.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		c, err := decodeBlock(b)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func decodeBlock(b WireBlock) (providers.ContentBlock, error) {
	switch b.Type {
	case providers.BlockText:
		return providers.TextBlock(b.Text), nil
	case providers.BlockImage:
		if b.Source == nil {
			return providers.ContentBlock{}, fmt.Errorf("image block without source")
		}
		return providers.ContentBlock{
			Type:      providers.BlockImage,
			MediaType: b.Source.MediaType,
			Data:      b.Source.Data,
			URL:       b.Source.URL,
		}, nil
	case providers.BlockToolUse:
		input := b.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		return providers.ContentBlock{Type: providers.BlockToolUse, ID: b.ID, Name: b.Name, Input: input}, nil
	case providers.BlockToolResult:
		content, err := decodeToolResult(b.Content)
		if err != nil {
			return providers.ContentBlock{}, err
		}
		return providers.ContentBlock{
			Type:      providers.BlockToolResult,
			ToolUseID: b.ToolUseID,
			Content:   content,
			IsError:   b.IsError,
		}, nil
	case providers.BlockThinking:
		return providers.ContentBlock{Type: providers.BlockThinking, Thinking: b.Thinking, Signature: b.Signature}, nil
	case "redacted_thinking":
		return providers.ContentBlock{Type: providers.BlockThinking}, nil
	default:
		return providers.ContentBlock{}, fmt.Errorf("unsupported content block type %q", b.Type)
	}
}

func decodeToolResult(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var blocks []WireBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", fmt.Errorf("tool_result content must be a string or blocks: %w", err)
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == providers.BlockText {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func encodeBlock(c providers.ContentBlock) WireBlock {
	switch c.Type {
	case providers.BlockImage:
		src := &WireImageSource{Type: "base64", MediaType: c.MediaType, Data: c.Data}
		if c.Data == "" && c.URL != "" {
			src = &WireImageSource{Type: "url", URL: c.URL}
		}
		return WireBlock{Type: providers.BlockImage, Source: src}
	case providers.BlockToolUse:
		input := c.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		return WireBlock{Type: providers.BlockToolUse, ID: c.ID, Name: c.Name, Input: input}
	case providers.BlockToolResult:
		content, _ := json.Marshal(c.Content)
		return WireBlock{Type: providers.BlockToolResult, ToolUseID: c.ToolUseID, Content: content, IsError: c.IsError}
	case providers.BlockThinking:
		return WireBlock{Type: providers.BlockThinking, Thinking: c.Thinking, Signature: c.Signature}
	default:
		return WireBlock{Type: providers.BlockText, Text: c.Text}
	}
}

// ResponseToCanonical converts an Anthropic response into the hub response
func ResponseToCanonical(r *MessagesResponse) (*providers.ChatResponse, error) {
	out := &providers.ChatResponse{
		ID:         r.ID,
		Model:      r.Model,
		StopReason: r.StopReason,
		Usage:      providers.Usage{InputTokens: r.Usage.InputTokens, OutputTokens: r.Usage.OutputTokens},
	}
	for _, b := range r.Content {
		c, err := decodeBlock(b)
		if err != nil {
			return nil, err
		}
		out.Content = append(out.Content, c)
	}
	return out, nil
}

// ResponseFromCanonical builds an Anthropic response body from the hub response
func ResponseFromCanonical(r *providers.ChatResponse) *MessagesResponse {
	out := &MessagesResponse{
		ID:         r.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      r.Model,
		StopReason: r.StopReason,
		Content:    make([]WireBlock, 0, len(r.Content)),
		Usage:      WireUsage{InputTokens: r.Usage.InputTokens, OutputTokens: r.Usage.OutputTokens},
	}
	for _, c := range r.Content {
		out.Content = append(out.Content, encodeBlock(c))
	}
	return out
}
