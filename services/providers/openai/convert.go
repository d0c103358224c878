package openai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ribelo/prism-sub000/services/providers"
)

// wireOptions captures the differences between OpenAI proper and OpenRouter
type wireOptions struct {
	openRouter bool
	preference *string
}

// buildOpenAIRequest converts the hub request into a Chat Completions body
func buildOpenAIRequest(req *providers.ChatRequest, opts wireOptions) *OpenAIChatRequest {
	out := &OpenAIChatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	if req.Stream {
		out.StreamOptions = &StreamOptions{IncludeUsage: true}
	}
	if req.MaxTokens > 0 {
		n := req.MaxTokens
		if opts.openRouter {
			out.MaxTokens = &n
		} else {
			out.MaxCompletionTokens = &n
		}
	}
	if opts.openRouter {
		out.TopK = req.TopK
	}
	if len(req.StopSequences) > 0 {
		out.Stop, _ = json.Marshal(req.StopSequences)
	}
	if uid := req.Metadata["user_id"]; uid != "" {
		out.User = uid
	}

	if req.System != "" {
		out.Messages = append(out.Messages, textMessage("system", req.System))
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, encodeMessage(m)...)
	}

	for _, t := range req.Tools {
		params := t.InputSchema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out.Tools = append(out.Tools, OpenAITool{
			Type:     "function",
			Function: OpenAIFunction{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}
	if req.ToolChoice != nil {
		out.ToolChoice = encodeToolChoice(req.ToolChoice)
	}

	budget := 0
	if req.Thinking != nil {
		budget = req.Thinking.BudgetTokens
	}
	if opts.openRouter {
		switch {
		case budget > 0:
			out.Reasoning = &ReasoningConfig{MaxTokens: &budget}
		case req.ReasoningEffort != "":
			out.Reasoning = &ReasoningConfig{Effort: req.ReasoningEffort}
		}
		if opts.preference != nil && *opts.preference != "" {
			out.Provider = &ProviderPreferences{Order: []string{*opts.preference}}
		}
	} else {
		switch {
		case req.ReasoningEffort != "":
			out.ReasoningEffort = req.ReasoningEffort
		case budget > 0:
			out.ReasoningEffort = providers.EffortForBudget(budget)
		}
	}
	return out
}

func textMessage(role, text string) OpenAIMessage {
	content, _ := json.Marshal(text)
	return OpenAIMessage{Role: role, Content: content}
}

// encodeMessage splits one canonical message into Chat Completions
// messages. Tool results become separate tool-role messages placed first.
func encodeMessage(m providers.Message) []OpenAIMessage {
	var (
		out       []OpenAIMessage
		parts     []ContentPart
		text      []string
		toolCalls []OpenAIToolCall
		hasImage  bool
	)

	for _, c := range m.Content {
		switch c.Type {
		case providers.BlockText:
			text = append(text, c.Text)
			parts = append(parts, ContentPart{Type: "text", Text: c.Text})
		case providers.BlockImage:
			hasImage = true
			url := c.URL
			if c.Data != "" {
				url = fmt.Sprintf("data:%s;base64,%s", c.MediaType, c.Data)
			}
			parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}})
		case providers.BlockToolUse:
			args := string(c.Input)
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, OpenAIToolCall{
				ID:       c.ID,
				Type:     "function",
				Function: OpenAIFunctionCall{Name: c.Name, Arguments: args},
			})
		case providers.BlockToolResult:
			content := c.Content
			if c.IsError && content != "" {
				content = "Error: " + content
			}
			msg := textMessage("tool", content)
			msg.ToolCallID = c.ToolUseID
			out = append(out, msg)
		}
	}

	if m.Role == "assistant" {
		if len(text) == 0 && len(toolCalls) == 0 {
			return out
		}
		msg := OpenAIMessage{Role: "assistant", ToolCalls: toolCalls}
		if len(text) > 0 {
			msg.Content, _ = json.Marshal(strings.Join(text, ""))
		} else {
			msg.Content = json.RawMessage("null")
		}
		return append(out, msg)
	}

	switch {
	case hasImage:
		content, _ := json.Marshal(parts)
		out = append(out, OpenAIMessage{Role: m.Role, Content: content})
	case len(text) > 0:
		out = append(out, textMessage(m.Role, strings.Join(text, "\n")))
	}
	return out
}

func encodeToolChoice(tc *providers.ToolChoice) json.RawMessage {
	switch tc.Type {
	case "any":
		return json.RawMessage(`"required"`)
	case "none":
		return json.RawMessage(`"none"`)
	case "tool":
		data, _ := json.Marshal(map[string]interface{}{
			"type":     "function",
			"function": map[string]string{"name": tc.Name},
		})
		return data
	default:
		return json.RawMessage(`"auto"`)
	}
}

// toCanonicalRequest converts an inbound Chat Completions body into the
// hub request. Consecutive messages with the same role are merged.
func toCanonicalRequest(r *OpenAIChatRequest) (*providers.ChatRequest, error) {
	out := &providers.ChatRequest{
		Model:           r.Model,
		Temperature:     r.Temperature,
		TopP:            r.TopP,
		TopK:            r.TopK,
		Stream:          r.Stream,
		ReasoningEffort: r.ReasoningEffort,
	}
	switch {
	case r.MaxCompletionTokens != nil:
		out.MaxTokens = *r.MaxCompletionTokens
	case r.MaxTokens != nil:
		out.MaxTokens = *r.MaxTokens
	}
	if r.User != "" {
		out.Metadata = map[string]string{"user_id": r.User}
	}

	stop, err := decodeStop(r.Stop)
	if err != nil {
		return nil, err
	}
	out.StopSequences = stop

	var system []string
	for i, m := range r.Messages {
		switch m.Role {
		case "system", "developer":
			text, err := contentText(m.Content)
			if err != nil {
				return nil, fmt.Errorf("messages[%d]: %w", i, err)
			}
			system = append(system, text)
		case "tool":
			text, err := contentText(m.Content)
			if err != nil {
				return nil, fmt.Errorf("messages[%d]: %w", i, err)
			}
			out.Messages = appendMerged(out.Messages, "user", providers.ContentBlock{
				Type:      providers.BlockToolResult,
				ToolUseID: m.ToolCallID,
				Content:   text,
			})
		default:
			blocks, err := decodeContent(m.Content)
			if err != nil {
				return nil, fmt.Errorf("messages[%d]: %w", i, err)
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, providers.ContentBlock{
					Type:  providers.BlockToolUse,
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: argumentsJSON(tc.Function.Arguments),
				})
			}
			out.Messages = appendMerged(out.Messages, m.Role, blocks...)
		}
	}
	out.System = strings.Join(system, "\n")

	for _, t := range r.Tools {
		out.Tools = append(out.Tools, providers.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	if len(r.ToolChoice) > 0 {
		tc, err := decodeToolChoice(r.ToolChoice)
		if err != nil {
			return nil, err
		}
		out.ToolChoice = tc
	}

	if r.Reasoning != nil {
		switch {
		case r.Reasoning.MaxTokens != nil && *r.Reasoning.MaxTokens > 0:
			out.Thinking = &providers.Thinking{BudgetTokens: *r.Reasoning.MaxTokens}
		case r.Reasoning.Effort != "":
			out.ReasoningEffort = r.Reasoning.Effort
		}
	}
	return out, nil
}

func appendMerged(msgs []providers.Message, role string, blocks ...providers.ContentBlock) []providers.Message {
	if len(blocks) == 0 {
		return msgs
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == role {
		msgs[n-1].Content = append(msgs[n-1].Content, blocks...)
		return msgs
	}
	return append(msgs, providers.Message{Role: role, Content: blocks})
}

func decodeContent(raw json.RawMessage) ([]providers.ContentBlock, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}
		return []providers.ContentBlock{providers.TextBlock(s)}, nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("content must be a string or a list of parts: %w", err)
	}
	out := make([]providers.ContentBlock, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text":
			out = append(out, providers.TextBlock(p.Text))
		case "image_url":
			if p.ImageURL == nil {
				return nil, fmt.Errorf("image_url part without url")
			}
			out = append(out, imageBlock(p.ImageURL.URL))
		default:
			return nil, fmt.Errorf("unsupported content part type %q", p.Type)
		}
	}
	return out, nil
}

func contentText(raw json.RawMessage) (string, error) {
	blocks, err := decodeContent(raw)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == providers.BlockText {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// imageBlock splits data URLs into media type and base64 payload
func imageBlock(url string) providers.ContentBlock {
	if rest, ok := strings.CutPrefix(url, "data:"); ok {
		if meta, data, found := strings.Cut(rest, ","); found {
			mediaType := strings.TrimSuffix(meta, ";base64")
			return providers.ContentBlock{Type: providers.BlockImage, MediaType: mediaType, Data: data}
		}
	}
	return providers.ContentBlock{Type: providers.BlockImage, URL: url}
}

// argumentsJSON keeps valid JSON arguments and wraps anything else
func argumentsJSON(args string) json.RawMessage {
	if args == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	wrapped, _ := json.Marshal(map[string]string{"raw": args})
	return wrapped
}

func decodeStop(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []string{s}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("stop must be a string or a list of strings: %w", err)
	}
	return list, nil
}

func decodeToolChoice(raw json.RawMessage) (*providers.ToolChoice, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "required":
			return &providers.ToolChoice{Type: "any"}, nil
		case "none":
			return &providers.ToolChoice{Type: "none"}, nil
		default:
			return &providers.ToolChoice{Type: "auto"}, nil
		}
	}
	var obj struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("invalid tool_choice: %w", err)
	}
	return &providers.ToolChoice{Type: "tool", Name: obj.Function.Name}, nil
}

// convertToUnifiedResponse converts a Chat Completions response into the hub response
func convertToUnifiedResponse(resp *OpenAIChatResponse) (*providers.ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}
	choice := resp.Choices[0]
	out := &providers.ChatResponse{
		ID:         resp.ID,
		Model:      resp.Model,
		StopReason: stopReasonFromFinish(choice.FinishReason),
	}

	reasoning := choice.Message.Reasoning
	if reasoning == "" {
		reasoning = choice.Message.ReasoningContent
	}
	if reasoning != "" {
		out.Content = append(out.Content, providers.ContentBlock{Type: providers.BlockThinking, Thinking: reasoning})
	}
	if choice.Message.Content != nil && *choice.Message.Content != "" {
		out.Content = append(out.Content, providers.TextBlock(*choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Content = append(out.Content, providers.ContentBlock{
			Type:  providers.BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: argumentsJSON(tc.Function.Arguments),
		})
	}
	if resp.Usage != nil {
		out.Usage = providers.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	}
	return out, nil
}

// buildOpenAIResponse renders the hub response as a Chat Completions body
func buildOpenAIResponse(resp *providers.ChatResponse) *OpenAIChatResponse {
	id := resp.ID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}

	msg := OpenAIResponseMessage{Role: "assistant"}
	var text []string
	for _, c := range resp.Content {
		switch c.Type {
		case providers.BlockText:
			text = append(text, c.Text)
		case providers.BlockThinking:
			msg.Reasoning += c.Thinking
		case providers.BlockToolUse:
			args := string(c.Input)
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, OpenAIToolCall{
				ID:       c.ID,
				Type:     "function",
				Function: OpenAIFunctionCall{Name: c.Name, Arguments: args},
			})
		}
	}
	if len(text) > 0 || len(msg.ToolCalls) == 0 {
		joined := strings.Join(text, "")
		msg.Content = &joined
	}

	return &OpenAIChatResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []OpenAIChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: finishFromStopReason(resp.StopReason),
		}},
		Usage: &OpenAIUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func stopReasonFromFinish(finish string) string {
	switch finish {
	case "length":
		return providers.StopMaxTokens
	case "tool_calls", "function_call":
		return providers.StopToolUse
	case "":
		return ""
	default:
		return providers.StopEndTurn
	}
}

func finishFromStopReason(stop string) string {
	switch stop {
	case providers.StopMaxTokens:
		return "length"
	case providers.StopToolUse:
		return "tool_calls"
	default:
		return "stop"
	}
}
