package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ribelo/prism-sub000/services/providers"
)

// fromCanonical builds a generateContent body from the hub request
func fromCanonical(req *providers.ChatRequest) *GenerateContentRequest {
	out := &GenerateContentRequest{}
	if req.System != "" {
		out.SystemInstruction = &Content{Parts: []Part{{Text: req.System}}}
	}

	// functionResponse needs the function name, which the hub only carries
	// on the matching tool_use block.
	toolNames := make(map[string]string)
	for _, m := range req.Messages {
		content := Content{Role: "user"}
		if m.Role == "assistant" {
			content.Role = "model"
		}
		for _, c := range m.Content {
			switch c.Type {
			case providers.BlockText:
				content.Parts = append(content.Parts, Part{Text: c.Text})
			case providers.BlockImage:
				if c.Data != "" {
					content.Parts = append(content.Parts, Part{InlineData: &Blob{MimeType: c.MediaType, Data: c.Data}})
				} else {
					content.Parts = append(content.Parts, Part{FileData: &FileData{MimeType: c.MediaType, FileURI: c.URL}})
				}
			case providers.BlockToolUse:
				toolNames[c.ID] = c.Name
				args := c.Input
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				content.Parts = append(content.Parts, Part{FunctionCall: &FunctionCall{Name: c.Name, Args: args}})
			case providers.BlockToolResult:
				name := toolNames[c.ToolUseID]
				if name == "" {
					name = c.ToolUseID
				}
				key := "result"
				if c.IsError {
					key = "error"
				}
				resp, _ := json.Marshal(map[string]string{key: c.Content})
				content.Parts = append(content.Parts, Part{FunctionResponse: &FunctionResponse{Name: name, Response: resp}})
			case providers.BlockThinking:
				// prior reasoning is not replayed to Gemini
			}
		}
		if len(content.Parts) > 0 {
			out.Contents = append(out.Contents, content)
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, FunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
		}
		out.Tools = []ToolDecl{{FunctionDeclarations: decls}}
	}
	if req.ToolChoice != nil {
		cfg := &FunctionCallingConfig{Mode: "AUTO"}
		switch req.ToolChoice.Type {
		case "any":
			cfg.Mode = "ANY"
		case "none":
			cfg.Mode = "NONE"
		case "tool":
			cfg.Mode = "ANY"
			cfg.AllowedFunctionNames = []string{req.ToolChoice.Name}
		}
		out.ToolConfig = &ToolConfig{FunctionCallingConfig: cfg}
	}

	gen := &GenerationConfig{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		TopK:            req.TopK,
		MaxOutputTokens: req.MaxTokens,
		StopSequences:   req.StopSequences,
	}
	budget := 0
	if req.Thinking != nil {
		budget = req.Thinking.BudgetTokens
	} else if req.ReasoningEffort != "" {
		budget = providers.BudgetForEffort(req.ReasoningEffort)
	}
	if budget > 0 {
		gen.ThinkingConfig = &ThinkingConfig{ThinkingBudget: &budget, IncludeThoughts: true}
	}
	if gen.Temperature != nil || gen.TopP != nil || gen.TopK != nil || gen.MaxOutputTokens > 0 ||
		len(gen.StopSequences) > 0 || gen.ThinkingConfig != nil {
		out.GenerationConfig = gen
	}
	return out
}

// toCanonical converts an inbound generateContent body. The model and
// stream flag come from the URL and are set by the caller.
func toCanonical(r *GenerateContentRequest) (*providers.ChatRequest, error) {
	out := &providers.ChatRequest{}
	if r.SystemInstruction != nil {
		var parts []string
		for _, p := range r.SystemInstruction.Parts {
			if p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
		out.System = strings.Join(parts, "\n")
	}

	for i, c := range r.Contents {
		role := "user"
		if c.Role == "model" {
			role = "assistant"
		}
		var blocks []providers.ContentBlock
		for _, p := range c.Parts {
			block, ok, err := partToBlock(p)
			if err != nil {
				return nil, fmt.Errorf("contents[%d]: %w", i, err)
			}
			if ok {
				blocks = append(blocks, block)
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if n := len(out.Messages); n > 0 && out.Messages[n-1].Role == role {
			out.Messages[n-1].Content = append(out.Messages[n-1].Content, blocks...)
		} else {
			out.Messages = append(out.Messages, providers.Message{Role: role, Content: blocks})
		}
	}

	for _, t := range r.Tools {
		for _, d := range t.FunctionDeclarations {
			out.Tools = append(out.Tools, providers.Tool{Name: d.Name, Description: d.Description, InputSchema: d.Parameters})
		}
	}
	if r.ToolConfig != nil && r.ToolConfig.FunctionCallingConfig != nil {
		cfg := r.ToolConfig.FunctionCallingConfig
		switch {
		case strings.EqualFold(cfg.Mode, "NONE"):
			out.ToolChoice = &providers.ToolChoice{Type: "none"}
		case strings.EqualFold(cfg.Mode, "ANY") && len(cfg.AllowedFunctionNames) == 1:
			out.ToolChoice = &providers.ToolChoice{Type: "tool", Name: cfg.AllowedFunctionNames[0]}
		case strings.EqualFold(cfg.Mode, "ANY"):
			out.ToolChoice = &providers.ToolChoice{Type: "any"}
		default:
			out.ToolChoice = &providers.ToolChoice{Type: "auto"}
		}
	}

	if g := r.GenerationConfig; g != nil {
		out.Temperature = g.Temperature
		out.TopP = g.TopP
		out.TopK = g.TopK
		out.MaxTokens = g.MaxOutputTokens
		out.StopSequences = g.StopSequences
		if g.ThinkingConfig != nil && g.ThinkingConfig.ThinkingBudget != nil && *g.ThinkingConfig.ThinkingBudget > 0 {
			out.Thinking = &providers.Thinking{BudgetTokens: *g.ThinkingConfig.ThinkingBudget}
		}
	}
	return out, nil
}

// partToBlock returns ok=false for parts with no canonical equivalent
func partToBlock(p Part) (providers.ContentBlock, bool, error) {
	switch {
	case p.FunctionCall != nil:
		args := p.FunctionCall.Args
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		id := p.FunctionCall.ID
		if id == "" {
			id = p.FunctionCall.Name
		}
		return providers.ContentBlock{Type: providers.BlockToolUse, ID: id, Name: p.FunctionCall.Name, Input: args}, true, nil
	case p.FunctionResponse != nil:
		id := p.FunctionResponse.ID
		if id == "" {
			id = p.FunctionResponse.Name
		}
		return providers.ContentBlock{
			Type:      providers.BlockToolResult,
			ToolUseID: id,
			Content:   functionResponseText(p.FunctionResponse.Response),
		}, true, nil
	case p.InlineData != nil:
		return providers.ContentBlock{Type: providers.BlockImage, MediaType: p.InlineData.MimeType, Data: p.InlineData.Data}, true, nil
	case p.FileData != nil:
		return providers.ContentBlock{Type: providers.BlockImage, MediaType: p.FileData.MimeType, URL: p.FileData.FileURI}, true, nil
	case p.Thought:
		return providers.ContentBlock{Type: providers.BlockThinking, Thinking: p.Text, Signature: p.ThoughtSignature}, true, nil
	case p.Text != "":
		return providers.TextBlock(p.Text), true, nil
	}
	return providers.ContentBlock{}, false, nil
}

// functionResponseText unwraps {"result": "..."} and passes anything else as JSON
func functionResponseText(raw json.RawMessage) string {
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped) == 1 {
		for _, key := range []string{"result", "output", "content"} {
			if v, ok := wrapped[key]; ok {
				var s string
				if json.Unmarshal(v, &s) == nil {
					return s
				}
				return string(v)
			}
		}
	}
	return string(raw)
}

// responseToCanonical converts a unary generateContent response
func responseToCanonical(r *GenerateContentResponse) (*providers.ChatResponse, error) {
	if len(r.Candidates) == 0 {
		return nil, fmt.Errorf("response has no candidates")
	}
	cand := r.Candidates[0]
	out := &providers.ChatResponse{
		ID:    r.ResponseID,
		Model: r.ModelVersion,
	}
	if out.ID == "" {
		out.ID = "gen_" + uuid.NewString()
	}

	hasToolCall := false
	if cand.Content != nil {
		for i, p := range cand.Content.Parts {
			block, ok, err := partToBlock(p)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if block.Type == providers.BlockToolUse {
				hasToolCall = true
				if p.FunctionCall.ID == "" {
					block.ID = fmt.Sprintf("call_%d_%s", i, block.Name)
				}
			}
			out.Content = append(out.Content, block)
		}
	}
	out.StopReason = stopReason(cand.FinishReason, hasToolCall)
	if r.UsageMetadata != nil {
		out.Usage = usageToCanonical(r.UsageMetadata)
	}
	return out, nil
}

func usageToCanonical(u *UsageMetadata) providers.Usage {
	return providers.Usage{
		InputTokens:  u.PromptTokenCount,
		OutputTokens: u.CandidatesTokenCount + u.ThoughtsTokenCount,
	}
}

// responseFromCanonical renders the hub response as a generateContent body
func responseFromCanonical(r *providers.ChatResponse) *GenerateContentResponse {
	content := &Content{Role: "model"}
	for _, c := range r.Content {
		if p, ok := blockToPart(c); ok {
			content.Parts = append(content.Parts, p)
		}
	}
	return &GenerateContentResponse{
		Candidates: []Candidate{{
			Content:      content,
			FinishReason: finishReason(r.StopReason),
		}},
		UsageMetadata: &UsageMetadata{
			PromptTokenCount:     r.Usage.InputTokens,
			CandidatesTokenCount: r.Usage.OutputTokens,
			TotalTokenCount:      r.Usage.InputTokens + r.Usage.OutputTokens,
		},
		ModelVersion: r.Model,
		ResponseID:   r.ID,
	}
}

func blockToPart(c providers.ContentBlock) (Part, bool) {
	switch c.Type {
	case providers.BlockText:
		return Part{Text: c.Text}, true
	case providers.BlockThinking:
		return Part{Text: c.Thinking, Thought: true}, true
	case providers.BlockToolUse:
		args := c.Input
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		return Part{FunctionCall: &FunctionCall{ID: c.ID, Name: c.Name, Args: args}}, true
	}
	return Part{}, false
}

func stopReason(finish string, hasToolCall bool) string {
	if hasToolCall {
		return providers.StopToolUse
	}
	switch finish {
	case "MAX_TOKENS":
		return providers.StopMaxTokens
	case "":
		return ""
	default:
		return providers.StopEndTurn
	}
}

func finishReason(stop string) string {
	switch stop {
	case providers.StopMaxTokens:
		return "MAX_TOKENS"
	default:
		return "STOP"
	}
}
