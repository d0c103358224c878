package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ribelo/prism-sub000/services/providers"
	"github.com/ribelo/prism-sub000/services/routing"
	"github.com/ribelo/prism-sub000/utils"
)

const (
	defaultBaseURL           = "https://api.openai.com/v1"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	chatCompletionsPath      = "/chat/completions"

	defaultReferer = "https://github.com/ribelo/prism"
	defaultTitle   = "prism"
)

// OpenAIAdapter speaks Chat Completions to OpenAI or OpenRouter
type OpenAIAdapter struct {
	name       string
	baseURL    string
	openRouter bool
	config     providers.ProviderConfig
}

// NewOpenAIAdapter creates a new OpenAI adapter
func NewOpenAIAdapter(config providers.ProviderConfig) *OpenAIAdapter {
	return &OpenAIAdapter{
		name:    routing.VendorOpenAI,
		baseURL: defaultBaseURL,
		config:  config,
	}
}

// NewOpenRouterAdapter creates an adapter for the OpenRouter aggregator,
// which honours provider preferences and unified reasoning settings.
func NewOpenRouterAdapter(config providers.ProviderConfig) *OpenAIAdapter {
	return &OpenAIAdapter{
		name:       routing.VendorOpenRouter,
		baseURL:    defaultOpenRouterBaseURL,
		openRouter: true,
		config:     config,
	}
}

// Name returns the provider name
func (a *OpenAIAdapter) Name() string {
	return a.name
}

func (a *OpenAIAdapter) Format() providers.Format {
	return providers.FormatOpenAI
}

// BuildClient uses bearer auth for both API keys and OAuth tokens
func (a *OpenAIAdapter) BuildClient(cred providers.Credential) (*providers.Client, error) {
	if cred.Token == "" {
		return nil, fmt.Errorf("%s: empty credential", a.name)
	}

	client := providers.NewClient(a.name, a.config, a.baseURL)
	client.Header.Set("Authorization", "Bearer "+cred.Token)
	if a.openRouter {
		if client.Header.Get("HTTP-Referer") == "" {
			client.Header.Set("HTTP-Referer", defaultReferer)
		}
		if client.Header.Get("X-Title") == "" {
			client.Header.Set("X-Title", defaultTitle)
		}
	}
	return client, nil
}

// ToWire converts the hub request. OpenRouter receives the preference as
// provider.order.
func (a *OpenAIAdapter) ToWire(req *providers.ChatRequest, decision *routing.RoutingDecision) (*providers.VendorRequest, error) {
	prepared := providers.PrepareRequest(req, decision.Model, decision.QueryParams)
	wire := buildOpenAIRequest(prepared, wireOptions{openRouter: a.openRouter, preference: decision.Preference})

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", a.name, err)
	}
	return &providers.VendorRequest{Path: chatCompletionsPath, Body: body, Stream: prepared.Stream}, nil
}

// Passthrough forwards a Chat Completions body with model, stream and overrides patched
func (a *OpenAIAdapter) Passthrough(raw []byte, decision *routing.RoutingDecision, stream bool) (*providers.VendorRequest, error) {
	body, err := providers.DecodeJSONBody(raw)
	if err != nil {
		return nil, err
	}
	body["model"] = decision.Model
	if stream {
		body["stream"] = true
		body["stream_options"] = map[string]interface{}{"include_usage": true}
	} else {
		delete(body, "stream")
		delete(body, "stream_options")
	}

	o := providers.ParseOverrides(decision.QueryParams)
	if o.Temperature != nil {
		body["temperature"] = *o.Temperature
	}
	if o.TopP != nil {
		body["top_p"] = *o.TopP
	}
	if o.MaxTokens != nil {
		if _, ok := body["max_completion_tokens"]; ok || !a.openRouter {
			body["max_completion_tokens"] = *o.MaxTokens
			delete(body, "max_tokens")
		} else {
			body["max_tokens"] = *o.MaxTokens
		}
	}

	if a.openRouter {
		if o.TopK != nil {
			body["top_k"] = *o.TopK
		}
		switch {
		case o.ThinkingBudget != nil && *o.ThinkingBudget == 0:
			delete(body, "reasoning")
		case o.ThinkingBudget != nil:
			body["reasoning"] = map[string]interface{}{"max_tokens": *o.ThinkingBudget}
		case o.ReasoningEffort != "":
			body["reasoning"] = map[string]interface{}{"effort": o.ReasoningEffort}
		}
		if decision.Preference != nil && *decision.Preference != "" {
			body.Object("provider")["order"] = []string{*decision.Preference}
		}
	} else {
		switch {
		case o.ReasoningEffort != "":
			body["reasoning_effort"] = o.ReasoningEffort
		case o.ThinkingBudget != nil && *o.ThinkingBudget == 0:
			delete(body, "reasoning_effort")
		case o.ThinkingBudget != nil:
			body["reasoning_effort"] = providers.EffortForBudget(*o.ThinkingBudget)
		}
	}

	data, err := body.Encode()
	if err != nil {
		return nil, err
	}
	return &providers.VendorRequest{Path: chatCompletionsPath, Body: data, Stream: stream}, nil
}

func (a *OpenAIAdapter) Send(ctx context.Context, client *providers.Client, req *providers.VendorRequest) (*providers.VendorResponse, error) {
	return providers.SendUnary(ctx, client, req)
}

func (a *OpenAIAdapter) SendStream(ctx context.Context, client *providers.Client, req *providers.VendorRequest) (providers.EventStream, error) {
	return providers.SendStreaming(ctx, client, req)
}

// FromWire parses a Chat Completions response
func (a *OpenAIAdapter) FromWire(resp *providers.VendorResponse) (*providers.ChatResponse, error) {
	var wire OpenAIChatResponse
	if err := json.Unmarshal(resp.Body, &wire); err != nil {
		return nil, fmt.Errorf("invalid %s response: %w", a.name, err)
	}
	return convertToUnifiedResponse(&wire)
}

func (a *OpenAIAdapter) NewStreamDecoder() providers.StreamDecoder {
	return newStreamDecoder()
}

// Codec reads and writes Chat Completions on the client side
type Codec struct{}

// NewCodec creates the inbound Chat Completions codec
func NewCodec() *Codec { return &Codec{} }

func (c *Codec) Format() providers.Format { return providers.FormatOpenAI }

// DecodeRequest parses and validates a Chat Completions body
func (c *Codec) DecodeRequest(body []byte) (*providers.ChatRequest, error) {
	var req OpenAIChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return nil, err
	}
	return toCanonicalRequest(&req)
}

func (c *Codec) EncodeResponse(resp *providers.ChatResponse) ([]byte, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}
	return json.Marshal(buildOpenAIResponse(resp))
}

func (c *Codec) NewStreamEncoder() providers.StreamEncoder {
	return newStreamEncoder()
}
