package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/ribelo/prism-sub000/services/providers"
	"github.com/ribelo/prism-sub000/services/routing"
	"github.com/ribelo/prism-sub000/utils"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Adapter talks to the Gemini generateContent API
type Adapter struct {
	config providers.ProviderConfig
}

// NewAdapter creates a new Gemini adapter
func NewAdapter(config providers.ProviderConfig) *Adapter {
	return &Adapter{config: config}
}

func (a *Adapter) Name() string { return routing.VendorGemini }

func (a *Adapter) Format() providers.Format { return providers.FormatGemini }

// BuildClient uses x-goog-api-key for API keys and bearer auth for OAuth
func (a *Adapter) BuildClient(cred providers.Credential) (*providers.Client, error) {
	if cred.Token == "" {
		return nil, fmt.Errorf("gemini: empty credential")
	}
	client := providers.NewClient(a.Name(), a.config, defaultBaseURL)
	if cred.Kind == providers.CredentialOAuth {
		client.Header.Set("Authorization", "Bearer "+cred.Token)
	} else {
		client.Header.Set("x-goog-api-key", cred.Token)
	}
	return client, nil
}

// modelPath returns the endpoint for model. The model lives in the URL,
// never in the body.
func modelPath(model string, stream bool) string {
	if stream {
		return "/v1beta/models/" + url.PathEscape(model) + ":streamGenerateContent?alt=sse"
	}
	return "/v1beta/models/" + url.PathEscape(model) + ":generateContent"
}

func (a *Adapter) ToWire(req *providers.ChatRequest, decision *routing.RoutingDecision) (*providers.VendorRequest, error) {
	prepared := providers.PrepareRequest(req, decision.Model, decision.QueryParams)
	body, err := json.Marshal(fromCanonical(prepared))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gemini request: %w", err)
	}
	return &providers.VendorRequest{Path: modelPath(decision.Model, prepared.Stream), Body: body, Stream: prepared.Stream}, nil
}

// Passthrough forwards a generateContent body, patching generationConfig
func (a *Adapter) Passthrough(raw []byte, decision *routing.RoutingDecision, stream bool) (*providers.VendorRequest, error) {
	body, err := providers.DecodeJSONBody(raw)
	if err != nil {
		return nil, err
	}

	o := providers.ParseOverrides(decision.QueryParams)
	if !o.IsZero() {
		gen := body.Object("generationConfig")
		if o.Temperature != nil {
			gen["temperature"] = *o.Temperature
		}
		if o.TopP != nil {
			gen["topP"] = *o.TopP
		}
		if o.TopK != nil {
			gen["topK"] = *o.TopK
		}
		if o.MaxTokens != nil {
			gen["maxOutputTokens"] = *o.MaxTokens
		}
		budget := -1
		if o.ThinkingBudget != nil {
			budget = *o.ThinkingBudget
		} else if o.ReasoningEffort != "" {
			budget = providers.BudgetForEffort(o.ReasoningEffort)
		}
		switch {
		case budget == 0:
			delete(gen, "thinkingConfig")
		case budget > 0:
			gen["thinkingConfig"] = map[string]interface{}{"thinkingBudget": budget, "includeThoughts": true}
		}
	}

	data, err := body.Encode()
	if err != nil {
		return nil, err
	}
	return &providers.VendorRequest{Path: modelPath(decision.Model, stream), Body: data, Stream: stream}, nil
}

func (a *Adapter) Send(ctx context.Context, client *providers.Client, req *providers.VendorRequest) (*providers.VendorResponse, error) {
	return providers.SendUnary(ctx, client, req)
}

func (a *Adapter) SendStream(ctx context.Context, client *providers.Client, req *providers.VendorRequest) (providers.EventStream, error) {
	return providers.SendStreaming(ctx, client, req)
}

func (a *Adapter) FromWire(resp *providers.VendorResponse) (*providers.ChatResponse, error) {
	var wire GenerateContentResponse
	if err := json.Unmarshal(resp.Body, &wire); err != nil {
		return nil, fmt.Errorf("invalid gemini response: %w", err)
	}
	return responseToCanonical(&wire)
}

func (a *Adapter) NewStreamDecoder() providers.StreamDecoder {
	return newStreamDecoder()
}

// Codec reads and writes generateContent bodies on the client side
type Codec struct{}

// NewCodec creates the inbound Gemini codec
func NewCodec() *Codec { return &Codec{} }

func (c *Codec) Format() providers.Format { return providers.FormatGemini }

// DecodeRequest parses a generateContent body. The result has no model;
// the caller takes it from the request path.
func (c *Codec) DecodeRequest(body []byte) (*providers.ChatRequest, error) {
	var req GenerateContentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return nil, err
	}
	return toCanonical(&req)
}

func (c *Codec) EncodeResponse(resp *providers.ChatResponse) ([]byte, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}
	return json.Marshal(responseFromCanonical(resp))
}

func (c *Codec) NewStreamEncoder() providers.StreamEncoder {
	return newStreamEncoder()
}
