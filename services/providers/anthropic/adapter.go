package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ribelo/prism-sub000/services/providers"
	"github.com/ribelo/prism-sub000/services/routing"
	"github.com/ribelo/prism-sub000/utils"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	oauthBeta        = "oauth-2025-04-20"
	messagesPath     = "/v1/messages"
	defaultMaxTokens = 4096
)

// Adapter talks to the Anthropic Messages API
type Adapter struct {
	config providers.ProviderConfig
}

// NewAdapter creates a new Anthropic adapter
func NewAdapter(config providers.ProviderConfig) *Adapter {
	return &Adapter{config: config}
}

// Name returns the vendor name
func (a *Adapter) Name() string { return routing.VendorAnthropic }

func (a *Adapter) Format() providers.Format { return providers.FormatAnthropic }

// BuildClient sets x-api-key for API keys. OAuth tokens go in the bearer
// header together with the OAuth beta flag.
func (a *Adapter) BuildClient(cred providers.Credential) (*providers.Client, error) {
	if cred.Token == "" {
		return nil, fmt.Errorf("anthropic: empty credential")
	}

	client := providers.NewClient(a.Name(), a.config, defaultBaseURL)
	client.Header.Set("anthropic-version", apiVersion)

	if cred.Kind == providers.CredentialOAuth {
		client.Header.Set("Authorization", "Bearer "+cred.Token)
		beta := oauthBeta
		if existing := client.Header.Get("anthropic-beta"); existing != "" && !strings.Contains(existing, oauthBeta) {
			beta = existing + "," + oauthBeta
		}
		client.Header.Set("anthropic-beta", beta)
		if cred.ClientID != "" {
			client.Header.Set("x-client-id", cred.ClientID)
		}
		return client, nil
	}

	client.Header.Set("x-api-key", cred.Token)
	return client, nil
}

// ToWire converts the hub request using the decision's model and overrides
func (a *Adapter) ToWire(req *providers.ChatRequest, decision *routing.RoutingDecision) (*providers.VendorRequest, error) {
	prepared := providers.PrepareRequest(req, decision.Model, decision.QueryParams)
	body, err := json.Marshal(FromCanonical(prepared))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal anthropic request: %w", err)
	}
	return &providers.VendorRequest{Path: messagesPath, Body: body, Stream: prepared.Stream}, nil
}

// Passthrough forwards an Anthropic body, rewriting model, stream and overrides
func (a *Adapter) Passthrough(raw []byte, decision *routing.RoutingDecision, stream bool) (*providers.VendorRequest, error) {
	body, err := providers.DecodeJSONBody(raw)
	if err != nil {
		return nil, err
	}
	body["model"] = decision.Model
	if stream {
		body["stream"] = true
	} else {
		delete(body, "stream")
	}

	o := providers.ParseOverrides(decision.QueryParams)
	if o.Temperature != nil {
		body["temperature"] = *o.Temperature
	}
	if o.TopP != nil {
		body["top_p"] = *o.TopP
	}
	if o.TopK != nil {
		body["top_k"] = *o.TopK
	}
	if o.MaxTokens != nil {
		body["max_tokens"] = *o.MaxTokens
	}
	budget := -1
	if o.ThinkingBudget != nil {
		budget = *o.ThinkingBudget
	} else if o.ReasoningEffort != "" {
		budget = providers.BudgetForEffort(o.ReasoningEffort)
	}
	switch {
	case budget == 0:
		delete(body, "thinking")
	case budget > 0:
		body["thinking"] = map[string]interface{}{"type": "enabled", "budget_tokens": budget}
	}

	data, err := body.Encode()
	if err != nil {
		return nil, err
	}
	return &providers.VendorRequest{Path: messagesPath, Body: data, Stream: stream}, nil
}

func (a *Adapter) Send(ctx context.Context, client *providers.Client, req *providers.VendorRequest) (*providers.VendorResponse, error) {
	return providers.SendUnary(ctx, client, req)
}

func (a *Adapter) SendStream(ctx context.Context, client *providers.Client, req *providers.VendorRequest) (providers.EventStream, error) {
	return providers.SendStreaming(ctx, client, req)
}

// FromWire converts a buffered Anthropic response into the hub response
func (a *Adapter) FromWire(resp *providers.VendorResponse) (*providers.ChatResponse, error) {
	var wire MessagesResponse
	if err := json.Unmarshal(resp.Body, &wire); err != nil {
		return nil, fmt.Errorf("invalid anthropic response: %w", err)
	}
	return ResponseToCanonical(&wire)
}

func (a *Adapter) NewStreamDecoder() providers.StreamDecoder {
	return &streamDecoder{}
}

// Codec reads and writes the Anthropic Messages format on the client side
type Codec struct{}

// NewCodec creates the inbound Anthropic codec
func NewCodec() *Codec { return &Codec{} }

func (c *Codec) Format() providers.Format { return providers.FormatAnthropic }

// DecodeRequest parses and validates a Messages request body
func (c *Codec) DecodeRequest(body []byte) (*providers.ChatRequest, error) {
	var req MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return nil, err
	}
	return req.ToCanonical()
}

func (c *Codec) EncodeResponse(resp *providers.ChatResponse) ([]byte, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}
	wire := ResponseFromCanonical(resp)
	if wire.ID == "" {
		wire.ID = "msg_" + uuid.NewString()
	}
	return json.Marshal(wire)
}

func (c *Codec) NewStreamEncoder() providers.StreamEncoder {
	return &streamEncoder{}
}
