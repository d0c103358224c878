package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ribelo/prism-sub000/services/routing"
)

// Format identifies a wire protocol family.
type Format string

const (
	FormatAnthropic Format = "anthropic"
	FormatOpenAI    Format = "openai"
	FormatGemini    Format = "gemini"
)

// Content block types of the canonical format
const (
	BlockText       = "text"
	BlockImage      = "image"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockThinking   = "thinking"
)

// ChatRequest is the canonical hub request. It follows the Anthropic
// Messages shape, which can represent everything the other formats carry.
type ChatRequest struct {
	// Model is the raw identifier as sent by the client
	Model string `json:"model"`

	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages"`

	Tools      []Tool      `json:"tools,omitempty"`
	ToolChoice *ToolChoice `json:"tool_choice,omitempty"`

	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`

	Stream bool `json:"stream,omitempty"`

	// Thinking enables extended reasoning with a token budget
	Thinking *Thinking `json:"thinking,omitempty"`

	// ReasoningEffort is the OpenAI-style effort level (low, medium, high)
	ReasoningEffort string `json:"reasoning_effort,omitempty"`

	// Metadata for tracking and logging
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Thinking configures extended reasoning
type Thinking struct {
	BudgetTokens int `json:"budget_tokens"`
}

// Message is one conversation turn. Role is "user" or "assistant".
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a tagged union over the canonical block types.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image, either inline base64 data or a URL
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// TextBlock builds a text content block
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// Tool is a function the model may call
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolChoice values: auto, any, tool (with Name), none
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// ChatResponse is the canonical unary response
type ChatResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      Usage          `json:"usage"`
}

// Text concatenates the text blocks of the response
func (r *ChatResponse) Text() string {
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == BlockText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// Usage represents token usage statistics
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Canonical stop reasons
const (
	StopEndTurn   = "end_turn"
	StopMaxTokens = "max_tokens"
	StopToolUse   = "tool_use"
	StopSequence  = "stop_sequence"
)

// StreamEventType enumerates canonical streaming events.
type StreamEventType string

const (
	EventMessageStart      StreamEventType = "message_start"
	EventContentBlockStart StreamEventType = "content_block_start"
	EventContentBlockDelta StreamEventType = "content_block_delta"
	EventContentBlockStop  StreamEventType = "content_block_stop"
	EventMessageDelta      StreamEventType = "message_delta"
	EventMessageStop       StreamEventType = "message_stop"
	EventPing              StreamEventType = "ping"
	EventError             StreamEventType = "error"
)

// Delta types carried by content_block_delta
const (
	DeltaText      = "text_delta"
	DeltaInputJSON = "input_json_delta"
	DeltaThinking  = "thinking_delta"
)

// StreamEvent is one canonical streaming event.
type StreamEvent struct {
	Type StreamEventType

	// Index of the content block for block events
	Index int

	// Message is set on message_start
	Message *ChatResponse

	// Block is set on content_block_start
	Block *ContentBlock

	// Delta is set on content_block_delta
	Delta *Delta

	// StopReason and Usage are set on message_delta
	StopReason string
	Usage      *Usage

	// Error is set on error
	Error *StreamError
}

// Delta is an incremental block update
type Delta struct {
	Type        string
	Text        string
	PartialJSON string
	Thinking    string
}

// StreamError is an in-band error
type StreamError struct {
	Type    string
	Message string
}

// ErrorEvent builds an in-band error event
func ErrorEvent(errType, message string) StreamEvent {
	return StreamEvent{Type: EventError, Error: &StreamError{Type: errType, Message: message}}
}

// CredentialKind distinguishes static keys from refreshable tokens
type CredentialKind string

const (
	CredentialAPIKey CredentialKind = "api_key"
	CredentialOAuth  CredentialKind = "oauth"
)

// Credential is what an adapter needs to authenticate with a vendor.
type Credential struct {
	Vendor       string
	Kind         CredentialKind
	Token        string
	RefreshToken string
	ClientID     string
	ExpiresAt    time.Time
}

// Client is an authenticated transport for one vendor.
type Client struct {
	Vendor  string
	BaseURL string
	Header  http.Header
	HTTP    *http.Client

	// Timeout bounds unary requests only
	Timeout time.Duration
}

// VendorRequest is a fully converted outbound request. It is reused
// unchanged when a request is retried after a credential refresh.
type VendorRequest struct {
	Method string
	Path   string
	Body   []byte
	Stream bool
}

// VendorResponse is a buffered unary response
type VendorResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// SSEEvent is one server-sent event frame
type SSEEvent struct {
	Event string
	Data  []byte
}

// EventStream yields vendor events until io.EOF.
type EventStream interface {
	Next() (*SSEEvent, error)
	Close() error
}

// StreamDecoder turns vendor stream events into canonical events.
type StreamDecoder interface {
	Decode(ev *SSEEvent) ([]StreamEvent, error)

	// Finish returns the closing events when the vendor stream ended
	// without them
	Finish() []StreamEvent
}

// StreamEncoder turns canonical events into client frames.
type StreamEncoder interface {
	Encode(ev StreamEvent) ([]SSEEvent, error)

	// Finish returns trailing frames once the stream ends
	Finish() []SSEEvent
}

// Adapter is the outbound side of one vendor.
type Adapter interface {
	// Name returns the vendor name, e.g. "anthropic" or "openrouter"
	Name() string

	// Format returns the vendor's wire format
	Format() Format

	BuildClient(cred Credential) (*Client, error)
	ToWire(req *ChatRequest, decision *routing.RoutingDecision) (*VendorRequest, error)
	Send(ctx context.Context, client *Client, req *VendorRequest) (*VendorResponse, error)
	SendStream(ctx context.Context, client *Client, req *VendorRequest) (EventStream, error)
	FromWire(resp *VendorResponse) (*ChatResponse, error)
	NewStreamDecoder() StreamDecoder
}

// Passthrough is implemented by adapters that can forward a body already in
// their own wire format, patching only the model and typed overrides.
type Passthrough interface {
	Passthrough(raw []byte, decision *routing.RoutingDecision, stream bool) (*VendorRequest, error)
}

// Codec is the inbound side of one wire format.
type Codec interface {
	Format() Format

	// DecodeRequest parses a client body into the canonical request
	DecodeRequest(body []byte) (*ChatRequest, error)

	EncodeResponse(resp *ChatResponse) ([]byte, error)
	NewStreamEncoder() StreamEncoder
}

// ProviderConfig holds common configuration for adapters
type ProviderConfig struct {
	// BaseURL for the API (optional override)
	BaseURL string

	// Timeout for unary requests. Streams are bounded by the request context.
	Timeout time.Duration

	// Additional headers
	Headers map[string]string
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout: 120 * time.Second,
		Headers: make(map[string]string),
	}
}

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the vendor error type, e.g. "authentication_error"
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates if the request can be retried
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}

// authMarkers are lowercase substrings that identify authentication failures
// in vendor error messages.
var authMarkers = []string{
	"unauthorized",
	"invalid x-api-key",
	"authentication",
	"invalid_api_key",
	"token expired",
	"oauth token",
}

// IsAuthError reports whether err is an HTTP 401 or carries an auth marker.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) && provErr.StatusCode == http.StatusUnauthorized {
		return true
	}
	msg := strings.ToLower(err.Error())
	if provErr != nil {
		msg += " " + strings.ToLower(provErr.Code)
	}
	for _, marker := range authMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// StatusCode returns the vendor HTTP status carried by err, or 0
func StatusCode(err error) int {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.StatusCode
	}
	return 0
}
