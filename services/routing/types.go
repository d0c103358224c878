package routing

import (
	"context"
	"errors"
)

var (
	// ErrNoVendorHint is returned by the explicit strategy when the request carries no vendor hint
	ErrNoVendorHint = errors.New("no vendor hint")

	// ErrUnknownVendor is returned when a vendor name is neither canonical nor an alias
	ErrUnknownVendor = errors.New("unknown vendor")

	// ErrVendorAliasLoop is returned when vendor aliases point back at each other
	ErrVendorAliasLoop = errors.New("vendor alias loop")

	// ErrCapabilityUnsupported is returned when the resolved vendor lacks a requested capability
	ErrCapabilityUnsupported = errors.New("capability not supported by vendor")

	// ErrNoDecision is returned when no strategy produced a decision above the confidence threshold
	ErrNoDecision = errors.New("no routing decision")
)

// Capability is a feature tag a request may require from the target vendor.
type Capability string

const (
	CapabilityStreaming Capability = "streaming"
	CapabilityTools     Capability = "tools"
	CapabilityVision    Capability = "vision"
	CapabilityThinking  Capability = "thinking"
)

// StrategyPriority orders strategies. Lower value means higher priority.
type StrategyPriority int

const (
	PriorityExplicit StrategyPriority = iota
	PriorityStructured
	PriorityPattern
	PriorityDefault
)

// String returns the priority name
func (p StrategyPriority) String() string {
	switch p {
	case PriorityExplicit:
		return "explicit"
	case PriorityStructured:
		return "structured"
	case PriorityPattern:
		return "pattern"
	default:
		return "default"
	}
}

// RouteRequest is the input to routing. It is not modified once built.
type RouteRequest struct {
	// Model is the raw identifier string sent by the client
	Model string

	// VendorHint comes from headers or parameters, empty when absent
	VendorHint string

	// Capabilities lists required feature tags in request order
	Capabilities []Capability

	Metadata map[string]string
}

// Alternative is a fallback candidate recorded alongside the chosen decision.
type Alternative struct {
	Vendor     string  `json:"vendor"`
	Model      string  `json:"model"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// RoutingDecision is the resolved target for one request.
type RoutingDecision struct {
	Vendor        string            `json:"vendor"`
	Model         string            `json:"model"`
	OriginalModel string            `json:"original_model"`
	Confidence    float64           `json:"confidence"`
	Reason        string            `json:"reason"`
	Alternatives  []Alternative     `json:"alternatives,omitempty"`
	Preference    *string           `json:"preference,omitempty"`
	QueryParams   map[string]string `json:"query_params,omitempty"`
}

// Strategy is one routing algorithm composed by the CompositeRouter.
type Strategy interface {
	// Name identifies the strategy in reasons and logs
	Name() string

	// Route produces a decision or an error
	Route(ctx context.Context, req *RouteRequest) (*RoutingDecision, error)

	// CanHandle reports whether Route is applicable to the request
	CanHandle(req *RouteRequest) bool

	Priority() StrategyPriority
}

// newDecision fills the fields every strategy derives from the identifier.
func newDecision(req *RouteRequest, id Identifier, vendor, model string, confidence float64, reason string) *RoutingDecision {
	return &RoutingDecision{
		Vendor:        vendor,
		Model:         model,
		OriginalModel: req.Model,
		Confidence:    confidence,
		Reason:        reason,
		Preference:    id.Preference,
		QueryParams:   id.Query,
	}
}
