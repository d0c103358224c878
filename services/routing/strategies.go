package routing

import (
	"context"
	"errors"
	"fmt"
)

// ExplicitStrategy routes on a caller-supplied vendor hint.
type ExplicitStrategy struct {
	catalog *Catalog
}

// NewExplicitStrategy creates the vendor-hint strategy
func NewExplicitStrategy(catalog *Catalog) *ExplicitStrategy {
	return &ExplicitStrategy{catalog: catalog}
}

func (s *ExplicitStrategy) Name() string               { return "explicit" }
func (s *ExplicitStrategy) Priority() StrategyPriority { return PriorityExplicit }

func (s *ExplicitStrategy) CanHandle(req *RouteRequest) bool {
	return req.VendorHint != ""
}

// Route resolves the hint through the vendor alias table and checks capabilities.
func (s *ExplicitStrategy) Route(ctx context.Context, req *RouteRequest) (*RoutingDecision, error) {
	if req.VendorHint == "" {
		return nil, ErrNoVendorHint
	}

	vendor, aliased, err := s.catalog.Canonicalize(req.VendorHint)
	if err != nil {
		return nil, err
	}

	info, _ := s.catalog.Vendor(vendor)
	if missing, ok := info.Supports(req.Capabilities); !ok {
		return nil, fmt.Errorf("%w: %s does not support %s", ErrCapabilityUnsupported, vendor, missing)
	}

	// A vendor segment naming some other vendor stays part of the model path.
	id := ParseIdentifier(req.Model)
	model := id.Model
	if id.HasVendor() {
		if segment, _, err := s.catalog.Canonicalize(id.VendorName()); err != nil || segment != vendor {
			model = id.FullModel()
		}
	}

	if aliased {
		reason := fmt.Sprintf("explicit vendor hint %q resolved via alias to %q", req.VendorHint, vendor)
		return newDecision(req, id, vendor, model, 0.95, reason), nil
	}
	reason := fmt.Sprintf("explicit vendor hint %q", vendor)
	return newDecision(req, id, vendor, model, 1.0, reason), nil
}

// StructuredStrategy routes identifiers that name their vendor, e.g. "anthropic/claude-3-5-sonnet".
type StructuredStrategy struct {
	catalog *Catalog
}

// NewStructuredStrategy creates the vendor/model strategy
func NewStructuredStrategy(catalog *Catalog) *StructuredStrategy {
	return &StructuredStrategy{catalog: catalog}
}

func (s *StructuredStrategy) Name() string               { return "structured" }
func (s *StructuredStrategy) Priority() StrategyPriority { return PriorityStructured }

// CanHandle requires a vendor segment. The segment need not be a known
// vendor; an unknown one is routed as named and fails at dispatch, so
// aggregator paths such as "z-ai/glm-4.5" must be prefixed with their vendor.
func (s *StructuredStrategy) CanHandle(req *RouteRequest) bool {
	return ParseIdentifier(req.Model).HasVendor()
}

func (s *StructuredStrategy) Route(ctx context.Context, req *RouteRequest) (*RoutingDecision, error) {
	id := ParseIdentifier(req.Model)
	if !id.HasVendor() {
		return nil, fmt.Errorf("%w: %q has no vendor segment", ErrNoDecision, req.Model)
	}

	vendor, aliased, err := s.catalog.Canonicalize(id.VendorName())
	switch {
	case errors.Is(err, ErrVendorAliasLoop):
		return nil, err
	case err != nil:
		vendor = normalizeVendor(id.VendorName())
	}

	reason := "explicit vendor/model format"
	if aliased {
		reason = fmt.Sprintf("explicit vendor/model format, vendor %q resolved via alias to %q", id.VendorName(), vendor)
	}
	return newDecision(req, id, vendor, id.Model, 0.95, reason), nil
}

// PatternStrategy infers the vendor from model naming conventions. It is
// the catch-all and never fails.
type PatternStrategy struct {
	catalog *Catalog
}

// NewPatternStrategy creates the name-prefix strategy
func NewPatternStrategy(catalog *Catalog) *PatternStrategy {
	return &PatternStrategy{catalog: catalog}
}

func (s *PatternStrategy) Name() string               { return "pattern" }
func (s *PatternStrategy) Priority() StrategyPriority { return PriorityPattern }

func (s *PatternStrategy) CanHandle(req *RouteRequest) bool { return true }

func (s *PatternStrategy) Route(ctx context.Context, req *RouteRequest) (*RoutingDecision, error) {
	id := ParseIdentifier(req.Model)
	model := id.Model
	if id.HasVendor() && !s.catalog.IsKnown(id.VendorName()) {
		model = id.FullModel()
	}

	defaultVendor := s.catalog.DefaultVendor()
	if rule, ok := s.catalog.MatchPattern(model); ok && rule.Vendor != defaultVendor {
		reason := fmt.Sprintf("model name matches %q prefix for %s", rule.Prefix, rule.Vendor)
		return newDecision(req, id, rule.Vendor, model, 0.8, reason), nil
	}

	reason := fmt.Sprintf("no vendor pattern matched, using default vendor %s", defaultVendor)
	return newDecision(req, id, defaultVendor, model, 0.5, reason), nil
}
