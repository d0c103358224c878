package routing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// shortCircuitConfidence stops the fallback scan early.
const shortCircuitConfidence = 0.9

// CompositeConfig controls how the composite router arbitrates strategies.
type CompositeConfig struct {
	// EnableFallback tries every strategy and keeps the best decision
	EnableFallback bool

	// MinConfidence is the lowest confidence a final decision may have
	MinConfidence float64
}

// DefaultCompositeConfig returns the default arbitration settings
func DefaultCompositeConfig() CompositeConfig {
	return CompositeConfig{
		EnableFallback: true,
		MinConfidence:  0.5,
	}
}

// CompositeRouter orchestrates strategies by priority and confidence.
type CompositeRouter struct {
	strategies []Strategy
	config     CompositeConfig
	logger     *zap.Logger
}

// NewCompositeRouter sorts strategies ascending by priority
func NewCompositeRouter(config CompositeConfig, logger *zap.Logger, strategies ...Strategy) *CompositeRouter {
	sorted := make([]Strategy, len(strategies))
	copy(sorted, strategies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &CompositeRouter{
		strategies: sorted,
		config:     config,
		logger:     logger,
	}
}

// Strategies returns the strategies in evaluation order
func (r *CompositeRouter) Strategies() []Strategy {
	return r.strategies
}

// Route produces one final decision for req.
func (r *CompositeRouter) Route(ctx context.Context, req *RouteRequest) (*RoutingDecision, error) {
	if !r.config.EnableFallback {
		return r.routeFirst(ctx, req)
	}
	return r.routeBest(ctx, req)
}

// routeFirst invokes only the first strategy that can handle the request.
func (r *CompositeRouter) routeFirst(ctx context.Context, req *RouteRequest) (*RoutingDecision, error) {
	for _, s := range r.strategies {
		if !s.CanHandle(req) {
			continue
		}
		attempted := []string{s.Name()}
		decision, err := s.Route(ctx, req)
		if err != nil {
			return nil, &NoDecisionError{Model: req.Model, Attempted: attempted, Errors: map[string]error{s.Name(): err}}
		}
		if decision.Confidence < r.config.MinConfidence {
			return nil, &NoDecisionError{Model: req.Model, Attempted: attempted, Errors: map[string]error{
				s.Name(): fmt.Errorf("confidence %.2f below threshold %.2f", decision.Confidence, r.config.MinConfidence),
			}}
		}
		decision.Reason = withAttempted(decision.Reason, attempted)
		return decision, nil
	}
	return nil, &NoDecisionError{Model: req.Model}
}

// routeBest tries every strategy and keeps the most confident decision.
func (r *CompositeRouter) routeBest(ctx context.Context, req *RouteRequest) (*RoutingDecision, error) {
	var (
		best      *RoutingDecision
		bestName  string
		attempted []string
		others    []*RoutingDecision
		failures  = make(map[string]error)
	)

	for _, s := range r.strategies {
		if !s.CanHandle(req) {
			continue
		}
		attempted = append(attempted, s.Name())

		decision, err := s.Route(ctx, req)
		if err != nil {
			failures[s.Name()] = err
			r.logger.Debug("routing strategy failed",
				zap.String("strategy", s.Name()),
				zap.String("model", req.Model),
				zap.Error(err))
			continue
		}
		if decision.Confidence < r.config.MinConfidence {
			failures[s.Name()] = fmt.Errorf("confidence %.2f below threshold %.2f", decision.Confidence, r.config.MinConfidence)
			continue
		}

		// Strict comparison keeps the first-seen decision on ties.
		if best == nil || decision.Confidence > best.Confidence {
			if best != nil {
				others = append(others, best)
			}
			best = decision
			bestName = s.Name()
		} else {
			others = append(others, decision)
		}

		if best.Confidence >= shortCircuitConfidence {
			break
		}
	}

	if best == nil {
		return nil, &NoDecisionError{Model: req.Model, Attempted: attempted, Errors: failures}
	}

	for _, o := range others {
		best.Alternatives = append(best.Alternatives, Alternative{
			Vendor:     o.Vendor,
			Model:      o.Model,
			Confidence: o.Confidence,
			Reason:     o.Reason,
		})
	}
	best.Reason = withAttempted(best.Reason, attempted)

	r.logger.Debug("routing decision selected",
		zap.String("strategy", bestName),
		zap.String("vendor", best.Vendor),
		zap.String("model", best.Model),
		zap.Float64("confidence", best.Confidence))

	return best, nil
}

func withAttempted(reason string, attempted []string) string {
	return fmt.Sprintf("%s (strategies: %s)", reason, strings.Join(attempted, " -> "))
}

// NoDecisionError lists every strategy that was attempted for a model.
type NoDecisionError struct {
	Model     string
	Attempted []string
	Errors    map[string]error
}

func (e *NoDecisionError) Error() string {
	if len(e.Attempted) == 0 {
		return fmt.Sprintf("no routing strategy can handle %q", e.Model)
	}
	parts := make([]string, 0, len(e.Attempted))
	for _, name := range e.Attempted {
		if err, ok := e.Errors[name]; ok {
			parts = append(parts, fmt.Sprintf("%s: %v", name, err))
		} else {
			parts = append(parts, name)
		}
	}
	return fmt.Sprintf("no routing decision for %q, attempted [%s]", e.Model, strings.Join(parts, "; "))
}

func (e *NoDecisionError) Unwrap() error {
	return ErrNoDecision
}
