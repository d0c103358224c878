package routing

import (
	"context"
	"errors"

	"github.com/ribelo/prism-sub000/internal/observability"
	"github.com/ribelo/prism-sub000/services"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RoutingService resolves aliases and routes every resulting target.
type RoutingService struct {
	table   *RouteTable
	router  *CompositeRouter
	catalog *Catalog
	logger  *zap.Logger
}

// NewRoutingService creates a new routing service
func NewRoutingService(table *RouteTable, router *CompositeRouter, catalog *Catalog, logger *zap.Logger) *RoutingService {
	return &RoutingService{
		table:   table,
		router:  router,
		catalog: catalog,
		logger:  logger,
	}
}

// NewDefaultRoutingService wires the three built-in strategies over catalog.
func NewDefaultRoutingService(table *RouteTable, catalog *Catalog, config CompositeConfig, logger *zap.Logger) *RoutingService {
	router := NewCompositeRouter(config, logger,
		NewExplicitStrategy(catalog),
		NewStructuredStrategy(catalog),
		NewPatternStrategy(catalog),
	)
	return NewRoutingService(table, router, catalog, logger)
}

// Catalog returns the vendor catalog
func (s *RoutingService) Catalog() *Catalog {
	return s.catalog
}

// Table returns the alias table
func (s *RoutingService) Table() *RouteTable {
	return s.table
}

// Route resolves req.Model through the alias table and routes each target
// in order. Every decision carries req.Model as OriginalModel. Targets that
// fail to route are skipped; the call fails only when none succeed.
func (s *RoutingService) Route(ctx context.Context, req *RouteRequest) ([]*RoutingDecision, error) {
	ctx, span := observability.StartSpan(ctx, "routing.resolve",
		attribute.String("model", req.Model),
		attribute.String("vendor_hint", req.VendorHint))

	targets := s.table.Resolve(req.Model)
	span.SetAttributes(attribute.StringSlice("targets", targets))

	decisions := make([]*RoutingDecision, 0, len(targets))
	var failures []error
	for _, target := range targets {
		targetReq := *req
		targetReq.Model = target

		decision, err := s.router.Route(ctx, &targetReq)
		if err != nil {
			s.logger.Warn("routing target failed",
				zap.String("model", req.Model),
				zap.String("target", target),
				zap.Error(err))
			failures = append(failures, err)
			observability.RoutingDecisions.WithLabelValues("", observability.OutcomeFailure).Inc()
			continue
		}
		decision.OriginalModel = req.Model
		decisions = append(decisions, decision)
		observability.RoutingDecisions.WithLabelValues(decision.Vendor, observability.OutcomeSuccess).Inc()
	}

	if len(decisions) == 0 {
		err := s.failure(req, targets, failures)
		observability.EndSpan(span, err)
		return nil, err
	}

	observability.EndSpan(span, nil)
	return decisions, nil
}

func (s *RoutingService) failure(req *RouteRequest, targets []string, failures []error) error {
	joined := errors.Join(failures...)
	derr := services.RoutingFailure("no routing decision for "+req.Model, joined).
		WithDetail("model", req.Model).
		WithDetail("targets", targets)

	var attempted []string
	for _, f := range failures {
		var nd *NoDecisionError
		if errors.As(f, &nd) {
			attempted = append(attempted, nd.Attempted...)
		}
	}
	if len(attempted) > 0 {
		derr.WithDetail("attempted_strategies", attempted)
	}
	return derr
}
