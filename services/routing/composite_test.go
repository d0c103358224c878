package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubStrategy returns a fixed decision or error and counts calls.
type stubStrategy struct {
	name       string
	priority   StrategyPriority
	canHandle  bool
	vendor     string
	confidence float64
	err        error
	calls      int
}

func (s *stubStrategy) Name() string               { return s.name }
func (s *stubStrategy) Priority() StrategyPriority { return s.priority }
func (s *stubStrategy) CanHandle(*RouteRequest) bool {
	return s.canHandle
}

func (s *stubStrategy) Route(ctx context.Context, req *RouteRequest) (*RoutingDecision, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return newDecision(req, ParseIdentifier(req.Model), s.vendor, req.Model, s.confidence, s.name+" decision"), nil
}

func TestCompositeRouterSortsByPriority(t *testing.T) {
	pattern := &stubStrategy{name: "pattern", priority: PriorityPattern, canHandle: true}
	explicit := &stubStrategy{name: "explicit", priority: PriorityExplicit, canHandle: true}
	structured := &stubStrategy{name: "structured", priority: PriorityStructured, canHandle: true}

	router := NewCompositeRouter(DefaultCompositeConfig(), zap.NewNop(), pattern, explicit, structured)

	var names []string
	for _, s := range router.Strategies() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"explicit", "structured", "pattern"}, names)
}

func TestCompositeRouterFallback(t *testing.T) {
	tests := []struct {
		name           string
		strategies     []*stubStrategy
		minConfidence  float64
		expectVendor   string
		expectAttempts string
		expectAlts     int
		expectErr      bool
	}{
		{
			name: "short-circuits at high confidence",
			strategies: []*stubStrategy{
				{name: "a", priority: PriorityExplicit, canHandle: true, vendor: "anthropic", confidence: 0.95},
				{name: "b", priority: PriorityPattern, canHandle: true, vendor: "openai", confidence: 0.99},
			},
			minConfidence:  0.5,
			expectVendor:   "anthropic",
			expectAttempts: "(strategies: a)",
		},
		{
			name: "keeps best below short-circuit",
			strategies: []*stubStrategy{
				{name: "a", priority: PriorityStructured, canHandle: true, vendor: "gemini", confidence: 0.6},
				{name: "b", priority: PriorityPattern, canHandle: true, vendor: "openai", confidence: 0.8},
			},
			minConfidence:  0.5,
			expectVendor:   "openai",
			expectAttempts: "(strategies: a -> b)",
			expectAlts:     1,
		},
		{
			name: "first seen wins ties",
			strategies: []*stubStrategy{
				{name: "a", priority: PriorityStructured, canHandle: true, vendor: "gemini", confidence: 0.7},
				{name: "b", priority: PriorityPattern, canHandle: true, vendor: "openai", confidence: 0.7},
			},
			minConfidence:  0.5,
			expectVendor:   "gemini",
			expectAttempts: "(strategies: a -> b)",
			expectAlts:     1,
		},
		{
			name: "errors fall through to next strategy",
			strategies: []*stubStrategy{
				{name: "a", priority: PriorityExplicit, canHandle: true, err: ErrUnknownVendor},
				{name: "b", priority: PriorityPattern, canHandle: true, vendor: "openai", confidence: 0.8},
			},
			minConfidence:  0.5,
			expectVendor:   "openai",
			expectAttempts: "(strategies: a -> b)",
		},
		{
			name: "skips strategies that cannot handle",
			strategies: []*stubStrategy{
				{name: "a", priority: PriorityExplicit, canHandle: false},
				{name: "b", priority: PriorityPattern, canHandle: true, vendor: "openai", confidence: 0.8},
			},
			minConfidence:  0.5,
			expectVendor:   "openai",
			expectAttempts: "(strategies: b)",
		},
		{
			name: "confidence gate rejects everything",
			strategies: []*stubStrategy{
				{name: "a", priority: PriorityStructured, canHandle: true, vendor: "gemini", confidence: 0.6},
				{name: "b", priority: PriorityPattern, canHandle: true, vendor: "openai", confidence: 0.5},
			},
			minConfidence: 0.7,
			expectErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strategies := make([]Strategy, len(tt.strategies))
			for i, s := range tt.strategies {
				strategies[i] = s
			}
			router := NewCompositeRouter(CompositeConfig{EnableFallback: true, MinConfidence: tt.minConfidence}, zap.NewNop(), strategies...)

			d, err := router.Route(context.Background(), &RouteRequest{Model: "m"})
			if tt.expectErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrNoDecision)
				var nd *NoDecisionError
				require.True(t, errors.As(err, &nd))
				assert.Len(t, nd.Attempted, len(tt.strategies))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectVendor, d.Vendor)
			assert.Contains(t, d.Reason, tt.expectAttempts)
			assert.Len(t, d.Alternatives, tt.expectAlts)
			assert.GreaterOrEqual(t, d.Confidence, tt.minConfidence)
		})
	}
}

func TestCompositeRouterConfidenceGate(t *testing.T) {
	catalog := DefaultCatalog(VendorOpenRouter)
	router := NewCompositeRouter(CompositeConfig{EnableFallback: true, MinConfidence: 0.6}, zap.NewNop(),
		NewExplicitStrategy(catalog), NewStructuredStrategy(catalog), NewPatternStrategy(catalog))

	_, err := router.Route(context.Background(), &RouteRequest{Model: "mistral-large"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pattern")

	d, err := router.Route(context.Background(), &RouteRequest{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, VendorOpenAI, d.Vendor)
}

func TestCompositeRouterWithoutFallback(t *testing.T) {
	t.Run("first handler error is terminal", func(t *testing.T) {
		a := &stubStrategy{name: "a", priority: PriorityExplicit, canHandle: true, err: ErrCapabilityUnsupported}
		b := &stubStrategy{name: "b", priority: PriorityPattern, canHandle: true, vendor: "openai", confidence: 0.8}
		router := NewCompositeRouter(CompositeConfig{EnableFallback: false, MinConfidence: 0.5}, zap.NewNop(), a, b)

		_, err := router.Route(context.Background(), &RouteRequest{Model: "m"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoDecision)
		assert.Contains(t, err.Error(), "a")
		assert.Equal(t, 1, a.calls)
		assert.Equal(t, 0, b.calls)
	})

	t.Run("first handler decision is terminal", func(t *testing.T) {
		a := &stubStrategy{name: "a", priority: PriorityStructured, canHandle: true, vendor: "gemini", confidence: 0.6}
		b := &stubStrategy{name: "b", priority: PriorityPattern, canHandle: true, vendor: "openai", confidence: 0.8}
		router := NewCompositeRouter(CompositeConfig{EnableFallback: false, MinConfidence: 0.5}, zap.NewNop(), a, b)

		d, err := router.Route(context.Background(), &RouteRequest{Model: "m"})
		require.NoError(t, err)
		assert.Equal(t, "gemini", d.Vendor)
		assert.Equal(t, "a decision (strategies: a)", d.Reason)
		assert.Equal(t, 0, b.calls)
	})

	t.Run("nothing can handle", func(t *testing.T) {
		a := &stubStrategy{name: "a", priority: PriorityExplicit, canHandle: false}
		router := NewCompositeRouter(CompositeConfig{EnableFallback: false, MinConfidence: 0.5}, zap.NewNop(), a)

		_, err := router.Route(context.Background(), &RouteRequest{Model: "m"})
		assert.ErrorIs(t, err, ErrNoDecision)
	})
}

// Higher-priority strategies with a qualifying confidence always win over
// lower-priority ones that are not strictly more confident.
func TestCompositeRouterPriorityMonotonicity(t *testing.T) {
	confidences := []float64{0.5, 0.6, 0.7, 0.8, 0.85}
	for _, hi := range confidences {
		for _, lo := range confidences {
			if lo > hi {
				continue
			}
			high := &stubStrategy{name: "high", priority: PriorityStructured, canHandle: true, vendor: "high", confidence: hi}
			low := &stubStrategy{name: "low", priority: PriorityPattern, canHandle: true, vendor: "low", confidence: lo}
			router := NewCompositeRouter(DefaultCompositeConfig(), zap.NewNop(), low, high)

			d, err := router.Route(context.Background(), &RouteRequest{Model: "m"})
			require.NoError(t, err)
			assert.Equal(t, "high", d.Vendor, "hi=%.2f lo=%.2f", hi, lo)
		}
	}
}
