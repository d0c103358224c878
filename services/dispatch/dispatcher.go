package dispatch

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ribelo/prism-sub000/internal/observability"
	"github.com/ribelo/prism-sub000/models"
	"github.com/ribelo/prism-sub000/services"
	"github.com/ribelo/prism-sub000/services/providers"
	"github.com/ribelo/prism-sub000/services/routing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Response headers naming the target that served the request
const (
	HeaderVendor = "X-Prism-Vendor"
	HeaderModel  = "X-Prism-Model"
)

// Router produces the ordered routing decisions for a request
type Router interface {
	Route(ctx context.Context, req *routing.RouteRequest) ([]*routing.RoutingDecision, error)
}

// Credentials is the auth collaborator
type Credentials interface {
	// Token returns a usable credential, refreshing it first if expired
	Token(ctx context.Context, vendor string) (providers.Credential, error)

	// GetOrRefreshToken forces a refresh after the vendor rejected a credential
	GetOrRefreshToken(ctx context.Context, vendor string) (providers.Credential, error)
}

// Recorder receives one record per dispatched request
type Recorder interface {
	Record(log *models.DispatchLog) error
}

// Request is one inbound gateway request in its native wire format
type Request struct {
	Format providers.Format
	Body   []byte

	// Model overrides the body's model, for formats that carry it in the path
	Model string

	// Stream overrides the body's stream flag when non-nil
	Stream *bool

	VendorHint string
	RequestID  string
}

// Config holds configuration for the Dispatcher
type Config struct {
	// LogPayloads logs request and response bodies at debug level
	LogPayloads bool
}

// Dispatcher routes, converts and forwards requests to vendors
type Dispatcher struct {
	router   Router
	registry *providers.Registry
	creds    Credentials
	audit    Recorder
	logger   *zap.Logger
	config   Config
}

// NewDispatcher creates a new Dispatcher. audit may be nil.
func NewDispatcher(router Router, registry *providers.Registry, creds Credentials, audit Recorder, logger *zap.Logger, config Config) *Dispatcher {
	return &Dispatcher{
		router:   router,
		registry: registry,
		creds:    creds,
		audit:    audit,
		logger:   logger,
		config:   config,
	}
}

// Dispatch serves req, writing the response to w in req.Format. A non-nil
// error means nothing was written to w; once a response has started, failures
// are reported in-band and Dispatch returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request, w http.ResponseWriter) error {
	start := time.Now()
	logger := observability.WithRequest(ctx, d.logger).With(zap.String("inbound", string(req.Format)))

	codec, err := d.registry.Codec(req.Format)
	if err != nil {
		return services.ConversionFailure("unsupported inbound format "+string(req.Format), err)
	}

	canonical, err := codec.DecodeRequest(req.Body)
	if err != nil {
		return services.ConversionFailure("invalid request body", err)
	}
	if req.Model != "" {
		canonical.Model = req.Model
	}
	if req.Stream != nil {
		canonical.Stream = *req.Stream
	}
	if canonical.Model == "" {
		return services.ConversionFailure("model is required", nil)
	}
	if d.config.LogPayloads {
		logger.Debug("inbound payload", zap.ByteString("body", req.Body))
	}

	record := models.NewDispatchLog(req.RequestID, string(req.Format), canonical.Model, canonical.Stream)
	vendor := ""
	var failure error
	defer func() {
		d.finish(record, req.Format, vendor, canonical.Stream, start, failure)
	}()

	decisions, err := d.router.Route(ctx, &routing.RouteRequest{
		Model:        canonical.Model,
		VendorHint:   req.VendorHint,
		Capabilities: RequiredCapabilities(canonical),
		Metadata:     canonical.Metadata,
	})
	if err != nil {
		failure = err
		return err
	}

	var attempted []string
	for i, decision := range decisions {
		vendor = decision.Vendor
		attempted = append(attempted, decision.Vendor+"/"+decision.Model)
		record.WithRoute(decision.Vendor, decision.Model, decision.Confidence)
		record.Attempts++

		dlog := logger.With(
			zap.String("vendor", decision.Vendor),
			zap.String("model", decision.Model),
			zap.String("original_model", decision.OriginalModel),
		)

		res, aerr := d.attempt(ctx, w, codec, req, canonical, decision, record, dlog)
		if aerr == nil || res.committed {
			return nil
		}
		failure = aerr
		if res.authRetried || services.IsConversionFailure(aerr) || ctx.Err() != nil {
			return aerr
		}
		if i < len(decisions)-1 {
			dlog.Warn("target failed, trying next", zap.Error(aerr))
		}
	}

	if len(decisions) > 1 {
		failure = services.RoutingFailure("alias chain exhausted for "+canonical.Model, failure).
			WithDetail("targets", attempted)
	}
	return failure
}

func (d *Dispatcher) finish(record *models.DispatchLog, inbound providers.Format, vendor string, stream bool, start time.Time, err error) {
	if err != nil && record.Status == models.DispatchStatusSuccess {
		record.WithError(providers.StatusCode(err), err)
	}
	record.Finish()

	outcome := observability.OutcomeSuccess
	if record.Status != models.DispatchStatusSuccess {
		outcome = string(record.Status)
	}
	observability.DispatchRequests.WithLabelValues(string(inbound), vendor, outcome).Inc()
	observability.DispatchDuration.WithLabelValues(string(inbound), vendor, strconv.FormatBool(stream)).
		Observe(time.Since(start).Seconds())

	if d.audit != nil {
		if aerr := d.audit.Record(record); aerr != nil {
			d.logger.Debug("dispatch record dropped", zap.Error(aerr))
		}
	}
}

type attemptResult struct {
	committed   bool
	authRetried bool
}

// attempt sends the request to one routing target
func (d *Dispatcher) attempt(ctx context.Context, w http.ResponseWriter, codec providers.Codec, req *Request, canonical *providers.ChatRequest, decision *routing.RoutingDecision, record *models.DispatchLog, logger *zap.Logger) (attemptResult, error) {
	var res attemptResult

	adapter, err := d.registry.Adapter(decision.Vendor)
	if err != nil {
		return res, services.RoutingFailure("no adapter for vendor "+decision.Vendor, err)
	}

	direct := false
	var vreq *providers.VendorRequest
	if pt, ok := adapter.(providers.Passthrough); ok && adapter.Format() == codec.Format() {
		direct = true
		vreq, err = pt.Passthrough(req.Body, decision, canonical.Stream)
	} else {
		vreq, err = adapter.ToWire(canonical, decision)
	}
	if err != nil {
		return res, services.ConversionFailure("cannot convert request for "+decision.Vendor, err)
	}
	if d.config.LogPayloads {
		logger.Debug("outbound payload", zap.Bool("direct", direct), zap.ByteString("body", vreq.Body))
	}

	cred, err := d.creds.Token(ctx, decision.Vendor)
	if err != nil {
		return res, err
	}
	client, err := adapter.BuildClient(cred)
	if err != nil {
		return res, services.CredentialFailure("cannot build client for "+decision.Vendor, err)
	}

	ctx, span := observability.StartSpan(ctx, "dispatch.send",
		attribute.String("vendor", decision.Vendor),
		attribute.String("model", decision.Model),
		attribute.Bool("stream", vreq.Stream),
		attribute.Bool("direct", direct))

	t := &target{
		adapter:  adapter,
		codec:    codec,
		client:   client,
		vreq:     vreq,
		decision: decision,
		direct:   direct,
		record:   record,
		logger:   logger,
	}
	if vreq.Stream {
		err = d.stream(ctx, w, t, &res)
	} else {
		err = d.unary(ctx, w, t, &res)
	}
	observability.EndSpan(span, err)
	return res, err
}

// target is one routing decision bound to its adapter and client
type target struct {
	adapter  providers.Adapter
	codec    providers.Codec
	client   *providers.Client
	vreq     *providers.VendorRequest
	decision *routing.RoutingDecision
	direct   bool
	record   *models.DispatchLog
	logger   *zap.Logger
}

// withAuthRetry runs send and, on an authentication failure, refreshes the
// credential and runs it exactly once more with a rebuilt client.
func (d *Dispatcher) withAuthRetry(ctx context.Context, t *target, res *attemptResult, send func(*providers.Client) error) error {
	err := send(t.client)
	if err == nil || !providers.IsAuthError(err) {
		return err
	}

	vendor := t.decision.Vendor
	res.authRetried = true
	t.record.AuthRetried = true
	t.logger.Info("authentication failed, refreshing credential", zap.Error(err))

	ctx, span := observability.StartSpan(ctx, "dispatch.auth_retry", attribute.String("vendor", vendor))
	cred, err := d.creds.GetOrRefreshToken(ctx, vendor)
	if err != nil {
		observability.AuthRetries.WithLabelValues(vendor, observability.OutcomeFailure).Inc()
		observability.EndSpan(span, err)
		return err
	}
	client, err := t.adapter.BuildClient(cred)
	if err != nil {
		observability.AuthRetries.WithLabelValues(vendor, observability.OutcomeFailure).Inc()
		observability.EndSpan(span, err)
		return services.CredentialFailure("cannot build client for "+vendor, err)
	}
	t.client = client

	err = send(client)
	observability.AuthRetries.WithLabelValues(vendor, observability.OutcomeLabel(err)).Inc()
	observability.EndSpan(span, err)
	return err
}

func (d *Dispatcher) unary(ctx context.Context, w http.ResponseWriter, t *target, res *attemptResult) error {
	var resp *providers.VendorResponse
	err := d.withAuthRetry(ctx, t, res, func(c *providers.Client) error {
		var serr error
		resp, serr = t.adapter.Send(ctx, c, t.vreq)
		return serr
	})
	if err != nil {
		return upstreamError(t.decision.Vendor, err)
	}
	if d.config.LogPayloads {
		t.logger.Debug("upstream response", zap.ByteString("body", resp.Body))
	}

	var body []byte
	chat, convErr := t.adapter.FromWire(resp)
	if t.direct {
		body = resp.Body
	} else {
		if convErr != nil {
			return services.UpstreamFailure("invalid response from "+t.decision.Vendor, convErr)
		}
		body, err = t.codec.EncodeResponse(chat)
		if err != nil {
			return services.ConversionFailure("cannot encode response", err)
		}
	}
	if chat != nil {
		t.record.WithUsage(chat.Usage.InputTokens, chat.Usage.OutputTokens)
	}

	setRouteHeaders(w, t.decision)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	res.committed = true
	t.record.StatusCode = http.StatusOK
	if _, err := w.Write(body); err != nil {
		t.logger.Debug("client write failed", zap.Error(err))
	}
	return nil
}

func setRouteHeaders(w http.ResponseWriter, decision *routing.RoutingDecision) {
	w.Header().Set(HeaderVendor, decision.Vendor)
	w.Header().Set(HeaderModel, decision.Model)
}

// upstreamError wraps vendor errors; domain errors pass through unchanged
func upstreamError(vendor string, err error) error {
	if services.GetErrorType(err) != "" {
		return err
	}
	derr := services.UpstreamFailure("upstream request to "+vendor+" failed", err).
		WithDetail("vendor", vendor)
	if code := providers.StatusCode(err); code != 0 {
		derr.WithDetail("status", code)
	}
	return derr
}

// RequiredCapabilities derives the capabilities a request needs from its vendor
func RequiredCapabilities(req *providers.ChatRequest) []routing.Capability {
	var caps []routing.Capability
	if req.Stream {
		caps = append(caps, routing.CapabilityStreaming)
	}
	if len(req.Tools) > 0 {
		caps = append(caps, routing.CapabilityTools)
	}
	if hasImage(req) {
		caps = append(caps, routing.CapabilityVision)
	}
	if req.Thinking != nil || req.ReasoningEffort != "" {
		caps = append(caps, routing.CapabilityThinking)
	}
	return caps
}

func hasImage(req *providers.ChatRequest) bool {
	for _, m := range req.Messages {
		for _, b := range m.Content {
			if b.Type == providers.BlockImage {
				return true
			}
		}
	}
	return false
}
