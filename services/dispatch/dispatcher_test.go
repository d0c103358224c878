package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ribelo/prism-sub000/internal/observability"
	"github.com/ribelo/prism-sub000/models"
	"github.com/ribelo/prism-sub000/services"
	"github.com/ribelo/prism-sub000/services/providers"
	"github.com/ribelo/prism-sub000/services/providers/anthropic"
	"github.com/ribelo/prism-sub000/services/providers/gemini"
	"github.com/ribelo/prism-sub000/services/providers/openai"
	"github.com/ribelo/prism-sub000/services/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

const anthropicReply = `{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4","content":[{"type":"text","text":"Hello"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`

var anthropicStream = []string{
	`event: message_start
data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4","content":[],"usage":{"input_tokens":4,"output_tokens":0}}}`,
	`event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
	`event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`,
	`event: content_block_stop
data: {"type":"content_block_stop","index":0}`,
	`event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":6}}`,
	`event: message_stop
data: {"type":"message_stop"}`,
}

// stubRouter returns fixed decisions
type stubRouter struct {
	decisions []*routing.RoutingDecision
	err       error
	calls     atomic.Int32
	last      *routing.RouteRequest
}

func (r *stubRouter) Route(ctx context.Context, req *routing.RouteRequest) ([]*routing.RoutingDecision, error) {
	r.calls.Add(1)
	r.last = req
	if r.err != nil {
		return nil, r.err
	}
	out := make([]*routing.RoutingDecision, len(r.decisions))
	for i, d := range r.decisions {
		c := *d
		c.OriginalModel = req.Model
		out[i] = &c
	}
	return out, nil
}

func decision(vendor, model string) *routing.RoutingDecision {
	return &routing.RoutingDecision{Vendor: vendor, Model: model, Confidence: 0.95, Reason: "test"}
}

// fakeCredentials hands out "key-<vendor>" and "fresh-<vendor>" after a refresh
type fakeCredentials struct {
	mu        sync.Mutex
	refreshes map[string]int
	tokenErr  map[string]error
}

func newFakeCredentials() *fakeCredentials {
	return &fakeCredentials{refreshes: map[string]int{}, tokenErr: map[string]error{}}
}

func (f *fakeCredentials) Token(ctx context.Context, vendor string) (providers.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.tokenErr[vendor]; err != nil {
		return providers.Credential{}, err
	}
	token := "key-" + vendor
	if f.refreshes[vendor] > 0 {
		token = "fresh-" + vendor
	}
	return providers.Credential{Vendor: vendor, Kind: providers.CredentialOAuth, Token: token}, nil
}

func (f *fakeCredentials) GetOrRefreshToken(ctx context.Context, vendor string) (providers.Credential, error) {
	f.mu.Lock()
	f.refreshes[vendor]++
	f.mu.Unlock()
	return providers.Credential{Vendor: vendor, Kind: providers.CredentialOAuth, Token: "fresh-" + vendor}, nil
}

func (f *fakeCredentials) refreshCount(vendor string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes[vendor]
}

// recorder collects dispatch records
type recorder struct {
	mu   sync.Mutex
	logs []*models.DispatchLog
}

func (r *recorder) Record(log *models.DispatchLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *recorder) last(t *testing.T) *models.DispatchLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.logs)
	return r.logs[len(r.logs)-1]
}

type harness struct {
	dispatcher *Dispatcher
	router     *stubRouter
	creds      *fakeCredentials
	audit      *recorder
}

// newHarness registers all codecs and one adapter per vendor, each pointed at its server
func newHarness(t *testing.T, router *stubRouter, servers map[string]*httptest.Server) *harness {
	t.Helper()
	registry := providers.NewRegistry()
	registry.RegisterCodec(anthropic.NewCodec())
	registry.RegisterCodec(openai.NewCodec())
	registry.RegisterCodec(gemini.NewCodec())

	for vendor, srv := range servers {
		cfg := providers.ProviderConfig{BaseURL: srv.URL}
		var adapter providers.Adapter
		switch vendor {
		case routing.VendorAnthropic:
			adapter = anthropic.NewAdapter(cfg)
		case routing.VendorOpenAI:
			adapter = openai.NewOpenAIAdapter(cfg)
		case routing.VendorOpenRouter:
			adapter = openai.NewOpenRouterAdapter(cfg)
		case routing.VendorGemini:
			adapter = gemini.NewAdapter(cfg)
		}
		require.NoError(t, registry.RegisterAdapter(adapter))
	}

	h := &harness{router: router, creds: newFakeCredentials(), audit: &recorder{}}
	h.dispatcher = NewDispatcher(router, registry, h.creds, h.audit, zaptest.NewLogger(t), Config{LogPayloads: true})
	return h
}

func writeStream(w http.ResponseWriter, frames []string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, f := range frames {
		io.WriteString(w, f+"\n\n")
		w.(http.Flusher).Flush()
	}
}

func sseData(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	return out
}

func TestDispatch_UnaryThroughHub(t *testing.T) {
	var upstream map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "Bearer key-anthropic", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&upstream))
		io.WriteString(w, anthropicReply)
	}))
	defer srv.Close()

	router := &stubRouter{decisions: []*routing.RoutingDecision{decision(routing.VendorAnthropic, "claude-sonnet-4")}}
	h := newHarness(t, router, map[string]*httptest.Server{routing.VendorAnthropic: srv})

	rec := httptest.NewRecorder()
	err := h.dispatcher.Dispatch(context.Background(), &Request{
		Format:    providers.FormatOpenAI,
		Body:      []byte(`{"model":"anthropic/claude-sonnet-4","messages":[{"role":"user","content":"hi"}]}`),
		RequestID: "req-1",
	}, rec)
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4", upstream["model"])
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, routing.VendorAnthropic, rec.Header().Get(HeaderVendor))
	assert.Equal(t, "claude-sonnet-4", rec.Header().Get(HeaderModel))

	var resp openai.OpenAIChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "chat.completion", resp.Object)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)

	log := h.audit.last(t)
	assert.Equal(t, "req-1", log.RequestID)
	assert.Equal(t, models.DispatchStatusSuccess, log.Status)
	assert.Equal(t, "anthropic/claude-sonnet-4", log.OriginalModel)
	assert.Equal(t, 3, log.InputTokens)
	assert.Equal(t, 2, log.OutputTokens)
	assert.Equal(t, 1, log.Attempts)
	assert.False(t, log.AuthRetried)
}

func TestDispatch_DirectPathPatchesBody(t *testing.T) {
	var upstream map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&upstream))
		io.WriteString(w, anthropicReply)
	}))
	defer srv.Close()

	d := decision(routing.VendorAnthropic, "claude-sonnet-4")
	d.QueryParams = map[string]string{"temperature": "0.2"}
	router := &stubRouter{decisions: []*routing.RoutingDecision{d}}
	h := newHarness(t, router, map[string]*httptest.Server{routing.VendorAnthropic: srv})

	rec := httptest.NewRecorder()
	err := h.dispatcher.Dispatch(context.Background(), &Request{
		Format: providers.FormatAnthropic,
		Body:   []byte(`{"model":"smart?temperature=0.2","max_tokens":100,"messages":[{"role":"user","content":"hi"}],"metadata":{"user_id":"u1"}}`),
	}, rec)
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4", upstream["model"])
	assert.Equal(t, 0.2, upstream["temperature"])
	assert.Equal(t, map[string]interface{}{"user_id": "u1"}, upstream["metadata"])
	assert.JSONEq(t, anthropicReply, rec.Body.String())
}

func TestDispatch_GeminiInboundUsesPathModel(t *testing.T) {
	var upstream map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&upstream))
		io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"Hey"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	}))
	defer srv.Close()

	router := &stubRouter{decisions: []*routing.RoutingDecision{decision(routing.VendorOpenAI, "gpt-4o")}}
	h := newHarness(t, router, map[string]*httptest.Server{routing.VendorOpenAI: srv})

	stream := false
	rec := httptest.NewRecorder()
	err := h.dispatcher.Dispatch(context.Background(), &Request{
		Format: providers.FormatGemini,
		Body:   []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`),
		Model:  "openai/gpt-4o",
		Stream: &stream,
	}, rec)
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-4o", router.last.Model)
	assert.Equal(t, "gpt-4o", upstream["model"])

	var resp gemini.GenerateContentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, "Hey", resp.Candidates[0].Content.Parts[0].Text)
	assert.Equal(t, "STOP", resp.Candidates[0].FinishReason)
}

func TestDispatch_StreamThroughHub(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		writeStream(w, anthropicStream)
	}))
	defer srv.Close()

	router := &stubRouter{decisions: []*routing.RoutingDecision{decision(routing.VendorAnthropic, "claude-sonnet-4")}}
	h := newHarness(t, router, map[string]*httptest.Server{routing.VendorAnthropic: srv})

	rec := httptest.NewRecorder()
	err := h.dispatcher.Dispatch(context.Background(), &Request{
		Format: providers.FormatOpenAI,
		Body:   []byte(`{"model":"claude-sonnet-4","stream":true,"messages":[{"role":"user","content":"hi"}]}`),
	}, rec)
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, router.last.Capabilities, routing.CapabilityStreaming)

	data := sseData(rec.Body.String())
	require.NotEmpty(t, data)
	assert.Equal(t, "[DONE]", data[len(data)-1])
	assert.Contains(t, rec.Body.String(), `"content":"Hi"`)

	log := h.audit.last(t)
	assert.Equal(t, 4, log.InputTokens)
	assert.Equal(t, 6, log.OutputTokens)
}

func TestDispatch_StreamDirectForwardsVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStream(w, anthropicStream)
	}))
	defer srv.Close()

	router := &stubRouter{decisions: []*routing.RoutingDecision{decision(routing.VendorAnthropic, "claude-sonnet-4")}}
	h := newHarness(t, router, map[string]*httptest.Server{routing.VendorAnthropic: srv})

	rec := httptest.NewRecorder()
	err := h.dispatcher.Dispatch(context.Background(), &Request{
		Format: providers.FormatAnthropic,
		Body:   []byte(`{"model":"claude-sonnet-4","max_tokens":10,"stream":true,"messages":[{"role":"user","content":"hi"}]}`),
	}, rec)
	require.NoError(t, err)

	assert.Equal(t, strings.Join(anthropicStream, "\n\n")+"\n\n", rec.Body.String())
	assert.Equal(t, 6, h.audit.last(t).OutputTokens)
}

// A 401 on the first send triggers exactly one refresh and retry.
func TestDispatch_AuthRetry(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	_, shutdown := observability.InitTracing(observability.TracingConfig{Enabled: true, SampleRate: 1}, sr)
	defer shutdown(context.Background())

	t.Run("streaming request succeeds after one refresh", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			if r.Header.Get("Authorization") != "Bearer fresh-anthropic" {
				w.WriteHeader(http.StatusUnauthorized)
				io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"OAuth token has expired"}}`)
				return
			}
			writeStream(w, anthropicStream)
		}))
		defer srv.Close()

		router := &stubRouter{decisions: []*routing.RoutingDecision{decision(routing.VendorAnthropic, "claude-sonnet-4")}}
		h := newHarness(t, router, map[string]*httptest.Server{routing.VendorAnthropic: srv})
		before := testutil.ToFloat64(observability.AuthRetries.WithLabelValues(routing.VendorAnthropic, observability.OutcomeSuccess))

		rec := httptest.NewRecorder()
		err := h.dispatcher.Dispatch(context.Background(), &Request{
			Format: providers.FormatAnthropic,
			Body:   []byte(`{"model":"claude-sonnet-4","max_tokens":10,"stream":true,"messages":[{"role":"user","content":"hi"}]}`),
		}, rec)
		require.NoError(t, err)

		assert.Equal(t, int32(2), hits.Load())
		assert.Equal(t, 1, h.creds.refreshCount(routing.VendorAnthropic))
		assert.Contains(t, rec.Body.String(), "message_stop")
		assert.True(t, h.audit.last(t).AuthRetried)
		assert.Equal(t, before+1, testutil.ToFloat64(observability.AuthRetries.WithLabelValues(routing.VendorAnthropic, observability.OutcomeSuccess)))

		var names []string
		for _, s := range sr.Ended() {
			names = append(names, s.Name())
		}
		assert.Contains(t, names, "dispatch.auth_retry")
		assert.Contains(t, names, "dispatch.send")
	})

	t.Run("second 401 is terminal", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
		}))
		defer srv.Close()
		fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("fallback target must not be tried after a failed auth retry")
		}))
		defer fallback.Close()

		router := &stubRouter{decisions: []*routing.RoutingDecision{
			decision(routing.VendorAnthropic, "claude-sonnet-4"),
			decision(routing.VendorOpenAI, "gpt-4o"),
		}}
		h := newHarness(t, router, map[string]*httptest.Server{
			routing.VendorAnthropic: srv,
			routing.VendorOpenAI:    fallback,
		})

		rec := httptest.NewRecorder()
		err := h.dispatcher.Dispatch(context.Background(), &Request{
			Format: providers.FormatAnthropic,
			Body:   []byte(`{"model":"claude-sonnet-4","max_tokens":10,"stream":true,"messages":[{"role":"user","content":"hi"}]}`),
		}, rec)
		require.Error(t, err)

		assert.True(t, services.IsUpstreamFailure(err))
		assert.True(t, providers.IsAuthError(err))
		assert.Equal(t, http.StatusUnauthorized, providers.StatusCode(err))
		assert.Equal(t, int32(2), hits.Load())
		assert.Equal(t, 1, h.creds.refreshCount(routing.VendorAnthropic))
		assert.Empty(t, rec.Body.String())

		log := h.audit.last(t)
		assert.Equal(t, models.DispatchStatusFailed, log.Status)
		assert.Equal(t, http.StatusUnauthorized, log.StatusCode)
	})
}

func TestDispatch_AliasFallback(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"type":"server_error","message":"overloaded"}}`)
	}))
	defer failing.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, anthropicReply)
	}))
	defer healthy.Close()

	t.Run("next target serves after an upstream failure", func(t *testing.T) {
		router := &stubRouter{decisions: []*routing.RoutingDecision{
			decision(routing.VendorOpenAI, "gpt-4o"),
			decision(routing.VendorAnthropic, "claude-sonnet-4"),
		}}
		h := newHarness(t, router, map[string]*httptest.Server{
			routing.VendorOpenAI:    failing,
			routing.VendorAnthropic: healthy,
		})

		rec := httptest.NewRecorder()
		err := h.dispatcher.Dispatch(context.Background(), &Request{
			Format: providers.FormatAnthropic,
			Body:   []byte(`{"model":"claude-3","max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`),
		}, rec)
		require.NoError(t, err)

		assert.Equal(t, routing.VendorAnthropic, rec.Header().Get(HeaderVendor))
		log := h.audit.last(t)
		assert.Equal(t, 2, log.Attempts)
		assert.Equal(t, routing.VendorAnthropic, *log.Vendor)
		assert.Equal(t, "claude-3", log.OriginalModel)
	})

	t.Run("credential failure moves on", func(t *testing.T) {
		router := &stubRouter{decisions: []*routing.RoutingDecision{
			decision(routing.VendorOpenAI, "gpt-4o"),
			decision(routing.VendorAnthropic, "claude-sonnet-4"),
		}}
		h := newHarness(t, router, map[string]*httptest.Server{
			routing.VendorOpenAI:    failing,
			routing.VendorAnthropic: healthy,
		})
		h.creds.tokenErr[routing.VendorOpenAI] = services.CredentialFailure("no credential configured for openai", nil)

		rec := httptest.NewRecorder()
		err := h.dispatcher.Dispatch(context.Background(), &Request{
			Format: providers.FormatAnthropic,
			Body:   []byte(`{"model":"claude-3","max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`),
		}, rec)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("exhausted chain is a routing failure", func(t *testing.T) {
		router := &stubRouter{decisions: []*routing.RoutingDecision{
			decision(routing.VendorOpenAI, "gpt-4o"),
			decision(routing.VendorAnthropic, "claude-sonnet-4"),
		}}
		h := newHarness(t, router, map[string]*httptest.Server{
			routing.VendorOpenAI:    failing,
			routing.VendorAnthropic: failing,
		})

		err := h.dispatcher.Dispatch(context.Background(), &Request{
			Format: providers.FormatAnthropic,
			Body:   []byte(`{"model":"claude-3","max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`),
		}, httptest.NewRecorder())
		require.Error(t, err)

		assert.True(t, services.IsRoutingFailure(err))
		assert.Equal(t, []string{"openai/gpt-4o", "anthropic/claude-sonnet-4"}, services.GetErrorDetails(err)["targets"])
		assert.Equal(t, http.StatusServiceUnavailable, providers.StatusCode(err))
	})

	t.Run("single target surfaces the upstream error", func(t *testing.T) {
		router := &stubRouter{decisions: []*routing.RoutingDecision{decision(routing.VendorOpenAI, "gpt-4o")}}
		h := newHarness(t, router, map[string]*httptest.Server{routing.VendorOpenAI: failing})

		err := h.dispatcher.Dispatch(context.Background(), &Request{
			Format: providers.FormatOpenAI,
			Body:   []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`),
		}, httptest.NewRecorder())
		assert.True(t, services.IsUpstreamFailure(err))
		assert.True(t, providers.IsRetryable(err))
	})
}

func TestDispatch_RequestErrors(t *testing.T) {
	tests := []struct {
		name   string
		req    *Request
		router *stubRouter
		check  func(t *testing.T, err error)
	}{
		{
			name:   "malformed body",
			req:    &Request{Format: providers.FormatOpenAI, Body: []byte(`{"model":`)},
			router: &stubRouter{},
			check: func(t *testing.T, err error) {
				assert.True(t, services.IsConversionFailure(err))
			},
		},
		{
			name:   "schema violation",
			req:    &Request{Format: providers.FormatOpenAI, Body: []byte(`{"model":"gpt-4o","messages":[]}`)},
			router: &stubRouter{},
			check: func(t *testing.T, err error) {
				assert.True(t, services.IsConversionFailure(err))
			},
		},
		{
			name:   "missing gemini model",
			req:    &Request{Format: providers.FormatGemini, Body: []byte(`{"contents":[{"parts":[{"text":"hi"}]}]}`)},
			router: &stubRouter{},
			check: func(t *testing.T, err error) {
				assert.True(t, services.IsConversionFailure(err))
			},
		},
		{
			name:   "routing failure is returned as is",
			req:    &Request{Format: providers.FormatOpenAI, Body: []byte(`{"model":"x","messages":[{"role":"user","content":"hi"}]}`)},
			router: &stubRouter{err: services.RoutingFailure("no routing decision for x", nil)},
			check: func(t *testing.T, err error) {
				assert.True(t, services.IsRoutingFailure(err))
			},
		},
		{
			name:   "unregistered vendor",
			req:    &Request{Format: providers.FormatOpenAI, Body: []byte(`{"model":"x","messages":[{"role":"user","content":"hi"}]}`)},
			router: &stubRouter{decisions: []*routing.RoutingDecision{decision("mistral", "large")}},
			check: func(t *testing.T, err error) {
				assert.True(t, services.IsRoutingFailure(err))
				assert.True(t, errors.Is(err, providers.ErrProviderNotFound))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.router, nil)
			rec := httptest.NewRecorder()
			err := h.dispatcher.Dispatch(context.Background(), tt.req, rec)
			require.Error(t, err)
			tt.check(t, err)
			assert.Empty(t, rec.Body.String())
		})
	}
}

func TestDispatch_StreamInBandErrors(t *testing.T) {
	t.Run("undecodable event becomes an error frame", func(t *testing.T) {
		frames := append([]string{}, anthropicStream[:2]...)
		frames = append(frames, "event: content_block_delta\ndata: {not json")
		frames = append(frames, anthropicStream[2:]...)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeStream(w, frames)
		}))
		defer srv.Close()

		router := &stubRouter{decisions: []*routing.RoutingDecision{decision(routing.VendorAnthropic, "claude-sonnet-4")}}
		h := newHarness(t, router, map[string]*httptest.Server{routing.VendorAnthropic: srv})

		rec := httptest.NewRecorder()
		err := h.dispatcher.Dispatch(context.Background(), &Request{
			Format: providers.FormatOpenAI,
			Body:   []byte(`{"model":"claude-sonnet-4","stream":true,"messages":[{"role":"user","content":"hi"}]}`),
		}, rec)
		require.NoError(t, err)

		body := rec.Body.String()
		assert.Contains(t, body, streamErrorConversion)
		assert.Contains(t, body, `"content":"Hi"`)
		data := sseData(body)
		assert.Equal(t, "[DONE]", data[len(data)-1])
	})

	t.Run("cut-off stream is closed by the decoder", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeStream(w, anthropicStream[:3])
		}))
		defer srv.Close()

		router := &stubRouter{decisions: []*routing.RoutingDecision{decision(routing.VendorAnthropic, "claude-sonnet-4")}}
		h := newHarness(t, router, map[string]*httptest.Server{routing.VendorAnthropic: srv})

		rec := httptest.NewRecorder()
		err := h.dispatcher.Dispatch(context.Background(), &Request{
			Format: providers.FormatAnthropic,
			Body:   []byte(`{"model":"claude","max_tokens":10,"stream":true,"messages":[{"role":"user","content":"hi"}]}`),
		}, rec)
		require.NoError(t, err)
		assert.Contains(t, rec.Body.String(), anthropicStream[2])
	})
}

// cancelWriter cancels the request context once the first frame is flushed
type cancelWriter struct {
	*httptest.ResponseRecorder
	cancel context.CancelFunc
}

func (c *cancelWriter) Flush() {
	c.ResponseRecorder.Flush()
	c.cancel()
}

func TestDispatch_ClientDisconnect(t *testing.T) {
	released := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStream(w, anthropicStream[:1])
		<-r.Context().Done()
		close(released)
	}))
	defer srv.Close()

	router := &stubRouter{decisions: []*routing.RoutingDecision{decision(routing.VendorAnthropic, "claude-sonnet-4")}}
	h := newHarness(t, router, map[string]*httptest.Server{routing.VendorAnthropic: srv})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &cancelWriter{ResponseRecorder: httptest.NewRecorder(), cancel: cancel}

	err := h.dispatcher.Dispatch(ctx, &Request{
		Format: providers.FormatAnthropic,
		Body:   []byte(`{"model":"claude-sonnet-4","max_tokens":10,"stream":true,"messages":[{"role":"user","content":"hi"}]}`),
	}, w)
	require.NoError(t, err)

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request was not cancelled")
	}
	assert.Equal(t, models.DispatchStatusClientClosed, h.audit.last(t).Status)
	assert.Contains(t, w.Body.String(), "message_start")
	assert.NotContains(t, w.Body.String(), "message_stop")
}

func TestRequiredCapabilities(t *testing.T) {
	tests := []struct {
		name string
		req  *providers.ChatRequest
		want []routing.Capability
	}{
		{
			name: "plain",
			req:  &providers.ChatRequest{Messages: []providers.Message{{Role: "user", Content: []providers.ContentBlock{providers.TextBlock("hi")}}}},
			want: nil,
		},
		{
			name: "everything",
			req: &providers.ChatRequest{
				Stream:   true,
				Tools:    []providers.Tool{{Name: "lookup"}},
				Thinking: &providers.Thinking{BudgetTokens: 1024},
				Messages: []providers.Message{{Role: "user", Content: []providers.ContentBlock{{Type: providers.BlockImage, URL: "https://x/y.png"}}}},
			},
			want: []routing.Capability{routing.CapabilityStreaming, routing.CapabilityTools, routing.CapabilityVision, routing.CapabilityThinking},
		},
		{
			name: "reasoning effort",
			req:  &providers.ChatRequest{ReasoningEffort: "high"},
			want: []routing.Capability{routing.CapabilityThinking},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RequiredCapabilities(tt.req))
		})
	}
}
