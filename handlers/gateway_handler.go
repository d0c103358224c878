package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/ribelo/prism-sub000/services/dispatch"
	"github.com/ribelo/prism-sub000/services/providers"
	"github.com/ribelo/prism-sub000/utils"
	"go.uber.org/zap"
)

// HeaderVendorHint lets a client pin the vendor without a vendor prefix
const HeaderVendorHint = "X-Provider"

const defaultMaxBodyBytes = 32 << 20

// Gemini operations accepted on /v1beta/models/{model}:{operation}
const (
	geminiGenerate       = "generateContent"
	geminiStreamGenerate = "streamGenerateContent"
)

// Dispatcher serves one inbound request end to end
type Dispatcher interface {
	Dispatch(ctx context.Context, req *dispatch.Request, w http.ResponseWriter) error
}

// GatewayHandler exposes the vendor-compatible inference endpoints
type GatewayHandler struct {
	dispatcher   Dispatcher
	logger       *zap.Logger
	maxBodyBytes int64
}

// NewGatewayHandler creates a new GatewayHandler
func NewGatewayHandler(dispatcher Dispatcher, logger *zap.Logger) *GatewayHandler {
	return &GatewayHandler{
		dispatcher:   dispatcher,
		logger:       logger,
		maxBodyBytes: defaultMaxBodyBytes,
	}
}

// HandleMessages handles POST /v1/messages
func (h *GatewayHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, &dispatch.Request{Format: providers.FormatAnthropic})
}

// HandleChatCompletions handles POST /v1/chat/completions
func (h *GatewayHandler) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, &dispatch.Request{Format: providers.FormatOpenAI})
}

// HandleGemini handles POST /v1beta/models/{model}:{operation}. The model may
// itself contain slashes, so the whole tail is matched and split on the last colon.
func (h *GatewayHandler) HandleGemini(w http.ResponseWriter, r *http.Request) {
	tail := chi.URLParam(r, "*")
	idx := strings.LastIndex(tail, ":")
	if idx <= 0 {
		writeGatewayError(w, providers.FormatGemini, http.StatusNotFound, "not_found", "expected /v1beta/models/{model}:{operation}", h.logger)
		return
	}
	model, operation := tail[:idx], tail[idx+1:]

	var stream bool
	switch operation {
	case geminiGenerate:
	case geminiStreamGenerate:
		stream = true
	default:
		writeGatewayError(w, providers.FormatGemini, http.StatusNotFound, "not_found", "unsupported operation "+operation, h.logger)
		return
	}

	h.serve(w, r, &dispatch.Request{Format: providers.FormatGemini, Model: model, Stream: &stream})
}

func (h *GatewayHandler) serve(w http.ResponseWriter, r *http.Request, req *dispatch.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeGatewayError(w, req.Format, http.StatusRequestEntityTooLarge, "request_too_large", "request body too large", h.logger)
			return
		}
		writeGatewayError(w, req.Format, http.StatusBadRequest, "invalid_request", "failed to read request body", h.logger)
		return
	}

	req.Body = body
	req.VendorHint = r.Header.Get(HeaderVendorHint)
	req.RequestID = chimw.GetReqID(ctx)

	if err := h.dispatcher.Dispatch(ctx, req, w); err != nil {
		status := StatusForError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("dispatch failed", zap.String("request_id", req.RequestID), zap.Error(err))
		} else {
			h.logger.Info("dispatch rejected", zap.String("request_id", req.RequestID), zap.Error(err))
		}
		writeGatewayError(w, req.Format, status, errorCode(err), publicMessage(err, status), h.logger)
	}
}

// writeGatewayError writes an error body in the envelope the client's SDK expects
func writeGatewayError(w http.ResponseWriter, format providers.Format, status int, code, message string, logger *zap.Logger) {
	var body interface{}
	switch format {
	case providers.FormatAnthropic:
		body = map[string]interface{}{
			"type": "error",
			"error": map[string]interface{}{
				"type":    anthropicErrorType(status),
				"message": message,
			},
		}
	case providers.FormatGemini:
		body = map[string]interface{}{
			"error": map[string]interface{}{
				"code":    status,
				"message": message,
				"status":  googleStatus(status),
			},
		}
	default:
		body = map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
				"type":    openAIErrorType(status),
				"code":    code,
			},
		}
	}

	if err := utils.WriteJSON(w, status, body); err != nil {
		logger.Error("failed to write error response", zap.Error(err))
	}
}

func anthropicErrorType(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	default:
		return "api_error"
	}
}

func openAIErrorType(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusRequestEntityTooLarge:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	default:
		return "server_error"
	}
}

func googleStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}
