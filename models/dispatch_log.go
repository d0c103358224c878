package models

import (
	"time"

	"github.com/google/uuid"
)

// DispatchStatus is the final state of a dispatched request
type DispatchStatus string

const (
	DispatchStatusSuccess      DispatchStatus = "success"
	DispatchStatusFailed       DispatchStatus = "failed"
	DispatchStatusClientClosed DispatchStatus = "client_closed"
)

// DispatchLog records one gateway request and the route it took
type DispatchLog struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	RequestID     string         `json:"request_id" db:"request_id"`
	InboundFormat string         `json:"inbound_format" db:"inbound_format"`
	Vendor        *string        `json:"vendor,omitempty" db:"vendor"`
	Model         *string        `json:"model,omitempty" db:"model"`
	OriginalModel string         `json:"original_model" db:"original_model"`
	Confidence    *float64       `json:"confidence,omitempty" db:"confidence"`
	Stream        bool           `json:"stream" db:"stream"`
	AuthRetried   bool           `json:"auth_retried" db:"auth_retried"`
	Attempts      int            `json:"attempts" db:"attempts"`
	Status        DispatchStatus `json:"status" db:"status"`
	StatusCode    int            `json:"status_code" db:"status_code"`
	InputTokens   int            `json:"input_tokens" db:"input_tokens"`
	OutputTokens  int            `json:"output_tokens" db:"output_tokens"`
	LatencyMs     int64          `json:"latency_ms" db:"latency_ms"`
	ErrorMessage  *string        `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the DispatchLog model
func (DispatchLog) TableName() string {
	return "dispatch_logs"
}

// NewDispatchLog starts a record for an inbound request
func NewDispatchLog(requestID, inboundFormat, originalModel string, stream bool) *DispatchLog {
	return &DispatchLog{
		ID:            uuid.New(),
		RequestID:     requestID,
		InboundFormat: inboundFormat,
		OriginalModel: originalModel,
		Stream:        stream,
		Status:        DispatchStatusSuccess,
		CreatedAt:     time.Now(),
	}
}

// WithRoute records the decision that served the request
func (d *DispatchLog) WithRoute(vendor, model string, confidence float64) *DispatchLog {
	d.Vendor = &vendor
	d.Model = &model
	d.Confidence = &confidence
	return d
}

// WithUsage records token counts
func (d *DispatchLog) WithUsage(inputTokens, outputTokens int) *DispatchLog {
	d.InputTokens = inputTokens
	d.OutputTokens = outputTokens
	return d
}

// WithError marks the record as failed
func (d *DispatchLog) WithError(statusCode int, err error) *DispatchLog {
	d.Status = DispatchStatusFailed
	d.StatusCode = statusCode
	if err != nil {
		msg := err.Error()
		d.ErrorMessage = &msg
	}
	return d
}

// Finish sets the latency from the record's creation time
func (d *DispatchLog) Finish() *DispatchLog {
	d.LatencyMs = time.Since(d.CreatedAt).Milliseconds()
	return d
}
