package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ribelo/prism-sub000/internal/observability"
	"github.com/ribelo/prism-sub000/models"
	"github.com/ribelo/prism-sub000/services/providers"
	"go.uber.org/zap"
)

// In-band error types
const (
	streamErrorUpstream   = "upstream_error"
	streamErrorConversion = "conversion_error"
)

// sseWriter commits the response on the first frame and flushes every frame
type sseWriter struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	t         *target
	committed bool
	broken    bool
}

func newSSEWriter(w http.ResponseWriter, t *target) *sseWriter {
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher, t: t}
}

func (s *sseWriter) commit() {
	if s.committed {
		return
	}
	h := s.w.Header()
	setRouteHeaders(s.w, s.t.decision)
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.committed = true
	s.t.record.StatusCode = http.StatusOK
}

func (s *sseWriter) write(frames ...providers.SSEEvent) {
	if s.broken || len(frames) == 0 {
		return
	}
	s.commit()
	for _, f := range frames {
		if err := providers.WriteSSE(s.w, f); err != nil {
			s.broken = true
			s.t.logger.Debug("client write failed", zap.Error(err))
			return
		}
		kind := f.Event
		if kind == "" {
			kind = "data"
		}
		observability.StreamEvents.WithLabelValues(s.t.decision.Vendor, kind).Inc()
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// usageTracker collects token counts from canonical events
type usageTracker struct {
	input, output int
}

func (u *usageTracker) observe(ev providers.StreamEvent) {
	switch ev.Type {
	case providers.EventMessageStart:
		if ev.Message != nil {
			u.input = ev.Message.Usage.InputTokens
		}
	case providers.EventMessageDelta:
		if ev.Usage != nil {
			if ev.Usage.InputTokens > 0 {
				u.input = ev.Usage.InputTokens
			}
			u.output = ev.Usage.OutputTokens
		}
	}
}

// stream forwards vendor events to the client as they arrive. On the direct
// path frames are forwarded verbatim; otherwise each event goes through the
// vendor decoder and the client encoder.
func (d *Dispatcher) stream(ctx context.Context, w http.ResponseWriter, t *target, res *attemptResult) error {
	var upstream providers.EventStream
	err := d.withAuthRetry(ctx, t, res, func(c *providers.Client) error {
		var serr error
		upstream, serr = t.adapter.SendStream(ctx, c, t.vreq)
		return serr
	})
	if err != nil {
		return upstreamError(t.decision.Vendor, err)
	}
	defer upstream.Close()

	out := newSSEWriter(w, t)
	decoder := t.adapter.NewStreamDecoder()
	encoder := t.codec.NewStreamEncoder()
	usage := &usageTracker{}
	defer func() {
		res.committed = out.committed
		t.record.WithUsage(usage.input, usage.output)
	}()

	emit := func(events []providers.StreamEvent) {
		for _, ev := range events {
			usage.observe(ev)
			if t.direct {
				continue
			}
			frames, err := encoder.Encode(ev)
			if err != nil {
				frames, _ = encoder.Encode(providers.ErrorEvent(streamErrorConversion, err.Error()))
			}
			out.write(frames...)
		}
	}

	for {
		if ctx.Err() != nil {
			d.clientClosed(t)
			return nil
		}

		ev, err := upstream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				d.clientClosed(t)
				return nil
			}
			if !out.committed {
				return upstreamError(t.decision.Vendor, err)
			}
			t.logger.Warn("upstream stream failed", zap.Error(err))
			t.record.WithError(http.StatusBadGateway, err)
			d.writeStreamError(out, encoder, t, streamErrorUpstream, err.Error())
			return nil
		}
		if d.config.LogPayloads {
			t.logger.Debug("upstream event", zap.String("event", ev.Event), zap.ByteString("data", ev.Data))
		}

		if t.direct {
			out.write(*ev)
		}
		events, err := decoder.Decode(ev)
		if err != nil {
			t.logger.Warn("stream event conversion failed", zap.Error(err))
			if t.direct {
				continue
			}
			events = append(events, providers.ErrorEvent(streamErrorConversion, err.Error()))
		}
		emit(events)

		if out.broken {
			d.clientClosed(t)
			return nil
		}
	}

	emit(decoder.Finish())
	if !t.direct {
		out.write(encoder.Finish()...)
	}
	out.commit()
	return nil
}

// writeStreamError emits an in-band error in the client's format
func (d *Dispatcher) writeStreamError(out *sseWriter, encoder providers.StreamEncoder, t *target, errType, message string) {
	frames, err := encoder.Encode(providers.ErrorEvent(errType, message))
	if err != nil {
		return
	}
	out.write(frames...)
}

func (d *Dispatcher) clientClosed(t *target) {
	t.logger.Info("client disconnected, closing upstream stream")
	t.record.Status = models.DispatchStatusClientClosed
}
