package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ribelo/prism-sub000/models"
	"github.com/ribelo/prism-sub000/repositories"
	"go.uber.org/zap"
)

// Sink persists a dispatch record
type Sink interface {
	Write(ctx context.Context, log *models.DispatchLog) error
}

// RepositorySink writes dispatch records through a DispatchLogRepository
type RepositorySink struct {
	repo repositories.DispatchLogRepository
}

// NewRepositorySink creates a sink backed by repo
func NewRepositorySink(repo repositories.DispatchLogRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

func (s *RepositorySink) Write(ctx context.Context, log *models.DispatchLog) error {
	return s.repo.Insert(ctx, log)
}

// LoggerSink writes dispatch records as structured log lines. Used when no database is configured.
type LoggerSink struct {
	logger *zap.Logger
}

// NewLoggerSink creates a sink backed by logger
func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) Write(ctx context.Context, log *models.DispatchLog) error {
	fields := []zap.Field{
		zap.String("dispatch_id", log.ID.String()),
		zap.String("request_id", log.RequestID),
		zap.String("inbound_format", log.InboundFormat),
		zap.String("original_model", log.OriginalModel),
		zap.Bool("stream", log.Stream),
		zap.Bool("auth_retried", log.AuthRetried),
		zap.Int("attempts", log.Attempts),
		zap.String("status", string(log.Status)),
		zap.Int("input_tokens", log.InputTokens),
		zap.Int("output_tokens", log.OutputTokens),
		zap.Int64("latency_ms", log.LatencyMs),
	}
	if log.Vendor != nil {
		fields = append(fields, zap.String("vendor", *log.Vendor))
	}
	if log.Model != nil {
		fields = append(fields, zap.String("model", *log.Model))
	}
	if log.Confidence != nil {
		fields = append(fields, zap.Float64("confidence", *log.Confidence))
	}
	if log.ErrorMessage != nil {
		fields = append(fields, zap.Int("status_code", log.StatusCode), zap.String("error", *log.ErrorMessage))
	}
	s.logger.Info("dispatch", fields...)
	return nil
}

// AuditService writes dispatch records asynchronously
type AuditService struct {
	sink        Sink
	logger      *zap.Logger
	eventChan   chan *models.DispatchLog
	workerCount int
	bufferSize  int
	timeout     time.Duration
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	mu          sync.Mutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize   int // Size of the record buffer channel
	WorkerCount  int // Number of concurrent workers
	WriteTimeout time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   10000,
		WorkerCount:  5,
		WriteTimeout: 5 * time.Second,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(sink Sink, logger *zap.Logger, config Config) *AuditService {
	ctx, cancel := context.WithCancel(context.Background())
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}

	return &AuditService{
		sink:        sink,
		logger:      logger,
		eventChan:   make(chan *models.DispatchLog, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		timeout:     config.WriteTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the audit service.
// Waits for all pending records to be written.
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_records", len(s.eventChan)))

	close(s.eventChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record queues a dispatch record without blocking. A full buffer drops it.
func (s *AuditService) Record(log *models.DispatchLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return fmt.Errorf("audit service not started")
	}

	select {
	case s.eventChan <- log:
		return nil
	default:
		s.logger.Warn("audit buffer full, dropping dispatch record",
			zap.String("request_id", log.RequestID),
			zap.String("original_model", log.OriginalModel))
		return fmt.Errorf("audit buffer full")
	}
}

func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for log := range s.eventChan {
		if err := s.write(log); err != nil {
			s.logger.Error("failed to write dispatch record",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("request_id", log.RequestID))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *AuditService) write(log *models.DispatchLog) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.sink.Write(ctx, log); err != nil {
		return fmt.Errorf("failed to insert dispatch log: %w", err)
	}
	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int  `json:"buffer_size"`
	PendingEvents int  `json:"pending_events"`
	WorkerCount   int  `json:"worker_count"`
	Started       bool `json:"started"`
}
