package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arcoportus/portal/internal/observability"
	"github.com/arcoportus/portal/models"
	"github.com/arcoportus/portal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is the delivery outcome of a Record call
type Status string

const (
	StatusPersisted Status = "persisted"
	StatusQueued    Status = "queued"
	StatusDropped   Status = "dropped"
	StatusFailed    Status = "failed"
)

// Result reports what happened to a recorded entry. Callers are free to ignore it.
type Result struct {
	EventID uuid.UUID
	Status  Status
}

// Entry describes one auditable action. Actor and Tenant are copied into the event.
type Entry struct {
	Action   string
	Module   string
	Target   string
	Details  string
	Severity models.Severity
	Actor    *models.Actor
	Tenant   models.TenantRef
}

// Sink is the write side of the recorder, used by components that emit audit events
type Sink interface {
	Record(ctx context.Context, entry Entry) Result
}

// Config holds configuration for the Recorder
type Config struct {
	BufferSize   int           // Size of the event buffer channel
	WorkerCount  int           // Number of concurrent workers
	WriteTimeout time.Duration // Per-insert deadline
}

// DefaultConfig returns the default configuration. A single worker keeps events in call order.
func DefaultConfig() Config {
	return Config{
		BufferSize:   10000,
		WorkerCount:  1,
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder persists audit events asynchronously through a bounded queue.
// Record never blocks on a full queue and never returns an error.
type Recorder struct {
	repo   repositories.AuditRepository
	logger *zap.Logger
	cfg    Config
	now    func() time.Time

	mu      sync.RWMutex
	queue   chan *models.AuditEvent
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// NewRecorder creates a new Recorder. Call Start to enable asynchronous delivery;
// until then events are written synchronously.
func NewRecorder(repo repositories.AuditRepository, logger *zap.Logger, cfg Config) *Recorder {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	return &Recorder{
		repo:   repo,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
		queue:  make(chan *models.AuditEvent, cfg.BufferSize),
	}
}

var _ Sink = (*Recorder)(nil)

// Start starts the background workers
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("audit recorder already started")
	}
	if r.stopped {
		return fmt.Errorf("audit recorder already stopped")
	}

	for i := 0; i < r.cfg.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.started = true
	r.logger.Info("started audit recorder",
		zap.Int("worker_count", r.cfg.WorkerCount),
		zap.Int("buffer_size", r.cfg.BufferSize))

	return nil
}

// Stop closes the queue and waits for workers to drain it. Entries recorded after
// Stop are written synchronously.
func (r *Recorder) Stop(timeout time.Duration) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return fmt.Errorf("audit recorder not started")
	}
	r.started = false
	r.stopped = true
	pending := len(r.queue)
	close(r.queue)
	r.mu.Unlock()

	r.logger.Info("stopping audit recorder", zap.Int("pending_events", pending))

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("audit recorder stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit recorder stop timeout after %v", timeout)
	}
}

// Record builds an event from entry and hands it to the workers. Without an actor the
// entry is dropped with a warning.
func (r *Recorder) Record(ctx context.Context, entry Entry) Result {
	if entry.Actor == nil {
		r.logger.Warn("audit entry without actor dropped",
			zap.String("action", entry.Action),
			zap.String("module", entry.Module))
		r.count(entry.Severity, StatusDropped)
		return Result{Status: StatusDropped}
	}

	event := r.buildEvent(entry)

	r.mu.RLock()
	if r.started {
		select {
		case r.queue <- event:
			r.mu.RUnlock()
			r.count(event.Severity, StatusQueued)
			return Result{EventID: event.ID, Status: StatusQueued}
		default:
			r.mu.RUnlock()
			r.logger.Warn("audit event channel full, dropping event",
				zap.String("event_id", event.ID.String()),
				zap.String("action", event.Action),
				zap.String("severity", string(event.Severity)))
			r.count(event.Severity, StatusDropped)
			return Result{EventID: event.ID, Status: StatusDropped}
		}
	}
	r.mu.RUnlock()

	if err := r.persist(ctx, event); err != nil {
		r.logger.Error("failed to persist audit event",
			zap.String("event_id", event.ID.String()),
			zap.String("action", event.Action),
			zap.Error(err))
		r.count(event.Severity, StatusFailed)
		return Result{EventID: event.ID, Status: StatusFailed}
	}
	r.count(event.Severity, StatusPersisted)
	return Result{EventID: event.ID, Status: StatusPersisted}
}

func (r *Recorder) buildEvent(entry Entry) *models.AuditEvent {
	event := &models.AuditEvent{
		ID:         uuid.New(),
		Action:     strings.TrimSpace(entry.Action),
		Module:     entry.Module,
		Target:     entry.Target,
		Details:    entry.Details,
		Severity:   entry.Severity,
		ActorID:    resolveID(entry.Actor.ID),
		ActorName:  entry.Actor.Name,
		ActorRole:  entry.Actor.Role,
		TenantID:   resolveID(entry.Tenant.ID),
		TenantName: entry.Tenant.Name,
		CreatedAt:  r.now().UTC(),
	}
	if strings.TrimSpace(event.Target) == "" {
		event.Target = models.TargetNone
	}
	if !event.Severity.Valid() {
		event.Severity = models.SeverityLow
	}
	if event.Module == "" {
		event.Module = models.ModuleSystem
	}
	return event
}

// resolveID replaces placeholder identifiers with a fresh UUID so every row has a real id
func resolveID(id string) string {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case "", "n/a", "system":
		return uuid.NewString()
	default:
		return id
	}
}

// worker processes events from the channel
func (r *Recorder) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range r.queue {
		if err := r.persist(context.Background(), event); err != nil {
			r.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.String("event_id", event.ID.String()),
				zap.String("action", event.Action),
				zap.Error(err))
			r.count(event.Severity, StatusFailed)
		}
	}

	r.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (r *Recorder) persist(ctx context.Context, event *models.AuditEvent) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.WriteTimeout)
	defer cancel()

	if err := r.repo.Insert(ctx, event); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

func (r *Recorder) count(severity models.Severity, status Status) {
	if !severity.Valid() {
		severity = models.SeverityLow
	}
	observability.AuditEventsTotal.WithLabelValues(string(severity), string(status)).Inc()
}

// GetStats returns statistics about the recorder
func (r *Recorder) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		BufferSize:    r.cfg.BufferSize,
		PendingEvents: len(r.queue),
		WorkerCount:   r.cfg.WorkerCount,
		Started:       r.started,
	}
}

// Stats represents recorder statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}
