package manager

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fluxpoint-media/fluxpoint/logger"
	"github.com/fluxpoint-media/fluxpoint/metrics"
)

// inboxSize bounds the manager's request inbox. Producers treat sends as
// best-effort, so a saturated inbox sheds rather than blocks them.
const inboxSize = 256

// notificationSize bounds the run-event feed. Slow feed consumers lose
// events rather than stalling the manager.
const notificationSize = 64

// Manager consumes workflow requests and keeps the run registry current.
type Manager struct {
	store         Store
	log           *slog.Logger
	requests      chan Request
	done          chan struct{}
	notifications chan RunEvent

	// startedAt remembers first-upsert times across definition replacements.
	startedAt map[string]time.Time
	runIDs    map[string]string
}

// Start launches a manager backed by the given store. The manager runs until
// ctx is cancelled; its Handle's Done channel closes when it stops.
func Start(ctx context.Context, store Store) *Manager {
	m := &Manager{
		store:         store,
		log:           logger.ForModule("manager"),
		requests:      make(chan Request, inboxSize),
		done:          make(chan struct{}),
		notifications: make(chan RunEvent, notificationSize),
		startedAt:     make(map[string]time.Time),
		runIDs:        make(map[string]string),
	}

	go m.run(ctx)
	return m
}

// Handle returns the send-only face of this manager, suitable for publishing
// on the event hub.
func (m *Manager) Handle() *Handle {
	return &Handle{requests: m.requests, done: m.done}
}

// Notifications returns the run-event feed. The channel closes when the
// manager stops. Intended for a single consumer.
func (m *Manager) Notifications() <-chan RunEvent {
	return m.notifications
}

func (m *Manager) run(ctx context.Context) {
	m.log.Info("workflow manager started")
	defer func() {
		close(m.done)
		close(m.notifications)
		m.log.Info("workflow manager stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-m.requests:
			m.handle(ctx, req)
		}
	}
}

func (m *Manager) handle(ctx context.Context, req Request) {
	switch op := req.Operation.(type) {
	case UpsertWorkflow:
		m.upsert(ctx, req.RequestID, op)
	case StopWorkflow:
		m.stop(ctx, req.RequestID, op)
	case ReportMedia:
		m.reportMedia(ctx, req.RequestID, op)
	default:
		m.log.Error("unknown manager operation", "request_id", req.RequestID)
	}
}

func (m *Manager) upsert(ctx context.Context, requestID string, op UpsertWorkflow) {
	if op.Definition == nil || op.Definition.Name == "" {
		m.log.Error("upsert with no definition", "request_id", requestID)
		metrics.RecordManagerRequest("upsert", "invalid")
		return
	}

	name := op.Definition.Name
	now := time.Now()
	started, known := m.startedAt[name]
	if !known {
		started = now
		m.startedAt[name] = started
		m.runIDs[name] = uuid.NewString()
	}

	run := &Run{
		ID:            m.runIDs[name],
		Definition:    op.Definition,
		LastRequestID: requestID,
		StartedAt:     started,
		UpdatedAt:     now,
	}
	if err := m.store.Save(ctx, run); err != nil {
		m.log.Error("failed to save run", "workflow", name, "request_id", requestID, "error", err)
		metrics.RecordManagerRequest("upsert", "error")
		return
	}

	if known {
		m.log.Info("workflow definition replaced", "workflow", name, "request_id", requestID)
	} else {
		m.log.Info("workflow started", "workflow", name, "request_id", requestID)
	}
	metrics.RecordManagerRequest("upsert", "ok")
	m.notify(RunEvent{Type: RunUpserted, Workflow: name, RequestID: requestID, Timestamp: now})
}

func (m *Manager) stop(ctx context.Context, requestID string, op StopWorkflow) {
	if op.Name == "" {
		m.log.Error("stop with no workflow name", "request_id", requestID)
		metrics.RecordManagerRequest("stop", "invalid")
		return
	}

	if _, known := m.startedAt[op.Name]; !known {
		m.log.Debug("stop for unknown workflow", "workflow", op.Name, "request_id", requestID)
		metrics.RecordManagerRequest("stop", "unknown")
		return
	}

	delete(m.startedAt, op.Name)
	delete(m.runIDs, op.Name)
	if err := m.store.Delete(ctx, op.Name); err != nil {
		m.log.Error("failed to delete run", "workflow", op.Name, "request_id", requestID, "error", err)
		metrics.RecordManagerRequest("stop", "error")
		return
	}

	m.log.Info("workflow stopped", "workflow", op.Name, "request_id", requestID)
	metrics.RecordManagerRequest("stop", "ok")
	m.notify(RunEvent{Type: RunStopped, Workflow: op.Name, RequestID: requestID, Timestamp: time.Now()})
}

func (m *Manager) reportMedia(ctx context.Context, requestID string, op ReportMedia) {
	if op.Workflow == "" || op.Notification.Content == nil {
		m.log.Error("media report missing workflow or content", "request_id", requestID)
		metrics.RecordManagerRequest("media", "invalid")
		return
	}

	if _, known := m.startedAt[op.Workflow]; !known {
		m.log.Debug("media report for unknown workflow",
			"workflow", op.Workflow, "request_id", requestID)
		metrics.RecordManagerRequest("media", "unknown")
		return
	}

	run, err := m.store.Load(ctx, op.Workflow)
	if err != nil {
		m.log.Error("failed to load run for media report",
			"workflow", op.Workflow, "request_id", requestID, "error", err)
		metrics.RecordManagerRequest("media", "error")
		return
	}

	now := time.Now()
	notification := op.Notification
	run.LastMedia = &notification
	run.UpdatedAt = now
	if err := m.store.Save(ctx, run); err != nil {
		m.log.Error("failed to save media report",
			"workflow", op.Workflow, "request_id", requestID, "error", err)
		metrics.RecordManagerRequest("media", "error")
		return
	}

	m.log.Debug("media activity recorded",
		"workflow", op.Workflow, "stream_id", notification.StreamID)
	metrics.RecordManagerRequest("media", "ok")
	m.notify(RunEvent{
		Type:      RunMedia,
		Workflow:  op.Workflow,
		RequestID: requestID,
		Media:     &notification,
		Timestamp: now,
	})
}

func (m *Manager) notify(event RunEvent) {
	select {
	case m.notifications <- event:
	default:
	}
}
