// Package registry is the authoritative in-memory store of all sessions and
// the supervisor of their background pairing chains. All session mutation
// goes through registry methods; the HTTP layer only reads.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/bwmarrin/snowflake"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/talkincode/walinkd/internal/connwait"
	"github.com/talkincode/walinkd/internal/domain"
	"github.com/talkincode/walinkd/internal/driver"
	"go.uber.org/zap"
)

var (
	ErrInstanceIDRequired = errors.New("instanceId is required")
	ErrNotFound           = errors.New("session not found")
	ErrNotConnected       = errors.New("session is not connected")
)

// QRAcquirer yields a validated QR payload from a live handle.
type QRAcquirer interface {
	Acquire(ctx context.Context, h driver.Handle) (string, error)
}

// ConnectionWaiter resolves whether the handshake completed.
type ConnectionWaiter interface {
	Wait(ctx context.Context, h driver.Handle) connwait.Result
}

// HistoryImporter runs the one-shot extraction.
type HistoryImporter interface {
	Run(ctx context.Context, h driver.Handle, progress func(int)) (*domain.HistoryPayload, error)
}

// Notifier receives the import result for best-effort delivery.
type Notifier interface {
	DispatchHistoryImport(s domain.Session, payload *domain.HistoryPayload)
}

type Config struct {
	EntryURL   string
	NavTimeout time.Duration
	Driver     driver.Config
}

type record struct {
	s           domain.Session
	handle      driver.Handle
	destroyOnce sync.Once
	cancel      context.CancelFunc
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*record

	cfg      Config
	drv      driver.Driver
	qr       QRAcquirer
	detector ConnectionWaiter
	importer HistoryImporter
	notifier Notifier
	pool     *ants.Pool
	bus      EventBus.Bus
	node     *snowflake.Node
}

func New(cfg Config, drv driver.Driver, qr QRAcquirer, detector ConnectionWaiter,
	importer HistoryImporter, notifier Notifier, pool *ants.Pool, bus EventBus.Bus,
	node *snowflake.Node) *Registry {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}
	return &Registry{
		sessions: make(map[string]*record),
		cfg:      cfg,
		drv:      drv,
		qr:       qr,
		detector: detector,
		importer: importer,
		notifier: notifier,
		pool:     pool,
		bus:      bus,
		node:     node,
	}
}

// Create allocates a session record and schedules the background chain
// without blocking the caller. An existing session for the same instanceId
// is superseded: torn down and removed first.
func (r *Registry) Create(instanceID, instanceName, webhookURL, userID string) (domain.Session, error) {
	if instanceID == "" {
		return domain.Session{}, ErrInstanceIDRequired
	}
	if prev, ok := r.FindByInstanceID(instanceID); ok {
		zap.L().Info("registry: superseding existing session",
			zap.String("instance_id", instanceID), zap.String("session_id", prev.SessionID))
		r.Delete(prev.SessionID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec := &record{
		s: domain.Session{
			SessionID:    instanceID + "-" + r.node.Generate().String(),
			InstanceID:   instanceID,
			InstanceName: instanceName,
			WebhookURL:   webhookURL,
			UserID:       userID,
			Status:       domain.StatusInitializing,
			AutoImport:   true,
			CreatedAt:    time.Now(),
		},
		cancel: cancel,
	}

	r.mu.Lock()
	r.sessions[rec.s.SessionID] = rec
	r.mu.Unlock()

	zap.L().Info("registry: session created",
		zap.String("session_id", rec.s.SessionID), zap.String("instance_id", instanceID))
	r.schedule(func() { r.runChain(ctx, rec.s.SessionID, 0) })
	return rec.s, nil
}

// Get returns a copy of the session.
func (r *Registry) Get(sessionID string) (domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[sessionID]
	if !ok {
		return domain.Session{}, false
	}
	return rec.s, true
}

// FindByInstanceID scans all records and returns the first match. Linear,
// acceptable at the expected scale of tens of concurrent sessions.
func (r *Registry) FindByInstanceID(instanceID string) (domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.sessions {
		if rec.s.InstanceID == instanceID {
			return rec.s, true
		}
	}
	return domain.Session{}, false
}

// List returns a snapshot copy of every session.
func (r *Registry) List() []domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Session, 0, len(r.sessions))
	for _, rec := range r.sessions {
		out = append(out, rec.s)
	}
	return out
}

// ActiveCount counts sessions that have not reached a terminal state.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.sessions {
		if !domain.IsTerminal(rec.s.Status) {
			n++
		}
	}
	return n
}

// Patch carries a partial field merge; nil fields are left untouched.
type Patch struct {
	QRCode      *string
	Progress    *int
	Message     *string
	AutoImport  *bool
	HistoryData *domain.HistoryPayload
}

// Update merges the patch atomically; no reader observes a half-written
// record.
func (r *Registry) Update(sessionID string, patch Patch) error {
	return r.mutate(sessionID, func(s *domain.Session) {
		if patch.QRCode != nil {
			s.QRCode = *patch.QRCode
		}
		if patch.Progress != nil {
			s.Progress = *patch.Progress
		}
		if patch.Message != nil {
			s.Message = *patch.Message
		}
		if patch.AutoImport != nil {
			s.AutoImport = *patch.AutoImport
		}
		if patch.HistoryData != nil {
			s.HistoryData = patch.HistoryData
		}
	})
}

func (r *Registry) mutate(sessionID string, fn func(*domain.Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	fn(&rec.s)
	return nil
}

// ScheduleImport records import intent for the instance. Idempotent; import
// itself runs automatically post-connect.
func (r *Registry) ScheduleImport(instanceID string) {
	if s, ok := r.FindByInstanceID(instanceID); ok {
		enabled := true
		_ = r.Update(s.SessionID, Patch{AutoImport: &enabled})
	}
}

// Delete tears down the driver best-effort and removes the record. Destroy
// errors are swallowed and logged.
func (r *Registry) Delete(sessionID string) bool {
	r.mu.Lock()
	rec, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	if rec.cancel != nil {
		rec.cancel()
	}
	r.destroyHandle(rec)
	zap.L().Info("registry: session deleted", zap.String("session_id", sessionID))
	return true
}

// destroyHandle destroys the record's driver handle exactly once across all
// callers (chain cleanup and explicit deletion may race).
func (r *Registry) destroyHandle(rec *record) {
	rec.destroyOnce.Do(func() {
		r.mu.RLock()
		h := rec.handle
		r.mu.RUnlock()
		if h == nil {
			return
		}
		if err := h.Destroy(); err != nil {
			zap.L().Warn("registry: driver destroy failed",
				zap.String("session_id", rec.s.SessionID), zap.Error(err))
		}
	})
}

// transition moves the session forward through the state machine. Invalid
// transitions are refused and logged; accepted ones are published on the
// status topic.
func (r *Registry) transition(sessionID string, to domain.Status, message string) bool {
	r.mu.Lock()
	rec, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	from := rec.s.Status
	if !domain.CanTransition(from, to) {
		r.mu.Unlock()
		zap.L().Warn("registry: transition refused",
			zap.String("session_id", sessionID),
			zap.String("from", string(from)), zap.String("to", string(to)))
		return false
	}
	rec.s.Status = to
	rec.s.Message = message
	now := time.Now()
	switch to {
	case domain.StatusConnected:
		rec.s.QRCode = ""
		if rec.s.ConnectedAt == nil {
			rec.s.ConnectedAt = &now
		}
		if rec.s.ValidatedAt == nil {
			rec.s.ValidatedAt = &now
		}
	}
	snapshot := rec.s
	r.mu.Unlock()

	zap.L().Info("registry: status transition",
		zap.String("session_id", sessionID),
		zap.String("from", string(from)), zap.String("to", string(to)))
	if r.bus != nil {
		r.bus.Publish(domain.StatusTopic, domain.StatusChange{Session: snapshot, From: from, To: to})
	}
	return true
}

func (r *Registry) schedule(task func()) {
	if r.pool != nil {
		if err := r.pool.Submit(task); err == nil {
			return
		}
	}
	go task()
}
