package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/talkincode/walinkd/internal/connwait"
	"github.com/talkincode/walinkd/internal/domain"
	"github.com/talkincode/walinkd/internal/driver"
	"go.uber.org/zap"
)

// runChain is the detached per-session task: launch → QR → connection wait →
// import. Its own error handling is solely responsible for updating session
// state; nothing escapes to the scheduler.
func (r *Registry) runChain(ctx context.Context, sessionID string, startDelay time.Duration) {
	defer func() {
		if p := recover(); p != nil {
			zap.L().Error("registry: chain panic", zap.String("session_id", sessionID), zap.Any("panic", p))
			r.failSession(sessionID, fmt.Sprintf("internal error: %v", p))
		}
	}()
	if startDelay > 0 {
		driver.Sleep(ctx, startDelay)
	}
	if ctx.Err() != nil {
		return
	}

	handle, err := r.drv.Launch(ctx, r.cfg.Driver)
	if err != nil {
		zap.L().Error("registry: driver launch failed", zap.String("session_id", sessionID), zap.Error(err))
		r.failSession(sessionID, "driver launch failed: "+err.Error())
		return
	}
	if !r.attachHandle(sessionID, handle) {
		// Session was deleted while launching.
		_ = handle.Destroy()
		return
	}
	r.transition(sessionID, domain.StatusLoading, "")

	if err := handle.Navigate(ctx, r.cfg.EntryURL, r.cfg.NavTimeout); err != nil {
		zap.L().Error("registry: navigation failed", zap.String("session_id", sessionID), zap.Error(err))
		r.failSession(sessionID, "navigation failed: "+err.Error())
		return
	}

	payload, err := r.qr.Acquire(ctx, handle)
	if err != nil {
		zap.L().Warn("registry: qr acquisition exhausted", zap.String("session_id", sessionID), zap.Error(err))
		if rec := r.lookup(sessionID); rec != nil {
			r.transition(sessionID, domain.StatusQRError, "qr code not available")
			r.destroyHandle(rec)
		}
		return
	}
	_ = r.Update(sessionID, Patch{QRCode: &payload})
	r.transition(sessionID, domain.StatusQRReady, "")

	switch r.detector.Wait(ctx, handle) {
	case connwait.Connected:
		r.transition(sessionID, domain.StatusConnected, "")
	case connwait.TimedOut:
		if rec := r.lookup(sessionID); rec != nil {
			r.transition(sessionID, domain.StatusConnectionTimeout, "handshake not completed in time")
			r.destroyHandle(rec)
		}
		return
	}

	// Import runs automatically post-connect unless the tenant disabled the
	// marker; the session then waits in connected for a manual start-import.
	if s, ok := r.Get(sessionID); ok && !s.AutoImport {
		return
	}
	r.runImport(ctx, sessionID, handle)
}

// runImport executes the one-shot import with guaranteed driver teardown.
func (r *Registry) runImport(ctx context.Context, sessionID string, handle driver.Handle) {
	rec := r.lookup(sessionID)
	if rec == nil {
		return
	}
	if !r.transition(sessionID, domain.StatusImporting, "") {
		return
	}
	defer r.destroyHandle(rec)

	payload, err := r.importer.Run(ctx, handle, func(p int) {
		_ = r.Update(sessionID, Patch{Progress: &p})
	})
	if err != nil {
		zap.L().Error("registry: import pipeline failed", zap.String("session_id", sessionID), zap.Error(err))
		r.transition(sessionID, domain.StatusImportError, "import failed: "+err.Error())
		return
	}
	_ = r.Update(sessionID, Patch{HistoryData: payload})

	// Delivery is best-effort; extraction success alone decides the status.
	if s, ok := r.Get(sessionID); ok && r.notifier != nil {
		r.notifier.DispatchHistoryImport(s, payload)
	}
	r.transition(sessionID, domain.StatusCompleted, "")
}

// StartImport manually re-triggers the import for a connected session.
func (r *Registry) StartImport(instanceID string) error {
	s, ok := r.FindByInstanceID(instanceID)
	if !ok {
		return ErrNotFound
	}
	if s.Status != domain.StatusConnected {
		return ErrNotConnected
	}
	rec := r.lookup(s.SessionID)
	if rec == nil {
		return ErrNotFound
	}
	r.mu.RLock()
	handle := rec.handle
	r.mu.RUnlock()
	if handle == nil {
		return ErrNotConnected
	}
	r.schedule(func() { r.runImport(context.Background(), s.SessionID, handle) })
	return nil
}

// failSession maps an unhandled chain failure to the generic error state and
// tears down any partially constructed handle.
func (r *Registry) failSession(sessionID, message string) {
	rec := r.lookup(sessionID)
	if rec == nil {
		return
	}
	r.transition(sessionID, domain.StatusError, message)
	r.destroyHandle(rec)
}

func (r *Registry) lookup(sessionID string) *record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

func (r *Registry) attachHandle(sessionID string, h driver.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	rec.handle = h
	return true
}
