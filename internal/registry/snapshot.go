package registry

import (
	"context"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/talkincode/walinkd/internal/domain"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// snapshotEntry is the restorable subset of a session: enough to re-launch
// the pairing chain after a process restart, nothing more.
type snapshotEntry struct {
	SessionID    string    `json:"sessionId" mapstructure:"sessionId"`
	InstanceID   string    `json:"instanceId" mapstructure:"instanceId"`
	InstanceName string    `json:"instanceName" mapstructure:"instanceName"`
	WebhookURL   string    `json:"webhookUrl" mapstructure:"webhookUrl"`
	UserID       string    `json:"userId" mapstructure:"userId"`
	Status       string    `json:"status" mapstructure:"status"`
	AutoImport   bool      `json:"autoImport" mapstructure:"autoImport"`
	CreatedAt    time.Time `json:"createdAt" mapstructure:"createdAt"`
}

// SaveSnapshot writes the plain session map keyed by session id. Driver
// handles and history payloads are never persisted.
func (r *Registry) SaveSnapshot(path string) error {
	r.mu.RLock()
	entries := make(map[string]snapshotEntry, len(r.sessions))
	for id, rec := range r.sessions {
		entries[id] = snapshotEntry{
			SessionID:    rec.s.SessionID,
			InstanceID:   rec.s.InstanceID,
			InstanceName: rec.s.InstanceName,
			WebhookURL:   rec.s.WebhookURL,
			UserID:       rec.s.UserID,
			Status:       string(rec.s.Status),
			AutoImport:   rec.s.AutoImport,
			CreatedAt:    rec.s.CreatedAt,
		}
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "snapshot marshal failed")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "snapshot write failed")
	}
	return os.Rename(tmp, path)
}

// LoadSnapshot reconstructs registry entries from a snapshot file and
// re-schedules non-terminal sessions with a staggered per-entry delay.
// Loader errors never abort startup; they are logged and skipped, kept
// separate from live-session error handling.
func (r *Registry) LoadSnapshot(ctx context.Context, path string, stagger time.Duration) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			zap.L().Warn("registry: snapshot read failed", zap.String("path", path), zap.Error(err))
		}
		return
	}
	var raw map[string]map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		zap.L().Warn("registry: snapshot unmarshal failed", zap.String("path", path), zap.Error(err))
		return
	}

	i := 0
	for id, fields := range raw {
		var entry snapshotEntry
		if err := decodeEntry(fields, &entry); err != nil {
			zap.L().Warn("registry: snapshot entry skipped", zap.String("session_id", id), zap.Error(err))
			continue
		}
		if entry.SessionID == "" || entry.InstanceID == "" {
			zap.L().Warn("registry: snapshot entry missing ids", zap.String("key", id))
			continue
		}
		status := domain.Status(entry.Status)
		relaunch := !domain.IsTerminal(status)
		if relaunch {
			// The old driver died with the old process; restart the chain
			// from the beginning.
			status = domain.StatusInitializing
		}

		chainCtx, cancel := context.WithCancel(ctx)
		rec := &record{
			s: domain.Session{
				SessionID:    entry.SessionID,
				InstanceID:   entry.InstanceID,
				InstanceName: entry.InstanceName,
				WebhookURL:   entry.WebhookURL,
				UserID:       entry.UserID,
				Status:       status,
				AutoImport:   entry.AutoImport,
				CreatedAt:    entry.CreatedAt,
			},
			cancel: cancel,
		}
		r.mu.Lock()
		r.sessions[rec.s.SessionID] = rec
		r.mu.Unlock()

		if relaunch {
			delay := time.Duration(i) * stagger
			i++
			sessionID := rec.s.SessionID
			r.schedule(func() { r.runChain(chainCtx, sessionID, delay) })
			zap.L().Info("registry: snapshot session re-scheduled",
				zap.String("session_id", sessionID), zap.Duration("delay", delay))
		} else {
			zap.L().Info("registry: snapshot session restored (terminal)",
				zap.String("session_id", rec.s.SessionID), zap.String("status", string(status)))
		}
	}
}

func decodeEntry(in map[string]interface{}, out *snapshotEntry) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		Result:     out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
