package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/talkincode/walinkd/internal/connwait"
	"github.com/talkincode/walinkd/internal/domain"
)

func TestSnapshotRoundTrip(t *testing.T) {
	det := &fakeDetector{result: connwait.Connected, release: make(chan struct{})}
	src, _, _ := newTestRegistry(t,
		&fakeQR{payload: "data:image/png;base64,AAAA"},
		det, &fakeImporter{payload: &domain.HistoryPayload{}}, &fakeNotifier{})

	s, _ := src.Create("inst-snap", "Main", "https://crm.example.test/hook", "user-1")
	waitForStatus(t, src, s.SessionID, domain.StatusQRReady)

	path := filepath.Join(t.TempDir(), "sessions.json")
	if err := src.SaveSnapshot(path); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	close(det.release)

	dst, dstDrv, _ := newTestRegistry(t,
		&fakeQR{payload: "data:image/png;base64,AAAA"},
		&fakeDetector{result: connwait.Connected},
		&fakeImporter{payload: &domain.HistoryPayload{}}, &fakeNotifier{})
	dst.LoadSnapshot(context.Background(), path, 0)

	restored, ok := dst.Get(s.SessionID)
	if !ok {
		t.Fatal("expected restored session")
	}
	if restored.InstanceID != "inst-snap" || restored.InstanceName != "Main" ||
		restored.WebhookURL != "https://crm.example.test/hook" || restored.UserID != "user-1" {
		t.Errorf("restored fields differ: %+v", restored)
	}
	if restored.CreatedAt.IsZero() {
		t.Error("expected createdAt to survive the round trip")
	}

	// Non-terminal at save time: the chain restarts from scratch.
	waitForStatus(t, dst, s.SessionID, domain.StatusCompleted)
	if dstDrv.LaunchCount() != 1 {
		t.Errorf("launches = %d, want 1", dstDrv.LaunchCount())
	}
}

func TestLoadSnapshotKeepsTerminalSessions(t *testing.T) {
	det := &fakeDetector{result: connwait.Connected}
	src, _, _ := newTestRegistry(t,
		&fakeQR{payload: "data:image/png;base64,AAAA"},
		det, &fakeImporter{payload: &domain.HistoryPayload{}}, &fakeNotifier{})

	s, _ := src.Create("inst-done", "", "", "")
	waitForStatus(t, src, s.SessionID, domain.StatusCompleted)

	path := filepath.Join(t.TempDir(), "sessions.json")
	if err := src.SaveSnapshot(path); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	dst, dstDrv, _ := newTestRegistry(t,
		&fakeQR{}, &fakeDetector{}, &fakeImporter{}, &fakeNotifier{})
	dst.LoadSnapshot(context.Background(), path, 0)

	restored, ok := dst.Get(s.SessionID)
	if !ok {
		t.Fatal("expected restored session")
	}
	if restored.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want completed retained", restored.Status)
	}
	// Terminal entries never relaunch a driver.
	time.Sleep(20 * time.Millisecond)
	if dstDrv.LaunchCount() != 0 {
		t.Errorf("launches = %d, want 0 for terminal restore", dstDrv.LaunchCount())
	}
}

func TestLoadSnapshotMissingFileIsNoop(t *testing.T) {
	r, _, _ := newTestRegistry(t, &fakeQR{}, &fakeDetector{}, &fakeImporter{}, &fakeNotifier{})
	r.LoadSnapshot(context.Background(), filepath.Join(t.TempDir(), "absent.json"), 0)
	if len(r.List()) != 0 {
		t.Error("expected empty registry after missing snapshot")
	}
}

func TestLoadSnapshotSkipsBrokenEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	raw := `{
  "good-1": {
    "sessionId": "good-1",
    "instanceId": "inst-good",
    "status": "completed",
    "autoImport": true,
    "createdAt": "2026-08-29T10:00:00.5Z"
  },
  "no-ids": {
    "status": "completed"
  },
  "bad-time": {
    "sessionId": "bad-time",
    "instanceId": "inst-bad",
    "status": "completed",
    "createdAt": "yesterday"
  }
}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r, _, _ := newTestRegistry(t, &fakeQR{}, &fakeDetector{}, &fakeImporter{}, &fakeNotifier{})
	r.LoadSnapshot(context.Background(), path, 0)

	if _, ok := r.Get("good-1"); !ok {
		t.Error("expected the well-formed entry to load")
	}
	if len(r.List()) != 1 {
		t.Errorf("sessions = %d, want only the well-formed entry", len(r.List()))
	}
}

func TestLoadSnapshotCorruptFileIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	r, _, _ := newTestRegistry(t, &fakeQR{}, &fakeDetector{}, &fakeImporter{}, &fakeNotifier{})
	r.LoadSnapshot(context.Background(), path, 0)
	if len(r.List()) != 0 {
		t.Error("expected no sessions from a corrupt snapshot")
	}
}
