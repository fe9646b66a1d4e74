package domain

import "time"

// StatusTopic is the in-process event bus topic for session status changes.
const StatusTopic = "session.status"

// StatusChange is published on StatusTopic after every accepted transition.
// It carries a copy of the session, never a live pointer.
type StatusChange struct {
	Session Session
	From    Status
	To      Status
}

// QRUpdateEvent is the outbound webhook shape for a freshly acquired QR.
type QRUpdateEvent struct {
	Event        string       `json:"event"`
	InstanceName string       `json:"instanceName"`
	Data         QRUpdateData `json:"data"`
	Timestamp    time.Time    `json:"timestamp"`
	ServerURL    string       `json:"server_url"`
}

type QRUpdateData struct {
	QRCode string `json:"qrCode"`
}

// HistoryImportEvent is the outbound webhook shape for a finished import.
type HistoryImportEvent struct {
	Action     string          `json:"action"`
	SessionID  string          `json:"sessionId"`
	InstanceID string          `json:"instanceId"`
	UserID     string          `json:"userId,omitempty"`
	Data       *HistoryPayload `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
}
