package domain

import "time"

// Status is the single source of truth for what phase a session is in.
type Status string

const (
	StatusInitializing      Status = "initializing"
	StatusLoading           Status = "loading"
	StatusQRReady           Status = "qr_ready"
	StatusQRError           Status = "qr_error"
	StatusConnected         Status = "connected"
	StatusConnectionTimeout Status = "connection_timeout"
	StatusImporting         Status = "importing"
	StatusCompleted         Status = "completed"
	StatusImportError       Status = "import_error"
	StatusError             Status = "error"
)

// validNext encodes the forward-only transition table. The generic error
// state is reachable from every non-terminal state and is handled in
// CanTransition rather than listed per row.
var validNext = map[Status][]Status{
	StatusInitializing: {StatusLoading},
	StatusLoading:      {StatusQRReady, StatusQRError},
	StatusQRReady:      {StatusConnected, StatusConnectionTimeout},
	StatusConnected:    {StatusImporting},
	StatusImporting:    {StatusCompleted, StatusImportError},
}

// IsTerminal reports whether no further transition may leave s.
func IsTerminal(s Status) bool {
	switch s {
	case StatusQRError, StatusConnectionTimeout, StatusCompleted, StatusImportError, StatusError:
		return true
	}
	return false
}

// CanTransition reports whether from → to is a valid path through the state
// machine. Backward transitions are never valid; any non-terminal state may
// fall into the generic error state.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if to == StatusError {
		return !IsTerminal(from)
	}
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is one end-to-end attempt to link and optionally import history
// for one tenant instance. The registry is the only writer.
type Session struct {
	SessionID    string          `json:"sessionId"`
	InstanceID   string          `json:"instanceId"`
	InstanceName string          `json:"instanceName,omitempty"`
	WebhookURL   string          `json:"webhookUrl,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	Status       Status          `json:"status"`
	Message      string          `json:"message,omitempty"`
	QRCode       string          `json:"qrCode,omitempty"`
	Progress     int             `json:"progress"`
	AutoImport   bool            `json:"autoImport"`
	HistoryData  *HistoryPayload `json:"historyData,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	ConnectedAt  *time.Time      `json:"connectedAt,omitempty"`
	ValidatedAt  *time.Time      `json:"validatedAt,omitempty"`
}

// Contact is one extracted contact row.
type Contact struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	LastMessage string `json:"lastMessage,omitempty"`
}

// Message is one extracted message row, correlated to its contact by name.
type Message struct {
	ContactName string `json:"contactName"`
	Text        string `json:"text"`
	Timestamp   string `json:"timestamp,omitempty"`
}

type HistorySummary struct {
	TotalContacts int    `json:"totalContacts"`
	TotalMessages int    `json:"totalMessages"`
	Source        string `json:"source"`
}

// HistoryPayload is the one-shot import result handed to the webhook.
type HistoryPayload struct {
	Contacts    []Contact      `json:"contacts"`
	Messages    []Message      `json:"messages"`
	TotalChats  int            `json:"totalChats"`
	ExtractedAt time.Time      `json:"extractedAt"`
	Summary     HistorySummary `json:"summary"`
}
