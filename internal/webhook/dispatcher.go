// Package webhook delivers structured events to a tenant callback URL.
// Delivery is best-effort: no retry, no queue, no back-pressure. History
// import must not fail merely because the receiving endpoint is down.
package webhook

import (
	"bytes"
	"net/http"
	"time"

	"github.com/asaskevich/EventBus"
	jsoniter "github.com/json-iterator/go"
	"github.com/talkincode/walinkd/internal/domain"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Config struct {
	Token     string
	Timeout   time.Duration
	ServerURL string
}

type Dispatcher struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Dispatch posts the payload to url and logs the outcome. The caller always
// proceeds regardless of delivery success.
func (d *Dispatcher) Dispatch(url string, payload interface{}) {
	if url == "" {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		zap.L().Warn("webhook: payload marshal failed", zap.Error(err))
		return
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		zap.L().Warn("webhook: request build failed", zap.String("url", url), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.Token)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		zap.L().Warn("webhook: delivery failed", zap.String("url", url), zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		zap.L().Info("webhook: delivered", zap.String("url", url), zap.Int("status", resp.StatusCode))
	} else {
		zap.L().Warn("webhook: non-success status", zap.String("url", url), zap.Int("status", resp.StatusCode))
	}
}

// DispatchQRUpdate pushes the QR-update event shape.
func (d *Dispatcher) DispatchQRUpdate(s domain.Session) {
	d.Dispatch(s.WebhookURL, domain.QRUpdateEvent{
		Event:        "qrcode_updated",
		InstanceName: s.InstanceName,
		Data:         domain.QRUpdateData{QRCode: s.QRCode},
		Timestamp:    time.Now(),
		ServerURL:    d.cfg.ServerURL,
	})
}

// DispatchHistoryImport pushes the import-result event shape.
func (d *Dispatcher) DispatchHistoryImport(s domain.Session, payload *domain.HistoryPayload) {
	d.Dispatch(s.WebhookURL, domain.HistoryImportEvent{
		Action:     "import_history",
		SessionID:  s.SessionID,
		InstanceID: s.InstanceID,
		UserID:     s.UserID,
		Data:       payload,
		Timestamp:  time.Now(),
	})
}

// BindStatusTopic subscribes the dispatcher to the session status topic so
// QR pushes happen without the acquisition engine knowing about webhooks.
func (d *Dispatcher) BindStatusTopic(bus EventBus.Bus) error {
	return bus.SubscribeAsync(domain.StatusTopic, func(change domain.StatusChange) {
		if change.To == domain.StatusQRReady && change.Session.WebhookURL != "" {
			d.DispatchQRUpdate(change.Session)
		}
	}, false)
}
