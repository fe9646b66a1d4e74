// Package importer performs the one-shot, best-effort extraction of a
// bounded sample of contacts and recent messages after pairing succeeds.
package importer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/talkincode/walinkd/internal/domain"
	"github.com/talkincode/walinkd/internal/driver"
	"go.uber.org/zap"
)

const payloadSource = "whatsapp_web_scrape"

type Config struct {
	SettleDelay        time.Duration
	MaxContacts        int
	MaxChats           int
	MaxMessagesPerChat int
	ContactRowSelector string
	// Name and preview selectors are queried page-wide and zipped with the
	// contact rows by index.
	ContactNameSelector    string
	ContactPreviewSelector string
	MessageRowSelector     string
	ChatRenderWait         time.Duration
}

func (c *Config) setDefaults() {
	if c.SettleDelay <= 0 {
		c.SettleDelay = 3 * time.Second
	}
	if c.MaxContacts <= 0 {
		c.MaxContacts = 50
	}
	if c.MaxChats <= 0 {
		c.MaxChats = 5
	}
	if c.MaxMessagesPerChat <= 0 {
		c.MaxMessagesPerChat = 20
	}
	if c.ContactRowSelector == "" {
		c.ContactRowSelector = "div[data-testid='cell-frame-container']"
	}
	if c.ContactNameSelector == "" {
		c.ContactNameSelector = "div[data-testid='cell-frame-container'] span[title]"
	}
	if c.ContactPreviewSelector == "" {
		c.ContactPreviewSelector = "div[data-testid='cell-frame-container'] span[data-testid='last-msg-status']"
	}
	if c.MessageRowSelector == "" {
		c.MessageRowSelector = "div[data-testid='msg-container']"
	}
	if c.ChatRenderWait <= 0 {
		c.ChatRenderWait = 2 * time.Second
	}
}

type Pipeline struct {
	cfg Config
}

func New(cfg Config) *Pipeline {
	cfg.setDefaults()
	return &Pipeline{cfg: cfg}
}

// Run extracts the bounded history sample. Per-row errors are swallowed and
// logged so one bad row never aborts the batch; only pipeline-level faults
// return an error. progress receives coarse milestones for UI polling.
func (p *Pipeline) Run(ctx context.Context, h driver.Handle, progress func(int)) (*domain.HistoryPayload, error) {
	if progress == nil {
		progress = func(int) {}
	}
	progress(0)
	h.Wait(ctx, p.cfg.SettleDelay)

	rows, err := h.Elements(p.cfg.ContactRowSelector)
	if err != nil {
		return nil, errors.Wrap(err, "contact rows query failed")
	}
	contacts := p.extractContacts(h, rows)
	progress(40)

	var messages []domain.Message
	chats := len(rows)
	if chats > p.cfg.MaxChats {
		chats = p.cfg.MaxChats
	}
	for i := 0; i < chats; i++ {
		if ctx.Err() != nil {
			break
		}
		name := ""
		if i < len(contacts) {
			name = contacts[i].Name
		}
		msgs, err := p.extractChat(ctx, h, rows[i], name)
		if err != nil {
			// One bad conversation must not abort the batch.
			zap.L().Warn("importer: chat extraction failed", zap.Int("chat", i), zap.Error(err))
			continue
		}
		messages = append(messages, msgs...)
	}
	progress(100)

	payload := &domain.HistoryPayload{
		Contacts:    contacts,
		Messages:    messages,
		TotalChats:  len(rows),
		ExtractedAt: time.Now(),
		Summary: domain.HistorySummary{
			TotalContacts: len(contacts),
			TotalMessages: len(messages),
			Source:        payloadSource,
		},
	}
	zap.L().Info("importer: extraction finished",
		zap.Int("contacts", len(contacts)), zap.Int("messages", len(messages)))
	return payload, nil
}

func (p *Pipeline) extractContacts(h driver.Handle, rows []driver.Element) []domain.Contact {
	names, err := h.Elements(p.cfg.ContactNameSelector)
	if err != nil {
		zap.L().Warn("importer: contact name query failed", zap.Error(err))
	}
	previews, err := h.Elements(p.cfg.ContactPreviewSelector)
	if err != nil {
		zap.L().Debug("importer: contact preview query failed", zap.Error(err))
	}

	limit := len(rows)
	if limit > p.cfg.MaxContacts {
		limit = p.cfg.MaxContacts
	}
	out := make([]domain.Contact, 0, limit)
	for i := 0; i < limit; i++ {
		contact := domain.Contact{ID: uuid.NewString()}
		if i < len(names) {
			name, err := names[i].Text()
			if err != nil {
				zap.L().Debug("importer: contact row skipped", zap.Int("row", i), zap.Error(err))
				continue
			}
			contact.Name = name
		}
		if contact.Name == "" {
			continue
		}
		if i < len(previews) {
			if preview, err := previews[i].Text(); err == nil {
				contact.LastMessage = preview
			}
		}
		out = append(out, contact)
	}
	return out
}

func (p *Pipeline) extractChat(ctx context.Context, h driver.Handle, row driver.Element, contactName string) ([]domain.Message, error) {
	if err := row.Click(); err != nil {
		return nil, errors.Wrap(err, "open conversation")
	}
	h.Wait(ctx, p.cfg.ChatRenderWait)

	rows, err := h.Elements(p.cfg.MessageRowSelector)
	if err != nil {
		return nil, errors.Wrap(err, "message rows query failed")
	}
	// Most recent messages render last.
	start := 0
	if len(rows) > p.cfg.MaxMessagesPerChat {
		start = len(rows) - p.cfg.MaxMessagesPerChat
	}
	var out []domain.Message
	for i := start; i < len(rows); i++ {
		text, err := rows[i].Text()
		if err != nil || text == "" {
			if err != nil {
				zap.L().Debug("importer: message row skipped", zap.Int("row", i), zap.Error(err))
			}
			continue
		}
		ts, _ := rows[i].Attribute("data-pre-plain-text")
		out = append(out, domain.Message{
			ContactName: contactName,
			Text:        text,
			Timestamp:   ts,
		})
	}
	return out, nil
}
