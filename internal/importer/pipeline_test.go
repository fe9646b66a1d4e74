package importer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/walinkd/internal/driver"
	"github.com/talkincode/walinkd/internal/driver/drivertest"
)

func testConfig() Config {
	return Config{
		SettleDelay:        time.Millisecond,
		ChatRenderWait:     time.Millisecond,
		MaxContacts:        50,
		MaxChats:           5,
		MaxMessagesPerChat: 20,
	}
}

const (
	rowSel     = "div[data-testid='cell-frame-container']"
	nameSel    = "div[data-testid='cell-frame-container'] span[title]"
	previewSel = "div[data-testid='cell-frame-container'] span[data-testid='last-msg-status']"
	msgSel     = "div[data-testid='msg-container']"
)

func scriptedPage(rows, names, previews, messages []driver.Element) *drivertest.Handle {
	h := &drivertest.Handle{}
	h.ElementsFn = func(selector string, call int) ([]driver.Element, error) {
		switch selector {
		case rowSel:
			return rows, nil
		case nameSel:
			return names, nil
		case previewSel:
			return previews, nil
		case msgSel:
			return messages, nil
		}
		return nil, nil
	}
	return h
}

func TestRunExtractsContactsAndMessages(t *testing.T) {
	rows := []driver.Element{&drivertest.Element{}, &drivertest.Element{}}
	names := []driver.Element{
		&drivertest.Element{TextVal: "Alice"},
		&drivertest.Element{TextVal: "Bob"},
	}
	previews := []driver.Element{
		&drivertest.Element{TextVal: "see you"},
		&drivertest.Element{TextVal: "ok"},
	}
	messages := []driver.Element{
		&drivertest.Element{TextVal: "hello", Attrs: map[string]string{"data-pre-plain-text": "[10:00, 8/29/2026]"}},
		&drivertest.Element{TextVal: "hi there"},
	}
	h := scriptedPage(rows, names, previews, messages)

	var milestones []int
	payload, err := New(testConfig()).Run(context.Background(), h, func(p int) {
		milestones = append(milestones, p)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(payload.Contacts) != 2 {
		t.Fatalf("contacts = %d, want 2", len(payload.Contacts))
	}
	if payload.Contacts[0].Name != "Alice" || payload.Contacts[0].LastMessage != "see you" {
		t.Errorf("unexpected first contact: %+v", payload.Contacts[0])
	}
	if payload.Contacts[0].ID == "" || payload.Contacts[0].ID == payload.Contacts[1].ID {
		t.Error("contacts should carry distinct generated ids")
	}
	// Both chats reuse the same scripted message rows.
	if len(payload.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(payload.Messages))
	}
	if payload.Messages[0].ContactName != "Alice" || payload.Messages[0].Timestamp == "" {
		t.Errorf("unexpected first message: %+v", payload.Messages[0])
	}
	if payload.TotalChats != 2 || payload.Summary.TotalContacts != 2 || payload.Summary.TotalMessages != 4 {
		t.Errorf("unexpected summary: chats=%d %+v", payload.TotalChats, payload.Summary)
	}
	if payload.Summary.Source != "whatsapp_web_scrape" {
		t.Errorf("source = %q", payload.Summary.Source)
	}

	want := []int{0, 40, 100}
	if len(milestones) != len(want) {
		t.Fatalf("milestones = %v, want %v", milestones, want)
	}
	for i := range want {
		if milestones[i] != want[i] {
			t.Fatalf("milestones = %v, want %v", milestones, want)
		}
	}
}

func TestRunFailsWhenContactRowsUnreachable(t *testing.T) {
	h := &drivertest.Handle{}
	h.ElementsFn = func(selector string, call int) ([]driver.Element, error) {
		if selector == rowSel {
			return nil, errors.New("page detached")
		}
		return nil, nil
	}
	if _, err := New(testConfig()).Run(context.Background(), h, nil); err == nil {
		t.Fatal("expected pipeline-level error when the contact list is unreachable")
	}
}

func TestRunSkipsBrokenRows(t *testing.T) {
	rows := []driver.Element{&drivertest.Element{}, &drivertest.Element{}, &drivertest.Element{}}
	names := []driver.Element{
		&drivertest.Element{TextVal: "Alice"},
		&drivertest.Element{TextErr: errors.New("stale node")},
		&drivertest.Element{TextVal: ""},
	}
	h := scriptedPage(rows, names, nil, nil)

	payload, err := New(testConfig()).Run(context.Background(), h, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(payload.Contacts) != 1 || payload.Contacts[0].Name != "Alice" {
		t.Fatalf("expected only the readable contact, got %+v", payload.Contacts)
	}
}

func TestRunContinuesPastChatClickFailure(t *testing.T) {
	rows := []driver.Element{
		&drivertest.Element{ClickErr: errors.New("element obscured")},
		&drivertest.Element{},
	}
	names := []driver.Element{
		&drivertest.Element{TextVal: "Alice"},
		&drivertest.Element{TextVal: "Bob"},
	}
	messages := []driver.Element{&drivertest.Element{TextVal: "only chat"}}
	h := scriptedPage(rows, names, nil, messages)

	payload, err := New(testConfig()).Run(context.Background(), h, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(payload.Messages) != 1 || payload.Messages[0].ContactName != "Bob" {
		t.Fatalf("expected messages from the second chat only, got %+v", payload.Messages)
	}
}

func TestRunHonorsBounds(t *testing.T) {
	var rows, names []driver.Element
	for i := 0; i < 60; i++ {
		rows = append(rows, &drivertest.Element{})
		names = append(names, &drivertest.Element{TextVal: fmt.Sprintf("contact-%d", i)})
	}
	var messages []driver.Element
	for i := 0; i < 30; i++ {
		messages = append(messages, &drivertest.Element{TextVal: fmt.Sprintf("msg-%d", i)})
	}
	h := scriptedPage(rows, names, nil, messages)

	cfg := testConfig()
	cfg.MaxContacts = 10
	cfg.MaxChats = 2
	cfg.MaxMessagesPerChat = 5
	payload, err := New(cfg).Run(context.Background(), h, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(payload.Contacts) != 10 {
		t.Errorf("contacts = %d, want 10", len(payload.Contacts))
	}
	if len(payload.Messages) != 10 {
		t.Errorf("messages = %d, want 2 chats x 5", len(payload.Messages))
	}
	// Most recent messages come from the tail of the rendered list.
	if payload.Messages[0].Text != "msg-25" || payload.Messages[4].Text != "msg-29" {
		t.Errorf("expected tail messages, got first=%q last=%q",
			payload.Messages[0].Text, payload.Messages[4].Text)
	}
	if payload.TotalChats != 60 {
		t.Errorf("TotalChats = %d, want 60", payload.TotalChats)
	}
}
