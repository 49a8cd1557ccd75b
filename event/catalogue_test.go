package event_test

import (
	"errors"
	"testing"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/codec"
	"github.com/surehelp/flume/event"
)

type messageCreated struct {
	MessageID int `json:"message_id"`
}

type crawlRequested struct {
	WebsiteID int `json:"website_id"`
	CrawlID   int `json:"crawl_id"`
}

func setupCatalogue(t *testing.T) *event.Catalogue {
	t.Helper()
	cat := event.NewCatalogue()
	event.RegisterDefinition(cat, event.NewDefinition[messageCreated](
		"conversation.message.created",
		"indexConversationMessage", "notifyVipMessage",
	))
	event.RegisterDefinition(cat, event.NewDefinition[crawlRequested](
		"website.crawl.created",
		"crawlWebsite",
	).WithValidate(func(p crawlRequested) error {
		if p.WebsiteID <= 0 {
			return errors.New("website_id must be positive")
		}
		return nil
	}))
	return cat
}

func TestCatalogue_Jobs(t *testing.T) {
	cat := setupCatalogue(t)

	jobs, ok := cat.Jobs("conversation.message.created")
	if !ok {
		t.Fatal("expected event to be registered")
	}
	want := []string{"indexConversationMessage", "notifyVipMessage"}
	if len(jobs) != len(want) {
		t.Fatalf("jobs = %v, want %v", jobs, want)
	}
	for i := range want {
		if jobs[i] != want[i] {
			t.Errorf("jobs[%d] = %q, want %q (order must be preserved)", i, jobs[i], want[i])
		}
	}

	if _, ok := cat.Jobs("no.such.event"); ok {
		t.Error("expected unregistered event to report !ok")
	}
}

func TestCatalogue_EncodeUnknownEvent(t *testing.T) {
	cat := setupCatalogue(t)

	_, err := cat.Encode("no.such.event", codec.JSON{}, messageCreated{MessageID: 1})
	if !errors.Is(err, flume.ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestCatalogue_EncodeTypedPayload(t *testing.T) {
	cat := setupCatalogue(t)

	raw, err := cat.Encode("conversation.message.created", codec.JSON{}, messageCreated{MessageID: 42})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := cat.Decode("conversation.message.created", codec.JSON{}, raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	p, ok := decoded.(messageCreated)
	if !ok {
		t.Fatalf("decoded payload has type %T", decoded)
	}
	if p.MessageID != 42 {
		t.Errorf("MessageID = %d, want 42", p.MessageID)
	}
}

func TestCatalogue_EncodeLooselyTypedPayload(t *testing.T) {
	cat := setupCatalogue(t)

	// Replay tooling passes maps, not schema structs; the round-trip path
	// must still enforce the schema.
	raw, err := cat.Encode("conversation.message.created", codec.JSON{},
		map[string]any{"message_id": 7})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := cat.Decode("conversation.message.created", codec.JSON{}, raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.(messageCreated).MessageID != 7 {
		t.Errorf("MessageID = %d, want 7", decoded.(messageCreated).MessageID)
	}

	_, err = cat.Encode("conversation.message.created", codec.JSON{},
		map[string]any{"message_id": 7, "bogus": true})
	var se *event.SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError for unknown field, got %v", err)
	}
}

func TestCatalogue_ValidateHook(t *testing.T) {
	cat := setupCatalogue(t)

	_, err := cat.Encode("website.crawl.created", codec.JSON{}, crawlRequested{WebsiteID: 0, CrawlID: 1})
	var se *event.SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError from Validate hook, got %v", err)
	}

	if _, err := cat.Encode("website.crawl.created", codec.JSON{}, crawlRequested{WebsiteID: 3, CrawlID: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCatalogue_ValidateRaw(t *testing.T) {
	cat := setupCatalogue(t)

	if err := cat.Validate("conversation.message.created", codec.JSON{}, []byte(`{"message_id":1}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := cat.Validate("conversation.message.created", codec.JSON{}, []byte(`{"nope":true}`))
	var se *event.SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}

func TestCatalogue_CheckJobs(t *testing.T) {
	cat := setupCatalogue(t)

	all := map[string]bool{
		"indexConversationMessage": true,
		"notifyVipMessage":         true,
		"crawlWebsite":             true,
	}
	if err := cat.CheckJobs(func(j string) bool { return all[j] }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := cat.CheckJobs(func(j string) bool { return j != "notifyVipMessage" })
	if !errors.Is(err, flume.ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}
