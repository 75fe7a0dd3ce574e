package dispatch

import (
	"context"
	"fmt"
	"testing"

	"github.com/leadpipe/leadpipe/internal/conversation"
	"github.com/leadpipe/leadpipe/internal/identity"
	"github.com/leadpipe/leadpipe/internal/lead"
	"github.com/leadpipe/leadpipe/internal/models"
	"github.com/leadpipe/leadpipe/internal/reply"
	"github.com/leadpipe/leadpipe/internal/store"
)

// fakeGenerator records generation requests and returns a fixed reply.
type fakeGenerator struct {
	calls []reply.Request
	out   string
}

func (g *fakeGenerator) Generate(ctx context.Context, req reply.Request) string {
	g.calls = append(g.calls, req)
	return g.out
}

// panicGenerator panics on every call.
type panicGenerator struct{}

func (g *panicGenerator) Generate(ctx context.Context, req reply.Request) string {
	panic("generator exploded")
}

func newTestDispatcher(st store.Store, gen Generator) *Dispatcher {
	return NewDispatcher(
		identity.NewResolver(st),
		conversation.NewLog(st),
		lead.NewCapture(st),
		gen,
	)
}

func event(text string) models.InboundEvent {
	return models.InboundEvent{
		EventID:    "ev-1",
		ChatID:     100,
		ExternalID: 42,
		Username:   "alice",
		Text:       text,
	}
}

func TestHandle_StartCommand(t *testing.T) {
	st := store.NewInMemoryStore()
	gen := &fakeGenerator{out: "generated"}
	d := newTestDispatcher(st, gen)

	got := d.Handle(context.Background(), event("/start"))
	if got != GreetingReply {
		t.Errorf("expected greeting, got %q", got)
	}

	users, _ := st.ListUsers(context.Background())
	if len(users) != 1 || users[0].ExternalID != 42 {
		t.Fatalf("expected user created on start, got %+v", users)
	}
	if len(gen.calls) != 0 {
		t.Errorf("start must not invoke the generator")
	}
	messages, _ := st.RecentMessages(context.Background(), users[0].ID, 10, 0)
	if len(messages) != 0 {
		t.Errorf("command input must not be logged, got %d messages", len(messages))
	}
}

func TestHandle_StartCommandWithMention(t *testing.T) {
	st := store.NewInMemoryStore()
	d := newTestDispatcher(st, &fakeGenerator{})

	if got := d.Handle(context.Background(), event("/start@alina_bot")); got != GreetingReply {
		t.Errorf("expected greeting for mention-suffixed command, got %q", got)
	}
}

func TestHandle_FreeTextGoesThroughPipeline(t *testing.T) {
	st := store.NewInMemoryStore()
	gen := &fakeGenerator{out: "ответ модели"}
	d := newTestDispatcher(st, gen)
	ctx := context.Background()

	got := d.Handle(ctx, event("расскажи про тарифы"))
	if got != "ответ модели" {
		t.Errorf("expected generator reply, got %q", got)
	}
	if len(gen.calls) != 1 {
		t.Fatalf("expected 1 generator call, got %d", len(gen.calls))
	}
	if gen.calls[0].Text != "расскажи про тарифы" {
		t.Errorf("unexpected request text %q", gen.calls[0].Text)
	}
	if len(gen.calls[0].History) != 0 {
		t.Errorf("first message must see an empty window, got %d entries", len(gen.calls[0].History))
	}

	users, _ := st.ListUsers(ctx)
	messages, _ := st.RecentMessages(ctx, users[0].ID, 10, 0)
	if len(messages) != 1 || messages[0].Text != "расскажи про тарифы" {
		t.Fatalf("expected the inbound text logged, got %+v", messages)
	}
}

func TestHandle_HistoryExcludesCurrentMessage(t *testing.T) {
	st := store.NewInMemoryStore()
	gen := &fakeGenerator{out: "ok"}
	d := newTestDispatcher(st, gen)
	ctx := context.Background()

	d.Handle(ctx, event("первое сообщение"))
	d.Handle(ctx, event("второе сообщение"))

	if len(gen.calls) != 2 {
		t.Fatalf("expected 2 generator calls, got %d", len(gen.calls))
	}
	second := gen.calls[1]
	if len(second.History) != 1 || second.History[0].Text != "первое сообщение" {
		t.Fatalf("expected history of exactly the prior turn, got %+v", second.History)
	}
}

func TestHandle_AffirmativeShortCircuits(t *testing.T) {
	st := store.NewInMemoryStore()
	gen := &fakeGenerator{out: "should not appear"}
	d := newTestDispatcher(st, gen)
	ctx := context.Background()

	got := d.Handle(ctx, event("да"))
	if got != HandoffConfirmedReply {
		t.Errorf("expected handoff confirmation, got %q", got)
	}
	if len(gen.calls) != 0 {
		t.Errorf("affirmative input must not invoke the generator")
	}

	// The affirmative itself is still logged.
	users, _ := st.ListUsers(ctx)
	messages, _ := st.RecentMessages(ctx, users[0].ID, 10, 0)
	if len(messages) != 1 || messages[0].Text != "да" {
		t.Fatalf("expected the affirmative logged, got %+v", messages)
	}
}

func TestHandle_LeadCommand(t *testing.T) {
	st := store.NewInMemoryStore()
	d := newTestDispatcher(st, &fakeGenerator{})
	ctx := context.Background()

	got := d.Handle(ctx, event("/lead alice@example.com перезвоните"))
	if got != lead.ConfirmationReply {
		t.Errorf("expected confirmation, got %q", got)
	}

	leads, _ := st.ListLeads(ctx)
	if len(leads) != 1 {
		t.Fatalf("expected 1 lead, got %d", len(leads))
	}
	if leads[0].Contact != "alice@example.com" || leads[0].Note != "перезвоните" {
		t.Errorf("unexpected lead %+v", leads[0])
	}
}

func TestHandle_LeadCommandWithoutPayload(t *testing.T) {
	st := store.NewInMemoryStore()
	d := newTestDispatcher(st, &fakeGenerator{})
	ctx := context.Background()

	got := d.Handle(ctx, event("/lead"))
	if got != lead.UsageReply {
		t.Errorf("expected usage hint, got %q", got)
	}
	leads, _ := st.ListLeads(ctx)
	if len(leads) != 0 {
		t.Errorf("expected no leads persisted, got %d", len(leads))
	}
}

func TestHandle_EmptyTextIsNoOp(t *testing.T) {
	st := store.NewInMemoryStore()
	gen := &fakeGenerator{}
	d := newTestDispatcher(st, gen)

	if got := d.Handle(context.Background(), event("")); got != "" {
		t.Errorf("expected empty reply for empty text, got %q", got)
	}
	users, _ := st.ListUsers(context.Background())
	if len(users) != 0 {
		t.Errorf("empty events must not create users")
	}
}

// brokenStore fails everything with ErrUnavailable.
type brokenStore struct {
	store.Store
}

func (s *brokenStore) FindUserByExternalID(ctx context.Context, externalID int64) (*models.User, error) {
	return nil, fmt.Errorf("lookup: %w", store.ErrUnavailable)
}

func TestHandle_StorageFailureYieldsTechnicalError(t *testing.T) {
	d := newTestDispatcher(&brokenStore{}, &fakeGenerator{})

	if got := d.Handle(context.Background(), event("привет")); got != TechnicalErrorReply {
		t.Errorf("expected technical error reply, got %q", got)
	}
	if got := d.Handle(context.Background(), event("/start")); got != TechnicalErrorReply {
		t.Errorf("expected technical error reply for start, got %q", got)
	}
	if got := d.Handle(context.Background(), event("/lead alice@example.com")); got != TechnicalErrorReply {
		t.Errorf("expected technical error reply for lead, got %q", got)
	}
}

func TestHandle_RecoversFromPanic(t *testing.T) {
	st := store.NewInMemoryStore()
	d := newTestDispatcher(st, &panicGenerator{})

	if got := d.Handle(context.Background(), event("привет")); got != TechnicalErrorReply {
		t.Errorf("expected technical error reply after panic, got %q", got)
	}
}

func TestClassifyEvent(t *testing.T) {
	cases := []struct {
		text    string
		kind    models.EventKind
		payload string
	}{
		{"", models.EventKindNone, ""},
		{"   ", models.EventKindNone, ""},
		{"/start", models.EventKindStart, ""},
		{"/start@alina_bot", models.EventKindStart, ""},
		{"/lead +7 900 1234567", models.EventKindLead, "+7 900 1234567"},
		{"/lead", models.EventKindLead, ""},
		{"/unknown", models.EventKindText, ""},
		{"обычный текст", models.EventKindText, ""},
	}
	for _, tc := range cases {
		kind, payload := classifyEvent(tc.text)
		if kind != tc.kind || payload != tc.payload {
			t.Errorf("classifyEvent(%q) = (%v, %q), want (%v, %q)", tc.text, kind, payload, tc.kind, tc.payload)
		}
	}
}
