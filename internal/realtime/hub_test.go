package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/paperplanet/paperplanet-backend/internal/domain"
	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
)

type memStore struct {
	mu   sync.Mutex
	msgs []*domain.ChatMessage
}

func (s *memStore) Append(_ context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *msg
	cp.CreatedAt = time.Now()
	s.msgs = append(s.msgs, &cp)
	return &cp, nil
}

func (s *memStore) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = m.Text
	}
	return out
}

type stubAnswerer struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  int
	lastQ  string
}

func (a *stubAnswerer) Answer(_ context.Context, _ uuid.UUID, question string, _ int) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.lastQ = question
	return a.answer, a.err
}

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func recvEvent(t *testing.T, ch <-chan Event, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for room event")
	}
	return Event{}
}

func TestRoomBroadcastMatchesPersistOrder(t *testing.T) {
	store := &memStore{}
	hub := NewHub(mustTestLogger(t), store, &stubAnswerer{})
	defer hub.Close()

	room := hub.Room(uuid.New())
	client := room.Join(uuid.New())
	defer room.Leave(client)

	sender := uuid.New()
	for i := 0; i < 5; i++ {
		if err := room.Post(context.Background(), sender, fmt.Sprintf("message %d", i)); err != nil {
			t.Fatalf("Post %d: %v", i, err)
		}
	}

	var got []string
	for i := 0; i < 5; i++ {
		ev := recvEvent(t, client.Outbound, time.Second)
		if ev.Type != EventMessage || ev.Message == nil {
			t.Fatalf("event %d: %+v", i, ev)
		}
		got = append(got, ev.Message.Text)
	}
	persisted := store.texts()
	if len(persisted) != 5 {
		t.Fatalf("persisted %d messages, want 5", len(persisted))
	}
	for i := range got {
		if got[i] != persisted[i] {
			t.Fatalf("broadcast order diverges from persist order at %d: %q vs %q", i, got[i], persisted[i])
		}
	}
}

func TestRoomConcurrentSendersSeeOneOrder(t *testing.T) {
	store := &memStore{}
	hub := NewHub(mustTestLogger(t), store, &stubAnswerer{})
	defer hub.Close()

	room := hub.Room(uuid.New())
	a := room.Join(uuid.New())
	b := room.Join(uuid.New())
	defer room.Leave(a)
	defer room.Leave(b)

	const senders = 4
	const perSender = 5
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			sender := uuid.New()
			for i := 0; i < perSender; i++ {
				_ = room.Post(context.Background(), sender, fmt.Sprintf("s%d-%d", s, i))
			}
		}(s)
	}
	wg.Wait()

	total := senders * perSender
	var orderA, orderB []string
	for i := 0; i < total; i++ {
		orderA = append(orderA, recvEvent(t, a.Outbound, time.Second).Message.Text)
		orderB = append(orderB, recvEvent(t, b.Outbound, time.Second).Message.Text)
	}
	for i := range orderA {
		if orderA[i] != orderB[i] {
			t.Fatalf("members disagree on order at %d: %q vs %q", i, orderA[i], orderB[i])
		}
	}
}

func TestRoomBotAnswerFlow(t *testing.T) {
	store := &memStore{}
	answerer := &stubAnswerer{answer: "The gradient updates the weights."}
	hub := NewHub(mustTestLogger(t), store, answerer)
	defer hub.Close()

	documentID := uuid.New()
	room := hub.Room(documentID)
	client := room.Join(uuid.New())
	defer room.Leave(client)

	if err := room.Post(context.Background(), uuid.New(), "@bot how does backprop work?"); err != nil {
		t.Fatalf("Post: %v", err)
	}

	userEv := recvEvent(t, client.Outbound, time.Second)
	if userEv.Type != EventMessage || userEv.Message.IsAI {
		t.Fatalf("first event should be the human message: %+v", userEv)
	}
	notice := recvEvent(t, client.Outbound, time.Second)
	if notice.Type != EventNotice || notice.Text != botThinkingText {
		t.Fatalf("expected thinking notice, got %+v", notice)
	}
	botEv := recvEvent(t, client.Outbound, 2*time.Second)
	if botEv.Type != EventMessage || !botEv.Message.IsAI {
		t.Fatalf("expected bot message, got %+v", botEv)
	}
	if botEv.Message.SenderID != nil {
		t.Fatalf("bot message should have nil sender")
	}
	if botEv.Message.Text != answerer.answer {
		t.Fatalf("bot text = %q", botEv.Message.Text)
	}
	if answerer.lastQ != "how does backprop work?" {
		t.Fatalf("question = %q", answerer.lastQ)
	}

	persisted := store.texts()
	if len(persisted) != 2 {
		t.Fatalf("persisted %d messages, want human plus bot", len(persisted))
	}
}

func TestRoomBotFailureFallsBack(t *testing.T) {
	store := &memStore{}
	answerer := &stubAnswerer{err: errors.New("model unavailable")}
	hub := NewHub(mustTestLogger(t), store, answerer)
	defer hub.Close()

	room := hub.Room(uuid.New())
	client := room.Join(uuid.New())
	defer room.Leave(client)

	if err := room.Post(context.Background(), uuid.New(), "hey @BOT are you there"); err != nil {
		t.Fatalf("Post: %v", err)
	}

	recvEvent(t, client.Outbound, time.Second) // human message
	recvEvent(t, client.Outbound, time.Second) // notice
	botEv := recvEvent(t, client.Outbound, 2*time.Second)
	if botEv.Message == nil || botEv.Message.Text != botErrorText {
		t.Fatalf("expected fallback text, got %+v", botEv)
	}
	// The fallback still lands in the transcript.
	if persisted := store.texts(); len(persisted) != 2 || persisted[1] != botErrorText {
		t.Fatalf("persisted = %v", persisted)
	}
}

func TestRoomPlainMessageNeverCallsBot(t *testing.T) {
	answerer := &stubAnswerer{answer: "unused"}
	hub := NewHub(mustTestLogger(t), &memStore{}, answerer)
	defer hub.Close()

	room := hub.Room(uuid.New())
	client := room.Join(uuid.New())
	defer room.Leave(client)

	if err := room.Post(context.Background(), uuid.New(), "just chatting about robots"); err != nil {
		t.Fatalf("Post: %v", err)
	}
	recvEvent(t, client.Outbound, time.Second)

	select {
	case ev := <-client.Outbound:
		t.Fatalf("unexpected extra event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
	if answerer.calls != 0 {
		t.Fatalf("answerer calls = %d, want 0", answerer.calls)
	}
}

func TestRoomLastLeaveTearsDown(t *testing.T) {
	hub := NewHub(mustTestLogger(t), &memStore{}, &stubAnswerer{})
	defer hub.Close()

	documentID := uuid.New()
	room := hub.Room(documentID)
	client := room.Join(uuid.New())
	room.Leave(client)

	hub.mu.Lock()
	_, registered := hub.rooms[documentID]
	hub.mu.Unlock()
	if registered {
		t.Fatal("empty room still registered in the hub after the last leave")
	}
	select {
	case <-room.done:
	default:
		t.Fatal("room sequencer still running after the last leave")
	}

	// A fresh join gets a fresh, working room.
	room2 := hub.Room(documentID)
	client2 := room2.Join(uuid.New())
	defer room2.Leave(client2)
	if err := room2.Post(context.Background(), uuid.New(), "back again"); err != nil {
		t.Fatalf("Post after rejoin: %v", err)
	}
	recvEvent(t, client2.Outbound, time.Second)
}

func TestRoomPostSurvivesTeardownRace(t *testing.T) {
	store := &memStore{}
	hub := NewHub(mustTestLogger(t), store, &stubAnswerer{})
	defer hub.Close()

	documentID := uuid.New()
	room := hub.Room(documentID)
	client := room.Join(uuid.New())
	room.Leave(client)

	// Posting through the stale room handle lands in a live room.
	if err := room.Post(context.Background(), uuid.New(), "late message"); err != nil {
		t.Fatalf("Post on torn-down room: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for len(store.texts()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("message never persisted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastDisconnectsSlowClient(t *testing.T) {
	store := &memStore{}
	hub := NewHub(mustTestLogger(t), store, &stubAnswerer{})
	defer hub.Close()

	room := hub.Room(uuid.New())
	slow := room.Join(uuid.New())
	fast := room.Join(uuid.New())
	defer room.Leave(fast)

	// The fast reader drains as events arrive; the slow one never reads.
	received := make(chan string, 2*outboundSize)
	go func() {
		for ev := range fast.Outbound {
			received <- ev.Message.Text
		}
	}()

	sender := uuid.New()
	total := outboundSize + 1
	for i := 0; i < total; i++ {
		if err := room.Post(context.Background(), sender, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("Post %d: %v", i, err)
		}
	}

	// No event is lost to the slow peer.
	for i := 0; i < total; i++ {
		select {
		case text := <-received:
			if text != fmt.Sprintf("m%d", i) {
				t.Fatalf("event %d: %q", i, text)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	// The slow client never read; once its buffer filled it was removed
	// from the room and its channels closed.
	select {
	case <-slow.done:
	case <-time.After(time.Second):
		t.Fatal("slow client was not disconnected")
	}
	if n := room.Members(); n != 1 {
		t.Fatalf("members = %d, want 1", n)
	}
}

func TestBotQuestionParsing(t *testing.T) {
	cases := []struct {
		in    string
		wantQ string
		ok    bool
	}{
		{"@bot what is attention?", "what is attention?", true},
		{"what is attention? @bot", "what is attention?", true},
		{"@Bot", "", false},
		{"no trigger here", "", false},
	}
	for _, tc := range cases {
		q, ok := botQuestion(tc.in)
		if ok != tc.ok || q != tc.wantQ {
			t.Fatalf("botQuestion(%q) = %q,%v want %q,%v", tc.in, q, ok, tc.wantQ, tc.ok)
		}
	}
}

func TestBroadcastLocalSkipsPersistence(t *testing.T) {
	store := &memStore{}
	hub := NewHub(mustTestLogger(t), store, &stubAnswerer{})
	defer hub.Close()

	documentID := uuid.New()
	room := hub.Room(documentID)
	client := room.Join(uuid.New())
	defer room.Leave(client)

	msg := &domain.ChatMessage{ID: uuid.New(), DocumentID: documentID, Text: "relayed from another node"}
	hub.BroadcastLocal(Event{Type: EventMessage, DocumentID: documentID, Message: msg})

	ev := recvEvent(t, client.Outbound, time.Second)
	if !strings.Contains(ev.Message.Text, "relayed") {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if len(store.texts()) != 0 {
		t.Fatal("relayed events must not be persisted again")
	}
}
