package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paperplanet/paperplanet-backend/internal/domain"
	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
)

const (
	botTrigger   = "@bot"
	botTopK      = 3
	botTimeout   = 30 * time.Second
	persistWait  = 10 * time.Second
	outboundSize = 32

	botThinkingText = "Thinking..."
	botErrorText    = "Sorry, I ran into a problem answering that. Please try again."
)

// MessageStore persists room transcript lines.
type MessageStore interface {
	Append(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error)
}

// Answerer produces a grounded answer for a question about one document.
type Answerer interface {
	Answer(ctx context.Context, documentID uuid.UUID, question string, k int) (string, error)
}

type Client struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Outbound chan Event
	done     chan struct{}
}

type post struct {
	senderID uuid.UUID
	text     string
}

// Room serializes one document's chat. A single sequencer goroutine owns
// persistence and broadcast, so all members observe the same order and a
// message is never broadcast before it is stored. A room lives only while
// it has members: the last leave removes it from the hub and stops the
// sequencer.
type Room struct {
	documentID uuid.UUID
	hub        *Hub

	mu      sync.RWMutex
	clients map[*Client]bool
	order   []*Client
	closed  bool

	posts chan post
	done  chan struct{}
}

// Hub owns all live rooms in this process. Cross-instance fan-out goes
// through the publish hook; relayed events enter via BroadcastLocal.
type Hub struct {
	log      *logger.Logger
	store    MessageStore
	answerer Answerer

	mu      sync.Mutex
	rooms   map[uuid.UUID]*Room
	publish func(Event)
}

func NewHub(log *logger.Logger, store MessageStore, answerer Answerer) *Hub {
	return &Hub{
		log:      log.With("component", "RoomHub"),
		store:    store,
		answerer: answerer,
		rooms:    make(map[uuid.UUID]*Room),
	}
}

// SetPublisher installs the cross-instance relay hook. Must be set before
// the first room is created.
func (h *Hub) SetPublisher(publish func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publish = publish
}

// Room returns the live room for a document, creating it on first use.
func (h *Hub) Room(documentID uuid.UUID) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[documentID]; ok {
		return r
	}
	return h.newRoomLocked(documentID)
}

// BroadcastLocal delivers a relayed event to local members only. Nothing
// is persisted; the originating instance already did that.
func (h *Hub) BroadcastLocal(ev Event) {
	h.mu.Lock()
	r, ok := h.rooms[ev.DocumentID]
	h.mu.Unlock()
	if !ok {
		return
	}
	r.broadcast(ev)
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, r := range h.rooms {
		r.mu.Lock()
		r.closed = true
		for c := range r.clients {
			close(c.done)
			close(c.Outbound)
		}
		r.clients = make(map[*Client]bool)
		r.order = nil
		r.mu.Unlock()
		close(r.done)
		delete(h.rooms, id)
	}
}

// join and leave serialize membership on the hub lock so a join can never
// land on a room that a concurrent last-leave is tearing down.
func (h *Hub) join(documentID uuid.UUID, userID uuid.UUID) *Client {
	c := &Client{
		ID:       uuid.New(),
		UserID:   userID,
		Outbound: make(chan Event, outboundSize),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	r, ok := h.rooms[documentID]
	if !ok {
		r = h.newRoomLocked(documentID)
	}
	r.mu.Lock()
	r.clients[c] = true
	r.order = append(r.order, c)
	n := len(r.clients)
	r.mu.Unlock()
	h.mu.Unlock()
	h.log.Debug("Client joined room", "document_id", documentID.String(), "members", n)
	return c
}

func (h *Hub) leave(documentID uuid.UUID, c *Client) {
	h.mu.Lock()
	r, ok := h.rooms[documentID]
	if !ok {
		h.mu.Unlock()
		return
	}
	r.mu.Lock()
	if _, member := r.clients[c]; !member {
		r.mu.Unlock()
		h.mu.Unlock()
		return
	}
	delete(r.clients, c)
	for i, oc := range r.order {
		if oc == c {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	empty := len(r.clients) == 0
	if empty {
		r.closed = true
	}
	r.mu.Unlock()
	if empty {
		delete(h.rooms, documentID)
		close(r.done)
	}
	h.mu.Unlock()
	close(c.done)
	close(c.Outbound)
	if empty {
		h.log.Debug("Room torn down", "document_id", documentID.String())
	}
}

// reapIfEmpty tears down a room with no members and no queued posts.
// Rooms created by a bare post would otherwise outlive their use.
func (h *Hub) reapIfEmpty(r *Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[r.documentID] != r {
		return
	}
	r.mu.Lock()
	idle := len(r.clients) == 0 && len(r.posts) == 0
	if idle {
		r.closed = true
	}
	r.mu.Unlock()
	if idle {
		delete(h.rooms, r.documentID)
		close(r.done)
	}
}

func (h *Hub) newRoomLocked(documentID uuid.UUID) *Room {
	r := &Room{
		documentID: documentID,
		hub:        h,
		clients:    make(map[*Client]bool),
		posts:      make(chan post, 64),
		done:       make(chan struct{}),
	}
	h.rooms[documentID] = r
	go r.run()
	return r
}

func (r *Room) Join(userID uuid.UUID) *Client {
	return r.hub.join(r.documentID, userID)
}

func (r *Room) Leave(c *Client) {
	r.hub.leave(r.documentID, c)
}

func (r *Room) Members() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Post hands a message to the room sequencer. It returns once the message
// is accepted for ordering, not once it is persisted.
func (r *Room) Post(ctx context.Context, senderID uuid.UUID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty message")
	}
	// Enqueue under the read lock: teardown flips closed under the write
	// lock, so a message accepted here is always seen by the sequencer's
	// shutdown drain.
	r.mu.RLock()
	closed := r.closed
	if !closed {
		select {
		case r.posts <- post{senderID: senderID, text: text}:
			r.mu.RUnlock()
			return nil
		default:
		}
	}
	r.mu.RUnlock()
	if closed {
		// The last member left between the hub lookup and this post.
		// Re-resolve so the message lands in the live room.
		if live := r.hub.Room(r.documentID); live != r {
			return live.Post(ctx, senderID, text)
		}
		return fmt.Errorf("room closed")
	}
	select {
	case r.posts <- post{senderID: senderID, text: text}:
		return nil
	case <-r.done:
		if live := r.hub.Room(r.documentID); live != r {
			return live.Post(ctx, senderID, text)
		}
		return fmt.Errorf("room closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) run() {
	for {
		select {
		case <-r.done:
			// Handle anything accepted before teardown flipped closed.
			for {
				select {
				case p := <-r.posts:
					r.handlePost(p)
				default:
					return
				}
			}
		case p := <-r.posts:
			r.handlePost(p)
			if r.Members() == 0 {
				r.hub.reapIfEmpty(r)
			}
		}
	}
}

func (r *Room) handlePost(p post) {
	log := r.hub.log.With("document_id", r.documentID.String())

	senderID := p.senderID
	msg, err := r.persist(&domain.ChatMessage{
		ID:         uuid.New(),
		DocumentID: r.documentID,
		SenderID:   &senderID,
		Text:       p.text,
	})
	if err != nil {
		log.Error("Failed to persist chat message", "error", err)
		return
	}
	r.emit(Event{Type: EventMessage, DocumentID: r.documentID, Message: msg})

	question, ok := botQuestion(p.text)
	if !ok {
		return
	}

	r.emit(Event{Type: EventNotice, DocumentID: r.documentID, Text: botThinkingText})

	ctx, cancel := context.WithTimeout(context.Background(), botTimeout)
	answer, err := r.hub.answerer.Answer(ctx, r.documentID, question, botTopK)
	cancel()
	if err != nil {
		log.Warn("Bot answer failed", "error", err)
		answer = botErrorText
	}

	aiMsg, err := r.persist(&domain.ChatMessage{
		ID:         uuid.New(),
		DocumentID: r.documentID,
		Text:       answer,
		IsAI:       true,
	})
	if err != nil {
		log.Error("Failed to persist bot message", "error", err)
		return
	}
	r.emit(Event{Type: EventMessage, DocumentID: r.documentID, Message: aiMsg})
}

func (r *Room) persist(msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistWait)
	defer cancel()
	return r.hub.store.Append(ctx, msg)
}

// emit broadcasts locally and relays to other instances.
func (r *Room) emit(ev Event) {
	r.broadcast(ev)
	if r.hub.publish != nil {
		r.hub.publish(ev)
	}
}

// broadcast delivers to members in join order. A member whose buffer is
// full is disconnected rather than silently skipping events; the client
// reconnects and catches up from the transcript.
func (r *Room) broadcast(ev Event) {
	r.mu.RLock()
	var slow []*Client
	for _, c := range r.order {
		select {
		case c.Outbound <- ev:
		default:
			slow = append(slow, c)
		}
	}
	r.mu.RUnlock()
	for _, c := range slow {
		r.hub.log.Warn("Disconnecting slow room client; outbound buffer full",
			"client_id", c.ID.String(), "document_id", r.documentID.String())
		r.hub.leave(r.documentID, c)
	}
}

// botQuestion reports whether text addresses the bot and returns the
// question with the trigger removed.
func botQuestion(text string) (string, bool) {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, botTrigger)
	if idx < 0 {
		return "", false
	}
	question := strings.TrimSpace(text[:idx] + text[idx+len(botTrigger):])
	if question == "" {
		return "", false
	}
	return question, true
}
