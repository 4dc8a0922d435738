package repos

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/paperplanet/paperplanet-backend/internal/domain"
	"github.com/paperplanet/paperplanet-backend/internal/pkg/dbctx"
	"github.com/paperplanet/paperplanet-backend/internal/repos/testutil"
)

func TestChatMessageRepoOrder(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewChatMessageRepo(db, testutil.Logger(t))
	doc := seedDocument(t, dbc)

	sender := doc.UserID
	texts := []string{"hello", "what is this paper about", "thanks"}
	for _, txt := range texts {
		msg := &domain.ChatMessage{ID: uuid.New(), DocumentID: doc.ID, SenderID: &sender, Text: txt}
		if _, err := repo.Create(dbc, msg); err != nil {
			t.Fatalf("Create %q: %v", txt, err)
		}
	}
	ai := &domain.ChatMessage{ID: uuid.New(), DocumentID: doc.ID, Text: "it is about transformers", IsAI: true}
	if _, err := repo.Create(dbc, ai); err != nil {
		t.Fatalf("Create ai: %v", err)
	}

	rows, err := repo.ListByDocument(dbc, doc.ID, 0)
	if err != nil {
		t.Fatalf("ListByDocument: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(rows))
	}
	last := rows[len(rows)-1]
	if !last.IsAI || last.SenderID != nil {
		t.Errorf("assistant message should have no sender: %+v", last)
	}
}
