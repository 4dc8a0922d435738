package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
	"github.com/paperplanet/paperplanet-backend/internal/platform/openai"
	"github.com/paperplanet/paperplanet-backend/internal/vectorindex"
)

const (
	// NotFoundAnswer is returned verbatim when retrieval yields nothing.
	NotFoundAnswer = "I couldn't find relevant information in this document."

	DefaultTopK     = 5
	maxContextChars = 6000
	answerTimeout   = 30 * time.Second
	sourceSnippet   = 100
)

const answerSystemPrompt = "You are a helpful assistant that answers questions about a document. " +
	"Answer using only the provided context. If the context does not contain " +
	"the answer, say so."

// AnswerResult is one grounded answer plus the chunk snippets it was built from.
type AnswerResult struct {
	Text    string   `json:"text"`
	Sources []string `json:"sources"`
}

// AnswerService answers questions about a single document by retrieving
// that document's nearest chunks and prompting over them.
type AnswerService struct {
	log       *logger.Logger
	embedder  Embedder
	generator Generator
	index     vectorindex.Index
}

func NewAnswerService(log *logger.Logger, client openai.Client, index vectorindex.Index) *AnswerService {
	return &AnswerService{
		log:       log.With("service", "AnswerService"),
		embedder:  client,
		generator: client,
		index:     index,
	}
}

// Answer retrieves the top k chunks for the question within documentID and
// generates a grounded answer. When nothing is retrieved it returns
// NotFoundAnswer without calling the generator at all.
func (s *AnswerService) Answer(ctx context.Context, documentID uuid.UUID, question string, k int) (*AnswerResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("empty question")
	}
	if k <= 0 {
		k = DefaultTopK
	}

	ctx, cancel := context.WithTimeout(ctx, answerTimeout)
	defer cancel()

	vectors, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding count mismatch: want=1 got=%d", len(vectors))
	}

	matches, err := s.index.Query(ctx, documentID, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	if len(matches) == 0 {
		s.log.Debug("No chunks retrieved", "document_id", documentID.String())
		return &AnswerResult{Text: NotFoundAnswer, Sources: []string{}}, nil
	}

	contextText, sources := buildContext(matches)
	prompt := "Context:\n" + contextText + "\n\nQuestion: " + question

	answer, err := s.generator.GenerateText(ctx, answerSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &AnswerResult{Text: answer, Sources: sources}, nil
}

// buildContext joins retrieved chunks best-first, stopping once the budget
// is spent. Sources keep the leading snippet of each chunk that made it in.
func buildContext(matches []vectorindex.Match) (string, []string) {
	var b strings.Builder
	sources := make([]string, 0, len(matches))
	for _, m := range matches {
		runes := []rune(m.Text)
		if b.Len() > 0 {
			if b.Len()+len(m.Text)+2 > maxContextChars {
				break
			}
			b.WriteString("\n\n")
		}
		b.WriteString(m.Text)

		if len(runes) > sourceSnippet {
			sources = append(sources, string(runes[:sourceSnippet])+"...")
		} else {
			sources = append(sources, m.Text)
		}
		if b.Len() >= maxContextChars {
			break
		}
	}
	return b.String(), sources
}
