package memory

import (
	"context"
	"sync"

	"pygrounds-generation-service/internal/domain"
)

// QuestionStore keeps accepted questions in memory, assigning sequential ids.
type QuestionStore struct {
	mu        sync.RWMutex
	nextID    int64
	questions []domain.Question
}

func NewQuestionStore() *QuestionStore {
	return &QuestionStore{nextID: 1}
}

func (s *QuestionStore) Save(_ context.Context, q domain.Question) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q.ID = s.nextID
	s.nextID++
	s.questions = append(s.questions, q)
	return q.ID, nil
}

// All returns a copy of every stored question, in insertion order.
func (s *QuestionStore) All() []domain.Question {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Question, len(s.questions))
	copy(out, s.questions)
	return out
}
