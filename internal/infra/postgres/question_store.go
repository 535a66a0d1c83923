package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"pygrounds-generation-service/internal/domain"
)

// QuestionStore persists accepted questions to Postgres. The full question
// body lives in a JSONB payload; the columns that matter for lookup and
// referential integrity are lifted out.
type QuestionStore struct {
	pool *pgxpool.Pool
}

func NewQuestionStore(pool *pgxpool.Pool) *QuestionStore {
	return &QuestionStore{pool: pool}
}

func (s *QuestionStore) Save(ctx context.Context, q domain.Question) (int64, error) {
	payload, err := json.Marshal(q)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal question: %v", domain.ErrPersistence, err)
	}
	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO generated_questions (game_type, difficulty, subtopic_ids, question_text, payload, fingerprint, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		q.GameType, q.Difficulty, q.SubtopicIDs, q.QuestionText, payload, q.Fingerprint, q.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: insert question: %v", domain.ErrPersistence, err)
	}
	return id, nil
}
