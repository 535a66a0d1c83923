package app

import (
	"context"
	"time"

	"pygrounds-generation-service/internal/domain"
)

// UnitSource resolves scope unit IDs to known subtopics (from cache/backing store).
type UnitSource interface {
	Units(ctx context.Context, ids []int64) ([]domain.Subtopic, error)
}

// FragmentSource exposes precomputed similarity rankings for a subtopic,
// ordered by descending confidence. The rankings are produced by the
// embedding pipeline before any generation session begins.
type FragmentSource interface {
	RankedFragments(ctx context.Context, unitID int64) ([]domain.Fragment, error)
}

// Generator executes one prompt against the LLM and returns the raw response
// text. The transport's own timeout bounds hung calls.
type Generator interface {
	Complete(ctx context.Context, spec domain.PromptSpec) (string, error)
}

// Deduplicator is the session-scoped fingerprint set. Register is an atomic
// test-and-set: it returns true exactly once per (session, fingerprint) even
// under concurrent workers.
type Deduplicator interface {
	Register(ctx context.Context, sessionID, fingerprint string) (bool, error)
}

// QuestionStore durably persists one accepted question and returns its ID.
// Implementations wrap constraint violations in domain.ErrPersistence.
type QuestionStore interface {
	Save(ctx context.Context, q domain.Question) (int64, error)
}

// ArtifactSink mirrors accepted questions into a per-(difficulty, game type)
// output artifact. Begin replaces any prior artifact for the key; Append
// rewrites the artifact including the new question so a crash mid-session
// loses nothing already accepted.
type ArtifactSink interface {
	Begin(difficulty domain.Difficulty, gameType domain.GameType, startedAt time.Time) error
	Append(q domain.Question) error
	Finish(difficulty domain.Difficulty, gameType domain.GameType, finishedAt time.Time) error
}
