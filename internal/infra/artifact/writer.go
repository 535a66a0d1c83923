package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pygrounds-generation-service/internal/domain"
)

// Writer mirrors accepted questions into one JSON file per
// (game type, difficulty), e.g. coding_beginner.json. Begin truncates the
// previous run's file for that key; every Append rewrites the whole file so a
// crash mid-session loses nothing already accepted. Files are written via a
// temp file and rename so readers never observe a half-written document.
type Writer struct {
	dir string

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	startedAt  time.Time
	finishedAt time.Time
	questions  []domain.Question
}

type document struct {
	Metadata  metadata          `json:"metadata"`
	Questions []domain.Question `json:"questions"`
}

type metadata struct {
	GameType        domain.GameType   `json:"game_type"`
	Difficulty      domain.Difficulty `json:"difficulty"`
	Count           int               `json:"count"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	DurationSeconds float64           `json:"duration_seconds,omitempty"`
}

func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Writer{dir: dir, runs: make(map[string]*run)}, nil
}

// Begin resets the run state for a key and truncates its artifact.
func (w *Writer) Begin(difficulty domain.Difficulty, gameType domain.GameType, startedAt time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := artifactKey(difficulty, gameType)
	w.runs[key] = &run{startedAt: startedAt}
	return w.flushLocked(key, difficulty, gameType)
}

// Append rewrites the artifact including the new question.
func (w *Writer) Append(q domain.Question) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := artifactKey(q.Difficulty, q.GameType)
	r, ok := w.runs[key]
	if !ok {
		return fmt.Errorf("no active run for %s", key)
	}
	r.questions = append(r.questions, q)
	return w.flushLocked(key, q.Difficulty, q.GameType)
}

// Finish stamps the end time and writes the final document.
func (w *Writer) Finish(difficulty domain.Difficulty, gameType domain.GameType, finishedAt time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := artifactKey(difficulty, gameType)
	r, ok := w.runs[key]
	if !ok {
		return fmt.Errorf("no active run for %s", key)
	}
	r.finishedAt = finishedAt
	return w.flushLocked(key, difficulty, gameType)
}

func (w *Writer) flushLocked(key string, difficulty domain.Difficulty, gameType domain.GameType) error {
	r := w.runs[key]
	doc := document{
		Metadata: metadata{
			GameType:   gameType,
			Difficulty: difficulty,
			Count:      len(r.questions),
			StartedAt:  r.startedAt,
		},
		Questions: r.questions,
	}
	if doc.Questions == nil {
		doc.Questions = []domain.Question{}
	}
	if !r.finishedAt.IsZero() {
		doc.Metadata.FinishedAt = &r.finishedAt
		doc.Metadata.DurationSeconds = r.finishedAt.Sub(r.startedAt).Seconds()
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact %s: %w", key, err)
	}

	path := filepath.Join(w.dir, key+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish artifact %s: %w", key, err)
	}
	return nil
}

func artifactKey(difficulty domain.Difficulty, gameType domain.GameType) string {
	return string(gameType) + "_" + string(difficulty)
}
