package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pygrounds-generation-service/internal/config"
	"pygrounds-generation-service/internal/domain"
)

// Request is a validated-on-intake generation request.
type Request struct {
	Scope        []int64
	GameType     domain.GameType
	Difficulties []domain.Difficulty
	CountPerUnit int
}

// Engine is the session coordinator. It owns session bookkeeping exclusively:
// task decomposition, pool sizing, dispatch, progress accounting, cancellation
// and result aggregation. Sessions live in memory only; a crash loses
// tracking but never already-persisted questions.
type Engine struct {
	policy    config.Generation
	units     UnitSource
	worker    *Worker
	artifacts ArtifactSink
	retention time.Duration
	clock     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewEngine(policy config.Generation, units UnitSource, worker *Worker, artifacts ArtifactSink, retention time.Duration) *Engine {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Engine{
		policy:    policy,
		units:     units,
		worker:    worker,
		artifacts: artifacts,
		retention: retention,
		clock:     time.Now,
		sessions:  make(map[string]*session),
	}
}

// Start validates the request, decomposes it into tasks and kicks off the
// session's worker pool. It returns immediately with the session id; work
// proceeds asynchronously.
func (e *Engine) Start(ctx context.Context, req Request) (string, error) {
	units, err := e.validate(ctx, req)
	if err != nil {
		return "", err
	}
	dec := decompose(units, req.GameType, req.Difficulties, req.CountPerUnit, e.policy)

	e.CleanupExpired()

	s := newSession(uuid.NewString(), req.GameType, dec.tasks, e.clock)
	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()

	go e.run(s, dec.tasks)
	return s.id, nil
}

// Estimate performs the same decomposition as Start without dispatching
// anything. The wall-clock estimate divides the per-task constant by the pool
// size for the game type's load class.
func (e *Engine) Estimate(ctx context.Context, req Request) (domain.Estimate, error) {
	units, err := e.validate(ctx, req)
	if err != nil {
		return domain.Estimate{}, err
	}
	dec := decompose(units, req.GameType, req.Difficulties, req.CountPerUnit, e.policy)

	workers := e.policy.WorkersFor(string(req.GameType))
	perTask := e.policy.TaskSecondsFor(string(req.GameType))
	return domain.Estimate{
		TaskCount:        len(dec.tasks),
		EstimatedSeconds: float64(len(dec.tasks)) * perTask / float64(workers),
		Workers:          workers,
		Breakdown:        dec.stats,
	}, nil
}

// Status returns a read-only snapshot of a session.
func (e *Engine) Status(sessionID string) (domain.StatusSnapshot, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	return s.snapshot(), nil
}

// WorkerDetails returns the per-task detail rows for a session.
func (e *Engine) WorkerDetails(sessionID string) ([]domain.TaskDetail, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.snapshot().Tasks, nil
}

// Cancel sets the cooperative cancellation flag. Already-running tasks finish
// naturally and their results stay persisted; no new task starts. Cancelling
// twice is a no-op.
func (e *Engine) Cancel(sessionID string) error {
	s, err := e.session(sessionID)
	if err != nil {
		return err
	}
	s.cancel()
	return nil
}

// Subscribe returns a channel receiving status snapshots as the session
// progresses. The caller must invoke the returned cancel function.
func (e *Engine) Subscribe(sessionID string) (<-chan domain.StatusSnapshot, func(), error) {
	s, err := e.session(sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.subscribe()
	return ch, cancel, nil
}

// CleanupExpired evicts terminal sessions past the retention window.
func (e *Engine) CleanupExpired() {
	cutoff := e.clock().Add(-e.retention)
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, s := range e.sessions {
		snap := s.snapshot()
		if snap.State.Terminal() && snap.UpdatedAt.Before(cutoff) {
			delete(e.sessions, id)
		}
	}
}

func (e *Engine) session(sessionID string) (*session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return s, nil
}

func (e *Engine) validate(ctx context.Context, req Request) ([]domain.Subtopic, error) {
	if req.CountPerUnit <= 0 {
		return nil, fmt.Errorf("%w: count per unit must be positive", domain.ErrValidation)
	}
	if !req.GameType.Valid() {
		return nil, fmt.Errorf("%w: unknown game type %q", domain.ErrValidation, req.GameType)
	}
	if len(req.Difficulties) == 0 {
		return nil, fmt.Errorf("%w: at least one difficulty level required", domain.ErrValidation)
	}
	for _, d := range req.Difficulties {
		if !d.Valid() {
			return nil, fmt.Errorf("%w: unknown difficulty %q", domain.ErrValidation, d)
		}
	}
	if len(req.Scope) == 0 {
		return nil, fmt.Errorf("%w: scope is empty", domain.ErrValidation)
	}

	units, err := e.units.Units(ctx, req.Scope)
	if err != nil {
		return nil, fmt.Errorf("resolve scope: %w", err)
	}
	if len(units) != len(req.Scope) {
		known := make(map[int64]struct{}, len(units))
		for _, u := range units {
			known[u.ID] = struct{}{}
		}
		for _, id := range req.Scope {
			if _, ok := known[id]; !ok {
				return nil, fmt.Errorf("%w: %w %d", domain.ErrValidation, domain.ErrUnknownUnit, id)
			}
		}
	}
	return units, nil
}

// run drives one session to a terminal state. Pool size is fixed at session
// start for the game type's load class; tasks have no ordering dependencies
// and may complete in any order.
func (e *Engine) run(s *session, tasks []domain.Task) {
	ctx := context.Background()
	s.transition(domain.SessionRunning)

	startedAt := e.clock()
	diffs := taskDifficulties(tasks)
	for _, d := range diffs {
		if err := e.artifacts.Begin(d, s.gameType, startedAt); err != nil {
			log.Printf("session %s: artifact init failed: %v", s.id, err)
			s.finish(domain.SessionFailed)
			return
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(e.policy.WorkersFor(string(s.gameType)))

	for i := range tasks {
		i, task := i, tasks[i]
		// Cancellation is checked at the dispatch boundary only; running
		// tasks are never interrupted.
		if s.isCancelled() {
			s.markSkipped(i)
			continue
		}
		g.Go(func() error {
			if s.isCancelled() {
				s.markSkipped(i)
				return nil
			}
			s.markRunning(i)
			out := e.worker.Run(ctx, s.id, task)
			s.applyOutcome(i, out)
			return nil
		})
	}
	_ = g.Wait()

	finishedAt := e.clock()
	for _, d := range diffs {
		if err := e.artifacts.Finish(d, s.gameType, finishedAt); err != nil {
			log.Printf("session %s: artifact finalize failed: %v", s.id, err)
		}
	}

	s.finish(domain.SessionCompleted)
	snap := s.snapshot()
	log.Printf("session %s %s: %d/%d tasks done, %d failed, %d questions accepted",
		s.id, snap.State, snap.TasksDone, snap.TasksTotal, snap.TasksFailed, snap.QuestionsAccepted)
}

func taskDifficulties(tasks []domain.Task) []domain.Difficulty {
	seen := make(map[domain.Difficulty]struct{})
	var out []domain.Difficulty
	for _, t := range tasks {
		if _, ok := seen[t.Difficulty]; ok {
			continue
		}
		seen[t.Difficulty] = struct{}{}
		out = append(out, t.Difficulty)
	}
	return out
}
