package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"pygrounds-generation-service/internal/domain"
)

// Worker executes one generation task end-to-end: retrieve context, build the
// prompt, call the LLM, validate and dedupe the candidates, and persist each
// accepted one incrementally. A worker owns its task exclusively and shares
// nothing with other workers except the session's dedup set and counters.
type Worker struct {
	retriever   *Retriever
	llm         Generator
	dedup       Deduplicator
	store       QuestionStore
	artifacts   ArtifactSink
	maxAttempts int
	clock       func() time.Time
}

func NewWorker(retriever *Retriever, llm Generator, dedup Deduplicator, store QuestionStore, artifacts ArtifactSink, maxAttempts int) *Worker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Worker{
		retriever:   retriever,
		llm:         llm,
		dedup:       dedup,
		store:       store,
		artifacts:   artifacts,
		maxAttempts: maxAttempts,
		clock:       time.Now,
	}
}

// Outcome reports a single task's result. A task with Err != nil failed
// terminally; already-accepted questions stay persisted either way.
type Outcome struct {
	Accepted   []domain.Question
	Rejected   int
	Duplicates int
	Err        error
}

// Run executes the task. Empty context and persistence failures are terminal;
// parse/validation failures are retried up to the bounded attempt budget and
// then surface as domain.ErrGenerationExhausted. Failures are always reported
// in the outcome, never silently dropped.
func (w *Worker) Run(ctx context.Context, sessionID string, task domain.Task) Outcome {
	var out Outcome

	bundle, err := w.retriever.Retrieve(ctx, task.Units, task.Difficulty)
	if err != nil {
		out.Err = err
		return out
	}

	spec := BuildPrompt(task, bundle)

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		raw, err := w.llm.Complete(ctx, spec)
		if err != nil {
			lastErr = err
			log.Printf("llm call failed (attempt %d/%d) for %v %s: %v", attempt, w.maxAttempts, task.UnitNames(), task.Difficulty, err)
			continue
		}

		candidates, err := parseCandidates(raw)
		if err != nil {
			lastErr = err
			log.Printf("unparseable llm response (attempt %d/%d) for %v %s: %v", attempt, w.maxAttempts, task.UnitNames(), task.Difficulty, err)
			continue
		}

		for _, obj := range candidates {
			if len(out.Accepted) >= task.Count {
				// Never persist more than requested.
				break
			}
			q, err := buildQuestion(obj, task)
			if err != nil {
				out.Rejected++
				continue
			}

			fresh, err := w.dedup.Register(ctx, sessionID, q.Fingerprint)
			if err != nil {
				out.Err = fmt.Errorf("dedup check: %w", err)
				return out
			}
			if !fresh {
				out.Duplicates++
				continue
			}

			q.CreatedAt = w.clock()
			id, err := w.store.Save(ctx, q)
			if err != nil {
				// Referential failures do not resolve by retrying.
				out.Err = err
				return out
			}
			q.ID = id
			if err := w.artifacts.Append(q); err != nil {
				log.Printf("artifact append failed for question %d: %v", id, err)
			}
			out.Accepted = append(out.Accepted, q)
		}

		if len(out.Accepted) > 0 {
			return out
		}
		lastErr = errNoCandidates
	}

	out.Err = fmt.Errorf("%w after %d attempts: %v", domain.ErrGenerationExhausted, w.maxAttempts, lastErr)
	return out
}

// errKind maps a task error to its taxonomy label for status detail rows.
func errKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrEmptyContext):
		return "EmptyContextError"
	case errors.Is(err, domain.ErrGenerationExhausted):
		return "GenerationExhaustedError"
	case errors.Is(err, domain.ErrPersistence):
		return "PersistenceError"
	default:
		return err.Error()
	}
}
