package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pygrounds-generation-service/internal/config"
	"pygrounds-generation-service/internal/domain"
	"pygrounds-generation-service/internal/infra/memory"
)

type fakeLLM struct {
	mu sync.Mutex
	n  int
	fn func(call int, spec domain.PromptSpec) (string, error)
}

func (f *fakeLLM) Complete(_ context.Context, spec domain.PromptSpec) (string, error) {
	f.mu.Lock()
	f.n++
	call := f.n
	f.mu.Unlock()
	return f.fn(call, spec)
}

type recordSink struct {
	mu       sync.Mutex
	begun    int
	appended int
	finished int
}

func (r *recordSink) Begin(domain.Difficulty, domain.GameType, time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.begun++
	return nil
}

func (r *recordSink) Append(domain.Question) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended++
	return nil
}

func (r *recordSink) Finish(domain.Difficulty, domain.GameType, time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished++
	return nil
}

func testCatalog(unitCount int) *memory.Catalog {
	catalog := memory.NewCatalog()
	topics := []string{"Data Structures", "Control Flow", "Functions"}
	for i := 0; i < unitCount; i++ {
		id := int64(i + 1)
		catalog.AddUnit(
			domain.Subtopic{ID: id, Name: fmt.Sprintf("Unit %d", id), Topic: topics[i%len(topics)]},
			[]domain.Fragment{
				{Text: fmt.Sprintf("Content for unit %d.", id), Type: "definition", Confidence: 0.9},
				{Text: fmt.Sprintf("Example for unit %d.", id), Type: "example", Confidence: 0.7},
			},
		)
	}
	return catalog
}

func newTestEngine(catalog *memory.Catalog, llm Generator, gen config.Generation) (*Engine, *memory.QuestionStore, *recordSink) {
	store := memory.NewQuestionStore()
	sink := &recordSink{}
	retriever := NewRetriever(catalog, gen.Retrieval, time.Minute)
	worker := NewWorker(retriever, llm, memory.NewDedup(), store, sink, gen.MaxAttempts)
	engine := NewEngine(gen, catalog, worker, sink, time.Hour)
	return engine, store, sink
}

func waitForTerminal(t *testing.T, engine *Engine, sessionID string) domain.StatusSnapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := engine.Status(sessionID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if snap.State.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never reached a terminal state", sessionID)
	return domain.StatusSnapshot{}
}

func codingPayload(name string) string {
	return fmt.Sprintf(`[{
		"question_text": "Fix the bug in %s.",
		"function_name": "%s",
		"starter_code": "def %s(xs):\n    return xs.sort()",
		"solution": "def %s(xs):\n    return sorted(xs)",
		"sample_input": "[3, 1, 2]",
		"sample_output": "[1, 2, 3]",
		"hidden_tests": ["assert %s([2,1]) == [1,2]"],
		"explanation": "sort() mutates in place and returns None; sorted() returns a new list.",
		"difficulty": "beginner"
	}]`, name, name, name, name, name)
}

func nonCodingPayload(text string) string {
	return fmt.Sprintf(`[{"question_text": %q, "answer": "42", "explanation": "because", "difficulty": "beginner"}]`, text)
}

func TestStartCodingSessionCompletes(t *testing.T) {
	catalog := memory.NewCatalog()
	catalog.AddUnit(
		domain.Subtopic{ID: 7, Name: "Sorting", Topic: "Algorithms"},
		[]domain.Fragment{{Text: "Sorting orders elements.", Type: "definition", Confidence: 0.9}},
	)
	llm := &fakeLLM{fn: func(int, domain.PromptSpec) (string, error) {
		return codingPayload("fix_sort"), nil
	}}
	engine, store, sink := newTestEngine(catalog, llm, config.DefaultGeneration())

	id, err := engine.Start(context.Background(), Request{
		Scope:        []int64{7},
		GameType:     domain.GameTypeCoding,
		Difficulties: []domain.Difficulty{domain.DifficultyBeginner},
		CountPerUnit: 1,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	snap := waitForTerminal(t, engine, id)
	if snap.State != domain.SessionCompleted {
		t.Fatalf("expected COMPLETED, got %s", snap.State)
	}
	if snap.TasksDone != 1 || snap.TasksFailed != 0 {
		t.Fatalf("expected 1 done / 0 failed, got %d / %d", snap.TasksDone, snap.TasksFailed)
	}
	questions := store.All()
	if len(questions) != 1 {
		t.Fatalf("expected 1 persisted question, got %d", len(questions))
	}
	if len(questions[0].SubtopicIDs) != 1 || questions[0].SubtopicIDs[0] != 7 {
		t.Fatalf("expected question referencing unit 7, got %v", questions[0].SubtopicIDs)
	}
	if questions[0].Solution == "" || questions[0].FunctionName != "fix_sort" {
		t.Fatalf("coding fields not populated: %+v", questions[0])
	}
	if sink.appended != 1 {
		t.Fatalf("expected 1 artifact append, got %d", sink.appended)
	}
}

func TestUnparseableResponsesExhaustRetries(t *testing.T) {
	llm := &fakeLLM{fn: func(int, domain.PromptSpec) (string, error) {
		return "I'd be happy to help! Here are some thoughts without any JSON.", nil
	}}
	gen := config.DefaultGeneration()
	engine, store, _ := newTestEngine(testCatalog(1), llm, gen)

	id, err := engine.Start(context.Background(), Request{
		Scope:        []int64{1},
		GameType:     domain.GameTypeCoding,
		Difficulties: []domain.Difficulty{domain.DifficultyBeginner},
		CountPerUnit: 1,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	snap := waitForTerminal(t, engine, id)
	if snap.State != domain.SessionCompleted {
		t.Fatalf("expected COMPLETED despite task failure, got %s", snap.State)
	}
	if snap.TasksFailed != 1 || snap.TasksDone != 0 {
		t.Fatalf("expected 0 done / 1 failed, got %d / %d", snap.TasksDone, snap.TasksFailed)
	}
	if snap.Tasks[0].Error != "GenerationExhaustedError" {
		t.Fatalf("expected GenerationExhaustedError, got %q", snap.Tasks[0].Error)
	}
	if llm.n != gen.MaxAttempts {
		t.Fatalf("expected %d llm attempts, got %d", gen.MaxAttempts, llm.n)
	}
	if len(store.All()) != 0 {
		t.Fatalf("expected no persisted questions, got %d", len(store.All()))
	}
}

func TestEmptyContextFailsTaskWithoutRetry(t *testing.T) {
	catalog := memory.NewCatalog()
	catalog.AddUnit(
		domain.Subtopic{ID: 1, Name: "Sparse", Topic: "Misc"},
		[]domain.Fragment{{Text: "too weak", Type: "definition", Confidence: 0.1}},
	)
	llm := &fakeLLM{fn: func(int, domain.PromptSpec) (string, error) {
		t.Fatal("llm must not be called when context is empty")
		return "", nil
	}}
	engine, _, _ := newTestEngine(catalog, llm, config.DefaultGeneration())

	id, err := engine.Start(context.Background(), Request{
		Scope:        []int64{1},
		GameType:     domain.GameTypeNonCoding,
		Difficulties: []domain.Difficulty{domain.DifficultyBeginner},
		CountPerUnit: 1,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	snap := waitForTerminal(t, engine, id)
	if snap.Tasks[0].Error != "EmptyContextError" {
		t.Fatalf("expected EmptyContextError, got %q", snap.Tasks[0].Error)
	}
}

func TestEstimateMatchesStartDecomposition(t *testing.T) {
	llm := &fakeLLM{fn: func(call int, _ domain.PromptSpec) (string, error) {
		return nonCodingPayload(fmt.Sprintf("question %d", call)), nil
	}}
	engine, _, _ := newTestEngine(testCatalog(6), llm, config.DefaultGeneration())

	req := Request{
		Scope:        []int64{1, 2, 3, 4, 5, 6},
		GameType:     domain.GameTypePreAssessment,
		Difficulties: []domain.Difficulty{domain.DifficultyAdvanced, domain.DifficultyMaster},
		CountPerUnit: 3,
	}

	est, err := engine.Estimate(context.Background(), req)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if est.TaskCount == 0 {
		t.Fatal("estimate produced no tasks")
	}

	id, err := engine.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap, err := engine.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.TasksTotal != est.TaskCount {
		t.Fatalf("estimate %d tasks but start dispatched %d", est.TaskCount, snap.TasksTotal)
	}
	waitForTerminal(t, engine, id)
}

func TestStartValidation(t *testing.T) {
	llm := &fakeLLM{fn: func(int, domain.PromptSpec) (string, error) { return "[]", nil }}
	engine, _, _ := newTestEngine(testCatalog(2), llm, config.DefaultGeneration())

	cases := []struct {
		name string
		req  Request
	}{
		{"empty scope", Request{GameType: domain.GameTypeCoding, Difficulties: []domain.Difficulty{domain.DifficultyBeginner}, CountPerUnit: 1}},
		{"zero count", Request{Scope: []int64{1}, GameType: domain.GameTypeCoding, Difficulties: []domain.Difficulty{domain.DifficultyBeginner}}},
		{"no difficulties", Request{Scope: []int64{1}, GameType: domain.GameTypeCoding, CountPerUnit: 1}},
		{"bad difficulty", Request{Scope: []int64{1}, GameType: domain.GameTypeCoding, Difficulties: []domain.Difficulty{"impossible"}, CountPerUnit: 1}},
		{"bad game type", Request{Scope: []int64{1}, GameType: "karaoke", Difficulties: []domain.Difficulty{domain.DifficultyBeginner}, CountPerUnit: 1}},
		{"unknown unit", Request{Scope: []int64{99}, GameType: domain.GameTypeCoding, Difficulties: []domain.Difficulty{domain.DifficultyBeginner}, CountPerUnit: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.Start(context.Background(), tc.req); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCancelStopsPendingTasksAndIsIdempotent(t *testing.T) {
	idCh := make(chan string, 1)
	gen := config.DefaultGeneration()
	gen.NonCodingWorkers = 1

	var engine *Engine
	llm := &fakeLLM{fn: func(call int, _ domain.PromptSpec) (string, error) {
		if call == 2 {
			// cancel mid-run; this task still completes and persists
			if err := engine.Cancel(<-idCh); err != nil {
				return "", err
			}
		}
		return nonCodingPayload(fmt.Sprintf("question %d", call)), nil
	}}
	engine, store, _ := newTestEngine(testCatalog(5), llm, gen)

	id, err := engine.Start(context.Background(), Request{
		Scope:        []int64{1, 2, 3, 4, 5},
		GameType:     domain.GameTypeNonCoding,
		Difficulties: []domain.Difficulty{domain.DifficultyBeginner},
		CountPerUnit: 1,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	idCh <- id

	snap := waitForTerminal(t, engine, id)
	if snap.State != domain.SessionCancelled {
		t.Fatalf("expected CANCELLED, got %s", snap.State)
	}
	if snap.TasksDone < 2 {
		t.Fatalf("expected at least 2 completed tasks, got %d", snap.TasksDone)
	}
	if len(store.All()) < 2 {
		t.Fatalf("completed tasks must keep their persisted questions, got %d", len(store.All()))
	}
	skipped := 0
	for _, d := range snap.Tasks {
		if d.State == domain.TaskSkipped {
			skipped++
		}
	}
	if skipped == 0 {
		t.Fatal("expected pending tasks to be skipped after cancel")
	}

	// second cancel must not change the terminal state
	if err := engine.Cancel(id); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	again, _ := engine.Status(id)
	if again.State != domain.SessionCancelled {
		t.Fatalf("cancel is not idempotent: %s", again.State)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	llm := &fakeLLM{fn: func(call int, _ domain.PromptSpec) (string, error) {
		return nonCodingPayload(fmt.Sprintf("question %d", call)), nil
	}}
	engine, _, _ := newTestEngine(testCatalog(8), llm, config.DefaultGeneration())

	id, err := engine.Start(context.Background(), Request{
		Scope:        []int64{1, 2, 3, 4, 5, 6, 7, 8},
		GameType:     domain.GameTypeNonCoding,
		Difficulties: []domain.Difficulty{domain.DifficultyBeginner},
		CountPerUnit: 1,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	updates, cancel, err := engine.Subscribe(id)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	last := -1
	for snap := range updates {
		if snap.TasksDone < last {
			t.Fatalf("tasks_done regressed from %d to %d", last, snap.TasksDone)
		}
		last = snap.TasksDone
	}

	final := waitForTerminal(t, engine, id)
	if final.TasksDone < last {
		t.Fatalf("final tasks_done %d below last observed %d", final.TasksDone, last)
	}
	if final.TasksDone != 8 {
		t.Fatalf("expected 8 completed tasks, got %d", final.TasksDone)
	}
}

func TestStatusUnknownSession(t *testing.T) {
	llm := &fakeLLM{fn: func(int, domain.PromptSpec) (string, error) { return "[]", nil }}
	engine, _, _ := newTestEngine(testCatalog(1), llm, config.DefaultGeneration())
	if _, err := engine.Status("nope"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := engine.Cancel("nope"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
