package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pygrounds-generation-service/internal/app"
	"pygrounds-generation-service/internal/config"
	"pygrounds-generation-service/internal/domain"
	"pygrounds-generation-service/internal/infra/memory"
)

type stubLLM struct {
	mu sync.Mutex
	n  int
}

func (s *stubLLM) Complete(_ context.Context, _ domain.PromptSpec) (string, error) {
	s.mu.Lock()
	s.n++
	n := s.n
	s.mu.Unlock()
	return fmt.Sprintf(`[{"question_text": "question %d", "answer": "a", "explanation": "x", "difficulty": "beginner"}]`, n), nil
}

type nopSink struct{}

func (nopSink) Begin(domain.Difficulty, domain.GameType, time.Time) error  { return nil }
func (nopSink) Append(domain.Question) error                               { return nil }
func (nopSink) Finish(domain.Difficulty, domain.GameType, time.Time) error { return nil }

func newTestEngine() *app.Engine {
	catalog := memory.NewCatalog()
	for i := int64(1); i <= 3; i++ {
		catalog.AddUnit(
			domain.Subtopic{ID: i, Name: fmt.Sprintf("Unit %d", i), Topic: "Data Structures"},
			[]domain.Fragment{{Text: "content", Type: "definition", Confidence: 0.9}},
		)
	}
	gen := config.DefaultGeneration()
	retriever := app.NewRetriever(catalog, gen.Retrieval, time.Minute)
	worker := app.NewWorker(retriever, &stubLLM{}, memory.NewDedup(), memory.NewQuestionStore(), nopSink{}, gen.MaxAttempts)
	return app.NewEngine(gen, catalog, worker, nopSink{}, time.Hour)
}

func newTestServer(t *testing.T) (*httptest.Server, *app.Engine) {
	t.Helper()
	engine := newTestEngine()
	handler := NewHandler(engine)
	mux := http.NewServeMux()
	handler.Register(mux)
	mux.HandleFunc("/ws/progress", NewWSHandler(engine).ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, engine
}

func startSession(t *testing.T, server *httptest.Server) string {
	t.Helper()
	body := `{"subtopicIds":[1,2,3],"gameType":"non_coding","difficulties":["beginner"],"countPerUnit":1}`
	resp, err := http.Post(server.URL+"/api/generation/start", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post start: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	if out.SessionID == "" {
		t.Fatal("empty session id")
	}
	return out.SessionID
}

func TestStartAndStatusFlow(t *testing.T) {
	server, _ := newTestServer(t)
	id := startSession(t, server)

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(server.URL + "/api/generation/status?sessionId=" + id)
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		var snap domain.StatusSnapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		resp.Body.Close()

		if snap.State.Terminal() {
			if snap.State != domain.SessionCompleted {
				t.Fatalf("expected COMPLETED, got %s", snap.State)
			}
			if snap.TasksDone != 3 {
				t.Fatalf("expected 3 tasks done, got %d", snap.TasksDone)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get(server.URL + "/api/generation/workers?sessionId=" + id)
	if err != nil {
		t.Fatalf("get workers: %v", err)
	}
	defer resp.Body.Close()
	var detail struct {
		Tasks []domain.TaskDetail `json:"tasks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatalf("decode workers: %v", err)
	}
	if len(detail.Tasks) != 3 {
		t.Fatalf("expected 3 task rows, got %d", len(detail.Tasks))
	}
}

func TestEstimateEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	body := `{"subtopicIds":[1,2,3],"gameType":"coding","difficulties":["beginner","master"],"countPerUnit":2}`
	resp, err := http.Post(server.URL+"/api/generation/estimate", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post estimate: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var est domain.Estimate
	if err := json.NewDecoder(resp.Body).Decode(&est); err != nil {
		t.Fatalf("decode estimate: %v", err)
	}
	if est.TaskCount != 6 {
		t.Fatalf("expected 6 tasks (3 units x 2 difficulties), got %d", est.TaskCount)
	}
	if est.Workers != 4 {
		t.Fatalf("expected coding pool of 4, got %d", est.Workers)
	}
}

func TestValidationAndNotFoundStatusCodes(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/generation/start", "application/json",
		bytes.NewBufferString(`{"subtopicIds":[],"gameType":"coding","difficulties":["beginner"],"countPerUnit":1}`))
	if err != nil {
		t.Fatalf("post start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty scope, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/api/generation/status?sessionId=missing")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", resp.StatusCode)
	}

	resp, err = http.Post(server.URL+"/api/generation/cancel?sessionId=missing", "application/json", nil)
	if err != nil {
		t.Fatalf("post cancel: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)
	resp, err := http.Get(server.URL + "/api/generation/start")
	if err != nil {
		t.Fatalf("get start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
