package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"pygrounds-generation-service/internal/app"
	"pygrounds-generation-service/internal/domain"
)

// Handler exposes the generation engine over JSON endpoints.
type Handler struct {
	engine *app.Engine
}

func NewHandler(engine *app.Engine) *Handler {
	return &Handler{engine: engine}
}

// Register mounts all routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/generation/start", h.handleStart)
	mux.HandleFunc("/api/generation/estimate", h.handleEstimate)
	mux.HandleFunc("/api/generation/status", h.handleStatus)
	mux.HandleFunc("/api/generation/workers", h.handleWorkers)
	mux.HandleFunc("/api/generation/cancel", h.handleCancel)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

type generationRequest struct {
	SubtopicIDs  []int64  `json:"subtopicIds"`
	GameType     string   `json:"gameType"`
	Difficulties []string `json:"difficulties"`
	CountPerUnit int      `json:"countPerUnit"`
}

func (r generationRequest) toApp() app.Request {
	diffs := make([]domain.Difficulty, 0, len(r.Difficulties))
	for _, d := range r.Difficulties {
		diffs = append(diffs, domain.Difficulty(d))
	}
	return app.Request{
		Scope:        r.SubtopicIDs,
		GameType:     domain.GameType(r.GameType),
		Difficulties: diffs,
		CountPerUnit: r.CountPerUnit,
	}
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req generationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	sessionID, err := h.engine.Start(r.Context(), req.toApp())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"sessionId": sessionID})
}

func (h *Handler) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req generationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	est, err := h.engine.Estimate(r.Context(), req.toApp())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Status(r.URL.Query().Get("sessionId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleWorkers(w http.ResponseWriter, r *http.Request) {
	details, err := h.engine.WorkerDetails(r.URL.Query().Get("sessionId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": details})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.engine.Cancel(r.URL.Query().Get("sessionId")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
