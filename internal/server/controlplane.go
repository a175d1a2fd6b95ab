package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

type healthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds float64   `json:"uptimeSeconds"`
}

type configResponse struct {
	CodeLength   int `json:"codeLength"`
	AlphabetSize int `json:"alphabetSize"`
}

type statsEntry struct {
	Code           string    `json:"code"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	LiveRoomSize   int       `json:"liveRoomSize"`
	HasTwoOrMore   bool      `json:"hasTwoOrMore"`
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Timestamp:     time.Now(),
		UptimeSeconds: time.Since(a.startedAt).Seconds(),
	})
}

func (a *App) handleConfig(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, configResponse{
		CodeLength:   a.config.Session.CodeLength,
		AlphabetSize: len(a.config.Session.Alphabet),
	})
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	rooms, err := a.registry.ActiveRooms(r.Context())
	if err != nil {
		a.logger.Error("Stats lookup failed", slog.Any("error", err))
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	entries := make([]statsEntry, 0, len(rooms))
	for _, room := range rooms {
		live := a.engine.Presence().LiveSize(room.Code)
		entries = append(entries, statsEntry{
			Code:           room.Code,
			CreatedAt:      room.CreatedAt,
			LastActivityAt: room.LastActivityAt,
			LiveRoomSize:   live,
			HasTwoOrMore:   live >= 2,
		})
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("Failed to encode response", slog.Any("error", err))
	}
}
