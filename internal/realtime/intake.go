package realtime

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/pawnline-match-server/internal/match"
	"github.com/park285/pawnline-match-server/internal/pvpmatch"
)

const maxIntakeBody = 256 << 10

// Intake accepts match-start requests from the lobby service.
type Intake struct {
	hub      *Hub
	audience string
}

// NewIntake only admits tokens minted for audience.
func NewIntake(h *Hub, audience string) *Intake {
	return &Intake{hub: h, audience: audience}
}

type createdResponse struct {
	MatchID string `json:"matchId"`
}

func (in *Intake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 로비 서비스 토큰만 허용
	caller, err := in.hub.verifier.Verify(bearer(r), in.audience)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ErrorPayload{Kind: "unauthenticated", Message: "invalid service token"})
		return
	}
	var req pvpmatch.StartRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIntakeBody))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorPayload{Kind: string(match.KindInvalidRequest), Message: "malformed body"})
		return
	}
	s, err := in.hub.mgr.CreateMatch(r.Context(), req)
	if err != nil {
		if kind, ok := match.KindOf(err); ok {
			writeJSON(w, http.StatusBadRequest, ErrorPayload{Kind: string(kind), Message: err.Error()})
			return
		}
		in.hub.log.Error("intake_create_failed", zap.String("caller", caller.UserID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorPayload{Kind: "internal", Message: "could not start match"})
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{MatchID: s.ID})
}

// bearer only accepts the Authorization header; service callers never use the query form.
func bearer(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Pinger reports whether a dependency is reachable.
type Pinger func(r *http.Request) error

// NewRouter mounts the websocket endpoint, match intake and health check.
func NewRouter(h *Hub, intakeAudience string, ready Pinger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", h)
	mux.Handle("POST /v1/matches", NewIntake(h, intakeAudience))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}
