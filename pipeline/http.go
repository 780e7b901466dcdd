package pipeline

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/mirlist/shield"
)

// Handler returns the trigger/status API router. The caller wraps it in
// whatever middleware stack it wants (see shield.DefaultStack); only the
// trigger endpoints get their own rate limit here, since those are the
// endpoints an abuser would hammer.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/runs", s.handleRuns)

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Post("/api/deploy", s.handleDeploy)
		r.Post("/hooks/push", s.handlePush)
	})

	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runView is the JSON shape of a completed run. history.Run carries the
// same fields; this one is built from the in-memory Outcome so /api/status
// works even without a history store.
type runView struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	Status     string    `json:"status"`
	Phase      string    `json:"phase"`
	Error      string    `json:"error,omitempty"`
	ServedURL  string    `json:"served_url,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Regions    int       `json:"regions"`
	Mirrors    int       `json:"mirrors"`
	Selected   int       `json:"selected"`
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Coordinator CoordinatorStats `json:"coordinator"`
		LastRun     *runView         `json:"last_run,omitempty"`
	}{Coordinator: s.Stats()}

	if out := s.LastOutcome(); out != nil {
		v := runView{
			ID:         out.RunID,
			Trigger:    out.Trigger.Source,
			Status:     out.Status,
			Phase:      string(out.Phase),
			ServedURL:  out.ServedURL,
			StartedAt:  out.StartedAt,
			FinishedAt: out.FinishedAt,
			Regions:    out.Regions,
			Mirrors:    out.Mirrors,
			Selected:   out.Selected,
		}
		if out.Err != nil {
			v.Error = out.Err.Error()
		}
		resp.LastRun = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "run history not enabled")
		return
	}
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		shield.Logger(r.Context()).Error("run history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleDeploy is the manual trigger. When a deploy token is configured it
// must be presented as a bearer token; the comparison is constant-time.
func (s *Service) handleDeploy(w http.ResponseWriter, r *http.Request) {
	if s.config.DeployToken != "" {
		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.config.DeployToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid deploy token")
			return
		}
	}
	displaced := s.Trigger("manual")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":    true,
		"displaced": displaced,
		"busy":      s.Stats().Busy,
	})
}

// handlePush accepts code-push webhooks. When a webhook secret is
// configured, the body must carry a GitHub-style HMAC-SHA256 signature in
// X-Hub-Signature-256; unsigned or mis-signed deliveries are rejected.
func (s *Service) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if s.config.WebhookSecret != "" {
		if !verifySignature(body, r.Header.Get("X-Hub-Signature-256"), s.config.WebhookSecret) {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}
	displaced := s.Trigger("push")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":    true,
		"displaced": displaced,
	})
}

// verifySignature checks a "sha256=<hex>" header against the HMAC-SHA256
// of body under secret.
func verifySignature(body []byte, header, secret string) bool {
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
