package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"opscal/internal/aggregate"
	"opscal/internal/alert"
	"opscal/internal/config"
	"opscal/internal/feed"
	appLog "opscal/internal/log"
	"opscal/internal/model"
	"opscal/internal/pipeline"
	"opscal/internal/status"
	"opscal/internal/store"
)

// Source is the persistence collaborator the server reads snapshots from
// and forwards "mark done" / "undo" actions to.
type Source interface {
	Snapshot(ctx context.Context) (model.Snapshot, error)
	CreateCompletion(ctx context.Context, c model.Completion) (model.Completion, error)
	DeleteCompletion(ctx context.Context, id string) error
}

// Viewer identity headers, set by the session layer in front of this server.
const (
	HeaderViewerID          = "X-Viewer-Id"
	HeaderViewerRole        = "X-Viewer-Role"
	HeaderViewerDepartments = "X-Viewer-Departments"
	HeaderViewerCategories  = "X-Viewer-Categories"
)

const snapshotCacheTTL = 30 * time.Second

// Server provides the HTTP API over the evaluation pipeline.
type Server struct {
	cfg        *config.Config
	engine     *pipeline.Engine
	src        Source
	dismissals alert.Store
	mux        *http.ServeMux

	// now is replaceable in tests.
	now func() time.Time

	// In-memory snapshot cache to avoid re-reading the store on every
	// request. Mutations through this server invalidate it.
	snapMu    sync.RWMutex
	snapCache *snapshotCache
}

type snapshotCache struct {
	snap      model.Snapshot
	updatedAt time.Time
}

// NewServer constructs a new Server. dismissals may be nil.
func NewServer(cfg *config.Config, src Source, dismissals alert.Store) *Server {
	s := &Server{
		cfg:        cfg,
		engine:     pipeline.New(cfg),
		src:        src,
		dismissals: dismissals,
		mux:        http.NewServeMux(),
		now:        time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Invalidate drops the cached snapshot so the next request re-reads the store.
func (s *Server) Invalidate() {
	s.snapMu.Lock()
	s.snapCache = nil
	s.snapMu.Unlock()
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="opscal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/occurrences", s.handleOccurrences)
	s.mux.HandleFunc("GET /api/calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	s.mux.HandleFunc("POST /api/alerts/{key}/dismiss", s.handleDismiss)
	s.mux.HandleFunc("POST /api/completions", s.handleCreateCompletion)
	s.mux.HandleFunc("DELETE /api/completions/{id}", s.handleDeleteCompletion)
	s.mux.HandleFunc("GET /calendar.ics", s.handleICS)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// snapshot returns the cached snapshot or reads a fresh one.
func (s *Server) snapshot(ctx context.Context) (model.Snapshot, error) {
	now := time.Now()

	s.snapMu.RLock()
	sc := s.snapCache
	s.snapMu.RUnlock()
	if sc != nil && now.Sub(sc.updatedAt) < snapshotCacheTTL {
		return sc.snap, nil
	}

	snap, err := s.src.Snapshot(ctx)
	if err != nil {
		return model.Snapshot{}, err
	}

	s.snapMu.Lock()
	s.snapCache = &snapshotCache{snap: snap, updatedAt: time.Now()}
	s.snapMu.Unlock()
	return snap, nil
}

func (s *Server) readSnapshot(w http.ResponseWriter, r *http.Request) (model.Snapshot, bool) {
	snap, err := s.snapshot(r.Context())
	if err != nil {
		appLog.Error("api: snapshot read failed", err)
		writeError(w, http.StatusServiceUnavailable, "data source unavailable")
		return model.Snapshot{}, false
	}
	return snap, true
}

// evaluate runs the pipeline for the request's viewer.
func (s *Server) evaluate(w http.ResponseWriter, r *http.Request) (pipeline.View, bool) {
	snap, ok := s.readSnapshot(w, r)
	if !ok {
		return pipeline.View{}, false
	}
	return s.engine.Evaluate(snap, viewerFromRequest(r), s.now(), s.dismissals), true
}

type occurrencesResponse struct {
	Occurrences []model.Occurrence   `json:"occurrences"`
	Excluded    []pipeline.Exclusion `json:"excluded,omitempty"`
	Truncated   []string             `json:"truncated,omitempty"`
	Timezone    string               `json:"timezone"`
}

func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	view, ok := s.evaluate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, occurrencesResponse{
		Occurrences: view.Occurrences,
		Excluded:    view.Excluded,
		Truncated:   view.Truncated,
		Timezone:    s.engine.Location().String(),
	})
}

type calendarResponse struct {
	Buckets   []model.Bucket      `json:"buckets"`
	Summaries []aggregate.Summary `json:"summaries"`
}

// handleCalendar returns macro-category buckets.
//
// GET /api/calendar?date=2024-01-08
//   - date: restrict to one ISO date (optional)
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	view, ok := s.evaluate(w, r)
	if !ok {
		return
	}
	buckets := view.Buckets
	if d := r.URL.Query().Get("date"); d != "" {
		if _, err := time.Parse(model.DateLayout, d); err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		buckets = aggregate.ForDate(buckets, d)
	}
	if buckets == nil {
		buckets = []model.Bucket{}
	}
	writeJSON(w, http.StatusOK, calendarResponse{
		Buckets:   buckets,
		Summaries: aggregate.Summarize(buckets),
	})
}

// handleAlerts returns active alerts, or all of them with ?all=1.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	view, ok := s.evaluate(w, r)
	if !ok {
		return
	}
	alerts := view.Alerts
	if r.URL.Query().Get("all") == "" {
		alerts = alert.Active(alerts)
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if s.dismissals == nil {
		writeError(w, http.StatusNotImplemented, "dismissals are not configured")
		return
	}
	key := r.PathValue("key")
	templateID, date, err := model.ParseOccurrenceKey(key)
	if err != nil {
		writeError(w, http.StatusBadRequest, "key must be <template>@<YYYY-MM-DD>")
		return
	}
	snap, ok := s.readSnapshot(w, r)
	if !ok {
		return
	}
	if _, ok := s.engine.VisibleOccurrence(snap, viewerFromRequest(r), s.now(), templateID, date); !ok {
		writeError(w, http.StatusNotFound, "occurrence not found")
		return
	}
	if err := alert.Dismiss(s.dismissals, key, s.now()); err != nil {
		appLog.Error("api: dismiss failed", err, "key", key)
		writeError(w, http.StatusInternalServerError, "failed to dismiss")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"dismissed": key})
}

type completionRequest struct {
	TemplateID  string `json:"templateId"`
	DueDate     string `json:"dueDate"`
	CompletedBy string `json:"completedBy"`
	Notes       string `json:"notes"`
}

// handleCreateCompletion marks one visible occurrence as done.
func (s *Server) handleCreateCompletion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TemplateID == "" || req.DueDate == "" {
		writeError(w, http.StatusBadRequest, "templateId and dueDate are required")
		return
	}

	snap, ok := s.readSnapshot(w, r)
	if !ok {
		return
	}
	occ, found := s.engine.VisibleOccurrence(snap, viewerFromRequest(r), s.now(), req.TemplateID, req.DueDate)
	if !found {
		writeError(w, http.StatusNotFound, "occurrence not found")
		return
	}
	if occ.Status == model.StatusCompleted {
		writeError(w, http.StatusConflict, "occurrence is already completed")
		return
	}

	actor := req.CompletedBy
	if actor == "" {
		actor = viewerFromRequest(r).ID
	}
	rec, err := s.src.CreateCompletion(r.Context(), status.NewCompletion(occ, actor, s.now(), req.Notes))
	if err != nil {
		appLog.Error("api: create completion failed", err, "template", req.TemplateID)
		writeError(w, http.StatusInternalServerError, "failed to record completion")
		return
	}
	s.Invalidate()

	appLog.Info("completion recorded", "template", rec.TemplateID, "id", rec.ID, "by", rec.CompletedBy)
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleDeleteCompletion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Bypass the cache so records created elsewhere are found.
	snap, err := s.src.Snapshot(r.Context())
	if err != nil {
		appLog.Error("api: snapshot read failed", err)
		writeError(w, http.StatusServiceUnavailable, "data source unavailable")
		return
	}
	if _, ok := s.engine.VisibleCompletion(snap, viewerFromRequest(r), id); !ok {
		writeError(w, http.StatusNotFound, "completion not found")
		return
	}

	err = s.src.DeleteCompletion(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "completion not found")
		return
	case err != nil:
		appLog.Error("api: delete completion failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to delete completion")
		return
	}
	s.Invalidate()

	appLog.Info("completion removed", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	view, ok := s.evaluate(w, r)
	if !ok {
		return
	}
	body := feed.Render(view.Occurrences, s.now(), "opscal")
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func viewerFromRequest(r *http.Request) model.Viewer {
	return model.Viewer{
		ID:          strings.TrimSpace(r.Header.Get(HeaderViewerID)),
		Role:        strings.TrimSpace(r.Header.Get(HeaderViewerRole)),
		Departments: splitList(r.Header.Get(HeaderViewerDepartments)),
		Categories:  splitList(r.Header.Get(HeaderViewerCategories)),
	}
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
