package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"opscal/internal/config"
	"opscal/internal/model"
	"opscal/internal/store"
)

var testNow = time.Date(2024, 1, 21, 12, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *store.SQLite) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "opscal.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC)
	snap := model.Snapshot{Templates: []model.Template{
		{
			ID: "fridge-clean", Name: "Clean walk-in fridge", Kind: model.SourceEquipmentUpkeep,
			Frequency: model.FrequencyWeekly, Priority: model.PriorityHigh,
			Assignment: model.Assignment{Category: "cooks"},
			Start:      ptr(start), End: ptr(end), CreatedAt: start,
		},
		{
			ID: "bar-stock", Name: "Check bar stock", Kind: model.SourceStockExpiry,
			Frequency: model.FrequencyAsNeeded, Priority: model.PriorityMedium,
			Assignment: model.Assignment{DepartmentID: "bar"},
			DueDate:    ptr(time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC)), CreatedAt: start,
		},
	}}
	if err := db.Import(context.Background(), snap); err != nil {
		t.Fatalf("Import: %v", err)
	}

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := NewServer(cfg, db, db.Dismissals())
	s.now = func() time.Time { return testNow }
	return s, db
}

func do(t *testing.T, h http.Handler, method, path string, body []byte, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var cook = map[string]string{
	HeaderViewerID:         "s1",
	HeaderViewerRole:       "staff",
	HeaderViewerCategories: "cooks, grill",
}

var manager = map[string]string{HeaderViewerID: "m1", HeaderViewerRole: "manager"}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestOccurrences_FilteredPerViewer(t *testing.T) {
	s, _ := newTestServer(t, nil)

	var resp occurrencesResponse
	rec := do(t, s.Handler(), http.MethodGet, "/api/occurrences", nil, cook)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Occurrences) != 4 {
		t.Errorf("cook sees %d occurrences, want 4", len(resp.Occurrences))
	}

	rec = do(t, s.Handler(), http.MethodGet, "/api/occurrences", nil, manager)
	resp = occurrencesResponse{}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Occurrences) != 5 {
		t.Errorf("manager sees %d occurrences, want 5", len(resp.Occurrences))
	}

	rec = do(t, s.Handler(), http.MethodGet, "/api/occurrences", nil, nil)
	resp = occurrencesResponse{}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Occurrences) != 0 {
		t.Errorf("guest sees %d occurrences, want 0", len(resp.Occurrences))
	}
}

func TestCalendar(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/api/calendar?date=2024-01-22", nil, manager)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp calendarResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Buckets) != 2 {
		t.Fatalf("got %d buckets, want 2", len(resp.Buckets))
	}
	if resp.Buckets[0].Category != model.CategoryEquipment || resp.Buckets[1].Category != model.CategoryStock {
		t.Errorf("bucket order = %s, %s", resp.Buckets[0].Category, resp.Buckets[1].Category)
	}

	rec = do(t, s.Handler(), http.MethodGet, "/api/calendar?date=tomorrow", nil, manager)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", rec.Code)
	}
}

func TestCompletionLifecycle(t *testing.T) {
	s, db := newTestServer(t, nil)
	h := s.Handler()

	body, _ := json.Marshal(completionRequest{TemplateID: "fridge-clean", DueDate: "2024-01-08", Notes: "late"})
	rec := do(t, h, http.MethodPost, "/api/completions", body, cook)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created model.Completion
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.CompletedBy != "s1" {
		t.Errorf("unexpected record: %+v", created)
	}

	list, _ := db.ListCompletions(context.Background())
	if len(list) != 1 {
		t.Fatalf("stored completions = %d", len(list))
	}

	var resp occurrencesResponse
	rec = do(t, h, http.MethodGet, "/api/occurrences", nil, cook)
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	for _, o := range resp.Occurrences {
		if o.Due.Format(model.DateLayout) == "2024-01-08" && o.Status != model.StatusCompleted {
			t.Errorf("occurrence not completed after mark done: %+v", o)
		}
	}

	rec = do(t, h, http.MethodDelete, "/api/completions/"+created.ID, nil, cook)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/api/completions/"+created.ID, nil, cook)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rec.Code)
	}

	// Waiters cannot mark a cooks-only occurrence.
	waiter := map[string]string{HeaderViewerID: "s2", HeaderViewerRole: "staff", HeaderViewerCategories: "waiters"}
	rec = do(t, h, http.MethodPost, "/api/completions", body, waiter)
	if rec.Code != http.StatusNotFound {
		t.Errorf("invisible occurrence status = %d", rec.Code)
	}
}

func TestAlertsAndDismiss(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	var alerts []model.Alert
	rec := do(t, h, http.MethodGet, "/api/alerts", nil, manager)
	if err := json.Unmarshal(rec.Body.Bytes(), &alerts); err != nil {
		t.Fatal(err)
	}
	if len(alerts) == 0 || alerts[0].Severity != model.SeverityCritical {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}
	before := len(alerts)
	ref := alerts[0].OccurrenceRef

	rec = do(t, h, http.MethodPost, "/api/alerts/"+ref+"/dismiss", nil, manager)
	if rec.Code != http.StatusOK {
		t.Fatalf("dismiss status = %d: %s", rec.Code, rec.Body.String())
	}

	alerts = nil
	rec = do(t, h, http.MethodGet, "/api/alerts", nil, manager)
	_ = json.Unmarshal(rec.Body.Bytes(), &alerts)
	if len(alerts) != before-1 {
		t.Errorf("active alerts = %d, want %d", len(alerts), before-1)
	}

	alerts = nil
	rec = do(t, h, http.MethodGet, "/api/alerts?all=1", nil, manager)
	_ = json.Unmarshal(rec.Body.Bytes(), &alerts)
	if len(alerts) != before {
		t.Errorf("all alerts = %d, want %d", len(alerts), before)
	}
}

func TestICS(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/calendar.ics", nil, cook)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("Content-Type = %s", ct)
	}
	if n := strings.Count(rec.Body.String(), "BEGIN:VEVENT"); n != 4 {
		t.Errorf("got %d events, want 4", n)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "ops", Password: "pw"}
	s, _ := newTestServer(t, cfg)
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/health", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("health behind auth = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/alerts", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/alerts", nil)
	req.SetBasicAuth("ops", "pw")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated = %d", rec.Code)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" kitchen, ,bar ")
	if len(got) != 2 || got[0] != "kitchen" || got[1] != "bar" {
		t.Errorf("splitList = %v", got)
	}
}

func TestCompletion_DuplicateRejected(t *testing.T) {
	s, db := newTestServer(t, nil)
	h := s.Handler()

	body, _ := json.Marshal(completionRequest{TemplateID: "fridge-clean", DueDate: "2024-01-15"})
	if rec := do(t, h, http.MethodPost, "/api/completions", body, cook); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodPost, "/api/completions", body, cook); rec.Code != http.StatusConflict {
		t.Errorf("second create status = %d, want 409", rec.Code)
	}
	if list, _ := db.ListCompletions(context.Background()); len(list) != 1 {
		t.Errorf("stored completions = %d, want 1", len(list))
	}
}

func TestMutations_RequireVisibility(t *testing.T) {
	s, db := newTestServer(t, nil)
	h := s.Handler()
	bartender := map[string]string{HeaderViewerID: "b1", HeaderViewerRole: "staff", HeaderViewerDepartments: "bar"}

	body, _ := json.Marshal(completionRequest{TemplateID: "bar-stock", DueDate: "2024-01-22"})
	rec := do(t, h, http.MethodPost, "/api/completions", body, bartender)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created model.Completion
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	for name, hdr := range map[string]map[string]string{"guest": nil, "cook": cook} {
		if rec := do(t, h, http.MethodDelete, "/api/completions/"+created.ID, nil, hdr); rec.Code != http.StatusNotFound {
			t.Errorf("%s delete status = %d, want 404", name, rec.Code)
		}
		if rec := do(t, h, http.MethodPost, "/api/alerts/bar-stock@2024-01-22/dismiss", nil, hdr); rec.Code != http.StatusNotFound {
			t.Errorf("%s dismiss status = %d, want 404", name, rec.Code)
		}
	}
	if list, _ := db.ListCompletions(context.Background()); len(list) != 1 {
		t.Errorf("record deleted by an unauthorized viewer")
	}
	if dismissed, _ := db.Dismissals().List(); len(dismissed) != 0 {
		t.Errorf("alert dismissed by an unauthorized viewer: %v", dismissed)
	}

	if rec := do(t, h, http.MethodPost, "/api/alerts/bar-stock@2024-01-22/dismiss", nil, bartender); rec.Code != http.StatusOK {
		t.Errorf("bartender dismiss status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/completions/"+created.ID, nil, bartender); rec.Code != http.StatusNoContent {
		t.Errorf("bartender delete status = %d", rec.Code)
	}
}

func TestDismiss_BadKey(t *testing.T) {
	s, _ := newTestServer(t, nil)
	for _, key := range []string{"bar-stock", "bar-stock@tomorrow"} {
		if rec := do(t, s.Handler(), http.MethodPost, "/api/alerts/"+key+"/dismiss", nil, manager); rec.Code != http.StatusBadRequest {
			t.Errorf("key %q status = %d, want 400", key, rec.Code)
		}
	}
}
