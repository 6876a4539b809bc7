package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/scheduler/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func runAudit(t *testing.T, rec *mockRecorder, method, path string, handler echo.HandlerFunc) AuditEntry {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "user-1", []string{"provider"}, true))
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-9")
	c.Set("clinic_id", "north")

	_ = Audit(zerolog.Nop(), rec)(handler)(c)
	if len(rec.entries) == 0 {
		t.Fatal("expected an audit entry")
	}
	return rec.entries[len(rec.entries)-1]
}

func TestAudit_TransitionEntry(t *testing.T) {
	rec := &mockRecorder{}
	id := uuid.NewString()
	entry := runAudit(t, rec, http.MethodPost, "/api/v1/appointments/"+id+"/cancel", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	if entry.Resource != "appointments" || entry.ResourceID != id || entry.Action != "cancel" {
		t.Errorf("unexpected entry %+v", entry)
	}
	if entry.UserID != "user-1" || entry.RequestID != "req-9" || entry.ClinicID != "north" || entry.StatusCode != 200 {
		t.Errorf("missing request metadata %+v", entry)
	}
}

func TestAudit_StatusFromError(t *testing.T) {
	rec := &mockRecorder{}
	entry := runAudit(t, rec, http.MethodPut, "/api/v1/appointments/"+uuid.NewString(), func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "overlap")
	})
	if entry.StatusCode != http.StatusConflict || entry.Action != "update" {
		t.Errorf("unexpected entry %+v", entry)
	}
}

func TestAudit_PatientID(t *testing.T) {
	rec := &mockRecorder{}
	pid := uuid.NewString()
	entry := runAudit(t, rec, http.MethodGet, "/api/v1/patients/"+pid+"/appointments", func(c echo.Context) error { return nil })
	if entry.PatientID != pid || entry.Action != "read" {
		t.Errorf("unexpected entry %+v", entry)
	}

	entry = runAudit(t, rec, http.MethodGet, "/api/v1/appointments?patient_id="+pid, func(c echo.Context) error { return nil })
	if entry.PatientID != pid || entry.ResourceID != "" {
		t.Errorf("expected patient from query, got %+v", entry)
	}
}

func TestAudit_SkipsNonAPIAndSurvivesRecorderError(t *testing.T) {
	rec := &mockRecorder{err: errors.New("disk full")}
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())
	if err := Audit(zerolog.Nop(), rec)(func(c echo.Context) error { return nil })(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.entries) != 0 {
		t.Error("health checks must not be audited")
	}

	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/api/v1/appointments/x", nil), httptest.NewRecorder())
	if err := Audit(zerolog.Nop(), rec)(func(c echo.Context) error { return nil })(c); err != nil {
		t.Errorf("recorder failure must not fail the request: %v", err)
	}
	if rec.entries[0].ResourceID != "" || rec.entries[0].Action != "delete" {
		t.Errorf("unexpected entry %+v", rec.entries[0])
	}
}

func TestSplitAPIPath(t *testing.T) {
	id := uuid.NewString()
	tests := []struct {
		path, resource, id, sub string
	}{
		{"/api/v1/appointments", "appointments", "", ""},
		{"/api/v1/appointments/" + id, "appointments", id, ""},
		{"/api/v1/appointments/" + id + "/confirm", "appointments", id, "confirm"},
		{"/api/v1/business-hours", "business-hours", "", ""},
		{"/api/v1/", "unknown", "", ""},
	}
	for _, tt := range tests {
		r, i, s := splitAPIPath(tt.path)
		if r != tt.resource || i != tt.id || s != tt.sub {
			t.Errorf("splitAPIPath(%q) = %q,%q,%q", tt.path, r, i, s)
		}
	}
}
