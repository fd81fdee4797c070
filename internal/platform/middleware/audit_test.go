package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vetcare/vetcare/internal/platform/auth"
)

func auditCall(t *testing.T, method, path string, ctx context.Context, status int) []AuditEntry {
	t.Helper()
	var got []AuditEntry
	rec := AuditRecorderFunc(func(e AuditEntry) error {
		got = append(got, e)
		return nil
	})

	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-123")

	err := Audit(zerolog.Nop(), rec)(func(c echo.Context) error {
		if status >= 400 {
			return echo.NewHTTPError(status, "nope")
		}
		return c.NoContent(status)
	})(c)
	if status < 400 && err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return got
}

func TestAudit_RecordsWrites(t *testing.T) {
	vetID := uuid.New()
	ctx := context.WithValue(context.Background(), auth.UserIDKey, "vet-user")
	ctx = context.WithValue(ctx, auth.VetIDKey, vetID)
	apptID := uuid.NewString()

	got := auditCall(t, http.MethodPost, "/api/v1/appointments/"+apptID+"/accept", ctx, http.StatusOK)
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	e := got[0]
	if e.UserID != "vet-user" || e.VetID != vetID.String() || e.ClientID != "" {
		t.Errorf("unexpected actor in %+v", e)
	}
	if e.Resource != "appointments" || e.ResourceID != apptID || e.Action != "accept" {
		t.Errorf("unexpected target in %+v", e)
	}
	if e.RequestID != "req-123" || e.StatusCode != http.StatusOK {
		t.Errorf("unexpected request data in %+v", e)
	}
}

func TestAudit_RecordsFailedStatus(t *testing.T) {
	got := auditCall(t, http.MethodDelete, "/api/v1/holidays/abc", nil, http.StatusForbidden)
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].StatusCode != http.StatusForbidden || got[0].Action != "delete" {
		t.Errorf("unexpected entry %+v", got[0])
	}
}

func TestAudit_SkipsReadsAndOtherPaths(t *testing.T) {
	if got := auditCall(t, http.MethodGet, "/api/v1/appointments/abc", nil, http.StatusOK); len(got) != 0 {
		t.Errorf("reads should not be audited, got %d", len(got))
	}
	if got := auditCall(t, http.MethodPost, "/health", nil, http.StatusOK); len(got) != 0 {
		t.Errorf("non-api paths should not be audited, got %d", len(got))
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		method, path         string
		resource, id, action string
	}{
		{http.MethodPost, "/api/v1/weekly-slots", "weekly-slots", "", "create"},
		{http.MethodDelete, "/api/v1/holidays/h1", "holidays", "h1", "delete"},
		{http.MethodPost, "/api/v1/appointments/a1/cancel", "appointments", "a1", "cancel"},
		{http.MethodPost, "/api/v1/appointments/requests", "appointments", "", "request"},
	}
	for _, tt := range tests {
		r, id, a := describe(tt.method, tt.path)
		if r != tt.resource || id != tt.id || a != tt.action {
			t.Errorf("describe(%s %s) = %s %s %s", tt.method, tt.path, r, id, a)
		}
	}
}
