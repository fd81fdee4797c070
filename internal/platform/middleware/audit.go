package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vetcare/vetcare/internal/platform/auth"
)

// AuditEntry records one calendar write: who changed what, and the outcome.
type AuditEntry struct {
	RequestID  string
	UserID     string
	UserRoles  []string
	VetID      string
	ClientID   string
	Action     string
	Resource   string
	ResourceID string
	Method     string
	Path       string
	IPAddress  string
	StatusCode int
	Timestamp  time.Time
}

type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every state-changing request under /api/v1. Reads are not
// audited. Recorders, when given, receive each entry as well.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") || !isWrite(req.Method) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			ctx := req.Context()
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.Resource, entry.ResourceID, entry.Action = describe(req.Method, req.URL.Path)
			if id := auth.VetIDFromContext(ctx); id != uuid.Nil {
				entry.VetID = id.String()
			}
			if id := auth.ClientIDFromContext(ctx); id != uuid.Nil {
				entry.ClientID = id.String()
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("vet_id", entry.VetID).
				Str("client_id", entry.ClientID).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("calendar_write")

			return err
		}
	}
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// describe derives resource, id and action from an /api/v1 path:
//
//	POST   /api/v1/appointments/{id}/accept -> appointments, {id}, accept
//	DELETE /api/v1/holidays/{id}            -> holidays, {id}, delete
//	POST   /api/v1/weekly-slots             -> weekly-slots, "", create
func describe(method, path string) (resource, id, action string) {
	segs := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	resource = segs[0]
	if len(segs) > 1 {
		id = segs[1]
	}
	switch {
	case len(segs) > 2:
		action = segs[2]
	case method == http.MethodDelete:
		action = "delete"
	case method == http.MethodPost && len(segs) == 2 && segs[1] == "requests":
		id, action = "", "request"
	default:
		action = "create"
	}
	return resource, id, action
}
