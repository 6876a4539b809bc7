package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/scheduler/internal/platform/auth"
)

// AuditEntry records who touched which clinic record and how it ended.
type AuditEntry struct {
	RequestID  string
	UserID     string
	UserRoles  []string
	ClinicID   string
	Resource   string // appointments, patients, providers, business-hours
	ResourceID string
	PatientID  string
	Action     string // read, create, update, delete, confirm, cancel, complete
	Method     string
	Path       string
	IPAddress  string
	UserAgent  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every /api/v1 request after it completes. Entries are also
// handed to the first recorder, if any; recorder failures are logged and
// never fail the request.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if !strings.HasPrefix(path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			req := c.Request()
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}
			resource, resourceID, sub := splitAPIPath(path)
			entry := AuditEntry{
				RequestID:  requestID(c),
				UserID:     auth.UserIDFromContext(req.Context()),
				UserRoles:  auth.RolesFromContext(req.Context()),
				Resource:   resource,
				ResourceID: resourceID,
				Action:     auditAction(req.Method, sub),
				Method:     req.Method,
				Path:       path,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}
			if v, ok := c.Get("clinic_id").(string); ok {
				entry.ClinicID = v
			}
			if resource == "patients" {
				entry.PatientID = resourceID
			} else if p := c.QueryParam("patient_id"); p != "" {
				entry.PatientID = p
			}

			if len(recorders) > 0 && recorders[0] != nil {
				if recErr := recorders[0].RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("clinic_id", entry.ClinicID).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Int("status", entry.StatusCode).
				Str("remote_ip", entry.IPAddress).
				Msg("access")

			return err
		}
	}
}

// splitAPIPath breaks /api/v1/<resource>/<id>/<sub> into its parts. The id
// is only returned when it parses as a UUID.
func splitAPIPath(path string) (resource, id, sub string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	resource = segments[0]
	if resource == "" {
		resource = "unknown"
	}
	if len(segments) > 1 {
		if _, err := uuid.Parse(segments[1]); err == nil {
			id = segments[1]
		}
	}
	if len(segments) > 2 {
		sub = segments[2]
	}
	return resource, id, sub
}

func auditAction(method, sub string) string {
	switch sub {
	case "confirm", "cancel", "complete":
		if method == http.MethodPost {
			return sub
		}
	}
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}
