package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
)

// AuditEntry captures who touched which clinic resource, when, from where,
// and what they did to it.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string
	ResourceID string
	Action     string // read, create, update, delete, search
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries. The middleware falls back to
// structured logging when no recorder is supplied, so tests can plug in a
// mock and production can ship entries to durable storage.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit returns Echo middleware that records every access to the clinic API:
// which user touched which resource collection (patients, doctors,
// schedules, appointments, availability), the action, and the outcome.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			rid, _ := c.Get("request_id").(string)
			resource, resourceID := parseResource(path)

			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Resource:   resource,
				ResourceID: resourceID,
				Action:     httpMethodToAction(req.Method, resourceID == ""),
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				Path:       path,
				Method:     req.Method,
				Timestamp:  time.Now().UTC(),
				RequestID:  rid,
				StatusCode: c.Response().Status,
			}

			recorded := false
			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", rid).Msg("audit record failed")
				} else {
					recorded = true
				}
			}

			if !recorded {
				logger.Info().
					Str("request_id", entry.RequestID).
					Str("user_id", entry.UserID).
					Strs("roles", entry.UserRoles).
					Str("resource", entry.Resource).
					Str("resource_id", entry.ResourceID).
					Str("action", entry.Action).
					Str("ip", entry.IPAddress).
					Int("status", entry.StatusCode).
					Msg("audit")
			}

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

// httpMethodToAction maps an HTTP method onto the recorded audit action.
// Collection-level GETs count as searches, item-level GETs as reads.
func httpMethodToAction(method string, collection bool) string {
	switch method {
	case http.MethodGet:
		if collection {
			return "search"
		}
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// parseResource splits an API path into its resource collection and, when
// the next segment is a UUID, the resource id. Action suffixes such as
// /appointments/<id>/cancel resolve to the appointment itself.
func parseResource(path string) (resource, resourceID string) {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "", ""
	}
	resource = segments[0]
	if len(segments) > 1 {
		if _, err := uuid.Parse(segments[1]); err == nil {
			resourceID = segments[1]
		}
	}
	return resource, resourceID
}
