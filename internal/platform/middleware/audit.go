package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/chw/casereport/internal/platform/auth"
	"github.com/chw/casereport/internal/platform/db"
)

// AuditEntry records who touched case data, through which view, and how.
type AuditEntry struct {
	UserID     string
	Tenant     string
	Scope      string // all, mine, or empty for non-case routes
	Action     string // read, create, update, delete
	CaseID     string
	Method     string
	Path       string
	Route      string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// Audit logs one case_access line for every /api/v1 request after the
// handler has run, so the final status is known.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			entry := buildAuditEntry(c, err)
			logger.Info().
				Str("type", "case_access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", auth.RolesFromContext(req.Context())).
				Str("tenant", entry.Tenant).
				Str("scope", entry.Scope).
				Str("action", entry.Action).
				Str("case_id", entry.CaseID).
				Str("method", entry.Method).
				Str("route", entry.Route).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Time("at", entry.Timestamp).
				Msg("case_access")

			return err
		}
	}
}

func buildAuditEntry(c echo.Context, err error) AuditEntry {
	req := c.Request()
	entry := AuditEntry{
		UserID:     auth.UserIDFromContext(req.Context()),
		Tenant:     db.TenantFromContext(req.Context()),
		Scope:      scopeFromPath(req.URL.Path),
		Action:     httpMethodToAction(req.Method),
		CaseID:     c.Param("id"),
		Method:     req.Method,
		Path:       req.URL.Path,
		Route:      c.Path(),
		IPAddress:  c.RealIP(),
		StatusCode: c.Response().Status,
		Timestamp:  time.Now().UTC(),
	}
	if he, ok := err.(*echo.HTTPError); ok {
		entry.StatusCode = he.Code
	}
	entry.RequestID, _ = c.Get("request_id").(string)
	return entry
}

func scopeFromPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/my-cases"):
		return "mine"
	case strings.HasPrefix(path, "/api/v1/cases"):
		return "all"
	default:
		return ""
	}
}

func httpMethodToAction(method string) string {
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
