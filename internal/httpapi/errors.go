package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	cerrors "github.com/yunfie-twitter/ytdlp-api/internal/errors"
)

// errorEnvelope is the stable JSON shape every non-2xx response uses.
type errorEnvelope struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
}

// statusForKind maps a Kind onto the HTTP status spec.md §7 assigns it.
// Central and one-way, the way the teacher's circuit breaker constructs a
// domain error and leaves the status decision to whatever sits downstream
// of it.
func statusForKind(k cerrors.Kind) int {
	switch k {
	case cerrors.KindValidation:
		return http.StatusBadRequest
	case cerrors.KindNotFound:
		return http.StatusNotFound
	case cerrors.KindInvalidState:
		return http.StatusConflict
	case cerrors.KindRateLimited:
		return http.StatusTooManyRequests
	case cerrors.KindAuth:
		return http.StatusUnauthorized
	case cerrors.KindTimeout:
		return http.StatusGatewayTimeout
	case cerrors.KindResourceExceeded:
		return http.StatusInsufficientStorage
	case cerrors.KindExternal:
		return http.StatusBadGateway
	case cerrors.KindPathTraversal:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// defaultCode yields a stable error_code when the caller didn't supply a
// more specific one (e.g. INVALID_URL, TASK_NOT_FOUND).
func defaultCode(k cerrors.Kind) string {
	switch k {
	case cerrors.KindValidation:
		return "VALIDATION_ERROR"
	case cerrors.KindNotFound:
		return "NOT_FOUND"
	case cerrors.KindInvalidState:
		return "INVALID_STATE"
	case cerrors.KindRateLimited:
		return "RATE_LIMIT_EXCEEDED"
	case cerrors.KindAuth:
		return "AUTH_ERROR"
	case cerrors.KindTimeout:
		return "TIMEOUT"
	case cerrors.KindResourceExceeded:
		return "RESOURCE_EXCEEDED"
	case cerrors.KindExternal:
		return "EXTERNAL_ERROR"
	case cerrors.KindPathTraversal:
		return "PATH_TRAVERSAL"
	default:
		return "INTERNAL_ERROR"
	}
}

// asAPIError extracts a *cerrors.Error from err, falling back to a
// KindInternal wrapper with no code so callers always get a stable shape.
func asAPIError(err error) *cerrors.Error {
	if apiErr, ok := err.(*cerrors.Error); ok {
		return apiErr
	}
	return cerrors.New(cerrors.KindInternal, "", err)
}

// writeError renders err as the stable JSON envelope and sets the mapped
// HTTP status. Internal errors are logged with full context server-side
// and never leak their wrapped cause to the client (spec.md §7).
func (s *Server) writeError(c *gin.Context, err error) {
	apiErr := asAPIError(err)
	code := apiErr.Code
	if code == "" {
		code = defaultCode(apiErr.Kind)
	}
	status := statusForKind(apiErr.Kind)

	if apiErr.Kind == cerrors.KindInternal {
		s.logger.Error("internal error on %s %s: %v", c.Request.Method, c.Request.URL.Path, apiErr)
		c.JSON(status, errorEnvelope{Error: "internal server error", ErrorCode: code})
		return
	}
	if apiErr.Kind == cerrors.KindPathTraversal {
		s.logger.Warn("path traversal attempt on %s %s: %v", c.Request.Method, c.Request.URL.Path, apiErr)
	}
	c.JSON(status, errorEnvelope{Error: apiErr.Error(), ErrorCode: code})
}
