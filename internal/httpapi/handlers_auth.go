package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yunfie-twitter/ytdlp-api/internal/auth/domain"
	cerrors "github.com/yunfie-twitter/ytdlp-api/internal/errors"
)

// handleIssueKey is POST /api/auth/issue-key: password-gated, writes C2.
func (s *Server) handleIssueKey(c *gin.Context) {
	var req issueKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, cerrors.New(cerrors.KindValidation, "INVALID_REQUEST", err))
		return
	}

	token, record, err := s.auth.IssueKey(c.Request.Context(), req.Password, req.Subject, req.Description)
	if err != nil {
		if err == domain.ErrInvalidCredentials {
			s.writeError(c, cerrors.New(cerrors.KindAuth, "INVALID_ISSUE_PASSWORD", nil))
			return
		}
		s.writeError(c, cerrors.New(cerrors.KindExternal, "KEY_STORE_ERROR", err))
		return
	}
	c.JSON(http.StatusOK, issueKeyResponse{Token: token, KeyID: record.KeyID, Active: record.Active})
}

// handleRevokeKey is POST /api/auth/revoke-key: deletes the C2 entry.
func (s *Server) handleRevokeKey(c *gin.Context) {
	var req revokeKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, cerrors.New(cerrors.KindValidation, "INVALID_REQUEST", err))
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		s.writeError(c, cerrors.New(cerrors.KindValidation, "MISSING_TOKEN", nil))
		return
	}

	if err := s.auth.RevokeKey(c.Request.Context(), req.Token); err != nil {
		if err == domain.ErrKeyNotFound {
			s.writeError(c, cerrors.New(cerrors.KindNotFound, "KEY_NOT_FOUND", nil))
			return
		}
		s.writeError(c, cerrors.New(cerrors.KindExternal, "KEY_STORE_ERROR", err))
		return
	}
	c.Status(http.StatusNoContent)
}
