package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"facilitypm/internal/types"
)

// authPublicPaths bypass AuthMiddleware.
var authPublicPaths = map[string]bool{
	"/health": true,
}

// AuthMiddleware resolves the bearer token to a Principal and stores it in
// the request context with types.WithPrincipal. Failures produce 401 with one
// of auth_token_missing, auth_token_invalid or auth_token_expired.
//
// When no Authenticator is configured the middleware passes through.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil || authPublicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authorization header is required")
			return
		}
		token := extractBearerToken(header)
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		principal, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if principal == nil {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		ctx := types.WithPrincipal(r.Context(), *principal)
		logger := types.LoggerFromContext(ctx, s.Logger).With(slog.String("actor_id", principal.Actor.AuditID()))
		ctx = types.WithLogger(ctx, logger)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken returns the token of a "Bearer <token>" header, with a
// case-insensitive scheme per RFC 7235, or "" when the format is wrong.
func extractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// handleAuthError maps an Authenticator failure to a 401. Only expired and
// invalid token codes are passed through; any other failure is logged and
// reported as auth_token_invalid.
func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := types.ErrCodeAuthTokenInvalid, "Authentication failed"
	level := slog.LevelError

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthTokenExpired:
			code, msg, level = appErr.Code, "Authentication token has expired", slog.LevelWarn
		case types.ErrCodeAuthTokenInvalid:
			msg, level = "Invalid authentication token", slog.LevelWarn
		}
	}

	s.Logger.Log(r.Context(), level, "authentication failed",
		slog.String("code", string(code)),
		slog.String("path", r.URL.Path),
		slog.Any("error", err),
	)
	s.writeAuthError(w, r, code, msg)
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{Error: ErrorDetail{
		Code:      string(code),
		Message:   message,
		RequestID: types.GetRequestID(r.Context()),
	}})
}

// RequireRole returns middleware that admits principals holding at least one
// of roles. A request without a principal gets 401; one with the wrong roles
// gets 403 permission_role_insufficient. System principals always pass.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := types.GetPrincipal(r.Context())
			if !ok {
				Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
				return
			}
			if !principal.HasAnyRole(roles...) {
				Error(w, r, types.NewAppErrorWithDetails(types.ErrCodePermissionRole,
					"Insufficient role for this operation", nil,
					map[string]any{"required_roles": roles}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
