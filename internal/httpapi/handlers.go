package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/middleware"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 << 10

type assertionRequest struct {
	Assertion string `json:"assertion"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type redeemRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type userResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	Role         string `json:"role"`
	SupervisorID string `json:"supervisorId,omitempty"`
}

type sessionResponse struct {
	ExpiresAt string `json:"expiresAt"`
}

type loginResponse struct {
	User        userResponse    `json:"user"`
	Session     sessionResponse `json:"session"`
	Provisioned bool            `json:"provisioned"`
}

type meResponse struct {
	User    userResponse    `json:"user"`
	Session sessionResponse `json:"session"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type forceResetResponse struct {
	UserID            string `json:"userId"`
	TemporaryPassword string `json:"temporaryPassword"`
}

func toUserResponse(u goIdentity.User) userResponse {
	return userResponse{
		ID:           u.ID,
		Email:        u.Email,
		DisplayName:  u.DisplayName,
		Role:         u.Role.String(),
		SupervisorID: u.SupervisorID,
	}
}

func toSessionResponse(info goIdentity.SessionInfo) sessionResponse {
	return sessionResponse{ExpiresAt: info.ExpiresAt.UTC().Format(time.RFC3339)}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		fail(w, r, http.StatusBadRequest, "INVALID_JSON", "request body must be valid JSON")
		return false
	}
	return true
}

func (s *server) loginAssertion(w http.ResponseWriter, r *http.Request) {
	var req assertionRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.engine.LoginWithAssertion(r.Context(), req.Assertion)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeLogin(w, r, res)
}

func (s *server) loginPassword(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.engine.LoginWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeLogin(w, r, res)
}

func (s *server) writeLogin(w http.ResponseWriter, r *http.Request, res goIdentity.LoginResult) {
	s.cookie.set(w, res.Session)
	success(w, r, http.StatusOK, loginResponse{
		User:        toUserResponse(res.User),
		Session:     toSessionResponse(res.Session),
		Provisioned: res.Provisioned,
	})
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())
	if err := s.engine.DestroySession(r.Context(), info.SessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.cookie.clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())
	u, err := s.engine.GetUser(r.Context(), info.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	success(w, r, http.StatusOK, meResponse{User: toUserResponse(u), Session: toSessionResponse(info)})
}

func (s *server) requestReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.RequestReset(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	success(w, r, http.StatusOK, messageResponse{Message: goIdentity.MessageResetRequested})
}

func (s *server) redeemReset(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.RedeemReset(r.Context(), req.Token, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	success(w, r, http.StatusOK, messageResponse{Message: "password updated"})
}

func (s *server) forceReset(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())
	target := chi.URLParam(r, "userID")

	temp, err := s.engine.AdminForcedReset(r.Context(), info.SessionID, target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	success(w, r, http.StatusOK, forceResetResponse{UserID: target, TemporaryPassword: temp})
}

// writeError maps engine errors onto a status and one of the fixed public
// messages. Internal detail is logged, never returned.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "error", err, "request_id", RequestID(r.Context()))
	}
	if goIdentity.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	fail(w, r, status, code, msg)
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, goIdentity.ErrThrottled):
		return http.StatusTooManyRequests, "THROTTLED", goIdentity.MessageThrottled
	case errors.Is(err, goIdentity.ErrStoreUnavailable), errors.Is(err, goIdentity.ErrDeliveryFailed):
		return http.StatusServiceUnavailable, "UNAVAILABLE", goIdentity.MessageUnavailable
	case errors.Is(err, goIdentity.ErrPasswordRequired):
		return http.StatusBadRequest, "PASSWORD_REQUIRED", "a new password is required"
	case errors.Is(err, goIdentity.ErrPasswordTooLong):
		return http.StatusBadRequest, "PASSWORD_TOO_LONG", "password is too long"
	case errors.Is(err, goIdentity.ErrTokenFault):
		return http.StatusBadRequest, "LINK_INVALID", goIdentity.MessageLinkInvalid
	case errors.Is(err, goIdentity.ErrInvalidAssertion),
		errors.Is(err, goIdentity.ErrAssertionRejected),
		errors.Is(err, goIdentity.ErrInvalidCredentials):
		return http.StatusUnauthorized, "AUTH_FAILED", goIdentity.MessageAuthFailed
	case errors.Is(err, goIdentity.ErrIdentityDisabled):
		return http.StatusNotFound, "NOT_FOUND", "identity sign-in is not enabled"
	case errors.Is(err, goIdentity.ErrUserNotFound):
		return http.StatusNotFound, "NOT_FOUND", "user not found"
	case errors.Is(err, goIdentity.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", goIdentity.MessageUnauthorized
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "an unexpected error occurred"
	}
}
