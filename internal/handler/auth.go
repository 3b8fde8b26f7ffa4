package handler

import (
	"context"
	"net/http"

	"github.com/unboundops/be-cmd-gateway/internal/errors"
	"github.com/unboundops/be-cmd-gateway/internal/repository"
)

type contextKey string

const userContextKey contextKey = "auth_user"

// authenticate wraps a handler with X-API-Key resolution. The resolved user
// is placed on the request context for handlers to read via currentUser.
func (h *HTTPHandler) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := h.users.Authenticate(r.Context(), r.Header.Get("X-API-Key"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next(w, r.WithContext(ctx))
	}
}

// requireAdmin additionally rejects non-admin callers with 403.
func (h *HTTPHandler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return h.authenticate(func(w http.ResponseWriter, r *http.Request) {
		if currentUser(r).Role != repository.RoleAdmin {
			h.writeError(w, r, errors.New(errors.ErrCodeForbidden, "admin role required"))
			return
		}
		next(w, r)
	})
}

// currentUser returns the authenticated user. Only valid behind authenticate.
func currentUser(r *http.Request) *repository.User {
	user, _ := r.Context().Value(userContextKey).(*repository.User)
	return user
}
