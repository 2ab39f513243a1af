package middleware

import (
	"context"
	"net/http"
	"regexp"
)

// UserHeader selects the user a request acts for. Authentication happens
// upstream; this service trusts the header.
const UserHeader = "X-User-ID"

type userKey struct{}

var validUserID = regexp.MustCompile(`^[A-Za-z0-9._@-]{1,128}$`)

// NewUserScope returns a middleware that stores the request's user id in
// the context. Requests without the header act for defaultUser; malformed
// ids are rejected with 400.
func NewUserScope(defaultUser string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(UserHeader)
			if id == "" {
				id = defaultUser
			}
			if !validUserID.MatchString(id) {
				http.Error(w, "invalid "+UserHeader, http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
		})
	}
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID returns the user id stored by NewUserScope, or "" if none.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}
