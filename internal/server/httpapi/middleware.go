package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/server/auth"
)

type identityKey struct{}

// IdentityFrom returns the caller established by the bearer middleware.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(auth.Identity)
	return id, ok
}

func withIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// authenticate requires a valid "Authorization: Bearer <jwt>" header.
func (h *handlers) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(common.AuthorizationHeader)
		token, ok := strings.CutPrefix(header, common.BearerPrefix)
		if !ok || token == "" {
			h.fail(w, r, common.ErrNotAuthenticated)
			return
		}
		id, err := auth.ParseToken(token, h.Secret)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// caller is only used behind authenticate.
func caller(r *http.Request) auth.Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}
