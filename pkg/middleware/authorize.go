package middleware

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/capability"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/httputil"
)

// Authorizer answers capability checks. *grants.Resolver satisfies it.
type Authorizer interface {
	Allowed(ctx context.Context, userID, spaceID string, code capability.Code) (bool, error)
}

// RequireCapability gates a route on the actor holding the capability in the
// space named by the {spaceID} path variable or the X-Space-ID header.
func RequireCapability(authorizer Authorizer, code capability.Code) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := GetActor(r)
			if actor == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			spaceID := mux.Vars(r)["spaceID"]
			if spaceID == "" {
				spaceID = r.Header.Get("X-Space-ID")
			}
			if spaceID == "" {
				httputil.WriteBadRequest(w, "space not specified")
				return
			}

			allowed, err := authorizer.Allowed(r.Context(), actor.UserID, spaceID, code)
			if err != nil {
				httputil.WriteDomainError(w, err)
				return
			}
			if !allowed {
				httputil.WriteErrorMessage(w, http.StatusForbidden, "insufficient capabilities")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
