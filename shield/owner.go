package shield

import (
	"net/http"
	"strings"

	"github.com/hazyhaar/nfsebot/kit"
)

// Owner headers set by the authenticating proxy in front of the API.
const (
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

// Owner copies the caller identity from the proxy headers into the context.
// Requests without an identity pass through with an empty owner; handlers
// that need one decide how to react.
func Owner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserEmail)))
		if email == "" {
			next.ServeHTTP(w, r)
			return
		}
		name := strings.TrimSpace(r.Header.Get(HeaderUserName))
		next.ServeHTTP(w, r.WithContext(kit.WithOwner(r.Context(), email, name)))
	})
}
