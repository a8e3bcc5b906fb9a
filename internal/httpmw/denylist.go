package httpmw

import (
	"net/http"
)

// Blocker answers whether a client address is blocked. Implemented by
// denylist.List.
type Blocker interface {
	Blocked(ip string) bool
}

// Denylist rejects requests from blocked client addresses with 403. It must
// run after ClientIP so the context carries the resolved address; a request
// without one passes through rather than failing closed on a wiring bug.
func Denylist(b Blocker, onDenied func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if b == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIPFromContext(r.Context())
			if ip != "" && b.Blocked(ip) {
				if onDenied != nil {
					onDenied()
				}
				writeJSONError(w, http.StatusForbidden, "blocked", "client address is blocked")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
