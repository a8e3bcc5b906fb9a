package httpmw

import (
	"context"
	"net/http"
	"strings"
)

// Identity is the caller identity asserted by the authenticating proxy in
// front of this server. The proxy strips and re-sets these headers, so the
// values are trusted as-is here.
type Identity struct {
	User string
	Role string
}

// Role values the role gate recognizes.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleUser      = "user"
)

type identityKey struct{}

// WithIdentity attaches a caller identity to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	if id.User == "" {
		return ctx
	}
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller identity, or a zero Identity for
// anonymous requests.
func IdentityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

// ExtractIdentity reads the X-User and X-User-Role headers into the request
// context. An absent X-User leaves the request anonymous; the role defaults
// to "user" when X-User is set without a role.
func ExtractIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get("X-User"))
		if user == "" {
			next.ServeHTTP(w, r)
			return
		}
		role := strings.ToLower(strings.TrimSpace(r.Header.Get("X-User-Role")))
		if role == "" {
			role = RoleUser
		}
		ctx := WithIdentity(r.Context(), Identity{User: user, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RoleGateOptions configures the role gate.
type RoleGateOptions struct {
	// Prefixes are URL path prefixes that require an elevated role.
	Prefixes []string

	// Roles allowed through the gate. Defaults to admin and moderator.
	Roles []string

	// OnDenied is invoked with the denial reason ("unauthenticated" or
	// "forbidden") for metrics.
	OnDenied func(reason string)
}

// RoleGate restricts the configured path prefixes to callers holding one of
// the allowed roles. Anonymous requests get 401, authenticated requests with
// the wrong role get 403. Paths outside the prefixes pass through untouched.
func RoleGate(opts RoleGateOptions) func(http.Handler) http.Handler {
	roles := opts.Roles
	if len(roles) == 0 {
		roles = []string{RoleAdmin, RoleModerator}
	}
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[strings.ToLower(role)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !pathProtected(r.URL.Path, opts.Prefixes) {
				next.ServeHTTP(w, r)
				return
			}

			id := IdentityFromContext(r.Context())
			if id.User == "" {
				if opts.OnDenied != nil {
					opts.OnDenied("unauthenticated")
				}
				writeJSONError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}
			if _, ok := allowed[id.Role]; !ok {
				if opts.OnDenied != nil {
					opts.OnDenied("forbidden")
				}
				writeJSONError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func pathProtected(p string, prefixes []string) bool {
	for _, pre := range prefixes {
		if pre == "" {
			continue
		}
		if strings.HasPrefix(p, pre) {
			return true
		}
	}
	return false
}
