package httpmw

import (
	"net/http"

	"github.com/craddockd/msgwall/internal/log"
	"github.com/craddockd/msgwall/internal/xerrors"
)

// Recover converts handler panics into 500 responses instead of tearing down
// the connection. The panic value and stack are logged through logger, and
// onPanic (if non-nil) is invoked for metrics.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}

				if onPanic != nil {
					onPanic()
				}

				var err error
				switch v := rec.(type) {
				case error:
					err = xerrors.WithStack(v)
				default:
					err = xerrors.Newf("panic: %v", v)
				}

				L := logger.With(
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
				)
				L.Error(r.Context(), err, "httpserver panic recovered")

				// headers may already be gone; best effort
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
