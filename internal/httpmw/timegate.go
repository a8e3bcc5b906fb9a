package httpmw

import (
	"fmt"
	"net/http"
	"time"
)

// TimeGateOptions configures the access-hours gate.
type TimeGateOptions struct {
	// OpenHour and CloseHour bound the daily access window in the server's
	// local time: requests are admitted when OpenHour <= hour < CloseHour.
	// Defaults to 6 and 21.
	OpenHour  int
	CloseHour int

	// Now overrides the clock for tests.
	Now func() time.Time

	// OnDenied is invoked once per rejected request for metrics.
	OnDenied func()
}

// TimeGate rejects requests outside the configured daily hours with 403.
// A window where OpenHour >= CloseHour disables the gate entirely rather
// than locking everyone out.
func TimeGate(opts TimeGateOptions) func(http.Handler) http.Handler {
	if opts.OpenHour == 0 && opts.CloseHour == 0 {
		opts.OpenHour, opts.CloseHour = 6, 21
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	msg := fmt.Sprintf("service is available between %02d:00 and %02d:00", opts.OpenHour, opts.CloseHour)

	return func(next http.Handler) http.Handler {
		if opts.OpenHour >= opts.CloseHour {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hour := now().Hour()
			if hour < opts.OpenHour || hour >= opts.CloseHour {
				if opts.OnDenied != nil {
					opts.OnDenied()
				}
				writeJSONError(w, http.StatusForbidden, "outside_access_hours", msg)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
