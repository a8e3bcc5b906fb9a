package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/craddockd/msgwall/internal/httpmw"
	"github.com/craddockd/msgwall/internal/log"
	"github.com/craddockd/msgwall/internal/probe"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()

	ClientIPOpts httpmw.ClientIPOptions
	MaxBodyBytes int64

	// Gate middleware, composed by main. Nil entries are skipped.
	DenylistMW  func(http.Handler) http.Handler
	TimeGateMW  func(http.Handler) http.Handler
	RoleGateMW  func(http.Handler) http.Handler
	RateLimitMW func(http.Handler) http.Handler
	MetricsMW   func(http.Handler) http.Handler

	// APIRoutes registers the application endpoints on the router.
	APIRoutes func(chi.Router)

	Health    probe.Probe
	Readiness probe.Probe
}
