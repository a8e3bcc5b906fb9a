package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/craddockd/msgwall/internal/log"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort    int
	AdminPort   int
	TrustedHops int
	MaxBodyKB   int

	RateLimit    int
	RateWindow   time.Duration
	RateStrategy string
	RateMaxKeys  int
	RateKeyTTL   time.Duration
	RedisAddr    string

	GateOpenHour  int
	GateCloseHour int

	ProtectedPrefixes string
	ProtectedRoles    string

	EnableLimitOverrides bool
	LimitSSMParam        string
	EnableDenylist       bool
	DenylistS3Bucket     string
	DenylistS3Key        string
	DenylistRefresh      time.Duration

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted reverse proxies (0 ignores X-Forwarded-For)")
	fs.IntVar(&c.MaxBodyKB, "max-body-kb", 64, "max request body size in KB")

	fs.IntVar(&c.RateLimit, "rate-limit", 5, "max write requests per client per window")
	fs.DurationVar(&c.RateWindow, "rate-window", time.Minute, "rate limit window")
	fs.StringVar(&c.RateStrategy, "rate-strategy", "sliding", "sliding|bucket|redis")
	fs.IntVar(&c.RateMaxKeys, "rate-max-keys", 100000, "max tracked client keys for in-memory stores (0 = unlimited)")
	fs.DurationVar(&c.RateKeyTTL, "rate-key-ttl", 5*time.Minute, "idle client key eviction TTL for in-memory stores")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis host:port for rate-strategy=redis")

	fs.IntVar(&c.GateOpenHour, "gate-open-hour", 6, "daily access window opens at this hour (local time)")
	fs.IntVar(&c.GateCloseHour, "gate-close-hour", 21, "daily access window closes at this hour (open >= close disables the gate)")

	fs.StringVar(&c.ProtectedPrefixes, "protected-prefixes", "/api/admin", "comma-separated path prefixes requiring an elevated role")
	fs.StringVar(&c.ProtectedRoles, "protected-roles", "admin,moderator", "comma-separated roles allowed through the role gate")

	fs.BoolVar(&c.EnableLimitOverrides, "enable-limit-overrides", false, "Enable loading rate limit overrides from SSM")
	fs.StringVar(&c.LimitSSMParam, "limit-ssm-param", "/app/msgwall/server/rate-limits", "ssm parameter holding rate limit overrides")
	fs.BoolVar(&c.EnableDenylist, "enable-denylist", false, "Enable loading the client denylist from S3")
	fs.StringVar(&c.DenylistS3Bucket, "denylist-s3-bucket", "", "s3 bucket holding the client denylist")
	fs.StringVar(&c.DenylistS3Key, "denylist-s3-key", "msgwall/denylist.txt", "s3 key of the client denylist")
	fs.DurationVar(&c.DenylistRefresh, "denylist-refresh", 5*time.Minute, "denylist refresh interval")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Splits a comma-separated flag value, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.TrustedHops < 0 || c.TrustedHops > 10 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_HOPS %d (must be 0..10)", c.TrustedHops))
	}
	if c.MaxBodyKB < 1 {
		errs = append(errs, fmt.Errorf("invalid MAX_BODY_KB %d (must be >= 1)", c.MaxBodyKB))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Rate limiting
	if c.RateLimit < 1 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT %d (must be >= 1)", c.RateLimit))
	}
	if c.RateWindow < time.Second {
		errs = append(errs, fmt.Errorf("invalid RATE_WINDOW %v (must be >= 1s)", c.RateWindow))
	}
	switch c.RateStrategy {
	case "sliding", "bucket":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR required when RATE_STRATEGY=redis"))
		} else if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid RATE_STRATEGY %q (must be sliding|bucket|redis)", c.RateStrategy))
	}
	if c.RateMaxKeys < 0 {
		errs = append(errs, fmt.Errorf("invalid RATE_MAX_KEYS %d (must be >= 0)", c.RateMaxKeys))
	}
	if c.RateKeyTTL < time.Second {
		errs = append(errs, fmt.Errorf("invalid RATE_KEY_TTL %v (must be >= 1s)", c.RateKeyTTL))
	}

	// Access hours. An inverted window disables the gate, so only the range
	// itself is validated.
	if c.GateOpenHour < 0 || c.GateOpenHour > 23 {
		errs = append(errs, fmt.Errorf("invalid GATE_OPEN_HOUR %d (must be 0..23)", c.GateOpenHour))
	}
	if c.GateCloseHour < 0 || c.GateCloseHour > 24 {
		errs = append(errs, fmt.Errorf("invalid GATE_CLOSE_HOUR %d (must be 0..24)", c.GateCloseHour))
	}

	if c.EnableLimitOverrides && c.LimitSSMParam == "" {
		errs = append(errs, fmt.Errorf("LIMIT_SSM_PARAM required when ENABLE_LIMIT_OVERRIDES=true"))
	}
	if c.EnableDenylist {
		if c.DenylistS3Bucket == "" {
			errs = append(errs, fmt.Errorf("DENYLIST_S3_BUCKET required when ENABLE_DENYLIST=true"))
		}
		if c.DenylistS3Key == "" {
			errs = append(errs, fmt.Errorf("DENYLIST_S3_KEY required when ENABLE_DENYLIST=true"))
		}
		if c.DenylistRefresh < 10*time.Second {
			errs = append(errs, fmt.Errorf("DENYLIST_REFRESH %v too aggressive (must be >= 10s)", c.DenylistRefresh))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
