package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/craddockd/msgwall/internal/cfg"
	"github.com/craddockd/msgwall/internal/denylist"
	"github.com/craddockd/msgwall/internal/httpmw"
	"github.com/craddockd/msgwall/internal/httpserver"
	"github.com/craddockd/msgwall/internal/limits"
	"github.com/craddockd/msgwall/internal/log"
	"github.com/craddockd/msgwall/internal/metrics"
	"github.com/craddockd/msgwall/internal/msghttp"
	"github.com/craddockd/msgwall/internal/opshttp"
	"github.com/craddockd/msgwall/internal/otelx"
	"github.com/craddockd/msgwall/internal/probe"
	"github.com/craddockd/msgwall/internal/prof"
	"github.com/craddockd/msgwall/internal/ratelimit"
	v "github.com/craddockd/msgwall/internal/version"
)

const appName = "msgwall"

// drainPeriod is how long we fail readiness before closing listeners so the
// load balancer stops sending traffic and in-flight requests finish.
const drainPeriod = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_date=%s, go=%s, dirty=%v)\n",
			appName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix MSGWALL_ and validate
	cfg.FillFromEnv(flag.CommandLine, "MSGWALL_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:               appName,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		MaxErrorLinks:     conf.MaxErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"trusted_hops", conf.TrustedHops,
		"rate_limit", conf.RateLimit,
		"rate_window", conf.RateWindow.String(),
		"rate_strategy", conf.RateStrategy,
		"rate_max_keys", conf.RateMaxKeys,
		"rate_key_ttl", conf.RateKeyTTL.String(),
		"gate_open_hour", conf.GateOpenHour,
		"gate_close_hour", conf.GateCloseHour,
		"protected_prefixes", conf.ProtectedPrefixes,
		"enable_limit_overrides", conf.EnableLimitOverrides,
		"enable_denylist", conf.EnableDenylist,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
	)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       appName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	profActive := err == nil && conf.EnablePyroscope
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we only write to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics / admin listener
	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, "server", &vi)
	m.SetProfilingActive(profActive)

	// Resolve rate limit parameters, optionally overridden from SSM so a
	// deployment can tune them without a rollout. Overrides are best effort:
	// a fetch failure keeps the configured values.
	rateLimit, rateWindow := conf.RateLimit, conf.RateWindow
	if conf.EnableLimitOverrides {
		resolver, err := limits.NewResolver(ctx, limits.ResolverOptions{
			Logger: L,
			Param:  conf.LimitSSMParam,
		})
		if err != nil {
			m.IncLimitOverrideError()
			L.Error(ctx, err, "limit override resolver init failed, using configured values")
		} else {
			p, err := resolver.Fetch(ctx, limits.Params{Limit: rateLimit, Window: rateWindow})
			if err != nil {
				m.IncLimitOverrideError()
				L.Error(ctx, err, "limit override fetch failed, using configured values")
			} else {
				if p.Limit != rateLimit || p.Window != rateWindow {
					m.IncLimitOverrideApplied()
				}
				rateLimit, rateWindow = p.Limit, p.Window
			}
		}
	}

	// Pick the admission store. Sliding window is the default and matches
	// the documented semantics exactly; bucket trades that for O(1) state;
	// redis shares one window across replicas.
	var store ratelimit.Store
	var rdb *redis.Client
	switch conf.RateStrategy {
	case "bucket":
		store = ratelimit.NewTokenBucket(ctx, rateLimit, rateWindow, conf.RateKeyTTL)
	case "redis":
		rdb = redis.NewClient(&redis.Options{Addr: conf.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			// not fatal, the limiter fails open and redis may come up later
			L.Warn(ctx, "redis ping failed", "addr", conf.RedisAddr, "error", err.Error())
		}
		store = ratelimit.NewRedisWindow(rdb, "", rateLimit, rateWindow)
	default:
		store = ratelimit.NewSlidingWindow(ctx,
			ratelimit.WithLimit(rateLimit, rateWindow),
			ratelimit.WithTTL(conf.RateKeyTTL),
			ratelimit.WithMaxKeys(conf.RateMaxKeys),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limiter key capacity reached, rejecting new clients until some are evicted")
			}),
			ratelimit.WithOnSweep(func(tracked, evicted int) {
				m.SetRateLimitTrackedKeys(tracked)
			}),
		)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	limiter := ratelimit.New(ctx, store, conf.RateKeyTTL,
		// increment prometheus counter on each denied request
		ratelimit.WithOnDenied(func(key string) {
			m.IncRateLimitDenied()
		}),
		// only log the first denial per client between notify resets
		ratelimit.WithOnFirstDenied(func(key string) {
			L.Warn(ctx, "rate limit triggered", "client", key)
		}),
		ratelimit.WithOnError(func(err error) {
			m.IncRateLimitError()
			L.Error(ctx, err, "rate limit store error, admitting request")
		}),
	)

	// Load the client denylist from S3 when enabled. A bad list at startup
	// is a deploy problem and fails fast; refresh failures later keep the
	// last good list.
	var denylistMW func(http.Handler) http.Handler
	if conf.EnableDenylist {
		list, err := denylist.New(ctx, denylist.Options{
			Logger:  L,
			Bucket:  conf.DenylistS3Bucket,
			Key:     conf.DenylistS3Key,
			Refresh: conf.DenylistRefresh,
			OnRefresh: func(size int) {
				m.SetDenylistSize(size)
			},
			OnError: func(err error) {
				m.IncDenylistError()
			},
		})
		if err != nil {
			L.Error(ctx, err, "failed to load client denylist")
			os.Exit(1)
		}
		denylistMW = httpmw.Denylist(list, func() {
			m.IncGateDenied("denylist", "blocked")
		})
	}

	// Message store and API
	msgStore := msghttp.NewStore(0)
	api := msghttp.NewAPI(msgStore, L)
	api.OnCreated = m.IncMessagesCreated

	// setup toggle for server shutdown
	var gate probe.ShutdownGate
	readiness := probe.Multi(gate.Probe())

	timeGateMW := httpmw.TimeGate(httpmw.TimeGateOptions{
		OpenHour:  conf.GateOpenHour,
		CloseHour: conf.GateCloseHour,
		OnDenied: func() {
			m.IncGateDenied("time", "outside_access_hours")
		},
	})
	roleGateMW := httpmw.RoleGate(httpmw.RoleGateOptions{
		Prefixes: cfg.SplitList(conf.ProtectedPrefixes),
		Roles:    cfg.SplitList(conf.ProtectedRoles),
		OnDenied: func(reason string) {
			m.IncGateDenied("role", reason)
		},
	})

	// start app http server
	appHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		MaxBodyBytes: int64(conf.MaxBodyKB) * 1024,
		DenylistMW:   denylistMW,
		TimeGateMW:   timeGateMW,
		RoleGateMW:   roleGateMW,
		RateLimitMW:  limiter.Middleware,
		MetricsMW:    m.Middleware,
		APIRoutes:    api.RegisterRoutes,
		Health:       probe.Static(true, ""),
		Readiness:    readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start app http listener")
		os.Exit(1)
	}
	defer func() { _ = appHTTPStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks and pprof
	// sg restricts inbound to internal monitoring infrastructure
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      probe.Static(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	L.Info(ctx, "startup complete")

	// block until signal so we dont exit
	sigCtx, stopSig := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSig()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness to drain connections
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining", "drain_period", drainPeriod.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := appHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when we were started with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
