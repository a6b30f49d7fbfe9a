package http

import (
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type AdminOptions struct {
	Version string

	// Reports whether the client is streaming. Nil is always ready.
	Ready func() bool

	// Returns the client statistics served on /stats.
	Stats func() any

	// The smoke test handler. Optional.
	SmokeTest http.HandlerFunc

	// The bearer token required by /stats and /smoke-test. Empty disables
	// the check.
	Token string
}

// NewAdminHandler returns the handler of the admin server.
func NewAdminHandler(opts AdminOptions) http.Handler {
	ready := opts.Ready
	if ready == nil {
		ready = func() bool { return true }
	}

	stats := opts.Stats
	if stats == nil {
		stats = func() any { return struct{}{} }
	}

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", HandleHealthCheck)
	admin.HandleFunc("/ready", HandleReadyCheck(ready))
	admin.Handle("/version", HandleWithCORS(HandleVersion(opts.Version)))
	admin.HandleFunc("/stats", VerifyAdminToken(opts.Token, HandleStats(stats)))
	if opts.SmokeTest != nil {
		admin.HandleFunc("/smoke-test", VerifyAdminToken(opts.Token, opts.SmokeTest))
	}

	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	return &admin
}
