package middleware

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Actunime/Actunime-API-sub000/pkg/composables"
)

// WithPool makes the database pool available to repositories through the
// context. Handlers that open transactions do so via composables.InTx.
func WithPool(pool *pgxpool.Pool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(composables.WithPool(r.Context(), pool)))
		})
	}
}

// ProvideActors resolves the caller identities forwarded by the upstream auth
// layer. Authentication itself happens before this service; the headers are
// trusted as-is.
func ProvideActors(authorHeader, moderatorHeader string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if raw := r.Header.Get(authorHeader); raw != "" {
				if id, err := uuid.Parse(raw); err == nil {
					ctx = composables.WithAuthorID(ctx, id)
				}
			}
			if raw := r.Header.Get(moderatorHeader); raw != "" {
				if id, err := uuid.Parse(raw); err == nil {
					ctx = composables.WithModeratorID(ctx, id)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "catalog",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

// RequestMetrics records per-route counters and latency histograms. Routes
// are labeled by their mux template, not the raw path, to keep cardinality
// bounded.
func RequestMetrics() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := "unknown"
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			wrapped := wrapResponseWriter(w)
			timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(route))
			next.ServeHTTP(wrapped, r)
			timer.ObserveDuration()
			httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(wrapped.Status())).Inc()
		})
	}
}
