package rpc

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

type contextKey string

const requestIDKey contextKey = "rpc.request_id"

// RequestIDHeader carries the per-request identifier in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with the caller's X-Request-ID or a fresh
// UUID and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestIDFromContext returns the identifier assigned by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client address.
type RateLimiter struct {
	limit    RateLimit
	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

// NewRateLimiter returns nil when limit disables rate limiting.
func NewRateLimiter(limit RateLimit) *RateLimiter {
	if limit.RequestsPerMinute <= 0 {
		return nil
	}
	if limit.Burst <= 0 {
		limit.Burst = 1
	}
	return &RateLimiter{limit: limit, visitors: make(map[string]*visitor), now: time.Now}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientID(r)) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Code: "RateLimited", Message: http.StatusText(http.StatusTooManyRequests)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(id string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.limit.RequestsPerMinute/60.0), l.limit.Burst)}
		l.visitors[id] = v
	}
	v.lastSeen = now
	if len(l.visitors) > 1024 {
		for key, other := range l.visitors {
			if now.Sub(other.lastSeen) > 10*time.Minute {
				delete(l.visitors, key)
			}
		}
	}
	return v.limiter.AllowN(now, 1)
}

func clientID(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Observability records request metrics on its own registry and opens a span
// per request named after the matched route pattern. In-flight requests are
// also reported through the global otel meter for OTLP export.
type Observability struct {
	tracer    trace.Tracer
	logger    *slog.Logger
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	registry  *prometheus.Registry
	inflight  metric.Int64UpDownCounter
}

func NewObservability(service string, logger *slog.Logger) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vesting_rpc",
		Name:      "requests_total",
		Help:      "HTTP requests served by the vesting RPC.",
	}, []string{"route", "method", "status"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vesting_rpc",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
	registry.MustRegister(requests, durations)
	inflight, err := otel.Meter(service).Int64UpDownCounter("vesting.rpc.inflight",
		metric.WithDescription("Requests currently being served."),
		metric.WithUnit("{request}"))
	if err != nil {
		logger.Warn("otel instrument unavailable", slog.Any("error", err))
	}
	return &Observability{
		tracer:    otel.Tracer(service),
		logger:    logger,
		requests:  requests,
		durations: durations,
		registry:  registry,
		inflight:  inflight,
	}
}

// Registry exposes the request metrics registry.
func (o *Observability) Registry() *prometheus.Registry { return o.registry }

func (o *Observability) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := o.tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.method", r.Method)))
		defer span.End()
		if o.inflight != nil {
			attrs := metric.WithAttributes(attribute.String("http.method", r.Method))
			o.inflight.Add(ctx, 1, attrs)
			defer o.inflight.Add(ctx, -1, attrs)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", rec.status),
		)
		elapsed := time.Since(start)
		o.requests.WithLabelValues(route, r.Method, http.StatusText(rec.status)).Inc()
		o.durations.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())
		o.logger.Debug("rpc request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", rec.status),
			slog.Duration("duration", elapsed),
			slog.String("request_id", RequestIDFromContext(r.Context())))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Hijack is required by the websocket upgrade on the event stream.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("rpc: response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Leeway     time.Duration
}

// OperatorAuth requires an HS256 bearer token on operator endpoints. With no
// secret configured it lets every request through.
type OperatorAuth struct {
	secret []byte
	issuer string
	leeway time.Duration
}

func NewOperatorAuth(cfg AuthConfig) *OperatorAuth {
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = time.Minute
	}
	return &OperatorAuth{
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		issuer: strings.TrimSpace(cfg.Issuer),
		leeway: leeway,
	}
}

func (a *OperatorAuth) Middleware(next http.Handler) http.Handler {
	if a == nil || len(a.secret) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Code: "MissingToken", Message: "bearer token required"})
			return
		}
		if err := a.validate(raw); err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Code: "InvalidToken", Message: "invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *OperatorAuth) validate(raw string) error {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.leeway),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) { return a.secret, nil }, opts...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token invalid")
	}
	return nil
}

// Browsers cannot set headers on websocket upgrades, so the stream also
// accepts ?access_token=.
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}
