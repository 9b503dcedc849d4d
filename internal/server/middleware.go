package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Carelink/internal/clock"
	"github.com/SmitUplenchwar2687/Carelink/internal/limiter"
	"github.com/SmitUplenchwar2687/Carelink/internal/recorder"
)

const (
	RequestIDHeader = "X-Request-ID"
	APIKeyHeader    = "X-API-Key"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	callerKey
)

// RequestIDFrom returns the request ID set by the requestID middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// CallerFrom returns the authenticated API key, or the client address when
// authentication is disabled.
func CallerFrom(ctx context.Context) string {
	c, _ := ctx.Value(callerKey).(string)
	return c
}

// requestID keeps an incoming X-Request-ID or generates a UUID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", RequestIDFrom(r.Context())),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("handler panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", RequestIDFrom(r.Context())),
				)
				s.writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authenticate accepts X-API-Key, "Authorization: Bearer", or an api_key
// query parameter (browsers cannot set headers on WebSocket upgrades).
// With no keys configured every request passes and the caller is the client
// address.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := clientHost(r.RemoteAddr)
		if len(s.apiKeys) > 0 {
			key := extractAPIKey(r)
			if key == "" {
				s.writeError(w, r, http.StatusUnauthorized, CodeUnauthorized, "API key is required")
				return
			}
			if _, ok := s.apiKeys[key]; !ok {
				s.writeError(w, r, http.StatusUnauthorized, CodeUnauthorized, "invalid API key")
				return
			}
			caller = key
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
	})
}

// clientHost drops the port so every connection from one client shares a
// quota.
func clientHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("api_key"))
}

// rateLimit gates each (caller, path) pair, records the call and streams the
// decision to WebSocket clients.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := CallerFrom(r.Context())
		now := s.clock.Now()

		if s.recorder != nil {
			rec := recorder.CallRecord{
				Timestamp: now,
				Caller:    caller,
				Endpoint:  r.URL.Path,
				Metadata:  map[string]string{"method": r.Method},
			}
			if err := s.recorder.Record(rec); err != nil {
				s.logger.Warn("recording call", zap.Error(err))
			}
		}

		decision := s.limiter.Allow(r.Context(), limiter.NewKey(caller, r.URL.Path))
		setRateLimitHeaders(w, decision, now)

		s.hub.Broadcast(MessageDecision, recorder.DecisionEvent{
			Record:   recorder.CallRecord{Timestamp: now, Caller: caller, Endpoint: r.URL.Path},
			Decision: decision,
			Time:     now,
		})

		if !decision.Allowed {
			s.writeError(w, r, http.StatusTooManyRequests, CodeRateLimited,
				fmt.Sprintf("rate limit of %d requests exceeded, retry after %s", decision.Limit, decision.RetryAt.UTC().Format(time.RFC3339)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setRateLimitHeaders(w http.ResponseWriter, d limiter.Decision, now time.Time) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(clock.Millis(d.ResetAt), 10))
	if !d.Allowed {
		h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(d, now)))
	}
}

// retryAfterSeconds rounds up and never returns less than one second.
func retryAfterSeconds(d limiter.Decision, now time.Time) int {
	wait := d.RetryAfter(now)
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
