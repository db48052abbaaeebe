package http

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/auth"
	"github.com/oap-labs/oapd/internal/store"
)

// Identity headers forwarded by the authenticating front end.
const (
	HeaderUserID    = "X-Oapd-User-Id"
	HeaderUserEmail = "X-Oapd-User-Email"
	HeaderUserName  = "X-Oapd-User-Name"
)

// Auth resolves the request credentials to an Actor. A bearer token
// matching the service token yields a service actor; otherwise the
// forwarded identity headers yield a user actor, upserting the user
// row on first sight.
type Auth struct {
	Token string
	Users store.UserStore
	// AutoGrant materializes active public permissions for a user seen
	// for the first time. Nil disables the hook.
	AutoGrant func(ctx context.Context, userID string) (int, error)
	Log       *slog.Logger
}

// Middleware wraps a handler with actor resolution. Requests without
// valid credentials get 401.
func (a *Auth) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.resolve(r)
		if err != nil {
			writeError(w, a.Log, err)
			return
		}
		next(w, r.WithContext(auth.WithActor(r.Context(), actor)))
	}
}

func (a *Auth) resolve(r *http.Request) (auth.Actor, error) {
	if a.Token != "" && extractBearerToken(r) == a.Token {
		// Service principal; may act on behalf of a user when the
		// identity header is forwarded.
		return auth.Actor{Type: auth.ActorService, UserID: r.Header.Get(HeaderUserID)}, nil
	}

	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		return auth.Actor{}, errUnauthorized()
	}
	u := &store.User{
		ID:          userID,
		Email:       r.Header.Get(HeaderUserEmail),
		DisplayName: r.Header.Get(HeaderUserName),
		Role:        auth.RoleUser,
	}
	created, err := a.Users.Ensure(r.Context(), u)
	if err != nil {
		return auth.Actor{}, err
	}
	if created && a.AutoGrant != nil {
		if n, err := a.AutoGrant(r.Context(), userID); err != nil {
			a.Log.Warn("public permission auto-grant failed", "user", userID, "error", err)
		} else if n > 0 {
			a.Log.Info("public permissions granted to new user", "user", userID, "grants", n)
		}
	}
	return auth.Actor{Type: auth.ActorUser, UserID: u.ID, Role: u.Role}, nil
}

func errUnauthorized() error {
	return apperr.New(apperr.Unauthorized, "missing or invalid credentials")
}

// actorOr401 pulls the actor a middleware stored; handlers registered
// without the middleware fail closed.
func actorOr401(w http.ResponseWriter, r *http.Request, log *slog.Logger) (auth.Actor, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
		return auth.Actor{}, false
	}
	return actor, true
}

// RequestLogger logs each request with duration and wraps it in a span.
func RequestLogger(log *slog.Logger, next http.Handler) http.Handler {
	tracer := otel.Tracer("oapd/http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r.WithContext(ctx))
		span.SetAttributes(
			attribute.Int("http.status_code", rw.status),
			attribute.String("http.method", r.Method),
		)
		span.End()
		log.Info("request",
			"method", r.Method, "path", r.URL.Path,
			"status", rw.status, "duration", time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade pass through the logging wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, apperr.New(apperr.Internal, "response writer does not support hijacking")
	}
	return h.Hijack()
}
