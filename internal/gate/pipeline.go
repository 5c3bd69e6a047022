// Package gate implements the ordered chain of admission checks applied to
// every inbound request: IP allowlisting, selective rate limiting, and
// credential/session validation. Checks short-circuit on first failure and
// every failure renders through the uniform error envelope.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"runtime/debug"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gatehouse/internal/principal"
	"gatehouse/internal/ratelimit"
	"gatehouse/internal/sentinel"
	"gatehouse/internal/token"
	"gatehouse/internal/transport/http/shared"
	domainerrors "gatehouse/pkg/domain-errors"
)

var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gatehouse_gate_decisions_total",
	Help: "Gate pipeline decisions by outcome",
}, []string{"outcome"})

// SessionReader is the slice of the session store the pipeline needs.
type SessionReader interface {
	AllowedIPs(ctx context.Context) ([]string, error)
	HasSession(ctx context.Context, principalKey string) (bool, error)
}

// Pipeline holds the dependencies of the admission checks. Construct once and
// mount its middlewares on the router.
type Pipeline struct {
	sessions       SessionReader
	limiter        *ratelimit.Limiter
	tokens         *token.Service
	principals     principal.Reader
	logger         *slog.Logger
	trustedProxies []netip.Prefix
}

// New creates the gate pipeline.
func New(
	sessions SessionReader,
	limiter *ratelimit.Limiter,
	tokens *token.Service,
	principals principal.Reader,
	logger *slog.Logger,
	trustedProxies []netip.Prefix,
) *Pipeline {
	return &Pipeline{
		sessions:       sessions,
		limiter:        limiter,
		tokens:         tokens,
		principals:     principals,
		logger:         logger,
		trustedProxies: trustedProxies,
	}
}

// Recover is the pipeline boundary: any panic escaping the checks or the
// forwarded business logic is logged server-side and rendered as the generic
// internal-error envelope.
func (p *Pipeline) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				p.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
					"path", r.URL.Path,
					"method", r.Method,
					"request_id", RequestIDFrom(r.Context()),
				)
				decisionsTotal.WithLabelValues("panic").Inc()
				shared.WriteError(w, domainerrors.New(domainerrors.CodeInternal, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RequestID assigns each request a unique id, reusing a client-provided
// X-Request-ID when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IPAllow requires the resolved client address to be present in the
// allowlist. Requests without a resolvable address skip this and all other
// IP-based checks. A store failure fails closed.
func (p *Pipeline) IPAllow(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := ClientIP(ctx)
		if ip == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowed, err := p.sessions.AllowedIPs(ctx)
		if err != nil {
			p.fail(ctx, w, domainerrors.Wrap(err, domainerrors.CodeInternal, "allowlist unavailable"))
			return
		}

		if !slices.Contains(allowed, ip) {
			p.fail(ctx, w, domainerrors.New(domainerrors.CodeBlockedIP, "your IP is blocked"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateGate applies the fixed-window limiter keyed by client address. Mounted
// only on the credential-issuance routes. Skipped, like every IP-based
// check, when the address is unresolvable.
func (p *Pipeline) RateGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := ClientIP(ctx)
		if ip == "" {
			next.ServeHTTP(w, r)
			return
		}

		if err := p.limiter.Allow(ctx, ip); err != nil {
			if domainerrors.HasCode(err, domainerrors.CodeTooManyRequests) {
				w.Header().Set("Retry-After", strconv.Itoa(int(p.limiter.Window().Seconds())))
			}
			p.fail(ctx, w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Authenticate validates a presented credential and resolves the caller's
// identity into the context. Requests without an Authorization header pass
// through untouched; whether an identity is mandatory is the route's call
// (see RequireIdentity).
//
// A cryptographically valid credential is only accepted while a live session
// marker exists for the principal. Marker presence, not byte-equality with
// the presented credential, is what is checked.
func (p *Pipeline) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		credential, err := token.ParseAuthHeader(header)
		if err != nil {
			p.fail(ctx, w, err)
			return
		}

		claims, err := p.tokens.Verify(credential)
		if err != nil {
			p.fail(ctx, w, err)
			return
		}

		caller, err := p.principals.ByID(ctx, claims.PrincipalID)
		if err != nil {
			code := domainerrors.CodeInternal
			if errors.Is(err, sentinel.ErrNotFound) {
				code = domainerrors.CodeNotFound
			}
			p.fail(ctx, w, domainerrors.Wrap(err, code, "principal not found"))
			return
		}

		live, err := p.sessions.HasSession(ctx, caller.Email)
		if err != nil {
			p.fail(ctx, w, domainerrors.Wrap(err, domainerrors.CodeInternal, "session store unavailable"))
			return
		}
		if !live {
			p.fail(ctx, w, domainerrors.New(domainerrors.CodeSessionExpired, "session expired, log in again"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, caller)))
	})
}

// RequireIdentity rejects requests that reached a protected route without an
// authenticated identity.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFrom(r.Context()); !ok {
			decisionsTotal.WithLabelValues(string(domainerrors.CodeMissingCredential)).Inc()
			shared.WriteError(w, domainerrors.New(domainerrors.CodeMissingCredential, "credential required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Audit records the admitted request for audit purposes before forwarding to
// business logic. The record is best-effort; it never aborts the request.
func (p *Pipeline) Audit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ua := useragent.New(UserAgent(ctx))
		browser, version := ua.Browser()

		attrs := []any{
			"ts", time.Now().UTC().Format(time.RFC3339),
			"method", r.Method,
			"path", r.URL.Path,
			"client_ip", ClientIP(ctx),
			"request_id", RequestIDFrom(ctx),
			"browser", browser,
			"browser_version", version,
			"os", ua.OS(),
		}
		if caller, ok := IdentityFrom(ctx); ok {
			attrs = append(attrs, "principal_id", caller.ID)
		}
		p.logger.InfoContext(ctx, "request admitted", attrs...)

		decisionsTotal.WithLabelValues("admitted").Inc()
		next.ServeHTTP(w, r)
	})
}

// fail renders a denial through the envelope and records it. Internal errors
// are logged with their cause; the client only ever sees the generic message.
func (p *Pipeline) fail(ctx context.Context, w http.ResponseWriter, err error) {
	code := domainerrors.CodeInternal
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		code = domainErr.Code
	}

	if code == domainerrors.CodeInternal {
		p.logger.ErrorContext(ctx, "gate internal error",
			"ts", time.Now().UTC().Format(time.RFC3339),
			"error", err,
			"request_id", RequestIDFrom(ctx),
		)
	}

	decisionsTotal.WithLabelValues(string(code)).Inc()
	shared.WriteError(w, err)
}
