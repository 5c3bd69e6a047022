package gate

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"gatehouse/internal/authz"
	"gatehouse/internal/principal"
	"gatehouse/internal/ratelimit"
	"gatehouse/internal/session"
	"gatehouse/internal/token"
)

// PipelineSuite exercises the assembled middleware chain over httptest.
//
// Justification: ordering and short-circuiting are the pipeline's contract;
// only a routed end-to-end test observes both.
type PipelineSuite struct {
	suite.Suite

	mr         *miniredis.Miniredis
	rdb        *redis.Client
	sessions   *session.Store
	tokens     *token.Service
	principals *principal.MemoryStore
	pipeline   *Pipeline
	router     http.Handler
	ctx        context.Context
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	mr, err := miniredis.Run()
	require.NoError(s.T(), err)
	s.mr = mr
	s.rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s.sessions = session.NewStore(s.rdb)

	s.tokens, err = token.NewService("test-secret", "HS256", 30*time.Minute)
	require.NoError(s.T(), err)

	s.principals = principal.NewMemoryStore()
	s.ctx = context.Background()

	limiter := ratelimit.New(s.sessions, 5, time.Minute)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	s.pipeline = New(s.sessions, limiter, s.tokens, s.principals, logger, trusted)

	// Mirror the production mounting order.
	r := chi.NewRouter()
	r.Use(s.pipeline.Recover)
	r.Use(RequestID)
	r.Use(s.pipeline.Metadata)
	r.Use(s.pipeline.IPAllow)
	r.Group(func(r chi.Router) {
		r.Use(s.pipeline.RateGate)
		r.Use(s.pipeline.Authenticate)
		r.Use(s.pipeline.Audit)
		r.Post("/auth/login", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	r.Group(func(r chi.Router) {
		r.Use(s.pipeline.Authenticate)
		r.Use(s.pipeline.Audit)
		r.Get("/open", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Group(func(r chi.Router) {
			r.Use(RequireIdentity)
			r.Get("/protected", func(w http.ResponseWriter, r *http.Request) {
				caller, _ := IdentityFrom(r.Context())
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(caller.Username))
			})
		})
		r.Get("/boom", func(http.ResponseWriter, *http.Request) {
			panic("kaput")
		})
	})
	s.router = r
}

func (s *PipelineSuite) TearDownTest() {
	s.mr.Close()
}

func (s *PipelineSuite) allowIP(ips ...string) {
	for _, ip := range ips {
		s.Require().NoError(s.rdb.RPush(s.ctx, "allowed_ip_list", ip).Err())
	}
}

func (s *PipelineSuite) do(method, path, remoteAddr string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remoteAddr
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *PipelineSuite) message(rec *httptest.ResponseRecorder) string {
	var body struct {
		Message string `json:"message"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Message
}

// registered creates a principal with a live session and returns its header.
func (s *PipelineSuite) registered(username string) (p *principal.Principal, authHeader string) {
	created, err := s.principals.Create(s.ctx, &principal.Principal{
		Email:    username + "@example.com",
		Username: username,
		Role:     authz.RoleUser,
	})
	s.Require().NoError(err)

	credential, err := s.tokens.Issue(created.ID, string(created.Role))
	s.Require().NoError(err)
	s.Require().NoError(s.sessions.SetSession(s.ctx, created.Email, credential, s.tokens.Validity()))

	return created, "Bearer " + credential
}

func (s *PipelineSuite) TestBlockedIPForAddressNotInAllowlist() {
	s.allowIP("198.51.100.9")

	rec := s.do(http.MethodGet, "/open", "203.0.113.7:50000", nil)
	s.Equal(http.StatusForbidden, rec.Code)
	s.Equal("your IP is blocked", s.message(rec))
}

func (s *PipelineSuite) TestAllowedIPPassesRegardlessOfOtherState() {
	s.allowIP("203.0.113.7")

	rec := s.do(http.MethodGet, "/open", "203.0.113.7:50000", nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *PipelineSuite) TestUnresolvableAddressSkipsIPChecks() {
	// Empty allowlist and no peer address: IP-based checks are bypassed.
	rec := s.do(http.MethodGet, "/open", "", nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *PipelineSuite) TestXFFHonoredOnlyFromTrustedProxy() {
	s.allowIP("203.0.113.7")

	// Trusted proxy forwards the real client.
	rec := s.do(http.MethodGet, "/open", "10.1.2.3:443", http.Header{
		"X-Forwarded-For": []string{"203.0.113.7"},
	})
	s.Equal(http.StatusOK, rec.Code)

	// The same header from an untrusted peer is ignored; the peer address
	// itself is not allowlisted.
	rec = s.do(http.MethodGet, "/open", "198.51.100.200:443", http.Header{
		"X-Forwarded-For": []string{"203.0.113.7"},
	})
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *PipelineSuite) TestRateGateOnLoginRoute() {
	s.allowIP("203.0.113.7")

	for i := 0; i < 5; i++ {
		rec := s.do(http.MethodPost, "/auth/login", "203.0.113.7:50000", nil)
		s.Equal(http.StatusOK, rec.Code, "attempt %d", i+1)
	}

	rec := s.do(http.MethodPost, "/auth/login", "203.0.113.7:50000", nil)
	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.Equal("60", rec.Header().Get("Retry-After"))

	// Other routes are not rate gated.
	rec = s.do(http.MethodGet, "/open", "203.0.113.7:50000", nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *PipelineSuite) TestAuthenticateSkippedWithoutHeader() {
	s.allowIP("203.0.113.7")

	rec := s.do(http.MethodGet, "/open", "203.0.113.7:50000", nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *PipelineSuite) TestMalformedHeaderRejected() {
	s.allowIP("203.0.113.7")

	for _, header := range []string{"garbage", "Bearer a b", "Bearer not.a.token"} {
		rec := s.do(http.MethodGet, "/open", "203.0.113.7:50000", http.Header{
			"Authorization": []string{header},
		})
		s.Equal(http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func (s *PipelineSuite) TestValidCredentialResolvesIdentity() {
	s.allowIP("203.0.113.7")
	p, authHeader := s.registered("alice")

	rec := s.do(http.MethodGet, "/protected", "203.0.113.7:50000", http.Header{
		"Authorization": []string{authHeader},
	})
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(p.Username, rec.Body.String())
}

func (s *PipelineSuite) TestSessionExpiredWhenMarkerAbsent() {
	s.allowIP("203.0.113.7")
	p, authHeader := s.registered("alice")

	s.Require().NoError(s.sessions.DeleteSession(s.ctx, p.Email))

	rec := s.do(http.MethodGet, "/protected", "203.0.113.7:50000", http.Header{
		"Authorization": []string{authHeader},
	})
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("session expired, log in again", s.message(rec))
}

func (s *PipelineSuite) TestAnyLiveMarkerAcceptsEarlierCredential() {
	s.allowIP("203.0.113.7")
	p, authHeader := s.registered("alice")

	// A later login overwrites the marker; the earlier credential is still
	// accepted because liveness is marker presence, not byte-equality.
	newer, err := s.tokens.Issue(p.ID, string(p.Role))
	s.Require().NoError(err)
	s.Require().NoError(s.sessions.SetSession(s.ctx, p.Email, newer, s.tokens.Validity()))

	rec := s.do(http.MethodGet, "/protected", "203.0.113.7:50000", http.Header{
		"Authorization": []string{authHeader},
	})
	s.Equal(http.StatusOK, rec.Code)
}

func (s *PipelineSuite) TestMissingCredentialOnProtectedRoute() {
	s.allowIP("203.0.113.7")

	rec := s.do(http.MethodGet, "/protected", "203.0.113.7:50000", nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("credential required", s.message(rec))
}

func (s *PipelineSuite) TestUnknownPrincipalRejected() {
	s.allowIP("203.0.113.7")

	credential, err := s.tokens.Issue(999, "user")
	s.Require().NoError(err)

	rec := s.do(http.MethodGet, "/open", "203.0.113.7:50000", http.Header{
		"Authorization": []string{"Bearer " + credential},
	})
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *PipelineSuite) TestPanicRendersGenericInternalError() {
	s.allowIP("203.0.113.7")

	rec := s.do(http.MethodGet, "/boom", "203.0.113.7:50000", nil)
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.Equal("something went wrong on our side", s.message(rec))
}

func (s *PipelineSuite) TestStoreOutageFailsClosed() {
	s.allowIP("203.0.113.7")
	s.mr.Close()

	rec := s.do(http.MethodGet, "/open", "203.0.113.7:50000", nil)
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.Equal("something went wrong on our side", s.message(rec))
}
