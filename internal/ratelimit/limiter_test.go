package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"gatehouse/internal/session"
	domainerrors "gatehouse/pkg/domain-errors"
)

// LimiterSuite drives the limiter against a real counter store on miniredis.
//
// Justification: the window anchoring and the no-increment-on-reject rule are
// behavioral contracts of the login gate; testing against the real store
// catches TTL handling bugs a fake would hide.
type LimiterSuite struct {
	suite.Suite

	mr      *miniredis.Miniredis
	limiter *Limiter
	ctx     context.Context
}

func TestLimiterSuite(t *testing.T) {
	suite.Run(t, new(LimiterSuite))
}

func (s *LimiterSuite) SetupTest() {
	mr, err := miniredis.Run()
	require.NoError(s.T(), err)
	s.mr = mr
	store := session.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	s.limiter = New(store, 5, time.Minute)
	s.ctx = context.Background()
}

func (s *LimiterSuite) TearDownTest() {
	s.mr.Close()
}

func (s *LimiterSuite) TestAdmitsUpToThreshold() {
	for i := 0; i < 5; i++ {
		s.Require().NoError(s.limiter.Allow(s.ctx, "203.0.113.7"), "attempt %d", i+1)
	}

	err := s.limiter.Allow(s.ctx, "203.0.113.7")
	s.True(domainerrors.HasCode(err, domainerrors.CodeTooManyRequests))
}

func (s *LimiterSuite) TestRejectionDoesNotExtendWindow() {
	for i := 0; i < 5; i++ {
		s.Require().NoError(s.limiter.Allow(s.ctx, "203.0.113.7"))
	}

	s.mr.FastForward(30 * time.Second)

	// Rejected attempts must not reset or extend the remaining TTL.
	err := s.limiter.Allow(s.ctx, "203.0.113.7")
	s.True(domainerrors.HasCode(err, domainerrors.CodeTooManyRequests))

	ttl := s.mr.TTL("ratelimit:203.0.113.7")
	s.Equal(30*time.Second, ttl)
}

func (s *LimiterSuite) TestNewWindowAfterExpiry() {
	for i := 0; i < 5; i++ {
		s.Require().NoError(s.limiter.Allow(s.ctx, "203.0.113.7"))
	}

	s.mr.FastForward(61 * time.Second)

	// First request of a fresh window is admitted and restarts the counter.
	s.Require().NoError(s.limiter.Allow(s.ctx, "203.0.113.7"))

	got, err := s.mr.Get("ratelimit:203.0.113.7")
	s.Require().NoError(err)
	s.Equal("1", got)
}

func (s *LimiterSuite) TestSubjectsAreIndependent() {
	for i := 0; i < 5; i++ {
		s.Require().NoError(s.limiter.Allow(s.ctx, "203.0.113.7"))
	}

	s.Require().NoError(s.limiter.Allow(s.ctx, "198.51.100.9"))
}

func (s *LimiterSuite) TestStoreFailureFailsClosed() {
	s.mr.Close()

	err := s.limiter.Allow(s.ctx, "203.0.113.7")
	s.Require().Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodeInternal))
}
