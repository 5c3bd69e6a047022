// Package session wraps the external key-value store with the session,
// rate-counter, and allowlist operations the gate pipeline depends on.
//
// All shared mutable state (session markers, rate counters, the IP allowlist)
// lives in Redis; this package is the sole synchronization point between
// concurrently running requests. Store failures fail closed: they surface as
// errors wrapping sentinel.ErrUnavailable and render as an internal error.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"gatehouse/internal/sentinel"
)

const (
	sessionPrefix = "session:"
	counterPrefix = "ratelimit:"

	// allowlistKey holds the ordered set of permitted client IPs. It is
	// written by an external admin process; this store only reads it.
	allowlistKey = "allowed_ip_list"
)

// Store provides session markers, rate counters, and the IP allowlist on top
// of a Redis client. Safe for concurrent use.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a session store backed by the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// SetSession writes the session marker for a principal, overwriting any
// existing marker. At most one live marker exists per principal.
func (s *Store) SetSession(ctx context.Context, principalKey, credential string, ttl time.Duration) error {
	if err := s.rdb.SetEx(ctx, sessionPrefix+principalKey, credential, ttl).Err(); err != nil {
		return unavailable("set session", err)
	}
	return nil
}

// HasSession reports whether a live session marker exists for the principal.
//
// Liveness is presence, not byte-equality: any unexpired, signature-valid
// credential for the principal is accepted as long as some marker exists,
// even one issued by a later login.
func (s *Store) HasSession(ctx context.Context, principalKey string) (bool, error) {
	_, err := s.rdb.Get(ctx, sessionPrefix+principalKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("get session", err)
	}
	return true, nil
}

// DeleteSession removes the session marker for a principal. Deleting an
// absent marker is not an error.
func (s *Store) DeleteSession(ctx context.Context, principalKey string) error {
	if err := s.rdb.Del(ctx, sessionPrefix+principalKey).Err(); err != nil {
		return unavailable("delete session", err)
	}
	return nil
}

// Counter returns the current rate counter for the subject and whether it
// exists at all.
func (s *Store) Counter(ctx context.Context, subject string) (int, bool, error) {
	val, err := s.rdb.Get(ctx, counterPrefix+subject).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("get counter", err)
	}
	count, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, unavailable("decode counter", err)
	}
	return count, true, nil
}

// SetCounter creates or replaces the counter for the subject with a fresh TTL.
func (s *Store) SetCounter(ctx context.Context, subject string, value int, ttl time.Duration) error {
	if err := s.rdb.SetEx(ctx, counterPrefix+subject, value, ttl).Err(); err != nil {
		return unavailable("set counter", err)
	}
	return nil
}

// IncrementCounter adds one to the subject's counter while preserving its
// remaining TTL, keeping the window anchored to the first admission.
//
// The read and the write are separate round-trips; concurrent requests for
// the same subject can briefly overshoot the threshold before either writes
// back. Bounded overshoot is accepted here rather than serializing requests
// on a per-key lock.
func (s *Store) IncrementCounter(ctx context.Context, subject string) error {
	count, ok, err := s.Counter(ctx, subject)
	if err != nil {
		return err
	}
	if !ok {
		return unavailable("increment counter", sentinel.ErrNotFound)
	}

	remaining, err := s.RemainingTTL(ctx, subject)
	if err != nil {
		return err
	}
	if remaining <= 0 {
		// Window elapsed between the read and now; the next check starts a
		// fresh window, nothing to write.
		return nil
	}

	return s.SetCounter(ctx, subject, count+1, remaining)
}

// RemainingTTL returns how long the subject's counter has left in its window.
// Returns zero when the counter does not exist.
func (s *Store) RemainingTTL(ctx context.Context, subject string) (time.Duration, error) {
	ttl, err := s.rdb.TTL(ctx, counterPrefix+subject).Result()
	if err != nil {
		return 0, unavailable("counter ttl", err)
	}
	if ttl < 0 {
		// -2 key missing, -1 no expiry set.
		return 0, nil
	}
	return ttl, nil
}

// AllowedIPs returns the allowlist in store order. An absent list is an empty
// allowlist, not an error.
func (s *Store) AllowedIPs(ctx context.Context) ([]string, error) {
	ips, err := s.rdb.LRange(ctx, allowlistKey, 0, -1).Result()
	if err != nil {
		return nil, unavailable("read allowlist", err)
	}
	return ips, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
}
