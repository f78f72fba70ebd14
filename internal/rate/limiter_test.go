package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, cfg), mr
}

func TestCheckIssueThrottle(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		EnableIssueThrottle:   true,
		MaxIssueAttempts:      3,
		IssueCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.CheckIssue(ctx, "u1", ""); err != nil {
			t.Fatalf("attempt %d should pass: %v", i+1, err)
		}
	}
	if err := limiter.CheckIssue(ctx, "u1", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// Other users have their own budget.
	if err := limiter.CheckIssue(ctx, "u2", ""); err != nil {
		t.Fatalf("other user should pass: %v", err)
	}
}

func TestCheckIssuePerIP(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		EnableIssueThrottle:   true,
		MaxIssueAttempts:      2,
		IssueCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	// Distinct users behind one IP share the IP budget.
	if err := limiter.CheckIssue(ctx, "u1", "10.0.0.1"); err != nil {
		t.Fatalf("first attempt should pass: %v", err)
	}
	if err := limiter.CheckIssue(ctx, "u2", "10.0.0.1"); err != nil {
		t.Fatalf("second attempt should pass: %v", err)
	}
	if err := limiter.CheckIssue(ctx, "u3", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestIssueWindowExpires(t *testing.T) {
	limiter, mr := newTestLimiter(t, Config{
		EnableIssueThrottle:   true,
		MaxIssueAttempts:      1,
		IssueCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	if err := limiter.CheckIssue(ctx, "u1", ""); err != nil {
		t.Fatalf("first attempt should pass: %v", err)
	}
	if err := limiter.CheckIssue(ctx, "u1", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if err := limiter.CheckIssue(ctx, "u1", ""); err != nil {
		t.Fatalf("expected fresh window, got %v", err)
	}
}

func TestCheckRotateThrottle(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		EnableRotateThrottle:   true,
		MaxRotateAttempts:      2,
		RotateCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := limiter.CheckRotate(ctx, "tok-1"); err != nil {
			t.Fatalf("attempt %d should pass: %v", i+1, err)
		}
	}
	if err := limiter.CheckRotate(ctx, "tok-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := limiter.CheckRotate(ctx, "tok-2"); err != nil {
		t.Fatalf("other token should pass: %v", err)
	}
}

func TestDisabledThrottlesPass(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if err := limiter.CheckIssue(ctx, "u1", "10.0.0.1"); err != nil {
			t.Fatalf("disabled issue throttle must pass: %v", err)
		}
		if err := limiter.CheckRotate(ctx, "tok-1"); err != nil {
			t.Fatalf("disabled rotate throttle must pass: %v", err)
		}
	}
}

func TestResetIssueAndAttempts(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		EnableIssueThrottle:   true,
		MaxIssueAttempts:      5,
		IssueCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.CheckIssue(ctx, "u1", "10.0.0.1"); err != nil {
			t.Fatalf("CheckIssue failed: %v", err)
		}
	}

	count, err := limiter.IssueAttempts(ctx, "u1")
	if err != nil || count != 3 {
		t.Fatalf("expected 3 attempts, got %d err=%v", count, err)
	}

	if err := limiter.ResetIssue(ctx, "u1", "10.0.0.1"); err != nil {
		t.Fatalf("ResetIssue failed: %v", err)
	}

	count, err = limiter.IssueAttempts(ctx, "u1")
	if err != nil || count != 0 {
		t.Fatalf("expected reset counter, got %d err=%v", count, err)
	}
}
