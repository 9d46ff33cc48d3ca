package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJWTVerifier(t *testing.T) {
	ctx := context.Background()
	const secret = "test-secret"
	v := NewJWTVerifier(secret)

	t.Run("roundtrip", func(t *testing.T) {
		token, err := SignToken(secret, "user-123", time.Hour)
		if err != nil {
			t.Fatalf("SignToken: %v", err)
		}
		uid, err := v.Verify(ctx, token)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if uid != "user-123" {
			t.Fatalf("uid = %q, want user-123", uid)
		}
	})

	t.Run("expired", func(t *testing.T) {
		token, err := SignToken(secret, "user-123", -time.Minute)
		if err != nil {
			t.Fatalf("SignToken: %v", err)
		}
		if _, err := v.Verify(ctx, token); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("err = %v, want ErrUnauthenticated", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := SignToken("other-secret", "user-123", time.Hour)
		if err != nil {
			t.Fatalf("SignToken: %v", err)
		}
		if _, err := v.Verify(ctx, token); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("err = %v, want ErrUnauthenticated", err)
		}
	})

	t.Run("empty credential", func(t *testing.T) {
		if _, err := v.Verify(ctx, ""); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("err = %v, want ErrUnauthenticated", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := v.Verify(ctx, "not.a.jwt"); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("err = %v, want ErrUnauthenticated", err)
		}
	})
}
