package matchstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/pawnline-match-server/internal/match"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store Store
	// evict simulates the blob disappearing while its deadline is still indexed.
	evict func(id string)
}

func newRedisFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	opts = append([]Option{WithClock(func() time.Time { return t0 }), WithTTL(time.Hour)}, opts...)
	s, err := Open(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return fixture{store: s, evict: func(string) { mr.FastForward(time.Hour + keyGrace + time.Second) }}
}

func newMemoryFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return t0 }), WithTTL(time.Hour)}, opts...)
	m := NewMemory(opts...)
	return fixture{store: m, evict: m.Evict}
}

func eachStore(t *testing.T, run func(t *testing.T, f fixture), opts ...Option) {
	t.Run("redis", func(t *testing.T) { run(t, newRedisFixture(t, opts...)) })
	t.Run("memory", func(t *testing.T) { run(t, newMemoryFixture(t, opts...)) })
}

func sampleSession(id string) *match.Session {
	return &match.Session{
		ID:     id,
		Phase:  match.PhaseDiceRoll,
		Status: match.StatusPlaying,
		Participants: []*match.Participant{
			{ID: "u1", Side: match.SideHome},
			{ID: "u2", Side: match.SideAway},
		},
	}
}

func TestCreateLoad(t *testing.T) {
	eachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		if err := f.store.Create(ctx, sampleSession("m1")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := f.store.Load(ctx, "m1")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got.Version != 1 || len(got.Participants) != 2 {
			t.Fatalf("unexpected session: version=%d participants=%d", got.Version, len(got.Participants))
		}
		if !got.ExpiresAt.Equal(t0.Add(time.Hour)) {
			t.Fatalf("expiresAt = %v", got.ExpiresAt)
		}
		if err := f.store.Create(ctx, sampleSession("m1")); !errors.Is(err, ErrExists) {
			t.Fatalf("duplicate create: %v", err)
		}
		if id, _ := f.store.ActiveFor(ctx, "u2"); id != "m1" {
			t.Fatalf("ActiveFor = %q", id)
		}
	})
}

func TestLoadMissing(t *testing.T) {
	eachStore(t, func(t *testing.T, f fixture) {
		_, err := f.store.Load(context.Background(), "nope")
		if !errors.Is(err, match.ErrSessionNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestLoadAfterEviction(t *testing.T) {
	eachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		if err := f.store.Create(ctx, sampleSession("m1")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		f.evict("m1")
		if _, err := f.store.Load(ctx, "m1"); !errors.Is(err, match.ErrSessionExpired) {
			t.Fatalf("expected expired, got %v", err)
		}
		_, err := f.store.Update(ctx, "m1", func(*match.Session) error { return nil })
		if !errors.Is(err, match.ErrSessionExpired) {
			t.Fatalf("update after eviction: %v", err)
		}
	})
}

func TestUpdateBumpsVersion(t *testing.T) {
	eachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		if err := f.store.Create(ctx, sampleSession("m1")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := f.store.Update(ctx, "m1", func(s *match.Session) error {
			s.Phase = match.PhasePlaying
			return nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if got.Version != 2 || got.Phase != match.PhasePlaying {
			t.Fatalf("unexpected result: version=%d phase=%s", got.Version, got.Phase)
		}
		again, _ := f.store.Load(ctx, "m1")
		if again.Version != 2 || again.Phase != match.PhasePlaying {
			t.Fatalf("not persisted: version=%d phase=%s", again.Version, again.Phase)
		}
	})
}

func TestUpdateRejectedLeavesSessionUntouched(t *testing.T) {
	eachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		if err := f.store.Create(ctx, sampleSession("m1")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		calls := 0
		_, err := f.store.Update(ctx, "m1", func(s *match.Session) error {
			calls++
			s.Phase = match.PhaseEnded
			return match.ErrNotYourTurn
		})
		if !errors.Is(err, match.ErrNotYourTurn) {
			t.Fatalf("expected not_your_turn, got %v", err)
		}
		if calls != 1 {
			t.Fatalf("match errors must not be retried, calls=%d", calls)
		}
		got, _ := f.store.Load(ctx, "m1")
		if got.Version != 1 || got.Phase != match.PhaseDiceRoll {
			t.Fatalf("session changed: version=%d phase=%s", got.Version, got.Phase)
		}
	})
}

func TestUpdateRetriesOnConflict(t *testing.T) {
	eachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		if err := f.store.Create(ctx, sampleSession("m1")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		calls := 0
		got, err := f.store.Update(ctx, "m1", func(s *match.Session) error {
			calls++
			if calls == 1 {
				// a concurrent writer sneaks in
				if _, err := f.store.Update(ctx, "m1", func(o *match.Session) error {
					o.TurnNumber = 7
					return nil
				}); err != nil {
					t.Fatalf("inner Update: %v", err)
				}
			}
			s.Phase = match.PhasePlaying
			return nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if calls != 2 {
			t.Fatalf("expected one retry, calls=%d", calls)
		}
		if got.Version != 3 || got.TurnNumber != 7 || got.Phase != match.PhasePlaying {
			t.Fatalf("lost update: version=%d turn=%d phase=%s", got.Version, got.TurnNumber, got.Phase)
		}
	})
}

func TestUpdateGivesUpAfterAttempts(t *testing.T) {
	eachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		if err := f.store.Create(ctx, sampleSession("m1")); err != nil {
			t.Fatalf("Create: %v", err)
		}
		calls := 0
		_, err := f.store.Update(ctx, "m1", func(s *match.Session) error {
			calls++
			_, ierr := f.store.Update(ctx, "m1", func(*match.Session) error { return nil })
			return ierr
		})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		if calls != 3 {
			t.Fatalf("expected 3 attempts, got %d", calls)
		}
	}, WithAttempts(3))
}

func TestExpiredAndDelete(t *testing.T) {
	eachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		s := sampleSession("m1")
		if err := f.store.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids, err := f.store.Expired(ctx, t0.Add(30*time.Minute), 10)
		if err != nil || len(ids) != 0 {
			t.Fatalf("nothing should be due yet: %v %v", ids, err)
		}
		ids, err = f.store.Expired(ctx, t0.Add(time.Hour), 10)
		if err != nil || len(ids) != 1 || ids[0] != "m1" {
			t.Fatalf("expected m1 due: %v %v", ids, err)
		}
		if err := f.store.Delete(ctx, s); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := f.store.Load(ctx, "m1"); !errors.Is(err, match.ErrSessionNotFound) {
			t.Fatalf("expected not found after delete, got %v", err)
		}
		if id, _ := f.store.ActiveFor(ctx, "u1"); id != "" {
			t.Fatalf("user index survived delete: %q", id)
		}
		ids, _ = f.store.Expired(ctx, t0.Add(2*time.Hour), 10)
		if len(ids) != 0 {
			t.Fatalf("deadline survived delete: %v", ids)
		}
	})
}

func TestDeleteKeepsNewerUserIndex(t *testing.T) {
	eachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		old := sampleSession("m1")
		if err := f.store.Create(ctx, old); err != nil {
			t.Fatalf("Create m1: %v", err)
		}
		if err := f.store.Create(ctx, sampleSession("m2")); err != nil {
			t.Fatalf("Create m2: %v", err)
		}
		if err := f.store.Delete(ctx, old); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if id, _ := f.store.ActiveFor(ctx, "u1"); id != "m2" {
			t.Fatalf("ActiveFor = %q, want m2", id)
		}
	})
}

func TestParseRedisURL(t *testing.T) {
	o, err := parseRedisURL("rediss://user:pw@cache.internal:6380/3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if o.Addr != "cache.internal:6380" || o.Password != "pw" || o.Username != "user" || o.DB != 3 || o.TLSConfig == nil {
		t.Fatalf("unexpected options: %+v", o)
	}
	if _, err := parseRedisURL("http://x"); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestBackoffDuration(t *testing.T) {
	if backoffDuration(1) != 100*time.Millisecond || backoffDuration(3) != 400*time.Millisecond {
		t.Fatalf("unexpected backoff curve")
	}
	if backoffDuration(50) != backoffDuration(6) {
		t.Fatalf("backoff must be capped")
	}
}

func TestPing(t *testing.T) {
	eachStore(t, func(t *testing.T, f fixture) {
		if err := f.store.Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	s, err := Open(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	mr.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping failure after redis went away")
	}
}
