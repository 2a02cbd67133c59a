package fleet

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func stores(t *testing.T) map[string]Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client),
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			st, err := s.Get(ctx, "d1")
			if err != nil || st.Known {
				t.Fatalf("fresh driver should be unknown: %+v %v", st, err)
			}
			if err := s.MarkAvailableIfUnset(ctx, "d1"); err != nil {
				t.Fatalf("mark: %v", err)
			}
			if st, _ = s.Get(ctx, "d1"); !st.Known || !st.Available {
				t.Fatalf("expected available, got %+v", st)
			}

			if err := s.Bind(ctx, "d1", "r1"); err != nil {
				t.Fatalf("bind: %v", err)
			}
			// a later location update must not flip a bound driver back
			_ = s.MarkAvailableIfUnset(ctx, "d1")
			if st, _ = s.Get(ctx, "d1"); st.Available || st.CurrentRide != "r1" {
				t.Fatalf("expected bound to r1, got %+v", st)
			}

			if cleared, _ := s.Clear(ctx, "d1"); cleared {
				t.Fatalf("bound driver state must survive disconnect")
			}

			// a stale release for another ride is ignored
			_ = s.Release(ctx, "d1", "r0")
			if st, _ = s.Get(ctx, "d1"); st.CurrentRide != "r1" {
				t.Fatalf("stale release freed the driver: %+v", st)
			}

			if err := s.Release(ctx, "d1", "r1"); err != nil {
				t.Fatalf("release: %v", err)
			}
			if st, _ = s.Get(ctx, "d1"); !st.Available || st.CurrentRide != "" {
				t.Fatalf("expected available after release, got %+v", st)
			}

			if cleared, err := s.Clear(ctx, "d1"); err != nil || !cleared {
				t.Fatalf("unbound driver should be cleared: %v %v", cleared, err)
			}
			if st, _ = s.Get(ctx, "d1"); st.Known {
				t.Fatalf("state still present after clear")
			}
		})
	}
}
