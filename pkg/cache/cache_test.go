package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mapDurable is an in-memory Durable for tests.
type mapDurable struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMapDurable() *mapDurable {
	return &mapDurable{m: make(map[string][]byte)}
}

func (d *mapDurable) Get(_ context.Context, key string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (d *mapDurable) Set(_ context.Context, key string, data []byte, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := make([]byte, len(data))
	copy(c, data)
	d.m[key] = c
	return nil
}

func (d *mapDurable) Remove(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.m, key)
	return nil
}

func (d *mapDurable) Keys(_ context.Context, prefix string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var keys []string
	for k := range d.m {
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (d *mapDurable) Close() error { return nil }

func (d *mapDurable) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.m)
}

func newTestStore(t *testing.T, opts Opts) *Store {
	t.Helper()
	s, err := NewStore(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_store(t *testing.T) {
	s := newTestStore(t, Opts{CleanerInterval: -1})

	if _, ok := s.Get("players-all"); ok {
		t.Fatal("unexpected hit on empty store")
	}

	s.Set("players-all", []int{1, 2, 3}, time.Minute, false)
	v, ok := s.Get("players-all")
	if !ok {
		t.Fatal("miss after set")
	}
	if len(v.([]int)) != 3 {
		t.Fatal("value mismatch")
	}

	// A key holds at most one entry. A second write replaces the first.
	s.Set("players-all", []int{9}, time.Minute, false)
	v, _ = s.Get("players-all")
	if len(v.([]int)) != 1 || v.([]int)[0] != 9 {
		t.Fatal("second write did not replace first")
	}
	if s.Len() != 1 {
		t.Fatalf("want 1 entry, got %d", s.Len())
	}
}

func Test_store_expiry(t *testing.T) {
	s := newTestStore(t, Opts{CleanerInterval: -1})

	s.Set("teams-{}", "v", 10*time.Millisecond, false)
	if _, ok := s.Get("teams-{}"); !ok {
		t.Fatal("miss before expiry")
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := s.Get("teams-{}"); ok {
		t.Fatal("expired entry served")
	}
}

func Test_store_cleaner(t *testing.T) {
	s := newTestStore(t, Opts{CleanerInterval: 10 * time.Millisecond})

	for i := 0; i < 64; i++ {
		s.Set(string(rune('a'+i)), i, time.Millisecond, false)
	}
	time.Sleep(100 * time.Millisecond)
	if s.Len() != 0 {
		t.Fatalf("cleaner left %d entries", s.Len())
	}
}

func Test_store_invalidate(t *testing.T) {
	s := newTestStore(t, Opts{CleanerInterval: -1})

	s.Set("players-all", 1, time.Minute, false)
	s.Set("players-t1", 2, time.Minute, false)
	s.Set("player-stats-p1", 3, time.Minute, false)
	s.Set("teams-{}", 4, time.Minute, false)

	// "players" must not catch "player-stats-*".
	s.Invalidate("players")
	if _, ok := s.Get("players-all"); ok {
		t.Fatal("players-all survived namespace purge")
	}
	if _, ok := s.Get("players-t1"); ok {
		t.Fatal("players-t1 survived namespace purge")
	}
	if _, ok := s.Get("player-stats-p1"); !ok {
		t.Fatal("player-stats-p1 purged by players namespace")
	}
	if _, ok := s.Get("teams-{}"); !ok {
		t.Fatal("teams-{} purged by players namespace")
	}

	s.Invalidate("*")
	if s.Len() != 0 {
		t.Fatal("wildcard purge left entries")
	}
}

func Test_matchKey(t *testing.T) {
	tests := []struct {
		key, pattern string
		want         bool
	}{
		{"players-all", "*", true},
		{"players-all", "players", true},
		{"players-t1", "players", true},
		{"players", "players", true},
		{"player-stats-p1", "players", false},
		{"playersextra", "players", false},
		{"teams-{}", "players", false},
		{"players-t1", "players-t1", true},
		{"players-t1-x", "players-t1", true},
	}
	for _, tt := range tests {
		if got := matchKey(tt.key, tt.pattern); got != tt.want {
			t.Fatalf("matchKey(%q, %q) = %v, want %v", tt.key, tt.pattern, got, tt.want)
		}
	}
}

func Test_store_persist(t *testing.T) {
	r := require.New(t)
	d := newMapDurable()
	s := newTestStore(t, Opts{CleanerInterval: -1, Durable: d})

	type record struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	s.Set("players-all", []record{{ID: "p1", Name: "Ana"}}, time.Minute, true)

	// The durable mirror is asynchronous.
	r.Eventually(func() bool { return d.len() == 1 }, time.Second, 10*time.Millisecond)

	// A second store hydrates from durable and seeds its memory.
	s2 := newTestStore(t, Opts{CleanerInterval: -1, Durable: d})
	got, ok := HydrateAs[[]record](context.Background(), s2, "players-all")
	r.True(ok)
	r.Equal([]record{{ID: "p1", Name: "Ana"}}, got)

	v, ok := s2.Get("players-all")
	r.True(ok, "hydrate must seed memory")
	r.Equal(got, v)
}

// slowRemoveDurable delays Remove, exposing any ordering gap between
// invalidation and a following hydrate.
type slowRemoveDurable struct {
	*mapDurable
	delay time.Duration
}

func (d *slowRemoveDurable) Remove(ctx context.Context, key string) error {
	time.Sleep(d.delay)
	return d.mapDurable.Remove(ctx, key)
}

func Test_store_invalidate_durable(t *testing.T) {
	r := require.New(t)
	d := newMapDurable()
	s := newTestStore(t, Opts{
		CleanerInterval: -1,
		Durable:         &slowRemoveDurable{mapDurable: d, delay: 50 * time.Millisecond},
	})

	s.Set("players-all", []int{1}, time.Minute, true)
	r.Eventually(func() bool { return d.len() == 1 }, time.Second, 10*time.Millisecond)

	// By the time Invalidate returns, the invalidated key's durable
	// entry must be gone too. A hydrate right after must miss, even
	// with a sluggish durable collaborator.
	s.Invalidate("players-all")
	if _, _, _, ok := s.Hydrate(context.Background(), "players-all"); ok {
		t.Fatal("invalidated entry hydrated from durable storage")
	}

	// Namespace purges clear the remaining durable keys eventually.
	s.Set("players-t1", []int{2}, time.Minute, true)
	s.Set("teams-{}", []int{3}, time.Minute, true)
	r.Eventually(func() bool { return d.len() == 2 }, time.Second, 10*time.Millisecond)

	s.Invalidate("players")
	r.Eventually(func() bool {
		_, err := d.Get(context.Background(), "players-t1")
		return errors.Is(err, ErrNotFound)
	}, time.Second, 10*time.Millisecond)
	_, err := d.Get(context.Background(), "teams-{}")
	r.NoError(err, "unrelated namespace removed from durable storage")
}

func Test_store_hydrate_expired(t *testing.T) {
	d := newMapDurable()

	// Write an already expired packed entry directly.
	st := time.Now().Add(-time.Hour)
	buf := packValue(st, st.Add(time.Minute), []byte(`"v"`))
	_ = d.Set(context.Background(), "matches-all-{}", buf.Bytes(), 0)
	buf.Release()

	s := newTestStore(t, Opts{CleanerInterval: -1, Durable: d})
	if _, _, _, ok := s.Hydrate(context.Background(), "matches-all-{}"); ok {
		t.Fatal("expired durable entry hydrated")
	}
}

func Test_store_sweep(t *testing.T) {
	r := require.New(t)
	d := newMapDurable()

	old := time.Now().Add(-48 * time.Hour)
	buf := packValue(old, old.Add(time.Minute), []byte(`1`))
	r.NoError(d.Set(context.Background(), "players-old", buf.Bytes(), 0))
	buf.Release()

	fresh := time.Now()
	buf = packValue(fresh, fresh.Add(time.Minute), []byte(`2`))
	r.NoError(d.Set(context.Background(), "players-fresh", buf.Bytes(), 0))
	buf.Release()

	s := newTestStore(t, Opts{CleanerInterval: -1, Durable: d})
	r.NoError(s.Sweep(context.Background(), DefaultSweepMaxAge))

	_, err := d.Get(context.Background(), "players-old")
	r.ErrorIs(err, ErrNotFound)
	_, err = d.Get(context.Background(), "players-fresh")
	r.NoError(err)
}

func Test_codec(t *testing.T) {
	st := time.Unix(1700000000, 0)
	expire := st.Add(5 * time.Minute)
	payload := []byte(`{"id":"p1"}`)

	buf := packValue(st, expire, payload)
	defer buf.Release()

	gotSt, gotExpire, gotPayload, err := unpackValue(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !gotSt.Equal(st) || !gotExpire.Equal(expire) {
		t.Fatal("timestamps mismatch")
	}
	if string(gotPayload) != string(payload) {
		t.Fatal("payload mismatch")
	}

	if _, _, _, err := unpackValue([]byte{1, 2, 3}); err == nil {
		t.Fatal("short value unpacked")
	}
}

func Test_store_race(t *testing.T) {
	s := newTestStore(t, Opts{Size: 1024, CleanerInterval: -1})

	wg := sync.WaitGroup{}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 256; j++ {
				key := "players-" + string(rune('a'+j%26))
				s.Set(key, j, time.Minute, false)
				_, _ = s.Get(key)
				if j%61 == 0 {
					s.Invalidate("players")
				}
			}
		}()
	}
	wg.Wait()
}
