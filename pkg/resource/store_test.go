package resource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teamtrack/teamtrack/pkg/backend"
	"github.com/teamtrack/teamtrack/pkg/cache"
	"github.com/teamtrack/teamtrack/pkg/fetch"
	"github.com/teamtrack/teamtrack/pkg/invalidation"
)

type testEnv struct {
	cache    *cache.Store
	executor *fetch.Executor[[]backend.Player]
	store    *Store[backend.Player]
}

func newTestEnv(t *testing.T, initial []backend.Player) *testEnv {
	t.Helper()

	cs, err := cache.NewStore(cache.Opts{CleanerInterval: -1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	exec, err := fetch.New(fetch.Opts[[]backend.Player]{
		Producer: func(context.Context) ([]backend.Player, error) {
			return initial, nil
		},
		Store: cs,
		Cache: fetch.CacheOpts{Enable: true, Key: "players-all", TTL: time.Minute},
	})
	require.NoError(t, err)

	s, err := NewStore(Opts[backend.Player]{
		Name:     "players",
		Executor: exec,
		Registry: invalidation.NewRegistry(cs, nil),
		ID:       func(p backend.Player) string { return p.ID },
		Related:  []string{"teams"},
	})
	require.NoError(t, err)

	_, err = s.Items(context.Background())
	require.NoError(t, err)

	return &testEnv{cache: cs, executor: exec, store: s}
}

func ids(players []backend.Player) []string {
	out := make([]string, 0, len(players))
	for _, p := range players {
		out = append(out, p.ID)
	}
	return out
}

func Test_store_create(t *testing.T) {
	r := require.New(t)
	env := newTestEnv(t, []backend.Player{{ID: "p1", Name: "Ana"}})

	var midFlight []backend.Player
	confirmed, err := env.store.Create(context.Background(),
		func(tempID string) backend.Player {
			return backend.Player{ID: tempID, Name: "Leo"}
		},
		func(context.Context) (backend.Player, error) {
			// The provisional record is already visible while the
			// request is in flight.
			midFlight = env.store.State().Data
			return backend.Player{ID: "p2", Name: "Leo"}, nil
		},
	)
	r.NoError(err)
	r.Equal("p2", confirmed.ID)

	r.Len(midFlight, 2)
	r.True(IsTempID(midFlight[1].ID))

	final := env.store.State().Data
	r.Equal([]string{"p1", "p2"}, ids(final))
	for _, p := range final {
		r.False(IsTempID(p.ID), "temporary id leaked into confirmed state")
	}
}

func Test_store_create_rollback(t *testing.T) {
	r := require.New(t)
	env := newTestEnv(t, []backend.Player{{ID: "p1"}})

	var midFlight []backend.Player
	sendErr := errors.New("boom")
	_, err := env.store.Create(context.Background(),
		func(tempID string) backend.Player { return backend.Player{ID: tempID} },
		func(context.Context) (backend.Player, error) {
			// The rejection lands after a delay; the provisional record
			// is visible the whole time.
			time.Sleep(10 * time.Millisecond)
			midFlight = env.store.State().Data
			return backend.Player{}, sendErr
		},
	)
	r.ErrorIs(err, sendErr)

	r.Len(midFlight, 2)
	r.True(IsTempID(midFlight[1].ID))
	r.Equal([]string{"p1"}, ids(env.store.State().Data))
}

func Test_store_update_rollback(t *testing.T) {
	r := require.New(t)
	initial := []backend.Player{
		{ID: "p1", Name: "Ana", Goals: 3},
		{ID: "p2", Name: "Leo", Goals: 1},
	}
	env := newTestEnv(t, initial)

	var midFlight []backend.Player
	sendErr := errors.New("conflict")
	_, err := env.store.Update(context.Background(), "p2",
		func(p backend.Player) backend.Player {
			p.Goals = 9
			return p
		},
		func(context.Context) (backend.Player, error) {
			midFlight = env.store.State().Data
			return backend.Player{}, sendErr
		},
	)
	r.ErrorIs(err, sendErr)

	r.Equal(9, midFlight[1].Goals, "optimistic update not visible in flight")

	// The pre-mutation collection is restored verbatim.
	r.Equal(initial, env.store.State().Data)
}

func Test_store_update_confirmed(t *testing.T) {
	r := require.New(t)
	env := newTestEnv(t, []backend.Player{{ID: "p1", Goals: 3}})

	server := backend.Player{ID: "p1", Goals: 4, Assists: 7}
	got, err := env.store.Update(context.Background(), "p1",
		func(p backend.Player) backend.Player {
			p.Goals = 4
			return p
		},
		func(context.Context) (backend.Player, error) {
			return server, nil
		},
	)
	r.NoError(err)
	r.Equal(server, got)

	// The confirmed record replaces the optimistic one wholesale, so
	// server-computed fields come through.
	r.Equal([]backend.Player{server}, env.store.State().Data)
}

func Test_store_delete_rollback(t *testing.T) {
	r := require.New(t)
	initial := []backend.Player{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}}
	env := newTestEnv(t, initial)

	var midFlight []backend.Player
	sendErr := errors.New("forbidden")
	err := env.store.Delete(context.Background(), "p2", func(context.Context) error {
		midFlight = env.store.State().Data
		return sendErr
	})
	r.ErrorIs(err, sendErr)

	r.Equal([]string{"p1", "p3"}, ids(midFlight))
	r.Equal(initial, env.store.State().Data)
}

func Test_store_delete_confirmed(t *testing.T) {
	r := require.New(t)
	env := newTestEnv(t, []backend.Player{{ID: "p1"}, {ID: "p2"}})

	r.NoError(env.store.Delete(context.Background(), "p1", func(context.Context) error {
		return nil
	}))
	r.Equal([]string{"p2"}, ids(env.store.State().Data))

	// A confirmed mutation purges this namespace and related ones.
	if _, ok := env.cache.Get("players-all"); ok {
		t.Fatal("confirmed mutation left cached list behind")
	}
}

func Test_store_serializedMutations(t *testing.T) {
	r := require.New(t)
	env := newTestEnv(t, nil)

	// Two racing creates. The per-store mutex must keep each
	// snapshot/confirm pair whole, so both records survive.
	wg := sync.WaitGroup{}
	for i := 0; i < 2; i++ {
		id := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.store.Create(context.Background(),
				func(tempID string) backend.Player { return backend.Player{ID: tempID} },
				func(context.Context) (backend.Player, error) {
					time.Sleep(10 * time.Millisecond)
					return backend.Player{ID: id}, nil
				},
			)
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got := ids(env.store.State().Data)
	r.Len(got, 2)
	r.ElementsMatch([]string{"a", "b"}, got)
}
