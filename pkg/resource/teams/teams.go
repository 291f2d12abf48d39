// Package teams is the optimistic resource store for team records.
package teams

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/teamtrack/teamtrack/pkg/backend"
	"github.com/teamtrack/teamtrack/pkg/cache"
	"github.com/teamtrack/teamtrack/pkg/fetch"
	"github.com/teamtrack/teamtrack/pkg/invalidation"
	"github.com/teamtrack/teamtrack/pkg/resource"
)

const (
	Namespace      = "teams"
	StatsNamespace = "team-stats"

	defaultTTL      = 10 * time.Minute
	defaultStatsTTL = time.Minute
)

// CacheKey builds "teams-<JSON of options>". Options marshal
// deterministically, so equal options always share a key.
func CacheKey(opts backend.TeamListOptions) string {
	b, err := json.Marshal(opts)
	if err != nil {
		return Namespace + "-{}"
	}
	return Namespace + "-" + string(b)
}

func statsKey(teamID string) string {
	return StatsNamespace + "-" + teamID
}

type Opts struct {
	// Client cannot be nil.
	Client *backend.Client

	// Store cannot be nil.
	Store *cache.Store

	// Registry cannot be nil.
	Registry *invalidation.Registry

	// List narrows the team collection this store tracks.
	List backend.TeamListOptions

	// TTL is the list cache validity. Default is 10 minutes.
	TTL time.Duration

	// Persist mirrors the team list to durable storage for offline
	// reads.
	Persist bool

	Logger *zap.Logger
}

func (opts *Opts) Init() error {
	if opts.Client == nil {
		return errors.New("nil client")
	}
	if opts.Store == nil {
		return errors.New("nil cache store")
	}
	if opts.Registry == nil {
		return errors.New("nil registry")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return nil
}

type Store struct {
	opts  Opts
	inner *resource.Store[backend.Team]

	statsMu sync.Mutex
	stats   map[string]*fetch.Executor[backend.TeamStats]
}

func New(opts Opts) (*Store, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}

	exec, err := fetch.New(fetch.Opts[[]backend.Team]{
		Producer: func(ctx context.Context) ([]backend.Team, error) {
			return opts.Client.ListTeams(ctx, opts.List)
		},
		Store: opts.Store,
		Cache: fetch.CacheOpts{
			Enable:  true,
			Key:     CacheKey(opts.List),
			TTL:     opts.TTL,
			Persist: opts.Persist,
		},
		ErrorMessage: backend.ErrorMessage,
		Logger:       opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	inner, err := resource.NewStore(resource.Opts[backend.Team]{
		Name:     Namespace,
		Executor: exec,
		Registry: opts.Registry,
		ID:       func(t backend.Team) string { return t.ID },
		// Player listings may be filtered or joined by team, so team
		// mutations stale the players namespace too.
		Related: []string{"players"},
		Logger:  opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Store{
		opts:  opts,
		inner: inner,
		stats: make(map[string]*fetch.Executor[backend.TeamStats]),
	}, nil
}

func (s *Store) Teams(ctx context.Context) ([]backend.Team, error) {
	return s.inner.Items(ctx)
}

func (s *Store) Refresh(ctx context.Context) ([]backend.Team, error) {
	return s.inner.Refresh(ctx)
}

func (s *Store) State() fetch.State[[]backend.Team] {
	return s.inner.State()
}

// Add creates a team optimistically. The provisional roster count
// starts at zero.
func (s *Store) Add(ctx context.Context, in backend.TeamInput) (backend.Team, error) {
	return s.inner.Create(ctx,
		func(tempID string) backend.Team {
			return backend.Team{
				ID:        tempID,
				Name:      in.Name,
				Category:  in.Category,
				CreatedAt: time.Now(),
			}
		},
		func(ctx context.Context) (backend.Team, error) {
			return s.opts.Client.CreateTeam(ctx, in)
		},
	)
}

func (s *Store) Update(ctx context.Context, t backend.Team) (backend.Team, error) {
	return s.inner.Update(ctx, t.ID,
		func(backend.Team) backend.Team { return t },
		func(ctx context.Context) (backend.Team, error) {
			return s.opts.Client.UpdateTeam(ctx, t)
		},
	)
}

func (s *Store) Remove(ctx context.Context, id string) error {
	return s.inner.Delete(ctx, id, func(ctx context.Context) error {
		return s.opts.Client.DeleteTeam(ctx, id)
	})
}

// Stats resolves a team's statistics through its own cached executor.
func (s *Store) Stats(ctx context.Context, teamID string) (backend.TeamStats, error) {
	exec, err := s.statsExecutor(teamID)
	if err != nil {
		return backend.TeamStats{}, err
	}
	return exec.Execute(ctx)
}

func (s *Store) statsExecutor(teamID string) (*fetch.Executor[backend.TeamStats], error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if exec, ok := s.stats[teamID]; ok {
		return exec, nil
	}
	exec, err := fetch.New(fetch.Opts[backend.TeamStats]{
		Producer: func(ctx context.Context) (backend.TeamStats, error) {
			return s.opts.Client.TeamStats(ctx, teamID)
		},
		Store: s.opts.Store,
		Cache: fetch.CacheOpts{
			Enable: true,
			Key:    statsKey(teamID),
			TTL:    defaultStatsTTL,
		},
		ErrorMessage: backend.ErrorMessage,
		Logger:       s.opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	s.stats[teamID] = exec
	return exec, nil
}
