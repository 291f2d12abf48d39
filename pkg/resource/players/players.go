// Package players is the optimistic resource store for player records,
// scoped to one team or to all teams.
package players

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teamtrack/teamtrack/pkg/backend"
	"github.com/teamtrack/teamtrack/pkg/cache"
	"github.com/teamtrack/teamtrack/pkg/fetch"
	"github.com/teamtrack/teamtrack/pkg/invalidation"
	"github.com/teamtrack/teamtrack/pkg/resource"
)

const (
	// Namespace prefixes all player cache keys.
	Namespace = "players"

	// StatsNamespace prefixes player statistics cache keys.
	StatsNamespace = "player-stats"

	defaultTTL      = 5 * time.Minute
	defaultStatsTTL = time.Minute
)

// CacheKey builds "players-<teamID-or-'all'>".
func CacheKey(teamID string) string {
	if len(teamID) == 0 {
		teamID = "all"
	}
	return Namespace + "-" + teamID
}

func statsKey(playerID string) string {
	return StatsNamespace + "-" + playerID
}

type Opts struct {
	// Client cannot be nil.
	Client *backend.Client

	// Store cannot be nil.
	Store *cache.Store

	// Registry cannot be nil.
	Registry *invalidation.Registry

	// TeamID scopes the store to one team. Empty means all teams.
	TeamID string

	// TTL is the list cache validity. Default is 5 minutes.
	TTL time.Duration

	// Persist mirrors the player list to durable storage for offline
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
	inner *resource.Store[backend.Player]

	statsMu sync.Mutex
	stats   map[string]*fetch.Executor[backend.PlayerStats]
}

func New(opts Opts) (*Store, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}

	exec, err := fetch.New(fetch.Opts[[]backend.Player]{
		Producer: func(ctx context.Context) ([]backend.Player, error) {
			return opts.Client.ListPlayers(ctx, opts.TeamID)
		},
		Store: opts.Store,
		Cache: fetch.CacheOpts{
			Enable:  true,
			Key:     CacheKey(opts.TeamID),
			TTL:     opts.TTL,
			Persist: opts.Persist,
		},
		ErrorMessage: backend.ErrorMessage,
		Logger:       opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	inner, err := resource.NewStore(resource.Opts[backend.Player]{
		Name:     Namespace,
		Executor: exec,
		Registry: opts.Registry,
		ID:       func(p backend.Player) string { return p.ID },
		// Team records denormalize roster counts, so player mutations
		// stale the teams namespace too.
		Related: []string{"teams"},
		Logger:  opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Store{
		opts:  opts,
		inner: inner,
		stats: make(map[string]*fetch.Executor[backend.PlayerStats]),
	}, nil
}

// Players resolves the player list, cache-served when fresh.
func (s *Store) Players(ctx context.Context) ([]backend.Player, error) {
	return s.inner.Items(ctx)
}

// Refresh forces a backend round-trip.
func (s *Store) Refresh(ctx context.Context) ([]backend.Player, error) {
	return s.inner.Refresh(ctx)
}

func (s *Store) State() fetch.State[[]backend.Player] {
	return s.inner.State()
}

// Add creates a player optimistically. The provisional record defaults
// server-computed fields: counters start at zero, the creation time is
// now.
func (s *Store) Add(ctx context.Context, in backend.PlayerInput) (backend.Player, error) {
	return s.inner.Create(ctx,
		func(tempID string) backend.Player {
			return backend.Player{
				ID:        tempID,
				TeamID:    in.TeamID,
				Name:      in.Name,
				Number:    in.Number,
				Position:  in.Position,
				CreatedAt: time.Now(),
			}
		},
		func(ctx context.Context) (backend.Player, error) {
			return s.opts.Client.CreatePlayer(ctx, in)
		},
	)
}

// Update replaces a player record optimistically.
func (s *Store) Update(ctx context.Context, p backend.Player) (backend.Player, error) {
	return s.inner.Update(ctx, p.ID,
		func(backend.Player) backend.Player { return p },
		func(ctx context.Context) (backend.Player, error) {
			return s.opts.Client.UpdatePlayer(ctx, p)
		},
	)
}

// Remove deletes a player optimistically.
func (s *Store) Remove(ctx context.Context, id string) error {
	return s.inner.Delete(ctx, id, func(ctx context.Context) error {
		return s.opts.Client.DeletePlayer(ctx, id)
	})
}

// Stats resolves a player's statistics through its own cached executor.
func (s *Store) Stats(ctx context.Context, playerID string) (backend.PlayerStats, error) {
	exec, err := s.statsExecutor(playerID)
	if err != nil {
		return backend.PlayerStats{}, err
	}
	return exec.Execute(ctx)
}

func (s *Store) statsExecutor(playerID string) (*fetch.Executor[backend.PlayerStats], error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if exec, ok := s.stats[playerID]; ok {
		return exec, nil
	}
	exec, err := fetch.New(fetch.Opts[backend.PlayerStats]{
		Producer: func(ctx context.Context) (backend.PlayerStats, error) {
			return s.opts.Client.PlayerStats(ctx, playerID)
		},
		Store: s.opts.Store,
		Cache: fetch.CacheOpts{
			Enable: true,
			Key:    statsKey(playerID),
			TTL:    defaultStatsTTL,
		},
		ErrorMessage: backend.ErrorMessage,
		Logger:       s.opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	s.stats[playerID] = exec
	return exec, nil
}
