// Package matches is the optimistic resource store for match records.
package matches

import (
	"context"
	"errors"
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
	Namespace = "matches"

	defaultTTL = 2 * time.Minute
)

// CacheKey builds "matches-<teamID-or-'all'>-<JSON of filter options>".
func CacheKey(teamID string, filter backend.MatchFilter) string {
	if len(teamID) == 0 {
		teamID = "all"
	}
	b, err := json.Marshal(filter)
	if err != nil {
		return Namespace + "-" + teamID + "-{}"
	}
	return Namespace + "-" + teamID + "-" + string(b)
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

	// Filter narrows the match collection this store tracks.
	Filter backend.MatchFilter

	// TTL is the list cache validity. Default is 2 minutes; match
	// data moves faster than rosters.
	TTL time.Duration

	// Persist mirrors the match list to durable storage for offline
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
	inner *resource.Store[backend.Match]
}

func New(opts Opts) (*Store, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}

	exec, err := fetch.New(fetch.Opts[[]backend.Match]{
		Producer: func(ctx context.Context) ([]backend.Match, error) {
			return opts.Client.ListMatches(ctx, opts.TeamID, opts.Filter)
		},
		Store: opts.Store,
		Cache: fetch.CacheOpts{
			Enable:  true,
			Key:     CacheKey(opts.TeamID, opts.Filter),
			TTL:     opts.TTL,
			Persist: opts.Persist,
		},
		ErrorMessage: backend.ErrorMessage,
		Logger:       opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	inner, err := resource.NewStore(resource.Opts[backend.Match]{
		Name:     Namespace,
		Executor: exec,
		Registry: opts.Registry,
		ID:       func(m backend.Match) string { return m.ID },
		// Finished matches feed player and team statistics.
		Related: []string{"player-stats", "team-stats"},
		Logger:  opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Store{opts: opts, inner: inner}, nil
}

func (s *Store) Matches(ctx context.Context) ([]backend.Match, error) {
	return s.inner.Items(ctx)
}

func (s *Store) Refresh(ctx context.Context) ([]backend.Match, error) {
	return s.inner.Refresh(ctx)
}

func (s *Store) State() fetch.State[[]backend.Match] {
	return s.inner.State()
}

// Add schedules a match optimistically. Scores default to zero and the
// provisional status is "scheduled".
func (s *Store) Add(ctx context.Context, in backend.MatchInput) (backend.Match, error) {
	return s.inner.Create(ctx,
		func(tempID string) backend.Match {
			return backend.Match{
				ID:        tempID,
				TeamID:    in.TeamID,
				Opponent:  in.Opponent,
				KickOff:   in.KickOff,
				Location:  in.Location,
				Status:    backend.MatchScheduled,
				CreatedAt: time.Now(),
			}
		},
		func(ctx context.Context) (backend.Match, error) {
			return s.opts.Client.CreateMatch(ctx, in)
		},
	)
}

func (s *Store) Update(ctx context.Context, m backend.Match) (backend.Match, error) {
	return s.inner.Update(ctx, m.ID,
		func(backend.Match) backend.Match { return m },
		func(ctx context.Context) (backend.Match, error) {
			return s.opts.Client.UpdateMatch(ctx, m)
		},
	)
}

func (s *Store) Remove(ctx context.Context, id string) error {
	return s.inner.Delete(ctx, id, func(ctx context.Context) error {
		return s.opts.Client.DeleteMatch(ctx, id)
	})
}

// UpdateScore reports a score change optimistically; the related
// statistics namespaces are invalidated on confirmation.
func (s *Store) UpdateScore(ctx context.Context, id string, home, away int) (backend.Match, error) {
	return s.inner.Update(ctx, id,
		func(m backend.Match) backend.Match {
			m.HomeScore = home
			m.AwayScore = away
			return m
		},
		func(ctx context.Context) (backend.Match, error) {
			return s.opts.Client.UpdateMatchScore(ctx, id, home, away)
		},
	)
}
