package coremain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-viper/mapstructure/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/teamtrack/teamtrack/mlog"
	"github.com/teamtrack/teamtrack/pkg/backend"
	"github.com/teamtrack/teamtrack/pkg/cache"
	"github.com/teamtrack/teamtrack/pkg/cache/redis_durable"
	"github.com/teamtrack/teamtrack/pkg/invalidation"
	"github.com/teamtrack/teamtrack/pkg/resource/matches"
	"github.com/teamtrack/teamtrack/pkg/resource/players"
	"github.com/teamtrack/teamtrack/pkg/resource/teams"
	"github.com/teamtrack/teamtrack/pkg/safe_close"
)

// Teamtrack is the assembled data layer: one process-wide cache store,
// one invalidation registry, one backend client, and resource stores
// built per scope on demand.
type Teamtrack struct {
	cfg    *Config
	logger *zap.Logger

	store    *cache.Store
	registry *invalidation.Registry
	client   *backend.Client

	mu           sync.Mutex
	playerStores map[string]*players.Store // by team scope, "" = all
	teamStores   map[string]*teams.Store   // by list options cache key
	matchStores  map[string]*matches.Store // by team+filter cache key

	httpAPIMux    *http.ServeMux
	httpAPIServer *http.Server

	metricsReg *prometheus.Registry

	sc *safe_close.SafeClose
}

func RunTeamtrack(cfg *Config) error {
	lg, err := mlog.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	mlog.SetL(lg)

	t, err := NewTeamtrack(cfg, lg)
	if err != nil {
		return err
	}
	defer t.Close()

	if httpAddr := cfg.API.HTTP; len(httpAddr) > 0 {
		t.startAPIServer(httpAddr)
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		s := <-sig
		lg.Info("signal received", zap.Stringer("signal", s))
		t.sc.SendCloseSignal(nil)
	}()

	<-t.sc.ReceiveCloseSignal()
	t.sc.Done()
	t.sc.CloseWait()
	return t.sc.Err()
}

func NewTeamtrack(cfg *Config, lg *zap.Logger) (*Teamtrack, error) {
	t := &Teamtrack{
		cfg:          cfg,
		logger:       lg,
		playerStores: make(map[string]*players.Store),
		teamStores:   make(map[string]*teams.Store),
		matchStores:  make(map[string]*matches.Store),
		httpAPIMux:   http.NewServeMux(),
		metricsReg:   newMetricsReg(),
		sc:           safe_close.NewSafeClose(),
	}

	var durable cache.Durable
	if len(cfg.Redis.Addr) > 0 {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rd, err := redis_durable.New(redis_durable.Opts{
			Client:        client,
			ClientCloser:  client,
			ClientTimeout: time.Duration(cfg.Redis.Timeout) * time.Millisecond,
			KeyPrefix:     cfg.Redis.KeyPrefix,
			Logger:        lg.Named("redis"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init redis durable store: %w", err)
		}
		durable = rd
		lg.Info("cache persistence enabled", zap.String("addr", cfg.Redis.Addr))
	}

	store, err := cache.NewStore(cache.Opts{
		Size:            cfg.Cache.Size,
		CleanerInterval: time.Duration(cfg.Cache.CleanerInterval) * time.Second,
		Durable:         durable,
		Logger:          lg.Named("cache"),
		Metrics:         cache.NewMetrics(t.metricsReg),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init cache store: %w", err)
	}
	t.store = store
	t.registry = invalidation.NewRegistry(store, lg.Named("invalidation"))

	client, err := backend.NewClient(backend.Opts{
		BaseURL: cfg.Backend.BaseURL,
		Token:   cfg.Backend.Token,
		Timeout: time.Duration(cfg.Backend.Timeout) * time.Second,
		Logger:  lg.Named("backend"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init backend client: %w", err)
	}
	t.client = client

	if durable != nil {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		maxAge := time.Duration(cfg.Cache.SweepMaxAge) * time.Hour
		if err := store.Sweep(sweepCtx, maxAge); err != nil {
			lg.Warn("durable sweep failed", zap.Error(err))
		}
		cancel()
	}

	t.httpAPIMux.Handle("/metrics", promhttp.HandlerFor(t.metricsReg, promhttp.HandlerOpts{}))
	t.httpAPIMux.HandleFunc("/debug/pprof/", pprof.Index)
	t.httpAPIMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	t.httpAPIMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	t.httpAPIMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	t.httpAPIMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	t.registerAPIHandlers()

	for i, rc := range cfg.Resources {
		if err := t.initResource(&rc); err != nil {
			return nil, fmt.Errorf("failed to init resource #%d, %w", i, err)
		}
	}

	return t, nil
}

func newMetricsReg() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Close releases the cache store (and through it the durable client).
func (t *Teamtrack) Close() error {
	return t.store.Close()
}

// GetSafeClose returns the lifecycle handle of this instance.
func (t *Teamtrack) GetSafeClose() *safe_close.SafeClose {
	return t.sc
}

func (t *Teamtrack) startAPIServer(addr string) {
	t.httpAPIServer = &http.Server{
		Addr:    addr,
		Handler: t.httpAPIMux,
	}
	t.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		errChan := make(chan error, 1)
		go func() {
			t.logger.Info("starting api http server", zap.String("addr", addr))
			errChan <- t.httpAPIServer.ListenAndServe()
		}()
		select {
		case err := <-errChan:
			t.sc.SendCloseSignal(err)
		case <-closeSignal:
			t.httpAPIServer.Close()
		}
	})
}

func (t *Teamtrack) initResource(rc *ResourceConfig) error {
	switch rc.Type {
	case "players":
		args := new(playersArgs)
		if err := decodeArgs(rc.Args, args); err != nil {
			return err
		}
		_, err := t.playersStore(args.Team, args)
		return err
	case "teams":
		args := new(teamsArgs)
		if err := decodeArgs(rc.Args, args); err != nil {
			return err
		}
		_, err := t.teamsStore(backend.TeamListOptions{Category: args.Category, Search: args.Search}, args)
		return err
	case "matches":
		args := new(matchesArgs)
		if err := decodeArgs(rc.Args, args); err != nil {
			return err
		}
		_, err := t.matchesStore(args.Team, backend.MatchFilter{Status: args.Status}, args)
		return err
	case "":
		return errors.New("empty resource type")
	default:
		return fmt.Errorf("unknown resource type %s", rc.Type)
	}
}

func decodeArgs(in, out interface{}) error {
	if in == nil {
		return nil
	}
	return mapstructure.Decode(in, out)
}

func (t *Teamtrack) resolveCacheArgs(ttl uint, persist *bool) (time.Duration, bool) {
	d := time.Duration(ttl) * time.Second
	if ttl == 0 {
		d = time.Duration(t.cfg.Cache.TTL) * time.Second
	}
	p := t.cfg.Cache.Persist
	if persist != nil {
		p = *persist
	}
	return d, p
}

// playersStore returns the store scoped to teamID, building it on first
// use. A nil args applies the config-wide cache defaults.
func (t *Teamtrack) playersStore(teamID string, args *playersArgs) (*players.Store, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.playerStores[teamID]; ok {
		return s, nil
	}

	if args == nil {
		args = new(playersArgs)
	}
	ttl, persist := t.resolveCacheArgs(args.TTL, args.Persist)
	s, err := players.New(players.Opts{
		Client:   t.client,
		Store:    t.store,
		Registry: t.registry,
		TeamID:   teamID,
		TTL:      ttl,
		Persist:  persist,
		Logger:   t.logger.Named("players"),
	})
	if err != nil {
		return nil, err
	}
	t.playerStores[teamID] = s
	return s, nil
}

func (t *Teamtrack) teamsStore(opts backend.TeamListOptions, args *teamsArgs) (*teams.Store, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := teams.CacheKey(opts)
	if s, ok := t.teamStores[key]; ok {
		return s, nil
	}

	if args == nil {
		args = new(teamsArgs)
	}
	ttl, persist := t.resolveCacheArgs(args.TTL, args.Persist)
	s, err := teams.New(teams.Opts{
		Client:   t.client,
		Store:    t.store,
		Registry: t.registry,
		List:     opts,
		TTL:      ttl,
		Persist:  persist,
		Logger:   t.logger.Named("teams"),
	})
	if err != nil {
		return nil, err
	}
	t.teamStores[key] = s
	return s, nil
}

func (t *Teamtrack) matchesStore(teamID string, filter backend.MatchFilter, args *matchesArgs) (*matches.Store, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := matches.CacheKey(teamID, filter)
	if s, ok := t.matchStores[key]; ok {
		return s, nil
	}

	if args == nil {
		args = new(matchesArgs)
	}
	ttl, persist := t.resolveCacheArgs(args.TTL, args.Persist)
	s, err := matches.New(matches.Opts{
		Client:   t.client,
		Store:    t.store,
		Registry: t.registry,
		TeamID:   teamID,
		Filter:   filter,
		TTL:      ttl,
		Persist:  persist,
		Logger:   t.logger.Named("matches"),
	})
	if err != nil {
		return nil, err
	}
	t.matchStores[key] = s
	return s, nil
}
