package coremain

import (
	"github.com/teamtrack/teamtrack/mlog"
)

type Config struct {
	Log     mlog.LogConfig `yaml:"log"`
	API     APIConfig      `yaml:"api"`
	Backend BackendConfig  `yaml:"backend"`
	Cache   CacheConfig    `yaml:"cache"`
	Redis   RedisConfig    `yaml:"redis"`

	// Resources pre-builds stores at startup so their first consumer
	// does not pay the cold fetch. Stores for other scopes are built
	// on demand.
	Resources []ResourceConfig `yaml:"resources"`
}

type APIConfig struct {
	// HTTP is the "host:port" addr of the JSON API (plus /metrics and
	// pprof). Empty disables the server.
	HTTP string `yaml:"http"`
}

type BackendConfig struct {
	// BaseURL of the backend API. Required.
	BaseURL string `yaml:"base_url"`

	// Token is sent as a bearer token when set.
	Token string `yaml:"token"`

	// Timeout is the per-request timeout in seconds. Default 15.
	Timeout uint `yaml:"timeout"`
}

type CacheConfig struct {
	// Size is the max number of in-memory entries.
	Size int `yaml:"size"`

	// CleanerInterval in seconds between expired-entry prunes.
	CleanerInterval uint `yaml:"cleaner_interval"`

	// TTL in seconds for resource lists, overridable per resource.
	TTL uint `yaml:"ttl"`

	// Persist mirrors resource lists to redis for offline reads.
	Persist bool `yaml:"persist"`

	// SweepMaxAge in hours. Persisted entries older than this are
	// removed at startup regardless of their own TTL. Default 24.
	SweepMaxAge uint `yaml:"sweep_max_age"`
}

type RedisConfig struct {
	// Addr of the redis server. Empty disables cache persistence.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// KeyPrefix namespaces every key written by this process.
	KeyPrefix string `yaml:"key_prefix"`

	// Timeout is the per-operation timeout in milliseconds. Default
	// 1000.
	Timeout uint `yaml:"timeout"`
}

// ResourceConfig declares one store to pre-build.
type ResourceConfig struct {
	// Type, "players" "teams" or "matches". Required.
	Type string `yaml:"type"`

	// Args depend on Type and are converted by mapstruct. See
	// playersArgs, teamsArgs and matchesArgs.
	Args interface{} `yaml:"args"`
}

// Per-type args, decoded from ResourceConfig.Args.

type playersArgs struct {
	Team    string `mapstructure:"team"`
	TTL     uint   `mapstructure:"ttl"` // seconds
	Persist *bool  `mapstructure:"persist"`
}

type teamsArgs struct {
	Category string `mapstructure:"category"`
	Search   string `mapstructure:"search"`
	TTL      uint   `mapstructure:"ttl"`
	Persist  *bool  `mapstructure:"persist"`
}

type matchesArgs struct {
	Team    string `mapstructure:"team"`
	Status  string `mapstructure:"status"`
	TTL     uint   `mapstructure:"ttl"`
	Persist *bool  `mapstructure:"persist"`
}
