// Package config loads the Ontology Service's runtime knobs from
// ONTOLOGY_* environment variables, using viper.New() with
// AutomaticEnv the way internal/labelmutex configures its own viper
// instance, plus sane defaults for every optional field.
// optional.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of environment knobs the service reads at
// startup: store connection/pool, cache connection/TTL, and the
// resolver's operating threshold.
type Config struct {
	DBHost             string
	DBPort             int
	DBName             string
	DBUser             string
	DBPassword         string
	DBStatementTimeout time.Duration
	DBPoolMin          int32
	DBPoolMax          int32

	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	CacheTTL      time.Duration
	CacheCapacity int

	ResolverThreshold float64
}

// Load reads ONTOLOGY_* environment variables into a Config, applying
// the resource-policy defaults for every field a caller doesn't set. A fresh viper instance is used (not the package-level global)
// so tests can load independent configs without cross-contamination.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ontology")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "ontology")
	v.SetDefault("db.user", "ontology")
	v.SetDefault("db.password", "")
	v.SetDefault("db.statement_timeout", 5000)
	v.SetDefault("db.pool_min", 2)
	v.SetDefault("db.pool_max", 10)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("cache.ttl", 3600)
	v.SetDefault("cache.capacity", 10000)

	v.SetDefault("resolver.threshold", 0.95)

	cfg := Config{
		DBHost:             v.GetString("db.host"),
		DBPort:             v.GetInt("db.port"),
		DBName:             v.GetString("db.name"),
		DBUser:             v.GetString("db.user"),
		DBPassword:         v.GetString("db.password"),
		DBStatementTimeout: time.Duration(v.GetInt64("db.statement_timeout")) * time.Millisecond,
		DBPoolMin:          int32(v.GetInt("db.pool_min")),
		DBPoolMax:          int32(v.GetInt("db.pool_max")),

		RedisHost:     v.GetString("redis.host"),
		RedisPort:     v.GetInt("redis.port"),
		RedisDB:       v.GetInt("redis.db"),
		RedisPassword: v.GetString("redis.password"),
		CacheTTL:      time.Duration(v.GetInt64("cache.ttl")) * time.Second,
		CacheCapacity: v.GetInt("cache.capacity"),

		ResolverThreshold: v.GetFloat64("resolver.threshold"),
	}

	if cfg.DBPoolMin < 0 || cfg.DBPoolMax < cfg.DBPoolMin {
		return Config{}, fmt.Errorf("config: invalid pool bounds [%d,%d]", cfg.DBPoolMin, cfg.DBPoolMax)
	}
	return cfg, nil
}
