package main

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/chaviprom/procore/internal/aggregate"
	"github.com/chaviprom/procore/internal/application"
	"github.com/chaviprom/procore/internal/cache"
	"github.com/chaviprom/procore/internal/config"
	httpiface "github.com/chaviprom/procore/internal/interfaces/http"
	"github.com/chaviprom/procore/internal/metrics"
	"github.com/chaviprom/procore/internal/score"
	"github.com/chaviprom/procore/internal/store"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the analytics HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg.Log)

			db, err := openDB(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			backend := newCacheBackend(cfg.Redis, log)
			defer backend.Close()

			st := store.NewPostgres(db, cfg.Database.QueryTimeout.Std())
			scores := score.NewPostgresRepo(db, cfg.Database.QueryTimeout.Std())
			computer := score.NewComputer(st, scores, log)

			var limiter *rate.Limiter
			if cfg.Aggregation.RateLimit > 0 {
				limiter = rate.NewLimiter(rate.Limit(cfg.Aggregation.RateLimit), int(cfg.Aggregation.RateLimit))
			}
			aggregator := aggregate.New(st, scores, cfg.Aggregation.Workers, limiter, log)

			m := metrics.New(prometheus.DefaultRegisterer)
			svc := application.New(st, scores, computer, aggregator,
				cache.NewLoader(backend, log), cache.NewVersions(backend), m,
				application.Config{
					PatientTTL:          cfg.Cache.PatientTTL.Std(),
					PopulationTTL:       cfg.Cache.PopulationTTL.Std(),
					DefaultSubmissions:  cfg.Review.DefaultSubmissions,
					MaxSubmissions:      cfg.Review.MaxSubmissions,
					DefaultAggregation:  aggregate.Type(cfg.Aggregation.Default),
					MinCohort:           cfg.Aggregation.MinCohort,
					MinSamples:          cfg.Aggregation.MinSamples,
					ChangeFallbackRatio: cfg.Interpret.ChangeFallbackRatio,
				}, log)

			server := httpiface.NewServer(svc, log)
			log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
			return httpiface.ListenAndServe(cmd.Context(), cfg.Server.Addr, server.Handler(),
				cfg.Server.ReadTimeout.Std(), cfg.Server.WriteTimeout.Std(),
				cfg.Server.ShutdownTimeout.Std(), log)
		},
	}
}

func openDB(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	return db, nil
}

// newCacheBackend prefers Redis behind a circuit breaker and falls back to
// the in-process cache when Redis is disabled.
func newCacheBackend(cfg config.RedisConfig, log zerolog.Logger) cache.Backend {
	if !cfg.Enabled {
		log.Info().Msg("redis disabled, using in-memory cache")
		return cache.NewMemory()
	}
	return cache.NewBreaker(cache.NewRedis(cfg.Addr, cfg.Password, cfg.DB), log)
}
