// Command server runs the routine generation API.
//
//	@title			Routine Backend API
//	@version		1.0
//	@description	Skincare routine generation with cache-and-coalesce lookup and streamed progress.
//	@BasePath		/api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-routine-backend/internal/cache"
	"github.com/tbourn/go-routine-backend/internal/catalog"
	"github.com/tbourn/go-routine-backend/internal/channel"
	"github.com/tbourn/go-routine-backend/internal/config"
	httpapi "github.com/tbourn/go-routine-backend/internal/http"
	"github.com/tbourn/go-routine-backend/internal/llm"
	"github.com/tbourn/go-routine-backend/internal/observability"
	"github.com/tbourn/go-routine-backend/internal/repo"
	"github.com/tbourn/go-routine-backend/internal/services"
	"github.com/tbourn/go-routine-backend/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownTimeout        = 20 * time.Second
	generationDrainTimeout = 30 * time.Second
	janitorInterval        = time.Minute
	idempotencyPurgeTick   = 15 * time.Minute
)

func main() {
	// Optional: a missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		sysutil.SetupLogging(nil, sysutil.LogOptions{})
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	sysutil.SetupLogging(nil, sysutil.LogOptions{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: cfg.OTEL.ServiceName,
		Version: ver,
	})
	gin.SetMode(cfg.GinMode)

	ctx, stop := sysutil.NotifyContext(context.Background())
	defer stop()

	if err := run(ctx, cfg, ver); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config, ver string) error {
	storeKind := "memory"
	if cfg.Redis.Addr != "" {
		storeKind = "redis"
	}
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.Deployment{
		Version:     ver,
		LLMProvider: cfg.LLM.Provider,
		LLMModel:    cfg.LLM.Model,
		StoreKind:   storeKind,
		DBDriver:    cfg.DB.Driver,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(repo.Options{
		Driver:  cfg.DB.Driver,
		Path:    cfg.DB.Path,
		DSN:     cfg.DB.URL,
		Tracing: cfg.OTEL.Enabled,
	})
	if err != nil {
		return err
	}
	defer closeDB(db)
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	store, shared, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	profiles, err := loadProfiles(cfg.Routine.ProfilesPath)
	if err != nil {
		return err
	}

	engine, err := llm.New(llm.Config{
		Provider:      cfg.LLM.Provider,
		APIKey:        cfg.LLM.APIKey,
		BaseURL:       cfg.LLM.BaseURL,
		Model:         cfg.LLM.Model,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		ProgressEvery: cfg.LLM.ProgressEvery,
	})
	if err != nil {
		return err
	}

	products := catalog.NewCached(catalog.DB{DB: db}, store, cfg.Routine.ProductsCacheTTL)
	routines := &services.RoutineService{
		Cache:             store,
		Durable:           repo.RoutineStore{DB: db},
		Catalog:           products,
		Engine:            engine,
		Channel:           channel.New(store, cfg.Routine.ChannelTTL),
		Sessions:          channel.NewSessions(store, cfg.Routine.SessionTTL),
		Profiles:          profiles,
		CacheTTL:          cfg.Routine.CacheTTL,
		GenerationTimeout: cfg.Routine.GenerationTimeout,
		ProductLimit:      cfg.Routine.ProductLimit,
		ShortlistSize:     cfg.Routine.ShortlistSize,
		Dedup:             services.DedupPolicy(cfg.Routine.Dedup),
	}

	streamStop := make(chan struct{})
	deps := httpapi.Dependencies{
		DB:         db,
		Routines:   routines,
		Products:   services.NewProductService(db, products),
		Store:      store,
		StreamStop: streamStop,
	}
	if shared {
		deps.RateStore = store
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, deps, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	// Event streams never go idle on their own.
	srv.RegisterOnShutdown(func() { close(streamStop) })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", srv.Addr).
			Str("base_path", cfg.APIBasePath).
			Str("db", cfg.DB.Driver).
			Bool("redis", shared).
			Str("llm", cfg.LLM.Provider).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		purgeIdempotency(gctx, db)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if err != nil {
			log.Warn().Err(err).Msg("http shutdown incomplete; closing connections")
			_ = srv.Close()
		}

		// In-flight generations get their own budget to persist results.
		dctx, dcancel := context.WithTimeout(context.Background(), generationDrainTimeout)
		defer dcancel()
		if serr := routines.Shutdown(dctx); serr != nil {
			log.Warn().Err(serr).Msg("generations did not finish before shutdown deadline")
		}
		return err
	})
	return g.Wait()
}

// openStore returns Redis when configured and the in-process store
// otherwise. shared reports whether other instances see the same data.
func openStore(ctx context.Context, cfg config.Config) (cache.Store, bool, error) {
	if cfg.Redis.Addr == "" {
		mem := cache.NewMemory()
		mem.StartJanitor(ctx, janitorInterval)
		log.Warn().Msg("REDIS_ADDR not set; using in-memory store (single instance only)")
		return mem, false, nil
	}
	rs, err := cache.NewRedis(ctx, cache.RedisOptions{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, false, err
	}
	return rs, true, nil
}

func loadProfiles(path string) (*catalog.Profiles, error) {
	if path == "" {
		return catalog.DefaultProfiles()
	}
	p, err := catalog.LoadProfilesFile(path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Int("profiles", p.Len()).Msg("skin profiles loaded")
	return p, nil
}

func purgeIdempotency(ctx context.Context, db *gorm.DB) {
	t := time.NewTicker(idempotencyPurgeTick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("rows", n).Msg("expired idempotency keys purged")
			}
		}
	}
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
