package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/oklog/run"
	"github.com/rs/zerolog/log"
	"github.com/terrycain/tiles-server/pkg/archive"
	"github.com/terrycain/tiles-server/pkg/cache"
	"github.com/terrycain/tiles-server/pkg/credentials"
	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/metrics"
	"github.com/terrycain/tiles-server/pkg/pmtiles"
	"github.com/terrycain/tiles-server/pkg/s"
	"github.com/terrycain/tiles-server/pkg/storage"
	"github.com/terrycain/tiles-server/pkg/utils/logging"
	"github.com/terrycain/tiles-server/pkg/web"
)

var cli struct {
	// Object store
	StorageBackend  string `env:"STORAGE_BACKEND" default:"s3" enum:"s3,azureblob,disk" help:"Where archives live"`
	Bucket          string `env:"TILES_S3_BUCKET" name:"s3-bucket" help:"Bucket holding the archives"`
	Region          string `env:"TILES_S3_REGION" name:"s3-region" help:"Bucket region e.g. eu-west-1"`
	Endpoint        string `env:"TILES_S3_ENDPOINT" name:"s3-endpoint" help:"Custom S3 endpoint e.g. http://localhost:9000"`
	AccessKeyID     string `env:"TILES_S3_ACCESS_KEY_ID" name:"s3-access-key-id"`
	SecretAccessKey string `env:"TILES_S3_SECRET_ACCESS_KEY" name:"s3-secret-access-key"`
	ForcePathStyle  bool   `env:"TILES_S3_FORCE_PATH_STYLE" name:"s3-force-path-style"`
	Prefix          string `env:"TILES_PREFIX" help:"Key prefix archives are listed under"`
	StorageAzure    string `env:"STORAGE_AZURE" help:"Azure storage connection string"`
	StorageDisk     string `env:"STORAGE_DISK" help:"Directory holding archives"`
	Extension       string `env:"ARCHIVE_EXTENSION" default:".pmtiles"`

	// Archive access
	CredentialMode string        `env:"CREDENTIAL_MODE" default:"direct" enum:"direct,presign"`
	PresignExpiry  time.Duration `env:"PRESIGN_EXPIRY" default:"15m" help:"Lifetime of presigned URLs, between 1s and 7d"`
	RangeTimeout   time.Duration `env:"RANGE_TIMEOUT" default:"10s" help:"Timeout of a single range read"`
	PublicHost     string        `env:"PUBLIC_HOST" help:"Host used in tiles.json URLs e.g. https://tiles.example.org"`

	// Response cache
	CacheBackend       string        `env:"CACHE_BACKEND" default:"memory" enum:"none,memory,redis,bolt,sqlite,postgres"`
	CacheConnection    string        `env:"CACHE_CONNECTION" help:"Redis URL, bolt/sqlite file path or postgres URI"`
	CacheMemoryEntries uint64        `env:"CACHE_MEMORY_ENTRIES" name:"cache-memory-entries" default:"10000" help:"Most responses the memory backend holds"`
	CacheListTTL       time.Duration `env:"CACHE_LIST_TTL" default:"30s"`
	CacheTileTTL       time.Duration `env:"CACHE_TILE_TTL" default:"10m"`
	CacheMaxEntrySize  string        `env:"CACHE_MAX_ENTRY_SIZE" default:"8MB"`
	CacheWriters       int           `env:"CACHE_WRITERS" default:"4"`
	CacheQueue         int           `env:"CACHE_QUEUE" default:"1024"`
	CachePurge         time.Duration `env:"CACHE_PURGE_INTERVAL" default:"10m"`

	// Misc
	AuthJWKSURL          string `env:"AUTH_JWKS_URL" name:"auth-jwks-url" help:"Require bearer tokens signed by a key from this JWKS"`
	LogLevel             string `env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error"`
	LogPretty            bool   `env:"LOG_PRETTY" help:"Human readable logs"`
	ListenAddress        string `env:"LISTEN_ADDR" default:"0.0.0.0:8080" help:"Listen address e.g. 0.0.0.0:8080"`
	MetricsListenAddress string `env:"METRICS_LISTEN_ADDR" default:"0.0.0.0:9102" help:"Listen address for prometheus metrics e.g. 0.0.0.0:9102"`
}

func main() {
	kong.Parse(&cli)

	logging.SetupLogging(cli.LogLevel, cli.LogPretty)

	if err := serve(); err != nil {
		var configErr *e.ConfigurationError
		if errors.As(err, &configErr) {
			log.Fatal().Err(err).Msg("Invalid configuration")
		}
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func serve() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storageBackend, err := storage.GetStorageBackend(cli.StorageBackend, s.StorageConfig{
		Bucket:                cli.Bucket,
		Region:                cli.Region,
		Endpoint:              cli.Endpoint,
		AccessKeyID:           cli.AccessKeyID,
		SecretAccessKey:       cli.SecretAccessKey,
		ForcePathStyle:        cli.ForcePathStyle,
		Prefix:                cli.Prefix,
		Extension:             cli.Extension,
		AzureConnectionString: cli.StorageAzure,
		DiskPath:              cli.StorageDisk,
	})
	if err != nil {
		return fmt.Errorf("initiating storage backend: %w", err)
	}

	broker, err := credentials.New(storageBackend, cli.CredentialMode, cli.PresignExpiry)
	if err != nil {
		return err
	}

	maxEntrySize, err := cache.ParseSize(cli.CacheMaxEntrySize)
	if err != nil {
		return err
	}
	registry := archive.NewRegistry(broker,
		archive.NewSourceOpener(storageBackend, cli.RangeTimeout),
		pmtiles.WithMaxDecompressedSize(maxEntrySize),
	)

	store, err := cache.GetStore(cli.CacheBackend, cli.CacheConnection, cli.CacheMemoryEntries)
	if err != nil {
		return fmt.Errorf("initiating cache backend: %w", err)
	}
	defer store.Close()
	writer := cache.NewDeferred(store, cli.CacheWriters, cli.CacheQueue)
	tiered := cache.NewTiered(store, writer, cache.Config{
		ListTTL:      cli.CacheListTTL,
		TileTTL:      cli.CacheTileTTL,
		MaxEntrySize: maxEntrySize,
	})

	var auth *web.JWTAuth
	if cli.AuthJWKSURL != "" {
		keys, err := web.NewKeySet(ctx, cli.AuthJWKSURL)
		if err != nil {
			return err
		}
		auth = web.NewJWTAuth(keys)
	}

	handlers := &web.Handlers{
		Storage:    storageBackend,
		Archives:   registry,
		Cache:      tiered,
		PublicHost: cli.PublicHost,
	}
	srv := &http.Server{
		Addr:              cli.ListenAddress,
		Handler:           web.GetRouter(handlers, auth, true),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	log.Info().
		Str("storage", storageBackend.Type()).
		Str("credentials", broker.Mode()).
		Str("cache", store.Type()).
		Bool("auth", auth != nil).
		Msg("Configured tile server")

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	{
		g.Add(func() error {
			log.Info().Msgf("Listening on %s", cli.ListenAddress)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}
	{
		metricsCtx, metricsCancel := context.WithCancel(ctx)
		g.Add(func() error {
			return metrics.Server(metricsCtx, cli.MetricsListenAddress)
		}, func(error) {
			metricsCancel()
		})
	}
	g.Add(func() error {
		broker.Start()
		return nil
	}, func(error) {
		broker.Stop()
	})
	{
		purgeCtx, purgeCancel := context.WithCancel(ctx)
		g.Add(func() error {
			return cache.PurgeLoop(purgeCtx, store, cli.CachePurge)
		}, func(error) {
			purgeCancel()
		})
	}
	{
		done := make(chan struct{})
		g.Add(func() error {
			<-done
			return nil
		}, func(error) {
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := writer.Close(drainCtx); err != nil {
				log.Warn().Err(err).Msg("Deferred cache writes did not drain in time")
			}
			close(done)
		})
	}

	err = g.Run()
	var signalErr run.SignalError
	if errors.As(err, &signalErr) {
		log.Info().Str("signal", signalErr.Signal.String()).Msg("Shutting down")
		return nil
	}
	return err
}
