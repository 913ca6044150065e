package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rwa/config"
	"rwa/engine"
	"rwa/internal/logger"
	"rwa/internal/server"
	"rwa/oracle"
	"rwa/services"
	"rwa/store"
	"rwa/util"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

/*
Loads authentication secrets from API_KEY_<CLIENT>/API_SECRET_<CLIENT> env pairs
into a map of key id -> secret.
*/
func loadSecrets() (map[string][]byte, error) {
	secrets := map[string][]byte{}

	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		client, ok := strings.CutPrefix(name, "API_KEY_")
		if !ok {
			continue
		}
		key := os.Getenv(name)
		secret := os.Getenv("API_SECRET_" + client)
		if key == "" || secret == "" {
			return nil, fmt.Errorf("api key %s has no matching secret", client)
		}
		secrets[key] = []byte(secret)
	}

	if len(secrets) == 0 {
		return nil, errors.New("could not load expected api keys")
	}
	return secrets, nil
}

func openStore(cfg config.Config, redisClient *redis.Client, log *logger.Logger) (store.Store, error) {
	switch cfg.Storage.Backend {
	case util.Backends.Redis:
		return store.NewRedis(redisClient, cfg.Storage.KeyPrefix), nil
	case util.Backends.Badger:
		return store.OpenBadger(store.BadgerConfig{
			Path:       cfg.Storage.BadgerPath,
			SyncWrites: true,
			Logger:     log,
		})
	default:
		return store.NewMemory(), nil
	}
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	authKeys, err := loadSecrets()
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Services.Redis.Enabled {
		redisClient, err = services.ConnectRedis(ctx, cfg.Services.Redis.Host)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.Services.Nats.Enabled {
		natsConn, err = services.ConnectNats(cfg.Services.Nats.Url, log)
		if err != nil {
			return err
		}
		defer natsConn.Close()
	}

	st, err := openStore(cfg, redisClient, log)
	if err != nil {
		return err
	}
	defer st.Close()

	pol, err := cfg.BuildPolicy()
	if err != nil {
		return err
	}

	var authorities engine.AuthoritySet
	if cfg.Authorities.SourceList == util.SourceLists.Redis {
		authorities, err = engine.NewRedisAuthorities(ctx, redisClient, cfg.Storage.KeyPrefix, cfg.Authorities.Principals)
		if err != nil {
			return err
		}
	} else {
		authorities = engine.NewStaticAuthorities(cfg.Authorities.Principals)
	}

	opts := engine.Options{
		Store:       st,
		Policy:      pol,
		Authorities: authorities,
		Logger:      log.With("component", "engine"),
		LockTimeout: cfg.LockTimeout(),
	}
	if cfg.Ingestion.Velocity.Enabled {
		opts.Velocity = engine.NewRedisVelocity(redisClient, cfg.Storage.KeyPrefix, cfg.VelocityInterval(), cfg.Ingestion.Velocity.Limit)
	}
	if natsConn != nil && cfg.Services.Nats.PublishEvents {
		opts.Publisher = engine.NewNatsPublisher(natsConn)
	}

	e, err := engine.New(opts)
	if err != nil {
		return err
	}

	apiServer := server.NewServer(server.Options{
		Port:        cfg.Port,
		Engine:      e,
		AuthKeys:    authKeys,
		AllowedSkew: server.ParseSkew(),
		Logger:      log.With("component", "http"),
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", "addr", apiServer.Addr, "backend", cfg.Storage.Backend)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gracefully")

		// The server has 5 seconds to finish the requests it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("server forced to shutdown", "error", err)
		}
		return nil
	})

	if natsConn != nil {
		sub := oracle.NewSubscriber(natsConn, cfg.Services.Nats.OracleSubject, cfg.Services.Nats.Queue, e, log.With("component", "oracle"))
		g.Go(func() error {
			return sub.Run(gctx)
		})
	}

	return g.Wait()
}

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, skipping...")
	}

	cfg, err := config.LoadConfig(util.EnvString("CONFIG_PATH", "./engine.yaml"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLog, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer appLog.Sync()

	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLog); err != nil {
		appLog.Error("engine stopped", "error", err)
		stop()
		appLog.Sync()
		os.Exit(1)
	}

	appLog.Info("Graceful shutdown complete.")
}
