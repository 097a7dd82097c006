// Package bridgego is the top-level entry point for embedding the bridge
// server: load a configuration file, wire the engine and session store, and
// run until the context is cancelled.
package bridgego

import (
	"context"
	"fmt"
	"log"

	"github.com/bridgego-dev/bridgego/internal/engine"
	"github.com/bridgego-dev/bridgego/internal/observability"
	"github.com/bridgego-dev/bridgego/internal/server"
	"github.com/bridgego-dev/bridgego/internal/session"
	"github.com/bridgego-dev/bridgego/pkg/config"
)

// Run loads configuration from configFile, assembles the full server stack,
// and serves until ctx is cancelled or the listener fails.
func Run(ctx context.Context, configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	observability.InitMetrics()

	backend, err := NewSessionBackend(cfg)
	if err != nil {
		return err
	}
	sessions := session.NewManager(backend)
	defer sessions.Close()

	eng := engine.New(server.BuildRegistry(cfg), engine.Config{
		MaxIterations: cfg.MaxIterations,
		ContextWindow: cfg.ContextWindow,
		Rubric:        cfg.Rubric(),
	})

	srv := server.New(cfg, eng, sessions)
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		log.Println("Shutting down bridge server...")
		return srv.Shutdown(context.Background())
	}
}

// NewSessionBackend constructs the configured session storage backend.
func NewSessionBackend(cfg *config.Config) (session.Backend, error) {
	switch cfg.SessionBackend {
	case "redis":
		return session.NewRedisBackend(session.RedisConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			SessionTTL: cfg.IdleTTL(),
		})
	default:
		return session.NewMemoryBackend(), nil
	}
}
