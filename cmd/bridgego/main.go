package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/bridgego-dev/bridgego"
	"github.com/bridgego-dev/bridgego/internal/client"
	"github.com/bridgego-dev/bridgego/internal/engine"
	"github.com/bridgego-dev/bridgego/internal/observability"
	"github.com/bridgego-dev/bridgego/internal/protocol"
	"github.com/bridgego-dev/bridgego/internal/server"
	"github.com/bridgego-dev/bridgego/internal/session"
	"github.com/bridgego-dev/bridgego/pkg/config"
)

// Version is set via ldflags at build time.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "bridgego",
		Short:   "Multi-agent bridge pipeline server and observer",
		Version: Version,
	}
	root.AddCommand(serveCmd(), observeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge HTTP/WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", envOr("BRIDGE_CONFIG", "config/bridge.yaml"), "configuration file")
	return cmd
}

func runServe(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Printf("Starting bridge server v%s", Version)
	log.Printf("Config: %s, agents: %d, backend: %s", configFile, len(cfg.Agents), cfg.SessionBackend)

	observability.InitMetrics()
	if err := observability.InitTracingFromEnv(); err != nil {
		log.Printf("Tracing disabled: %v", err)
	}

	backend, err := bridgego.NewSessionBackend(cfg)
	if err != nil {
		return err
	}
	sessions := session.NewManager(backend)

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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
	case <-quit:
		log.Println("Shutting down bridge server...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := sessions.Close(); err != nil {
		log.Printf("Session store close error: %v", err)
	}
	if err := observability.ShutdownTracing(ctx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}
	log.Println("Bridge server stopped")
	return nil
}

func observeCmd() *cobra.Command {
	var serverURL string
	var sessionID string
	cmd := &cobra.Command{
		Use:   "observe",
		Short: "Interactive REPL submitting queries and printing the event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObserve(serverURL, sessionID)
		},
	}
	cmd.Flags().StringVarP(&serverURL, "server", "s", envOr("BRIDGE_SERVER", "ws://localhost:8000/ws/bridge"), "bridge websocket URL")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to attach to")
	return cmd
}

func runObserve(serverURL, sessionID string) error {
	url := serverURL
	if sessionID != "" {
		url += "?session=" + sessionID
	}

	cl := client.New(url)
	done := make(chan struct{}, 1)
	cl.OnEvent(func(ev protocol.Event) {
		printEvent(ev)
		if ev.Terminal() {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := cl.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	defer cl.Close()
	fmt.Printf("Connected to %s. Type a query, or 'exit'.\n", url)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		query, err := line.Prompt("bridge> ")
		if err != nil {
			return nil
		}
		query = strings.TrimSpace(query)
		if query == "" {
			continue
		}
		if query == "exit" || query == "quit" {
			return nil
		}
		line.AppendHistory(query)

		if err := cl.Submit(protocol.SubmitRequest{Query: query}); err != nil {
			fmt.Printf("submit failed: %v\n", err)
			if !cl.Connected() {
				return fmt.Errorf("connection lost")
			}
			continue
		}
		<-done
	}
}

func printEvent(ev protocol.Event) {
	switch ev.Type {
	case protocol.EventToken, protocol.EventCritique, protocol.EventRefinement:
		fmt.Print(ev.Content)
	case protocol.EventAgentStart:
		fmt.Printf("\n--- %s ---\n", ev.Agent)
	case protocol.EventAgentComplete:
		fmt.Println()
	case protocol.EventDone:
		satisfied := ev.Satisfied != nil && *ev.Satisfied
		fmt.Printf("\n=== done (satisfied=%v) ===\n", satisfied)
	case protocol.EventError:
		fmt.Printf("\n!!! %s\n", ev.Content)
	default:
		fmt.Printf("[%s] %s\n", ev.Type, ev.Content)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
