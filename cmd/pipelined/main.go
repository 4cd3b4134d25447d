// Command pipelined is the pipeline's process entrypoint: it loads
// configuration, wires the orchestrator and its dependencies, and serves
// the HTTP control plane of spec.md §4.7. Grounded on
// cmd/cliaimonitor/main.go's flag parsing, instance-lock acquisition, and
// signal-driven graceful shutdown sequence.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/CLIAIMONITOR/internal/config"
	"github.com/CLIAIMONITOR/internal/eventbus"
	"github.com/CLIAIMONITOR/internal/instance"
	"github.com/CLIAIMONITOR/internal/llm"
	"github.com/CLIAIMONITOR/internal/mcp"
	"github.com/CLIAIMONITOR/internal/orchestrator"
	"github.com/CLIAIMONITOR/internal/retrieval"
	"github.com/CLIAIMONITOR/internal/runindex"
	"github.com/CLIAIMONITOR/internal/server"
	"github.com/CLIAIMONITOR/internal/store"
)

func main() {
	configPath := flag.String("config", "pipeline.yaml", "Configuration file")
	port := flag.Int("port", 0, "HTTP server port (overrides config/env)")
	outputDir := flag.String("output", "", "Output directory (overrides config/env)")
	compiler := flag.String("compiler", "", "Build-stage compiler name, empty disables real compilation")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create output dir: %v\n", err)
		os.Exit(1)
	}

	pidPath := filepath.Join(cfg.OutputDir, "pipelined.pid")
	instMgr := instance.NewManager(pidPath, cfg.Server.Port)
	existing, err := instMgr.CheckExisting()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to check for an existing instance: %v\n", err)
		os.Exit(1)
	}
	if existing != nil {
		fmt.Fprintf(os.Stderr, "another pipelined instance (pid %d, port %d) already owns %s\n", existing.PID, existing.Port, cfg.OutputDir)
		os.Exit(1)
	}
	if !instance.IsPortAvailable(cfg.Server.Port) {
		fmt.Fprintf(os.Stderr, "port %d is already in use\n", cfg.Server.Port)
		os.Exit(1)
	}

	gov := mcp.New()
	st := store.New(filepath.Join(cfg.OutputDir, "runs"), gov)

	engine := retrieval.New(retrieval.LoadEmbeddedCorpus())

	lmClients := orchestrator.LMClients{Mock: llm.NewMock()}
	if cfg.LM.Provider == "real" {
		limiter := mcp.NewInFlightLimiter(4, 16)
		lmClients.Real = llm.NewReal(llm.RealConfig{APIKey: cfg.LM.APIKey, Model: cfg.LM.Model, Provider: "real"}, limiter)
	}

	var bus *eventbus.Bus
	if cfg.EventBus.Enabled {
		bus, err = eventbus.Start(eventbus.ServerConfig{Port: cfg.EventBus.Port})
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to start event bus, continuing without telemetry: %v\n", err)
			bus = nil
		} else {
			defer bus.Close()
		}
	}

	var events orchestrator.EventPublisher
	if bus != nil {
		events = bus
	}
	orc := orchestrator.New(st, gov, engine, lmClients, orchestrator.DefaultTimeouts(), events, *compiler)

	idx, err := runindex.Open(filepath.Join(cfg.OutputDir, "runindex.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open run index: %v\n", err)
		os.Exit(1)
	}
	defer idx.Close()

	srv := server.NewServer(orc, st, engine, idx, bus)

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start(fmt.Sprintf(":%d", cfg.Server.Port)) }()

	ready := false
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		select {
		case err := <-serverErr:
			fmt.Fprintf(os.Stderr, "server failed to start: %v\n", err)
			os.Exit(1)
		default:
		}
		if instance.HealthCheck(cfg.Server.Port) == nil {
			ready = true
			break
		}
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server did not become ready within timeout\n")
		os.Exit(1)
	}

	if err := instMgr.WritePIDFile(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write pid file: %v\n", err)
	}
	fmt.Printf("pipelined ready at http://localhost:%d\n", cfg.Server.Port)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		}
	case <-shutdown:
		fmt.Println("shutting down (signal received)")
	}

	instMgr.RemovePIDFile()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
	}
}
