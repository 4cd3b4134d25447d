// Package eventbus carries stage-lifecycle telemetry off the orchestrator's
// hot path onto an embedded NATS server, grounded on the teacher's
// internal/nats package (EmbeddedServer + Client). Publication is
// best-effort: a broker hiccup must never fail or slow down a run, so every
// error here is logged, not returned to the orchestrator.
package eventbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// ServerConfig configures the embedded broker.
type ServerConfig struct {
	Port      int    // 0 lets the OS pick a free port
	JetStream bool   // enables durable stream storage for replay
	DataDir   string // required when JetStream is set
}

// EmbeddedServer wraps an in-process nats-server instance.
type EmbeddedServer struct {
	srv     *server.Server
	config  ServerConfig
	mu      sync.RWMutex
	running bool
}

// NewEmbeddedServer validates config and prepares (but does not start) a
// broker.
func NewEmbeddedServer(config ServerConfig) (*EmbeddedServer, error) {
	if config.JetStream && config.DataDir == "" {
		return nil, fmt.Errorf("eventbus: data dir is required when jetstream is enabled")
	}
	return &EmbeddedServer{config: config}, nil
}

// Start launches the broker in the background and blocks until it is ready
// for connections.
func (e *EmbeddedServer) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("eventbus: server already running")
	}

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       e.config.Port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	if e.config.JetStream {
		opts.JetStream = true
		opts.StoreDir = e.config.DataDir
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("eventbus: create embedded server: %w", err)
	}

	e.srv = ns
	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("eventbus: server not ready for connections")
	}

	e.running = true
	return nil
}

// Shutdown stops the broker and waits for it to drain.
func (e *EmbeddedServer) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || e.srv == nil {
		return
	}
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
	e.running = false
	e.srv = nil
}

// URL returns the broker's client connection URL.
func (e *EmbeddedServer) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.srv == nil {
		return ""
	}
	return e.srv.ClientURL()
}

// IsRunning reports whether the broker has been started and not yet shut
// down.
func (e *EmbeddedServer) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
