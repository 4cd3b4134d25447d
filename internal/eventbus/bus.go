package eventbus

import (
	"encoding/json"
	"fmt"

	nc "github.com/nats-io/nats.go"

	"github.com/CLIAIMONITOR/internal/logging"
	"github.com/CLIAIMONITOR/internal/orchestrator"
)

const subjectPrefix = "pipeline.stage."

func subject(runID string) string {
	return subjectPrefix + runID
}

// Bus publishes orchestrator.StageEvent values onto an embedded NATS
// server and lets callers subscribe to one run's event stream. It
// satisfies orchestrator.EventPublisher.
type Bus struct {
	server *EmbeddedServer
	conn   *nc.Conn
	log    *logging.Logger
}

// Start brings up an embedded broker and a publisher connection to it.
func Start(cfg ServerConfig) (*Bus, error) {
	srv, err := NewEmbeddedServer(cfg)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		return nil, err
	}

	conn, err := nc.Connect(srv.URL(), nc.Name("pipeline-eventbus"))
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("eventbus: connect publisher: %w", err)
	}

	return &Bus{server: srv, conn: conn, log: logging.New("eventbus")}, nil
}

// Publish implements orchestrator.EventPublisher. Marshal or transport
// failures are logged and otherwise ignored; a run's outcome never depends
// on telemetry delivery.
func (b *Bus) Publish(event orchestrator.StageEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		b.log.Warn("marshal stage event for run %s: %v", event.RunID, err)
		return
	}
	if err := b.conn.Publish(subject(event.RunID), data); err != nil {
		b.log.Warn("publish stage event for run %s: %v", event.RunID, err)
	}
}

// Subscribe delivers runID's stage events to handler as they are published,
// for the server's run-stream endpoint to relay over a websocket.
func (b *Bus) Subscribe(runID string, handler func(orchestrator.StageEvent)) (*nc.Subscription, error) {
	sub, err := b.conn.Subscribe(subject(runID), func(msg *nc.Msg) {
		var event orchestrator.StageEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.log.Warn("unmarshal stage event for run %s: %v", runID, err)
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("eventbus: subscribe to run %s: %w", runID, err)
	}
	return sub, nil
}

// URL returns the embedded broker's connection URL, useful for a CLI that
// wants to subscribe directly instead of through the HTTP API.
func (b *Bus) URL() string {
	return b.server.URL()
}

// Close tears down the publisher connection and the embedded broker.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
	b.server.Shutdown()
}
