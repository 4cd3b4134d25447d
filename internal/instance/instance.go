// Package instance guards against two pipelined processes sharing one
// output directory: a PID-file lock plus a liveness check, grounded on
// the teacher's internal/instance (InstanceManager, PIDFileData,
// WritePIDFile/ReadPIDFile/RemovePIDFile), trimmed to a single portable
// process-liveness check instead of the teacher's Windows process-name
// verification (golang.org/x/sys/windows has no POSIX analog here).
package instance

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"
)

// PIDFileData is the JSON structure written to the lock file.
type PIDFileData struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
	Hostname  string    `json:"hostname"`
}

// Manager owns one pidFilePath's lock lifecycle for this process.
type Manager struct {
	pidFilePath string
	port        int
}

// NewManager returns a Manager for pidFilePath, recording port for the
// PID file's metadata.
func NewManager(pidFilePath string, port int) *Manager {
	return &Manager{pidFilePath: pidFilePath, port: port}
}

// CheckExisting reads pidFilePath and reports a live conflicting instance,
// if any. A stale PID file (process no longer running) is removed and
// reported as no conflict.
func (m *Manager) CheckExisting() (*PIDFileData, error) {
	data, err := m.readPIDFile()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("instance: read pid file: %w", err)
	}

	if !isProcessRunning(data.PID) {
		_ = m.RemovePIDFile()
		return nil, nil
	}
	return data, nil
}

// WritePIDFile records this process's PID, port, and start time.
func (m *Manager) WritePIDFile() error {
	hostname, _ := os.Hostname()
	data := PIDFileData{PID: os.Getpid(), Port: m.port, StartedAt: time.Now().UTC(), Hostname: hostname}

	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("instance: marshal pid data: %w", err)
	}
	if err := os.WriteFile(m.pidFilePath, buf, 0o644); err != nil {
		return fmt.Errorf("instance: write pid file: %w", err)
	}
	return nil
}

// RemovePIDFile deletes the lock file. Safe to call when it is already
// absent.
func (m *Manager) RemovePIDFile() error {
	if err := os.Remove(m.pidFilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("instance: remove pid file: %w", err)
	}
	return nil
}

func (m *Manager) readPIDFile() (*PIDFileData, error) {
	buf, err := os.ReadFile(m.pidFilePath)
	if err != nil {
		return nil, err
	}
	var data PIDFileData
	if err := json.Unmarshal(buf, &data); err != nil {
		return nil, fmt.Errorf("instance: parse pid file: %w", err)
	}
	return &data, nil
}

// isProcessRunning sends signal 0, which performs existence/permission
// checks without actually delivering a signal (POSIX semantics).
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// IsPortAvailable reports whether port can currently be bound on all
// interfaces.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// HealthCheck probes GET /health on port, returning nil if it answers 200.
func HealthCheck(port int) error {
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("instance: health check returned %d", resp.StatusCode)
	}
	return nil
}
