// Package store implements the typed artifact store (spec §4.2): the
// pipeline's only writer of files under output/runs/<run_id>/. It is
// adapted from the dashboard's persistence layer (internal/persistence in
// the teacher), which wrote session transcripts to disk with a temp-file-
// plus-rename discipline; here the same discipline guards firmware
// artifacts and their JSON sidecars instead.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/errs"
	"github.com/CLIAIMONITOR/internal/logging"
	"github.com/CLIAIMONITOR/internal/mcp"
)

const (
	dirArchitecture = "architecture"
	dirModuleCode   = "module_code"
	dirTests        = "tests"
	dirReports      = "reports"
	dirBuildLog     = "build_log"

	latestQualityReportName = "quality_report_latest.json"
)

// Store persists and retrieves artifacts for every run under baseDir.
type Store struct {
	baseDir string
	gov     *mcp.Governor
	log     *logging.Logger
}

// New returns a Store rooted at baseDir (normally "<output_dir>/runs"),
// authorizing every operation through gov.
func New(baseDir string, gov *mcp.Governor) *Store {
	return &Store{baseDir: baseDir, gov: gov, log: logging.New("store")}
}

// RunDir returns the root directory for a run, creating it if absent.
func (s *Store) RunDir(runID string) (string, error) {
	dir := filepath.Join(s.baseDir, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errs.IOFailureError("create run directory", err)
	}
	return dir, nil
}

// WriteArtifact authorizes the write, computes the artifact's path, writes
// its bytes atomically, and writes the JSON sidecar alongside it. It
// returns the stable path of the primary artifact file.
func (s *Store) WriteArtifact(runID, agentID string, artifactType domain.ArtifactType, moduleID string, content []byte, meta domain.ArtifactMetadata) (string, error) {
	if err := s.gov.CheckWrite(agentID, string(artifactType)); err != nil {
		return "", err
	}

	runDir, err := s.RunDir(runID)
	if err != nil {
		return "", err
	}

	path, err := artifactPath(runDir, artifactType, moduleID, meta.AgentID)
	if err != nil {
		return "", err
	}
	if err := s.atomicWrite(path, content); err != nil {
		return "", err
	}

	meta.ArtifactType = artifactType
	meta.ModuleID = moduleID
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	if meta.ArtifactID == "" {
		meta.ArtifactID = uuid.NewString()
	}
	if err := s.writeSidecar(sidecarPath(path), meta); err != nil {
		return "", err
	}

	if artifactType == domain.ArtifactReports {
		s.maybeWriteLatestPointer(runDir, content)
	}

	return path, nil
}

// WriteModularCode writes a module's header and source files under
// module_code/<module_id>/ plus a single shared sidecar listing both.
func (s *Store) WriteModularCode(runID, agentID, moduleID string, headerBytes, sourceBytes []byte, meta domain.ArtifactMetadata) (headerPath, sourcePath string, err error) {
	if err := s.gov.CheckWrite(agentID, string(domain.ArtifactModuleCode)); err != nil {
		return "", "", err
	}

	runDir, err := s.RunDir(runID)
	if err != nil {
		return "", "", err
	}

	dir := filepath.Join(runDir, dirModuleCode, moduleID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", errs.IOFailureError("create module_code directory", err)
	}

	headerPath = filepath.Join(dir, moduleID+".h")
	sourcePath = filepath.Join(dir, moduleID+".c")
	if err := s.atomicWrite(headerPath, headerBytes); err != nil {
		return "", "", err
	}
	if err := s.atomicWrite(sourcePath, sourceBytes); err != nil {
		return "", "", err
	}

	meta.ArtifactType = domain.ArtifactModuleCode
	meta.ModuleID = moduleID
	meta.ArtifactFormat = domain.FormatMultiFile
	meta.SubArtifacts = []string{headerPath, sourcePath}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	if meta.ArtifactID == "" {
		meta.ArtifactID = uuid.NewString()
	}
	sidecar := filepath.Join(dir, moduleID+".meta.json")
	if err := s.writeSidecar(sidecar, meta); err != nil {
		return "", "", err
	}

	return headerPath, sourcePath, nil
}

// WriteJSONArtifact marshals v as canonical JSON (sorted keys, UTF-8, no
// trailing whitespace) and writes it via WriteArtifact.
func (s *Store) WriteJSONArtifact(runID, agentID string, artifactType domain.ArtifactType, moduleID string, v interface{}, meta domain.ArtifactMetadata) (string, error) {
	buf, err := canonicalJSON(v)
	if err != nil {
		return "", errs.IOFailureError("marshal json artifact", err)
	}
	meta.ArtifactFormat = domain.FormatJSON
	return s.WriteArtifact(runID, agentID, artifactType, moduleID, buf, meta)
}

// ReadArtifactAs authorizes agentID's read of artifactType before returning
// the artifact's raw bytes. selector is the path relative to the run
// directory (e.g. "module_code/uart0/uart0.c").
func (s *Store) ReadArtifactAs(agentID, runID string, artifactType domain.ArtifactType, selector string) ([]byte, error) {
	if err := s.gov.CheckRead(agentID, string(artifactType)); err != nil {
		return nil, err
	}
	return s.ReadArtifact(runID, selector)
}

// ReadArtifact returns an artifact's raw bytes without an MCP check, for
// callers outside the agent DAG (the HTTP control plane's read-only
// endpoints). selector is the path relative to the run directory.
func (s *Store) ReadArtifact(runID string, selector string) ([]byte, error) {
	runDir, err := s.RunDir(runID)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(runDir, filepath.Clean(selector))
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.IOFailureError("read artifact", err)
	}
	return buf, nil
}

// ListArtifacts enumerates every stored artifact for a run.
func (s *Store) ListArtifacts(runID string) ([]domain.ArtifactInfo, error) {
	runDir, err := s.RunDir(runID)
	if err != nil {
		return nil, err
	}

	var infos []domain.ArtifactInfo
	err = filepath.Walk(runDir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if fi.IsDir() {
			return nil
		}
		if filepath.Base(path) != latestQualityReportName {
			if _, isSidecar := isMetaSidecar(path); isSidecar {
				return nil
			}
		}
		rel, _ := filepath.Rel(runDir, path)
		infos = append(infos, domain.ArtifactInfo{
			Category:   topLevelCategory(rel),
			Filename:   filepath.Base(path),
			Path:       rel,
			Size:       fi.Size(),
			ModifiedAt: fi.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, errs.IOFailureError("list artifacts", err)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

func isMetaSidecar(path string) (string, bool) {
	base := filepath.Base(path)
	const suffix = ".meta.json"
	if len(base) > len(suffix) && base[len(base)-len(suffix):] == suffix {
		return base[:len(base)-len(suffix)], true
	}
	return "", false
}

func topLevelCategory(rel string) string {
	slash := filepath.ToSlash(rel)
	if i := strings.IndexByte(slash, '/'); i >= 0 {
		return slash[:i]
	}
	return slash
}

// atomicWrite writes content to a temp file in path's directory, then
// renames it into place, so readers never observe a partial artifact.
func (s *Store) atomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.IOFailureError("create artifact directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errs.IOFailureError("create temp file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.IOFailureError("write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.IOFailureError("close temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errs.IOFailureError("rename temp file", err)
	}
	return nil
}

func (s *Store) writeSidecar(path string, meta domain.ArtifactMetadata) error {
	buf, err := canonicalJSON(meta)
	if err != nil {
		return errs.IOFailureError("marshal sidecar", err)
	}
	if err := s.atomicWrite(path, buf); err != nil {
		s.log.Error("sidecar write failed for %s: %v", path, err)
		return err
	}
	return nil
}

// maybeWriteLatestPointer writes reports/quality_report_latest.json with
// the same bytes whenever a reports artifact parses as JSON. Failure here
// is logged but must never fail the primary write (spec §4.2).
func (s *Store) maybeWriteLatestPointer(runDir string, content []byte) {
	var probe interface{}
	if err := json.Unmarshal(content, &probe); err != nil {
		return
	}
	pointer := filepath.Join(runDir, dirReports, latestQualityReportName)
	if err := s.atomicWrite(pointer, content); err != nil {
		s.log.Error("quality_report_latest.json write failed: %v", err)
	}
}

func artifactPath(runDir string, artifactType domain.ArtifactType, moduleID, agentID string) (string, error) {
	switch artifactType {
	case domain.ArtifactArchitecture:
		return filepath.Join(runDir, dirArchitecture, "architecture.md"), nil
	case domain.ArtifactTests:
		if moduleID == "" {
			return "", errs.New(errs.InvalidInput, "tests artifact requires a module_id")
		}
		return filepath.Join(runDir, dirTests, moduleID, moduleID+"_test.c"), nil
	case domain.ArtifactReports:
		ts := time.Now().UTC().Format("20060102T150405Z")
		name := fmt.Sprintf("%s_%s_%s.txt", ts, agentID, randomHex32())
		return filepath.Join(runDir, dirReports, name), nil
	case domain.ArtifactBuildLog:
		return filepath.Join(runDir, dirBuildLog, "build_log.json"), nil
	case domain.ArtifactModuleCode:
		return "", errs.New(errs.InvalidInput, "module_code must be written via WriteModularCode")
	default:
		return "", errs.New(errs.InvalidInput, fmt.Sprintf("unknown artifact type %q", artifactType))
	}
}

func sidecarPath(artifactPath string) string {
	return artifactPath + ".meta.json"
}

func randomHex32() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])
}

// canonicalJSON marshals v with sorted object keys by round-tripping
// through a generic representation: json.Marshal sorts map[string]any
// keys, so unmarshaling into interface{} and re-marshaling yields a
// stable, sorted-key encoding regardless of the original struct's field
// order.
func canonicalJSON(v interface{}) ([]byte, error) {
	first, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(first, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
