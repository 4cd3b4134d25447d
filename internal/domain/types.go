// Package domain holds the typed records shared across the pipeline:
// specifications, run state, artifacts, prompts, and the retrieval corpus.
package domain

import "time"

// ModuleKind enumerates the firmware module types a Specification may list.
type ModuleKind string

const (
	ModuleUART     ModuleKind = "uart"
	ModuleI2C      ModuleKind = "i2c"
	ModuleSPI      ModuleKind = "spi"
	ModuleCAN      ModuleKind = "can"
	ModuleEthernet ModuleKind = "ethernet"
	ModuleWatchdog ModuleKind = "watchdog"
	ModuleEEPROM   ModuleKind = "eeprom"
	ModuleADC      ModuleKind = "adc"
	ModulePWM      ModuleKind = "pwm"
	ModuleSensor   ModuleKind = "sensor"
	ModuleMotor    ModuleKind = "motor"
	ModuleFlash    ModuleKind = "flash"
	ModuleOther    ModuleKind = "other"
)

// ValidModuleKind reports whether k is one of the recognized module types.
func ValidModuleKind(k ModuleKind) bool {
	switch k {
	case ModuleUART, ModuleI2C, ModuleSPI, ModuleCAN, ModuleEthernet, ModuleWatchdog,
		ModuleEEPROM, ModuleADC, ModulePWM, ModuleSensor, ModuleMotor, ModuleFlash, ModuleOther:
		return true
	default:
		return false
	}
}

// OptimizationGoal is the optimization target declared by a Specification.
type OptimizationGoal string

const (
	OptBalanced   OptimizationGoal = "balanced"
	OptPerformance OptimizationGoal = "performance"
	OptSize       OptimizationGoal = "size"
	OptPower      OptimizationGoal = "power"
)

// ModelProvider selects the language-model backend a run uses.
type ModelProvider string

const (
	ProviderMock ModelProvider = "mock"
	ProviderReal ModelProvider = "real"
)

// ModuleDefinition is one module entry inside a Specification.
type ModuleDefinition struct {
	ID           string                 `json:"id,omitempty"`
	Name         string                 `json:"name"`
	Type         ModuleKind             `json:"type"`
	Description  string                 `json:"description,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	Requirements []string               `json:"requirements,omitempty"`
}

// Specification is the caller-supplied, immutable input to a run.
type Specification struct {
	ProjectName      string                 `json:"project_name"`
	MCU              string                 `json:"mcu"`
	Description      string                 `json:"description,omitempty"`
	Modules          []ModuleDefinition     `json:"modules"`
	Requirements     []string               `json:"requirements,omitempty"`
	Constraints      map[string]interface{} `json:"constraints,omitempty"`
	SafetyCritical   bool                   `json:"safety_critical"`
	OptimizationGoal OptimizationGoal       `json:"optimization_goal,omitempty"`
	ModelProvider    ModelProvider          `json:"model_provider,omitempty"`
	ModelName        string                 `json:"model_name,omitempty"`
	APIKey           string                 `json:"api_key,omitempty"` // never persisted or logged
	ArchitectureOnly bool                   `json:"architecture_only"`
}

// RunOptions are the submit-time toggles beyond the Specification itself.
type RunOptions struct {
	IncludeTests     bool
	RunQualityChecks bool
	ArchitectureOnly bool
}

// RunDescriptor is the immutable record created when a run is submitted.
type RunDescriptor struct {
	RunID         string        `json:"run_id"`
	Spec          Specification `json:"specification"`
	OutputDir     string        `json:"output_dir"`
	ModelProvider ModelProvider `json:"model_provider"`
	Options       RunOptions    `json:"options"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// RunState is the orchestrator's mutable view of a run's progress.
// It is single-writer (the orchestrator); readers receive snapshot copies.
type RunState struct {
	RunID           string            `json:"run_id"`
	Status          Status            `json:"status"`
	Progress        int               `json:"progress"`
	CurrentStage    string            `json:"current_stage"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     time.Time         `json:"completed_at,omitempty"`
	ArtifactCounts  map[string]int    `json:"artifact_counts"`
	Errors          []string          `json:"errors,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
	OutputDir       string            `json:"output_dir"`
}

// Clone returns a deep-enough copy safe to hand to a reader outside the lock.
func (r *RunState) Clone() *RunState {
	if r == nil {
		return nil
	}
	cp := *r
	cp.ArtifactCounts = make(map[string]int, len(r.ArtifactCounts))
	for k, v := range r.ArtifactCounts {
		cp.ArtifactCounts[k] = v
	}
	cp.Errors = append([]string(nil), r.Errors...)
	cp.Warnings = append([]string(nil), r.Warnings...)
	return &cp
}

// ArtifactType is the category tag governing MCP checks and storage path.
type ArtifactType string

const (
	ArtifactArchitecture ArtifactType = "architecture"
	ArtifactModuleCode   ArtifactType = "module_code"
	ArtifactTests        ArtifactType = "tests"
	ArtifactReports      ArtifactType = "reports"
	ArtifactBuildLog     ArtifactType = "build_log"
)

// ArtifactFormat describes how an artifact's bytes are shaped.
type ArtifactFormat string

const (
	FormatText      ArtifactFormat = "text"
	FormatJSON      ArtifactFormat = "json"
	FormatMultiFile ArtifactFormat = "multi-file"
)

// ArtifactMetadata is the sidecar record written next to (or for) every artifact.
type ArtifactMetadata struct {
	ArtifactID    string                 `json:"artifact_id"`
	AgentID       string                 `json:"agent_id"`
	ArtifactType  ArtifactType           `json:"artifact_type"`
	ModuleID      string                 `json:"module_id,omitempty"`
	PromptVersion string                 `json:"prompt_version,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	ArtifactFormat ArtifactFormat        `json:"artifact_format"`
	SubArtifacts  []string               `json:"sub_artifacts,omitempty"`
	Extra         map[string]interface{} `json:"extra,omitempty"`
}

// ArtifactInfo describes a stored artifact for listing purposes.
type ArtifactInfo struct {
	ArtifactID   string       `json:"artifact_id"`
	ArtifactType ArtifactType `json:"artifact_type"`
	Category     string       `json:"category"`
	Filename     string       `json:"filename"`
	Path         string       `json:"path"`
	Size         int64        `json:"size"`
	ModifiedAt   time.Time    `json:"modified_at"`
}

// PromptTemplate is a loaded, versioned prompt with its recognized placeholders.
type PromptTemplate struct {
	Name                string
	Version             string
	Raw                 string
	RecognizedPlaceholders []string
}

// Priority is the retrieval-document importance tier.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// PriorityWeight maps a Priority to its scoring weight.
func PriorityWeight(p Priority) float64 {
	switch p {
	case PriorityCritical:
		return 1.0
	case PriorityHigh:
		return 0.8
	case PriorityMedium:
		return 0.6
	case PriorityLow:
		return 0.4
	default:
		return 0.4
	}
}

// RetrievalDocument is one entry in the retrieval corpus.
type RetrievalDocument struct {
	ID           string
	Title        string
	Path         string
	Domain       string
	Priority     Priority
	Keywords     map[string]struct{}
	ModuleTypes  map[string]struct{}
	SearchWeight float64
	Content      string
}

// RetrievalQuery is a transient per-agent retrieval request.
type RetrievalQuery struct {
	Text        string
	ModuleType  string
	TopK        int
	TokenBudget int
}

// ScoredDocument pairs a document ID with the score it received for a query.
type ScoredDocument struct {
	DocID string
	Score float64
}

// Severity is the issue-severity tier used by the quality report.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// SeverityPenalty returns the overall_score penalty for one issue of severity s.
func SeverityPenalty(s Severity) int {
	switch s {
	case SeverityCritical:
		return 25
	case SeverityHigh:
		return 10
	case SeverityMedium:
		return 4
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// CapabilityMatrix maps an agent ID to its set of granted permissions.
// Permission strings have the form "run:agent", "read:<type>", "write:<type>".
type CapabilityMatrix map[string]map[string]struct{}
